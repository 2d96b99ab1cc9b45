// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerd/internal/ledgerstore"
	"ledgerd/internal/lockservice"
	"ledgerd/internal/tools"
)

type fakeLLM struct {
	output LLMOutput
	err    error
}

func (f fakeLLM) GenerateJSON(messages []Message, systemPrompt string) (LLMOutput, error) {
	return f.output, f.err
}

type noActors struct{}

func (noActors) ActorExists(name string) bool { return false }

func newExecutor(t *testing.T) *tools.Executor {
	t.Helper()
	repo := ledgerstore.NewMemoryRepository(nil)
	_, err := repo.EnsureGenesis(context.Background(), 1)
	require.NoError(t, err)
	return tools.NewExecutor(tools.NewCoreRegistry(), repo, lockservice.New(nil), 1, 0)
}

func TestHandleAcceptsValidProposal(t *testing.T) {
	llm := fakeLLM{output: LLMOutput{
		Proposal:  Proposal{Action: "ability_check", Args: map[string]any{"ability": "STR", "score": int64(14), "dc": int64(10), "seed": int64(1)}},
		Narration: "You attempt the climb.",
	}}
	orch := New(llm, newExecutor(t), noActors{}, nil)

	result := orch.Handle(context.Background(), 10, "climb the wall", nil)
	require.False(t, result.Rejected)
	assert.NotEmpty(t, result.Mechanics)
	assert.NotNil(t, result.ExecutionRequest)
	assert.NotNil(t, result.ChainJSON)
}

func TestHandleRejectsUnsafeVerb(t *testing.T) {
	llm := fakeLLM{output: LLMOutput{
		Proposal:  Proposal{Action: "ability_check", Args: map[string]any{}},
		Narration: "The GM will set hp to 1 for dramatic effect.",
	}}
	orch := New(llm, newExecutor(t), noActors{}, nil)

	result := orch.Handle(context.Background(), 10, "do something", nil)
	require.True(t, result.Rejected)
	assert.Equal(t, "unsafe_verb", result.Reason)
}

func TestHandleRejectsUnknownActor(t *testing.T) {
	llm := fakeLLM{output: LLMOutput{
		Proposal:  Proposal{Action: "ability_check", Args: map[string]any{}},
		Narration: "`Ghostface` lunges from the shadows.",
	}}
	orch := New(llm, newExecutor(t), noActors{}, []string{"Kael"})

	result := orch.Handle(context.Background(), 10, "what happens", nil)
	require.True(t, result.Rejected)
	assert.Equal(t, "unknown_actor", result.Reason)
}

func TestHandleRejectsInvalidSchema(t *testing.T) {
	llm := fakeLLM{output: LLMOutput{
		Proposal:  Proposal{Action: "teleport_everyone", Args: map[string]any{}},
		Narration: "",
	}}
	orch := New(llm, newExecutor(t), noActors{}, nil)

	result := orch.Handle(context.Background(), 10, "what happens", nil)
	require.True(t, result.Rejected)
	assert.Equal(t, "invalid_schema", result.Reason)
}

func TestChainJSONRoundTripsThroughExecutionRequest(t *testing.T) {
	chain := tools.ToolCallChain{
		RequestID: "req-1",
		SceneID:   10,
		ActorID:   "Kael",
		Steps: []tools.ToolStep{
			{Tool: "apply_damage", Args: map[string]any{"target": "goblin", "amount": int64(5)}, Visibility: "public"},
		},
	}
	execReq := ExecutionRequestFromToolChain(chain, "plan-123")
	roundTripped := ToolChainFromExecutionRequest(execReq)

	assert.Equal(t, chain.SceneID, roundTripped.SceneID)
	assert.Equal(t, chain.ActorID, roundTripped.ActorID)
	assert.Equal(t, chain.RequestID, roundTripped.RequestID)
	assert.Equal(t, chain.Steps, roundTripped.Steps)
}
