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

package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	response string
	calls    int
	err      error
}

func (f *fakeLLM) GenerateResponse(messages []Message) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestPlanParsesBalancedJSONFromNoisyReply(t *testing.T) {
	llm := &fakeLLM{response: "sure thing, here you go:\n```json\n{\"command\":\"roll\",\"args\":{\"expr\":\"1d20\"}}\n```\nhope that helps"}
	p := New(llm, nil, []string{"roll"}, 1)

	plan, err := p.Plan(1, "roll a d20")
	require.NoError(t, err)
	assert.True(t, plan.Feasible)
	assert.Equal(t, "roll", plan.Steps[0].Op)
	assert.NotEmpty(t, plan.PlanID)
}

func TestPlanRejectsCommandNotInAllowlist(t *testing.T) {
	llm := &fakeLLM{response: `{"command":"drop_table","args":{}}`}
	p := New(llm, nil, []string{"roll"}, 1)

	_, err := p.Plan(1, "do something unsafe")
	assert.Error(t, err)
}

func TestPlanFailsWhenNoJSONObjectFound(t *testing.T) {
	llm := &fakeLLM{response: "I cannot help with that."}
	p := New(llm, nil, []string{"roll"}, 1)

	_, err := p.Plan(1, "???")
	assert.Error(t, err)
}

func TestPlanCachesIdenticalSceneAndMessage(t *testing.T) {
	llm := &fakeLLM{response: `{"command":"roll","args":{"expr":"1d20"}}`}
	p := New(llm, nil, []string{"roll"}, 1)

	_, err := p.Plan(1, "roll a d20")
	require.NoError(t, err)
	_, err = p.Plan(1, "roll a d20")
	require.NoError(t, err)

	assert.Equal(t, 1, llm.calls)
}

func TestPlanCacheExpiresAfterTTL(t *testing.T) {
	llm := &fakeLLM{response: `{"command":"roll","args":{"expr":"1d20"}}`}
	p := New(llm, nil, []string{"roll"}, 1)
	start := time.Now()
	p.now = func() time.Time { return start }

	_, err := p.Plan(1, "roll a d20")
	require.NoError(t, err)

	p.now = func() time.Time { return start.Add(31 * time.Second) }
	_, err = p.Plan(1, "roll a d20")
	require.NoError(t, err)

	assert.Equal(t, 2, llm.calls)
}

func TestExpandTierAtLevelOneIsNoop(t *testing.T) {
	plan := Plan{Steps: []PlanStep{{Op: "roll.d20"}}}
	expanded := ExpandTier(plan, 1)
	assert.Len(t, expanded.Steps, 1)
}

func TestExpandTierAtLevelTwoPrependsPreparationStep(t *testing.T) {
	plan := Plan{Steps: []PlanStep{{Op: "attack.melee"}}}
	expanded := ExpandTier(plan, 2)
	require.Len(t, expanded.Steps, 2)
	assert.Equal(t, "prepare.attack", expanded.Steps[0].Op)
	assert.Equal(t, "attack.melee", expanded.Steps[1].Op)
}

func TestAttachGuardsOnlyWhenTiersEnabled(t *testing.T) {
	steps := []PlanStep{{Op: "roll.d20", Guards: []string{}}}
	AttachGuards(steps, false)
	assert.Empty(t, steps[0].Guards)

	AttachGuards(steps, true)
	assert.Contains(t, steps[0].Guards, "capability:basic_action")
}

func TestResolvePlanningLevelClampsToOne(t *testing.T) {
	assert.Equal(t, 1, ResolvePlanningLevel(false, 5))
	assert.Equal(t, 1, ResolvePlanningLevel(true, 0))
	assert.Equal(t, 3, ResolvePlanningLevel(true, 3))
}

func TestPlanIDDeterministicForIdenticalSteps(t *testing.T) {
	plan := Plan{Steps: []PlanStep{{Op: "roll.d20", Args: map[string]any{"n": int64(1)}, Guards: []string{}}}}
	id1 := computePlanID(plan)
	id2 := computePlanID(plan)
	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 16)
}
