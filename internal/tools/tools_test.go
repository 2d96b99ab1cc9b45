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

package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerd/internal/ledgerstore"
	"ledgerd/internal/lockservice"
	"ledgerd/pkg/metrics"
)

func newTestExecutor(t *testing.T) (*Executor, *ledgerstore.MemoryRepository) {
	t.Helper()
	repo := ledgerstore.NewMemoryRepository(nil)
	_, err := repo.EnsureGenesis(context.Background(), 1)
	require.NoError(t, err)
	registry := NewCoreRegistry()
	return NewExecutor(registry, repo, lockservice.New(nil), 1, 0), repo
}

func TestRollPredictsNoEvent(t *testing.T) {
	registry := NewCoreRegistry()
	spec, ok := registry.Get("roll")
	require.True(t, ok)
	result, err := spec.Handler(context.Background(), map[string]any{"expr": "2d6+1", "seed": int64(7)})
	require.NoError(t, err)
	assert.Empty(t, result.PredictedEvents)
	assert.Contains(t, result.Mechanics, "Roll 2d6+1")
}

func TestRollIsDeterministicWithSeed(t *testing.T) {
	registry := NewCoreRegistry()
	spec, _ := registry.Get("roll")
	r1, err := spec.Handler(context.Background(), map[string]any{"expr": "3d8", "seed": int64(42)})
	require.NoError(t, err)
	r2, err := spec.Handler(context.Background(), map[string]any{"expr": "3d8", "seed": int64(42)})
	require.NoError(t, err)
	assert.Equal(t, r1.Mechanics, r2.Mechanics)
}

func TestCheckPredictsEventWithOutcome(t *testing.T) {
	registry := NewCoreRegistry()
	spec, _ := registry.Get("check")
	result, err := spec.Handler(context.Background(), map[string]any{
		"ability": "STR", "score": int64(16), "dc": int64(1), "proficient": true, "prof_bonus": int64(2), "seed": int64(1),
	})
	require.NoError(t, err)
	require.Len(t, result.PredictedEvents, 1)
	assert.Equal(t, "check.performed", result.PredictedEvents[0].EventType)
	assert.Equal(t, true, result.PredictedEvents[0].Payload["success"])
}

func TestEncounterGoldenSequence(t *testing.T) {
	executor, repo := newTestExecutor(t)
	ctx := context.Background()

	chain := ToolCallChain{
		RequestID: "req-encounter-1",
		SceneID:   10,
		Steps: []ToolStep{
			{Tool: "start_encounter", Args: map[string]any{}},
			{Tool: "add_combatant", Args: map[string]any{"id": "A"}},
			{Tool: "add_combatant", Args: map[string]any{"id": "B"}},
			{Tool: "set_initiative", Args: map[string]any{"id": "A", "init": int64(15)}},
			{Tool: "set_initiative", Args: map[string]any{"id": "B", "init": int64(12)}},
			{Tool: "next_turn", Args: map[string]any{}},
			{Tool: "next_turn", Args: map[string]any{}},
		},
	}

	result, err := executor.Apply(ctx, chain)
	require.NoError(t, err)

	types := make([]string, len(result.Events))
	for i, e := range result.Events {
		types[i] = e.EventType
	}
	assert.Equal(t, []string{
		"encounter.started",
		"combatant.added",
		"combatant.added",
		"combatant.initiative_set",
		"combatant.initiative_set",
		"encounter.advanced",
		"encounter.advanced",
	}, types)

	events, err := repo.ListEvents(ctx, 1, nil)
	require.NoError(t, err)
	assert.Len(t, events, 8) // genesis + 7
}

func TestApplyChainIdempotentRetryCollapses(t *testing.T) {
	metrics.ResetCounters()
	executor, repo := newTestExecutor(t)
	ctx := context.Background()

	chain := ToolCallChain{
		RequestID: "req-repeat",
		SceneID:   10,
		Steps: []ToolStep{
			{Tool: "apply_damage", Args: map[string]any{"target": "goblin", "amount": int64(5)}},
		},
	}

	_, err := executor.Apply(ctx, chain)
	require.NoError(t, err)
	_, err = executor.Apply(ctx, chain)
	require.NoError(t, err)

	events, err := repo.ListEvents(ctx, 1, nil)
	require.NoError(t, err)
	assert.Len(t, events, 2) // genesis + exactly one apply_damage
	assert.Equal(t, int64(1), metrics.GetCounter("events.idempotent_reuse"))
}

func TestApplyChainUnknownToolFailsBeforeAppending(t *testing.T) {
	executor, repo := newTestExecutor(t)
	ctx := context.Background()

	chain := ToolCallChain{
		RequestID: "req-bad",
		SceneID:   10,
		Steps:     []ToolStep{{Tool: "does_not_exist", Args: map[string]any{}}},
	}

	_, err := executor.Apply(ctx, chain)
	assert.Error(t, err)

	events, err := repo.ListEvents(ctx, 1, nil)
	require.NoError(t, err)
	assert.Len(t, events, 1) // only genesis
}

func TestAttackIsDeterministicWithSeed(t *testing.T) {
	registry := NewCoreRegistry()
	spec, _ := registry.Get("attack")
	// the seed fixes both the d20 and any damage dice, so two calls with
	// identical args must produce identical mechanics.
	args := map[string]any{
		"attack_bonus": int64(5), "target_ac": int64(10), "damage_expr": "1d6+3", "target": "orc", "seed": int64(3),
	}
	r1, err := spec.Handler(context.Background(), args)
	require.NoError(t, err)
	r2, err := spec.Handler(context.Background(), args)
	require.NoError(t, err)
	assert.Equal(t, r1.Mechanics, r2.Mechanics)
}
