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

package predicate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerd/internal/planner"
	"ledgerd/pkg/metrics"
)

func TestEvaluateUnknownAbilityRejected(t *testing.T) {
	metrics.ResetCounters()
	gate := New(nil)
	plan := planner.Plan{Steps: []planner.PlanStep{{Op: "check", Args: map[string]any{"ability": "LCK", "dc": int64(12)}}}}

	result := gate.Evaluate(context.Background(), plan, Context{AllowedActors: []string{}})

	require.False(t, result.OK)
	codes := failureCodes(result)
	assert.Contains(t, codes, "known_ability")
	assert.Equal(t, int64(1), metrics.GetCounter("predicate.gate.error"))
}

func TestEvaluateDCOutOfBoundsRejected(t *testing.T) {
	gate := New(nil)
	plan := planner.Plan{Steps: []planner.PlanStep{{Op: "check", Args: map[string]any{"dc": int64(99)}}}}

	result := gate.Evaluate(context.Background(), plan, Context{})
	assert.Contains(t, failureCodes(result), "dc_in_bounds")
}

func TestEvaluateAccumulatesAllFailuresNotShortCircuit(t *testing.T) {
	gate := New(nil)
	plan := planner.Plan{Steps: []planner.PlanStep{{
		Op:   "attack",
		Args: map[string]any{"ability": "LCK", "dc": int64(99), "actor": "ghost"},
	}}}

	result := gate.Evaluate(context.Background(), plan, Context{AllowedActors: []string{}})
	codes := failureCodes(result)
	assert.Contains(t, codes, "known_ability")
	assert.Contains(t, codes, "dc_in_bounds")
	assert.Contains(t, codes, "exists(actor)")
	assert.Contains(t, codes, "actor_in_allowed_actors")
}

func TestEvaluateActorInAllowedActorsPasses(t *testing.T) {
	gate := New(nil)
	plan := planner.Plan{Steps: []planner.PlanStep{{Op: "attack", Args: map[string]any{"actor": "Kael"}}}}

	result := gate.Evaluate(context.Background(), plan, Context{AllowedActors: []string{"Kael"}})
	assert.True(t, result.OK)
}

func TestEvaluateValidPlanSucceeds(t *testing.T) {
	metrics.ResetCounters()
	gate := New(nil)
	plan := planner.Plan{Steps: []planner.PlanStep{{Op: "check", Args: map[string]any{"ability": "STR", "dc": int64(15)}}}}

	result := gate.Evaluate(context.Background(), plan, Context{})
	assert.True(t, result.OK)
	assert.Equal(t, int64(1), metrics.GetCounter("predicate.gate.ok"))
}

func failureCodes(r Result) []string {
	codes := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		codes[i] = f.Code
	}
	return codes
}
