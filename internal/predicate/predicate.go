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

// Package predicate evaluates feasibility preconditions against a plan and
// the surrounding world context. All baseline predicates run and their
// failures accumulate rather than short-circuiting, so a caller sees every
// reason a plan is infeasible in one pass.
package predicate

import (
	"context"

	"ledgerd/internal/guard"
	"ledgerd/internal/planner"
	"ledgerd/pkg/metrics"
)

var knownAbilities = map[string]bool{
	"STR": true, "DEX": true, "CON": true, "INT": true, "WIS": true, "CHA": true,
}

// Failure is one predicate's rejection.
type Failure struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// Result is the gate's overall verdict.
type Result struct {
	OK     bool      `json:"ok"`
	Failed []Failure `json:"failed"`
}

// CharacterExistence answers whether an actor name exists in a campaign's
// character table — a narrow read-only interface so the gate stays pure
// with respect to everything else in its context.
type CharacterExistence interface {
	ActorExists(ctx context.Context, campaignID int64, actorName string) (bool, error)
}

// Context carries the scope the gate evaluates a plan against.
type Context struct {
	CampaignID     int64
	SceneID        int64
	UserID         string
	AllowedActors  []string
}

// Gate evaluates planner Plans against a Context.
type Gate struct {
	characters CharacterExistence
}

// New constructs a Gate. characters may be nil, in which case exists(actor)
// is evaluated using only AllowedActors.
func New(characters CharacterExistence) *Gate {
	return &Gate{characters: characters}
}

// Evaluate runs every baseline predicate against plan's steps, in order,
// accumulating all failures.
func (g *Gate) Evaluate(ctx context.Context, plan planner.Plan, pctx Context) Result {
	var failed []Failure

	for _, step := range plan.Steps {
		for _, g := range step.Guards {
			if _, _, _, err := guard.Parse(g); err != nil {
				failed = append(failed, Failure{Code: "guard_well_formed", Detail: err.Error()})
			}
		}
		if ability, ok := stringArg(step.Args, "ability"); ok {
			if !knownAbilities[ability] {
				failed = append(failed, Failure{Code: "known_ability", Detail: "unknown ability: " + ability})
			}
		}
		if dc, ok := intArg(step.Args, "dc"); ok {
			if dc < 1 || dc > 40 {
				failed = append(failed, Failure{Code: "dc_in_bounds", Detail: "dc out of bounds [1,40]"})
			}
		}
		if actor, ok := stringArg(step.Args, "actor"); ok {
			exists := g.actorExists(ctx, pctx, actor)
			inAllowed := containsString(pctx.AllowedActors, actor)
			if !exists && !inAllowed {
				failed = append(failed, Failure{Code: "exists(actor)", Detail: "actor not found: " + actor})
			}
			// actor_in_allowed_actors is evaluated unconditionally, even
			// when existence already passed, so both codes can fire together.
			if !inAllowed {
				failed = append(failed, Failure{Code: "actor_in_allowed_actors", Detail: "actor not in allowed_actors: " + actor})
			}
		}
	}

	for _, f := range failed {
		metrics.IncCounter("predicate.gate.fail_reason."+f.Code, 1)
	}
	if len(failed) == 0 {
		metrics.IncCounter("predicate.gate.ok", 1)
	} else {
		metrics.IncCounter("predicate.gate.error", 1)
	}

	return Result{OK: len(failed) == 0, Failed: failed}
}

func (g *Gate) actorExists(ctx context.Context, pctx Context, actor string) bool {
	if g.characters == nil {
		return false
	}
	exists, err := g.characters.ActorExists(ctx, pctx.CampaignID, actor)
	if err != nil {
		return false
	}
	return exists
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func intArg(args map[string]any, key string) (int64, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
