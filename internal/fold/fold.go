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

// Package fold implements pure replay functions that turn an ordered event
// sequence into typed read-models (HP, conditions, initiative). Every fold
// ignores event types it doesn't recognize so new event types never break
// older folds, and every fold is resumable: folding a prefix and then
// folding the remaining tail onto the result must equal folding the whole
// sequence in one pass.
package fold

import "ledgerd/internal/ledger"

// HPState is the HP view: per-target current HP delta accumulated from
// apply_damage/heal events. Initial value per target is 0; damage lowers it
// and healing raises it, so it is the net HP change so far rather than an
// absolute HP total.
type HPState map[string]int64

// FoldHP replays events into an HP view, starting from an optional prior
// state (nil means start from empty).
func FoldHP(events []ledger.Event, seed HPState) HPState {
	state := cloneHP(seed)
	for _, e := range events {
		applyHP(state, e)
	}
	return state
}

func cloneHP(seed HPState) HPState {
	state := HPState{}
	for k, v := range seed {
		state[k] = v
	}
	return state
}

func applyHP(state HPState, e ledger.Event) {
	switch e.EventType {
	case "apply_damage":
		target, amount, ok := targetAmount(e.Payload)
		if !ok {
			return
		}
		state[target] -= amount
	case "heal":
		target, amount, ok := targetAmount(e.Payload)
		if !ok {
			return
		}
		state[target] += amount
	}
}

func targetAmount(payload map[string]any) (string, int64, bool) {
	target, ok := stringField(payload, "target")
	if !ok {
		return "", 0, false
	}
	amount, ok := intField(payload, "amount")
	if !ok {
		return "", 0, false
	}
	return target, amount, true
}

// ConditionEntry is one target's stack/duration for one condition name.
type ConditionEntry struct {
	Stacks   int64
	Duration *int64
}

// ConditionsState is the conditions view: target -> condition name -> entry.
type ConditionsState map[string]map[string]ConditionEntry

// FoldConditions replays events into a conditions view.
func FoldConditions(events []ledger.Event, seed ConditionsState) ConditionsState {
	state := cloneConditions(seed)
	for _, e := range events {
		applyCondition(state, e)
	}
	return state
}

func cloneConditions(seed ConditionsState) ConditionsState {
	state := ConditionsState{}
	for target, conds := range seed {
		copied := map[string]ConditionEntry{}
		for name, entry := range conds {
			copied[name] = entry
		}
		state[target] = copied
	}
	return state
}

func applyCondition(state ConditionsState, e ledger.Event) {
	target, ok := stringField(e.Payload, "target")
	if !ok {
		return
	}
	condition, ok := stringField(e.Payload, "condition")
	if !ok {
		return
	}
	conds, ok := state[target]
	if !ok {
		conds = map[string]ConditionEntry{}
		state[target] = conds
	}

	switch e.EventType {
	case "condition.applied":
		entry := conds[condition]
		entry.Stacks++
		if d, ok := intField(e.Payload, "duration"); ok {
			entry.Duration = &d
		}
		conds[condition] = entry
	case "condition.removed":
		entry := conds[condition]
		if entry.Stacks > 0 {
			entry.Stacks--
		}
		conds[condition] = entry
	case "condition.cleared":
		conds[condition] = ConditionEntry{Stacks: 0, Duration: nil}
	}
}

// InitiativeEntry is one combatant's place in turn order.
type InitiativeEntry struct {
	ID         string
	Initiative int64
}

// InitiativeState is the ordered initiative view, insertion order preserved
// unless a full initiative.set replaces it.
type InitiativeState []InitiativeEntry

// FoldInitiative replays events into an initiative view.
func FoldInitiative(events []ledger.Event, seed InitiativeState) InitiativeState {
	state := append(InitiativeState{}, seed...)
	for _, e := range events {
		state = applyInitiative(state, e)
	}
	return state
}

func applyInitiative(state InitiativeState, e ledger.Event) InitiativeState {
	switch e.EventType {
	case "initiative.set":
		entries, ok := e.Payload["entries"].([]any)
		if !ok {
			return state
		}
		next := make(InitiativeState, 0, len(entries))
		for _, raw := range entries {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			id, ok := stringField(m, "id")
			if !ok {
				continue
			}
			init, ok := intField(m, "init")
			if !ok {
				continue
			}
			next = append(next, InitiativeEntry{ID: id, Initiative: init})
		}
		return next
	case "initiative.update":
		id, ok := stringField(e.Payload, "id")
		if !ok {
			return state
		}
		init, ok := intField(e.Payload, "init")
		if !ok {
			return state
		}
		for i := range state {
			if state[i].ID == id {
				state[i].Initiative = init
				return state
			}
		}
		return append(state, InitiativeEntry{ID: id, Initiative: init})
	case "initiative.remove":
		id, ok := stringField(e.Payload, "id")
		if !ok {
			return state
		}
		next := make(InitiativeState, 0, len(state))
		for _, entry := range state {
			if entry.ID != id {
				next = append(next, entry)
			}
		}
		return next
	default:
		return state
	}
}

func stringField(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func intField(payload map[string]any, key string) (int64, bool) {
	v, ok := payload[key]
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
