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
	"fmt"
)

func coreToolSpecs() []ToolSpec {
	return []ToolSpec{
		{
			Name:        "roll",
			Description: "Evaluate a dice expression such as 1d20+3.",
			ArgsSchema: Schema{Type: "object", Required: []string{"expr"}, Properties: map[string]SchemaProperty{
				"expr": {Type: "string", Description: "Dice expression, e.g. 2d6+1"},
				"seed": {Type: "integer", Description: "Optional deterministic RNG seed"},
			}},
			Handler: handleRoll,
		},
		{
			Name:        "check",
			Description: "Resolve an ability check against a DC.",
			ArgsSchema: Schema{Type: "object", Required: []string{"ability", "score", "dc"}, Properties: map[string]SchemaProperty{
				"ability":     {Type: "string"},
				"score":       {Type: "integer"},
				"dc":          {Type: "integer"},
				"proficient":  {Type: "boolean"},
				"expertise":   {Type: "boolean"},
				"prof_bonus":  {Type: "integer"},
				"seed":        {Type: "integer"},
			}},
			Handler: handleCheck,
		},
		{
			Name:        "attack",
			Description: "Resolve an attack roll against a target's AC, rolling damage on hit.",
			ArgsSchema: Schema{Type: "object", Required: []string{"attack_bonus", "target_ac", "damage_expr", "target"}, Properties: map[string]SchemaProperty{
				"attack_bonus": {Type: "integer"},
				"target_ac":    {Type: "integer"},
				"damage_expr":  {Type: "string"},
				"target":       {Type: "string"},
				"seed":         {Type: "integer"},
			}},
			Handler: handleAttack,
		},
		{
			Name:        "apply_damage",
			Description: "Apply damage to a target.",
			ArgsSchema: Schema{Type: "object", Required: []string{"target", "amount"}, Properties: map[string]SchemaProperty{
				"target": {Type: "string"}, "amount": {Type: "integer"},
			}},
			Handler: handleApplyDamage,
		},
		{
			Name:        "heal",
			Description: "Heal a target.",
			ArgsSchema: Schema{Type: "object", Required: []string{"target", "amount"}, Properties: map[string]SchemaProperty{
				"target": {Type: "string"}, "amount": {Type: "integer"},
			}},
			Handler: handleHeal,
		},
		{
			Name:        "apply_condition",
			Description: "Apply a status condition to a target.",
			ArgsSchema: Schema{Type: "object", Required: []string{"target", "condition"}, Properties: map[string]SchemaProperty{
				"target": {Type: "string"}, "condition": {Type: "string"}, "duration": {Type: "integer"},
			}},
			Handler: handleApplyCondition,
		},
		{
			Name:        "clear_condition",
			Description: "Clear a status condition from a target.",
			ArgsSchema: Schema{Type: "object", Required: []string{"target", "condition"}, Properties: map[string]SchemaProperty{
				"target": {Type: "string"}, "condition": {Type: "string"},
			}},
			Handler: handleClearCondition,
		},
		{
			Name:        "start_encounter",
			Description: "Begin an encounter.",
			ArgsSchema: Schema{Type: "object", Properties: map[string]SchemaProperty{
				"encounter_id": {Type: "string"},
			}},
			Handler: handleStartEncounter,
		},
		{
			Name:        "add_combatant",
			Description: "Add a combatant to the active encounter.",
			ArgsSchema: Schema{Type: "object", Required: []string{"id"}, Properties: map[string]SchemaProperty{
				"id": {Type: "string"}, "name": {Type: "string"},
			}},
			Handler: handleAddCombatant,
		},
		{
			Name:        "set_initiative",
			Description: "Set a combatant's initiative value.",
			ArgsSchema: Schema{Type: "object", Required: []string{"id", "init"}, Properties: map[string]SchemaProperty{
				"id": {Type: "string"}, "init": {Type: "integer"},
			}},
			Handler: handleSetInitiative,
		},
		{
			Name:        "next_turn",
			Description: "Advance the encounter to the next turn.",
			ArgsSchema: Schema{Type: "object"},
			Handler:     handleNextTurn,
		},
	}
}

func handleRoll(ctx context.Context, args map[string]any) (ExecutionResult, error) {
	exprStr, ok := stringArg(args, "expr")
	if !ok {
		return ExecutionResult{}, requireArgError("roll", "expr")
	}
	expr, err := parseDiceExpr(exprStr)
	if err != nil {
		return ExecutionResult{}, err
	}
	rolls, total := rollDice(expr, rngFromSeed(args))
	mechanics := fmt.Sprintf("Roll %s = %s total=%d", exprStr, formatRolls(rolls), total)
	return ExecutionResult{Mechanics: mechanics}, nil
}

func abilityModifier(score int64) int64 {
	m := score - 10
	if m >= 0 {
		return m / 2
	}
	return -((-m + 1) / 2)
}

func handleCheck(ctx context.Context, args map[string]any) (ExecutionResult, error) {
	ability, ok := stringArg(args, "ability")
	if !ok {
		return ExecutionResult{}, requireArgError("check", "ability")
	}
	score, ok := intArg(args, "score")
	if !ok {
		return ExecutionResult{}, requireArgError("check", "score")
	}
	dc, ok := intArg(args, "dc")
	if !ok {
		return ExecutionResult{}, requireArgError("check", "dc")
	}
	profBonus := intArgOr(args, "prof_bonus", 0)
	proficient := boolArg(args, "proficient")
	expertise := boolArg(args, "expertise")

	mod := abilityModifier(score)
	prof := int64(0)
	if expertise {
		prof = profBonus * 2
	} else if proficient {
		prof = profBonus
	}

	rolls, d20Total := rollDice(diceExpr{Count: 1, Sides: 20}, rngFromSeed(args))
	d20 := rolls[0]
	total := d20 + mod + prof
	_ = d20Total
	success := total >= dc
	outcome := "fail"
	if success {
		outcome = "success"
	}
	mechanics := fmt.Sprintf("Check: %s vs DC %d total: %d (%s)", ability, dc, total, outcome)

	payload := map[string]any{
		"ability": ability,
		"dc":      dc,
		"d20":     d20,
		"mod":     mod,
		"prof":    prof,
		"total":   total,
		"success": success,
	}
	return ExecutionResult{
		Mechanics:       mechanics,
		PredictedEvents: []EventShape{{EventType: "check.performed", Payload: payload}},
	}, nil
}

func handleAttack(ctx context.Context, args map[string]any) (ExecutionResult, error) {
	bonus, ok := intArg(args, "attack_bonus")
	if !ok {
		return ExecutionResult{}, requireArgError("attack", "attack_bonus")
	}
	ac, ok := intArg(args, "target_ac")
	if !ok {
		return ExecutionResult{}, requireArgError("attack", "target_ac")
	}
	damageExprStr, ok := stringArg(args, "damage_expr")
	if !ok {
		return ExecutionResult{}, requireArgError("attack", "damage_expr")
	}
	target, ok := stringArg(args, "target")
	if !ok {
		return ExecutionResult{}, requireArgError("attack", "target")
	}

	rng := rngFromSeed(args)
	attackRolls, _ := rollDice(diceExpr{Count: 1, Sides: 20}, rng)
	d20 := attackRolls[0]
	total := d20 + bonus
	crit := d20 == 20

	if !crit && total < ac {
		mechanics := fmt.Sprintf("Attack: d20(%d)+%d=%d vs AC %d: miss", d20, bonus, total, ac)
		return ExecutionResult{
			Mechanics:       mechanics,
			PredictedEvents: []EventShape{{EventType: "attack.missed", Payload: map[string]any{"target": target, "total": total}}},
		}, nil
	}

	damageExpr, err := parseDiceExpr(damageExprStr)
	if err != nil {
		return ExecutionResult{}, err
	}
	if crit {
		damageExpr.Count *= 2 // crit doubles the dice, never the flat modifier
	}
	damageRolls, damageTotal := rollDice(damageExpr, rng)

	mechanics := fmt.Sprintf("Attack: d20(%d)+%d=%d vs AC %d: hit, damage %s total=%d", d20, bonus, total, ac, formatRolls(damageRolls), damageTotal)
	if crit {
		mechanics = "Critical " + mechanics
	}

	return ExecutionResult{
		Mechanics: mechanics,
		PredictedEvents: []EventShape{{
			EventType: "apply_damage",
			Payload:   map[string]any{"target": target, "amount": damageTotal},
		}},
	}, nil
}

func handleApplyDamage(ctx context.Context, args map[string]any) (ExecutionResult, error) {
	target, ok := stringArg(args, "target")
	if !ok {
		return ExecutionResult{}, requireArgError("apply_damage", "target")
	}
	amount, ok := intArg(args, "amount")
	if !ok {
		return ExecutionResult{}, requireArgError("apply_damage", "amount")
	}
	return ExecutionResult{
		Mechanics:       fmt.Sprintf("%s takes %d damage", target, amount),
		PredictedEvents: []EventShape{{EventType: "apply_damage", Payload: map[string]any{"target": target, "amount": amount}}},
	}, nil
}

func handleHeal(ctx context.Context, args map[string]any) (ExecutionResult, error) {
	target, ok := stringArg(args, "target")
	if !ok {
		return ExecutionResult{}, requireArgError("heal", "target")
	}
	amount, ok := intArg(args, "amount")
	if !ok {
		return ExecutionResult{}, requireArgError("heal", "amount")
	}
	return ExecutionResult{
		Mechanics:       fmt.Sprintf("%s heals %d", target, amount),
		PredictedEvents: []EventShape{{EventType: "heal", Payload: map[string]any{"target": target, "amount": amount}}},
	}, nil
}

func handleApplyCondition(ctx context.Context, args map[string]any) (ExecutionResult, error) {
	target, ok := stringArg(args, "target")
	if !ok {
		return ExecutionResult{}, requireArgError("apply_condition", "target")
	}
	condition, ok := stringArg(args, "condition")
	if !ok {
		return ExecutionResult{}, requireArgError("apply_condition", "condition")
	}
	payload := map[string]any{"target": target, "condition": condition}
	if d, ok := intArg(args, "duration"); ok {
		payload["duration"] = d
	}
	return ExecutionResult{
		Mechanics:       fmt.Sprintf("%s is now %s", target, condition),
		PredictedEvents: []EventShape{{EventType: "condition.applied", Payload: payload}},
	}, nil
}

func handleClearCondition(ctx context.Context, args map[string]any) (ExecutionResult, error) {
	target, ok := stringArg(args, "target")
	if !ok {
		return ExecutionResult{}, requireArgError("clear_condition", "target")
	}
	condition, ok := stringArg(args, "condition")
	if !ok {
		return ExecutionResult{}, requireArgError("clear_condition", "condition")
	}
	return ExecutionResult{
		Mechanics:       fmt.Sprintf("%s no longer %s", target, condition),
		PredictedEvents: []EventShape{{EventType: "condition.cleared", Payload: map[string]any{"target": target, "condition": condition}}},
	}, nil
}

func handleStartEncounter(ctx context.Context, args map[string]any) (ExecutionResult, error) {
	payload := map[string]any{}
	if id, ok := stringArg(args, "encounter_id"); ok {
		payload["encounter_id"] = id
	}
	return ExecutionResult{
		Mechanics:       "Encounter started",
		PredictedEvents: []EventShape{{EventType: "encounter.started", Payload: payload}},
	}, nil
}

func handleAddCombatant(ctx context.Context, args map[string]any) (ExecutionResult, error) {
	id, ok := stringArg(args, "id")
	if !ok {
		return ExecutionResult{}, requireArgError("add_combatant", "id")
	}
	payload := map[string]any{"id": id}
	if name, ok := stringArg(args, "name"); ok {
		payload["name"] = name
	}
	return ExecutionResult{
		Mechanics:       fmt.Sprintf("%s joins the encounter", id),
		PredictedEvents: []EventShape{{EventType: "combatant.added", Payload: payload}},
	}, nil
}

func handleSetInitiative(ctx context.Context, args map[string]any) (ExecutionResult, error) {
	id, ok := stringArg(args, "id")
	if !ok {
		return ExecutionResult{}, requireArgError("set_initiative", "id")
	}
	init, ok := intArg(args, "init")
	if !ok {
		return ExecutionResult{}, requireArgError("set_initiative", "init")
	}
	return ExecutionResult{
		Mechanics:       fmt.Sprintf("%s rolls initiative %d", id, init),
		PredictedEvents: []EventShape{{EventType: "combatant.initiative_set", Payload: map[string]any{"id": id, "init": init}}},
	}, nil
}

func handleNextTurn(ctx context.Context, args map[string]any) (ExecutionResult, error) {
	return ExecutionResult{
		Mechanics:       "Turn advances",
		PredictedEvents: []EventShape{{EventType: "encounter.advanced", Payload: map[string]any{}}},
	}, nil
}
