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
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"ledgerd/internal/canon"
	"ledgerd/internal/guard"
	"ledgerd/pkg/metrics"
)

const cacheTTL = 30 * time.Second

// Planner transforms free text into a validated Plan.
type Planner struct {
	client     LLMClient
	catalog    []ToolCatalogEntry
	allowlist  map[string]bool
	planningLevel int // resolvePlanningLevel output, >= 1

	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

type cacheEntry struct {
	plan     Plan
	expireAt time.Time
}

// New constructs a Planner. allowlist names the routable commands;
// planningLevel is the effective tier (see ResolvePlanningLevel).
func New(client LLMClient, catalog []ToolCatalogEntry, allowlist []string, planningLevel int) *Planner {
	allow := make(map[string]bool, len(allowlist))
	for _, c := range allowlist {
		allow[c] = true
	}
	if planningLevel < 1 {
		planningLevel = 1
	}
	return &Planner{
		client:        client,
		catalog:       catalog,
		allowlist:     allow,
		planningLevel: planningLevel,
		cache:         map[string]cacheEntry{},
		now:           time.Now,
	}
}

// ResolvePlanningLevel mirrors the source's feature-flag clamp: tiers
// disabled always resolve to level 1; otherwise maxLevel clamped to >= 1.
func ResolvePlanningLevel(tiersEnabled bool, maxLevel int) int {
	if !tiersEnabled {
		return 1
	}
	if maxLevel < 1 {
		return 1
	}
	return maxLevel
}

// Plan builds a validated Plan for sceneID and message, or returns an
// error describing the parse/validation/allowlist failure.
func (p *Planner) Plan(sceneID int64, message string) (Plan, error) {
	trimmed := strings.TrimSpace(message)
	cacheKey := fmt.Sprintf("%d:%s", sceneID, trimmed)

	if cached, ok := p.lookupCache(cacheKey); ok {
		metrics.IncCounter("planner.cache.hit", 1)
		return cached, nil
	}

	metrics.LogEvent(nil, "planner.request", "initiated")

	output, err := p.callLLM(trimmed)
	if err != nil {
		metrics.LogEvent(nil, "planner.request", "completed", "ok", false)
		return Plan{}, err
	}

	if !p.allowlist[output.Command] {
		metrics.IncCounter("planner.allowlist.rejected", 1)
		metrics.LogEvent(nil, "planner.decision", "rejected", "reason", "allowlist")
		return Plan{}, fmt.Errorf("planner: command %q is not in the routable allowlist", output.Command)
	}

	plan := planFromOutput(output)
	plan = ExpandTier(plan, p.planningLevel)
	AttachGuards(plan.Steps, p.planningLevel >= 2)
	plan.PlanID = computePlanID(plan)

	metrics.LogEvent(nil, "planner.request", "completed", "ok", true)
	metrics.LogEvent(nil, "planner.decision", "accepted")

	p.storeCache(cacheKey, plan)
	return plan, nil
}

func (p *Planner) lookupCache(key string) (Plan, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.cache[key]
	if !ok || p.now().After(entry.expireAt) {
		return Plan{}, false
	}
	return entry.plan, true
}

func (p *Planner) storeCache(key string, plan Plan) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache[key] = cacheEntry{plan: plan, expireAt: p.now().Add(cacheTTL)}
}

func (p *Planner) callLLM(trimmedMessage string) (PlannerOutput, error) {
	if p.client == nil {
		return PlannerOutput{}, fmt.Errorf("planner: no LLM client configured")
	}
	messages := []Message{
		{Role: "system", Content: systemPrompt()},
		{Role: "user", Content: userPrompt(p.catalog, trimmedMessage)},
	}
	reply, err := p.client.GenerateResponse(messages)
	if err != nil {
		return PlannerOutput{}, fmt.Errorf("planner: llm unavailable: %w", err)
	}

	jsonText, ok := extractBalancedJSON(reply)
	if !ok {
		metrics.IncCounter("planner.parse.failed", 1)
		return PlannerOutput{}, fmt.Errorf("planner: no balanced JSON object found in LLM response")
	}

	var output PlannerOutput
	dec := json.NewDecoder(strings.NewReader(jsonText))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&output); err != nil {
		metrics.IncCounter("planner.parse.failed", 1)
		return PlannerOutput{}, fmt.Errorf("planner: output failed schema validation: %w", err)
	}
	return output, nil
}

func planFromOutput(output PlannerOutput) Plan {
	op := output.Command
	if output.Subcommand != "" {
		op = output.Command + "." + output.Subcommand
	}
	return Plan{
		Feasible:   true,
		Steps:      []PlanStep{{Op: op, Args: output.Args, Guards: []string{}}},
		Confidence: output.Confidence,
		Rationale:  output.Rationale,
	}
}

// ExpandTier applies tier expansion: level <= 1 is a no-op; level >= 2
// with exactly one existing step prepends a deterministic preparation
// step. Higher tiers beyond the two-step scaffold are reserved.
func ExpandTier(plan Plan, level int) Plan {
	if level <= 1 || len(plan.Steps) != 1 {
		return plan
	}
	original := plan.Steps[0]
	domain := original.Op
	if idx := strings.Index(domain, "."); idx >= 0 {
		domain = domain[:idx]
	}
	prep := PlanStep{Op: "prepare." + domain, Args: map[string]any{}, Guards: []string{}}
	plan.Steps = []PlanStep{prep, original}
	metrics.LogEvent(nil, "planner.tier.expansion", "level2_applied", "requested_level", level, "new_steps", len(plan.Steps))
	return plan
}

// baselineCapabilityGuard is the guard identifier attached to every step
// once planning tiers are enabled.
var baselineCapabilityGuard = guard.Format("capability", "basic_action", nil)

// AttachGuards adds the baseline capability guard to every step when tiers
// are enabled, leaving guards untouched otherwise.
func AttachGuards(steps []PlanStep, tiersEnabled bool) {
	if !tiersEnabled {
		return
	}
	for i := range steps {
		if !containsString(steps[i].Guards, baselineCapabilityGuard) {
			steps[i].Guards = append(steps[i].Guards, baselineCapabilityGuard)
		}
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// computePlanID is a 16-hex truncation of SHA-256 over the canonical
// serialization of {steps, command, subcommand} (command/subcommand are
// reconstructed from the last step's op, which stays the planner output's
// own op when tier expansion prepends a preparation step).
func computePlanID(plan Plan) string {
	command, subcommand := "", ""
	if len(plan.Steps) > 0 {
		op := plan.Steps[len(plan.Steps)-1].Op
		if idx := strings.Index(op, "."); idx >= 0 {
			command, subcommand = op[:idx], op[idx+1:]
		} else {
			command = op
		}
	}
	steps := make([]any, len(plan.Steps))
	for i, s := range plan.Steps {
		guards := make([]any, len(s.Guards))
		for j, g := range s.Guards {
			guards[j] = g
		}
		steps[i] = map[string]any{"op": s.Op, "args": s.Args, "guards": guards}
	}
	payload := map[string]any{"steps": steps, "command": command, "subcommand": subcommand}
	hash, err := canon.Hash(payload)
	if err != nil {
		// plan shapes are always canon-encodable by construction (tool args
		// come from the restricted JSON subset); a failure here means a
		// caller smuggled an unsupported type into step args.
		return ""
	}
	return hex.EncodeToString(hash[:8])
}

func systemPrompt() string {
	return "Respond with exactly one JSON object with fields command, optional subcommand, args, optional confidence, optional rationale. No other text."
}

func userPrompt(catalog []ToolCatalogEntry, message string) string {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, entry := range catalog {
		fmt.Fprintf(&b, "- %s: %s\n", entry.Name, entry.Description)
	}
	b.WriteString("\nPlayer message: ")
	b.WriteString(message)
	return b.String()
}

// extractBalancedJSON finds the first balanced {...} object in text.
func extractBalancedJSON(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
