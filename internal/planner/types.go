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

// Package planner turns free-form player text into a validated Plan by
// calling an LLM capability, extracting and validating its JSON output,
// optionally expanding it across planning tiers, and caching the result
// for a short TTL keyed by (scene, trimmed message).
package planner

// PlanStep is one step of a Plan: a dotted operation identifier, its
// arguments, and the guard identifiers attached to it.
type PlanStep struct {
	Op     string         `json:"op"`
	Args   map[string]any `json:"args"`
	Guards []string       `json:"guards"`
}

// Plan is the planner's validated output.
type Plan struct {
	PlanID           string           `json:"plan_id"`
	Feasible         bool             `json:"feasible"`
	Steps            []PlanStep       `json:"steps"`
	FailedPredicates []FailedPredicate `json:"failed_predicates,omitempty"`
	Confidence       float64          `json:"confidence,omitempty"`
	Rationale        string           `json:"rationale,omitempty"`
}

// FailedPredicate records one feasibility-gate rejection reason.
type FailedPredicate struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// PlannerOutput is the raw, schema-validated shape the LLM is constrained
// to produce before tier expansion and guard attachment.
type PlannerOutput struct {
	Command    string         `json:"command"`
	Subcommand string         `json:"subcommand,omitempty"`
	Args       map[string]any `json:"args"`
	Confidence float64        `json:"confidence,omitempty"`
	Rationale  string         `json:"rationale,omitempty"`
}

// LLMClient is the single capability this component consumes: send
// messages, get text back. internal/llmclient provides an OpenAI-compatible
// implementation.
type LLMClient interface {
	GenerateResponse(messages []Message) (string, error)
}

// Message is a single chat turn in the prompt sent to the LLM.
type Message struct {
	Role    string
	Content string
}

// ToolCatalogEntry describes one routable command for the prompt's tool
// catalog.
type ToolCatalogEntry struct {
	Name        string
	Description string
	ArgsSchema  any
}
