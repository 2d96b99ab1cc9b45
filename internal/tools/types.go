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

// Package tools implements the registry and executor for turn-based game
// mechanics: roll, check, attack, damage/heal, conditions, and encounter
// lifecycle tools. Every tool is registered once at process start and
// dispatched by name; each handler computes a human-readable mechanics
// string plus zero or more predicted ledger events, in both preview (dry
// run) and apply modes.
package tools

import "context"

// Schema is a JSON-schema-derived description of a tool's arguments,
// shaped for LLM function-calling catalogs.
type Schema struct {
	Type        string                    `json:"type,omitempty"`
	Description string                    `json:"description,omitempty"`
	Properties  map[string]SchemaProperty `json:"properties,omitempty"`
	Required    []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single argument.
type SchemaProperty struct {
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// EventShape is a predicted ledger event: the event type and payload a
// handler wants appended if/when the chain is applied.
type EventShape struct {
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
}

// ExecutionResult is a single tool invocation's outcome: a mechanics
// string for the preview surface and the events it predicts.
type ExecutionResult struct {
	Mechanics       string       `json:"mechanics"`
	PredictedEvents []EventShape `json:"predicted_events"`
}

// Handler computes a tool's result given its arguments. Handlers are pure
// and never persist, and they take no dry-run flag: Preview and Apply call
// the same handler with the same arguments.
type Handler func(ctx context.Context, args map[string]any) (ExecutionResult, error)

// ToolSpec is a single registered tool.
type ToolSpec struct {
	Name        string
	Description string
	ArgsSchema  Schema
	Handler     Handler
}

// ToolStep is one step of a ToolCallChain.
type ToolStep struct {
	Tool                 string         `json:"tool"`
	Args                 map[string]any `json:"args"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	Visibility           string         `json:"visibility"`
}

// ToolCallChain is an ordered sequence of tool steps scoped to a request.
type ToolCallChain struct {
	RequestID string     `json:"request_id"`
	SceneID   int64      `json:"scene_id"`
	ActorID   string     `json:"actor_id,omitempty"`
	Steps     []ToolStep `json:"steps"`
}

// PreviewItem is one step's preview result.
type PreviewItem struct {
	Mechanics       string       `json:"mechanics"`
	PredictedEvents []EventShape `json:"predicted_events"`
}

// PreviewResult is the full chain's dry-run output.
type PreviewResult struct {
	Items []PreviewItem `json:"items"`
}
