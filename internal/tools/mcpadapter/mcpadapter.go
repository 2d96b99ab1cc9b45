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

// Package mcpadapter routes tool calls through a framework-agnostic
// call(name, args) -> result mapping layer instead of the registry's
// direct handler dispatch. It exists to prove that an external
// Model-Context-Protocol-style transport can sit in front of the same
// tool catalog without changing results: the feature flag features.mcp
// selects this path for cmd/server's /preview. RegistryCaller dispatches to
// the same handlers as the legacy path; no test in this tree compares the
// two paths' output.
package mcpadapter

import (
	"context"
	"fmt"

	"ledgerd/internal/tools"
	"ledgerd/pkg/metrics"
)

// Caller is the minimal shape an MCP transport must provide: call a named
// tool with arguments and get back its raw result.
type Caller interface {
	Call(ctx context.Context, name string, args map[string]any) (tools.ExecutionResult, error)
}

// RegistryCaller adapts a *tools.Registry to the Caller interface, giving
// an in-process stand-in for a real MCP transport.
type RegistryCaller struct {
	Registry *tools.Registry
}

func (c RegistryCaller) Call(ctx context.Context, name string, args map[string]any) (tools.ExecutionResult, error) {
	spec, ok := c.Registry.Get(name)
	if !ok {
		return tools.ExecutionResult{}, fmt.Errorf("mcpadapter: unknown tool %q", name)
	}
	return spec.Handler(ctx, args)
}

// Adapter executes a ToolCallChain through a Caller instead of a
// Registry directly, recording executor.mcp.call per step.
type Adapter struct {
	Caller Caller
}

func New(caller Caller) *Adapter {
	return &Adapter{Caller: caller}
}

// Preview mirrors Executor.Preview's contract but routes each step through
// the Caller.
func (a *Adapter) Preview(ctx context.Context, chain tools.ToolCallChain) (tools.PreviewResult, error) {
	items := make([]tools.PreviewItem, 0, len(chain.Steps))
	for _, step := range chain.Steps {
		metrics.IncCounter("executor.mcp.call", 1)
		result, err := a.Caller.Call(ctx, step.Tool, step.Args)
		if err != nil {
			return tools.PreviewResult{}, fmt.Errorf("mcpadapter: %s: %w", step.Tool, err)
		}
		items = append(items, tools.PreviewItem{Mechanics: result.Mechanics, PredictedEvents: result.PredictedEvents})
	}
	return tools.PreviewResult{Items: items}, nil
}
