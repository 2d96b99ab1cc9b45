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

import "ledgerd/internal/tools"

// CatalogFromRegistry builds the planner's tool catalog directly from the
// live tool registry, so the planner prompt and the allowlist never drift
// from what the executor can actually run.
func CatalogFromRegistry(registry *tools.Registry) []ToolCatalogEntry {
	specs := registry.List()
	catalog := make([]ToolCatalogEntry, 0, len(specs))
	for _, spec := range specs {
		catalog = append(catalog, ToolCatalogEntry{
			Name:        spec.Name,
			Description: spec.Description,
			ArgsSchema:  spec.ArgsSchema,
		})
	}
	return catalog
}

// AllowlistFromRegistry returns every registered tool name, suitable as
// the planner's routable-command allowlist.
func AllowlistFromRegistry(registry *tools.Registry) []string {
	specs := registry.List()
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	return names
}
