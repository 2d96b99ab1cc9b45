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
	"fmt"
	"sort"
	"sync"
)

// Registry is a process-static name -> ToolSpec mapping. Lookups are O(1).
type Registry struct {
	mu    sync.RWMutex
	specs map[string]ToolSpec
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{specs: map[string]ToolSpec{}}
}

// Register adds a tool. Registering the same name twice overwrites the
// prior entry; callers are expected to register once at startup.
func (r *Registry) Register(spec ToolSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.Name] = spec
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// List returns every registered tool sorted by name, for deterministic
// catalog construction.
func (r *Registry) List() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSpec, 0, len(r.specs))
	for _, spec := range r.specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NewCoreRegistry builds a Registry with every core game-mechanics tool
// registered: roll, check, attack, apply_damage, heal, apply_condition,
// clear_condition, start_encounter, add_combatant, set_initiative,
// next_turn.
func NewCoreRegistry() *Registry {
	r := NewRegistry()
	for _, spec := range coreToolSpecs() {
		r.Register(spec)
	}
	return r
}

func requireArgError(tool string, missing string) error {
	return fmt.Errorf("tools: %s: missing required argument %q", tool, missing)
}
