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

// Package guard formats and parses guard identifiers attached to plan
// steps: <category>:<name>[:key=value[,key2=value2]]. Reserved categories:
// predicate, resource, state, cooldown, line_of_effect.
package guard

import (
	"fmt"
	"sort"
	"strings"
)

// Format builds a guard identifier string from a category, name, and an
// optional set of key/value arguments, sorted by key for determinism.
func Format(category, name string, args map[string]string) string {
	base := category + ":" + name
	if len(args) == 0 {
		return base
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, args[k]))
	}
	return base + ":" + strings.Join(parts, ",")
}

// Parse splits a guard identifier into its category, name, and argument
// map. A bare flag segment (no "=") is recorded with value "true".
func Parse(guard string) (category, name string, args map[string]string, err error) {
	idx := strings.Index(guard, ":")
	if idx < 0 {
		return "", "", nil, fmt.Errorf("guard: invalid format %q: missing category separator", guard)
	}
	category, remainder := guard[:idx], guard[idx+1:]

	nameIdx := strings.Index(remainder, ":")
	if nameIdx < 0 {
		return category, remainder, map[string]string{}, nil
	}

	name, argsRaw := remainder[:nameIdx], remainder[nameIdx+1:]
	args = map[string]string{}
	for _, segment := range strings.Split(argsRaw, ",") {
		if segment == "" {
			continue
		}
		if eq := strings.Index(segment, "="); eq >= 0 {
			args[segment[:eq]] = segment[eq+1:]
		} else {
			args[segment] = "true"
		}
	}
	return category, name, args, nil
}
