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

package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatWithoutArgs(t *testing.T) {
	assert.Equal(t, "predicate:known_ability", Format("predicate", "known_ability", nil))
}

func TestFormatSortsArgsByKey(t *testing.T) {
	got := Format("resource", "spell_slot", map[string]string{"level": "2", "class": "wizard"})
	assert.Equal(t, "resource:spell_slot:class=wizard,level=2", got)
}

func TestParseRoundTripsFormat(t *testing.T) {
	original := Format("cooldown", "fireball", map[string]string{"turns": "3"})
	category, name, args, err := Parse(original)
	require.NoError(t, err)
	assert.Equal(t, "cooldown", category)
	assert.Equal(t, "fireball", name)
	assert.Equal(t, map[string]string{"turns": "3"}, args)
}

func TestParseBareNameNoArgs(t *testing.T) {
	category, name, args, err := Parse("state:prone")
	require.NoError(t, err)
	assert.Equal(t, "state", category)
	assert.Equal(t, "prone", name)
	assert.Empty(t, args)
}

func TestParseFlagSegmentDefaultsToTrue(t *testing.T) {
	_, _, args, err := Parse("line_of_effect:clear:blocked")
	require.NoError(t, err)
	assert.Equal(t, "true", args["blocked"])
}

func TestParseMissingCategorySeparatorErrors(t *testing.T) {
	_, _, _, err := Parse("no-category-here")
	assert.Error(t, err)
}
