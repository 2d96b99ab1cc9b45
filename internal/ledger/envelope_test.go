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

package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedTime() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

func TestIdempotencyKeyStableForIdenticalInputs(t *testing.T) {
	payload := map[string]any{"expr": "1d20", "total": int64(17)}
	k1, err := IdempotencyKeyV2(1, "roll.performed", "", "", payload)
	require.NoError(t, err)
	k2, err := IdempotencyKeyV2(1, "roll.performed", "", "", payload)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestIdempotencyKeyDiffersOnFieldBoundary(t *testing.T) {
	// Regression for delimiter-less concatenation: campaign_id="1" +
	// event_type="2x" must not collide with campaign_id="12" + event_type="x".
	payload := map[string]any{}
	k1, err := IdempotencyKeyV2(1, "2x", "", "", payload)
	require.NoError(t, err)
	k2, err := IdempotencyKeyV2(12, "x", "", "", payload)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestIdempotencyKeyCollisionSuite(t *testing.T) {
	seen := make(map[[16]byte]bool)
	for i := int64(0); i < 1000; i++ {
		payload := map[string]any{"i": i}
		k, err := IdempotencyKeyV2(1, "roll.performed", "", "", payload)
		require.NoError(t, err)
		require.False(t, seen[k], "collision at i=%d", i)
		seen[k] = true
	}
}

func TestEnvelopeHashChangesWithOrdinal(t *testing.T) {
	genesis := NewGenesis(1, fixedTime())
	e1 := genesis
	e1.ReplayOrdinal = 1
	h0 := EnvelopeHash(genesis)
	h1 := EnvelopeHash(e1)
	assert.NotEqual(t, h0, h1)
}

func TestGenesisHasFixedHashes(t *testing.T) {
	g := NewGenesis(1, fixedTime())
	assert.Equal(t, [32]byte{}, g.PrevEventHash)
	assert.Equal(t, [16]byte{}, g.IdempotencyKey)
	assert.Equal(t, GenesisPayloadHash, g.PayloadHash)
}
