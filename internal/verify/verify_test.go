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

package verify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerd/internal/ledger"
	"ledgerd/internal/ledgerstore"
	"ledgerd/pkg/metrics"
)

func buildChain(t *testing.T, n int) []ledger.Event {
	t.Helper()
	repo := ledgerstore.NewMemoryRepository(nil)
	_, err := repo.EnsureGenesis(context.Background(), 1)
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		_, err := repo.AppendEvent(context.Background(), ledgerstore.AppendParams{
			CampaignID:  1,
			EventType:   "roll.performed",
			Payload:     map[string]any{"i": int64(i)},
			WallTimeUTC: time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	events, err := repo.ListEvents(context.Background(), 1, nil)
	require.NoError(t, err)
	return events
}

func TestVerifyChainSucceedsOnIntactChain(t *testing.T) {
	events := buildChain(t, 5)
	report := VerifyChain(events)
	assert.Equal(t, StatusSuccess, report.Status)
	assert.Equal(t, len(events), report.VerifiedCount)
	assert.Equal(t, len(events), report.ChainLength)
	assert.Nil(t, report.FirstMismatchOrdinal)
}

func TestVerifyChainEmptyIsSuccess(t *testing.T) {
	report := VerifyChain(nil)
	assert.Equal(t, StatusSuccess, report.Status)
	assert.Equal(t, 0, report.ChainLength)
}

func TestVerifyChainDetectsPayloadTamper(t *testing.T) {
	events := buildChain(t, 3)
	events[2].Payload["i"] = int64(999)

	report := VerifyChain(events)
	assert.Equal(t, StatusFailure, report.Status)
	require.NotNil(t, report.FirstMismatchOrdinal)
	assert.Equal(t, events[2].ReplayOrdinal, *report.FirstMismatchOrdinal)
}

func TestVerifyChainReportsAllMismatchesNotJustFirst(t *testing.T) {
	metrics.ResetCounters()
	events := buildChain(t, 4)
	events[1].Payload["i"] = int64(111)
	events[3].Payload["i"] = int64(333)

	report := VerifyChain(events)
	assert.Equal(t, StatusFailure, report.Status)
	assert.Len(t, report.Mismatches, 2)
	assert.Equal(t, int64(2), metrics.GetCounter("events.hash_mismatch"))
}

func TestVerifyChainDetectsBrokenPrevHashLink(t *testing.T) {
	events := buildChain(t, 3)
	events[2].PrevEventHash[0] ^= 0xFF

	report := VerifyChain(events)
	assert.Equal(t, StatusFailure, report.Status)
	found := false
	for _, m := range report.Mismatches {
		if m.Kind == "prev_event_hash" {
			found = true
		}
	}
	assert.True(t, found)
}
