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

package pending

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerd/pkg/metrics"
)

func sampleChain(requestID string) map[string]any {
	return map[string]any{
		"request_id": requestID,
		"scene_id":   int64(10),
		"steps": []any{
			map[string]any{"tool": "check", "args": map[string]any{"ability": "STR"}},
		},
	}
}

func TestCreateDedupsIdenticalChainForSameUser(t *testing.T) {
	store := New()
	chain := sampleChain("req-1")

	first, err := store.Create(context.Background(), 1, 10, "chan", "user-1", "req-1", chain, "mech", "narr", time.Minute)
	require.NoError(t, err)

	second, err := store.Create(context.Background(), 1, 10, "chan", "user-1", "req-1", chain, "mech", "narr", time.Minute)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestCreateDoesNotDedupDifferentUsers(t *testing.T) {
	store := New()
	chain := sampleChain("req-1")

	first, err := store.Create(context.Background(), 1, 10, "chan", "user-1", "req-1", chain, "mech", "narr", time.Minute)
	require.NoError(t, err)
	second, err := store.Create(context.Background(), 1, 10, "chan", "user-2", "req-1", chain, "mech", "narr", time.Minute)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestGetLatestPendingForUserReturnsMostRecent(t *testing.T) {
	store := New()
	_, err := store.Create(context.Background(), 1, 10, "chan", "user-1", "req-1", sampleChain("req-1"), "m", "n", time.Minute)
	require.NoError(t, err)
	second, err := store.Create(context.Background(), 1, 10, "chan", "user-1", "req-2", sampleChain("req-2"), "m", "n", time.Minute)
	require.NoError(t, err)

	latest := store.GetLatestPendingForUser(10, "user-1")
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
}

func TestExpireStaleMarksPastDeadlineRowsExpired(t *testing.T) {
	store := New()
	action, err := store.Create(context.Background(), 1, 10, "chan", "user-1", "req-1", sampleChain("req-1"), "m", "n", -time.Minute)
	require.NoError(t, err)

	count := store.ExpireStale()
	assert.Equal(t, 1, count)

	store.mu.Lock()
	status := store.byID[action.ID].Status
	store.mu.Unlock()
	assert.Equal(t, StatusExpired, status)
}

func TestExpireStaleIsIdempotentOnTerminalActions(t *testing.T) {
	store := New()
	_, err := store.Create(context.Background(), 1, 10, "chan", "user-1", "req-1", sampleChain("req-1"), "m", "n", -time.Minute)
	require.NoError(t, err)

	first := store.ExpireStale()
	second := store.ExpireStale()
	assert.Equal(t, 1, first)
	assert.Equal(t, 0, second)
}

func TestConfirmWithNoPendingActionIncrementsNoneMetric(t *testing.T) {
	metrics.ResetCounters()
	store := New()

	err := store.Confirm(context.Background(), 10, "user-1", func(ctx context.Context, chain map[string]any) error { return nil })
	require.ErrorIs(t, err, errNoPendingAction)
	assert.Equal(t, int64(1), metrics.GetCounter("pending.confirm.none"))
}

func TestConfirmAppliesChainAndMarksConfirmed(t *testing.T) {
	metrics.ResetCounters()
	store := New()
	action, err := store.Create(context.Background(), 1, 10, "chan", "user-1", "req-1", sampleChain("req-1"), "m", "n", time.Minute)
	require.NoError(t, err)

	var applied map[string]any
	err = store.Confirm(context.Background(), 10, "user-1", func(ctx context.Context, chain map[string]any) error {
		applied = chain
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", applied["request_id"])
	assert.Equal(t, int64(1), metrics.GetCounter("pending.confirm.ok"))

	store.mu.Lock()
	status := store.byID[action.ID].Status
	store.mu.Unlock()
	assert.Equal(t, StatusConfirmed, status)
}

func TestConfirmPrefersEmbeddedExecutionRequest(t *testing.T) {
	metrics.ResetCounters()
	store := New()
	chain := sampleChain("req-1")
	chain["execution_request"] = map[string]any{"plan_id": "plan-1", "steps": []any{}}
	_, err := store.Create(context.Background(), 1, 10, "chan", "user-1", "req-1", chain, "m", "n", time.Minute)
	require.NoError(t, err)

	var applied map[string]any
	err = store.Confirm(context.Background(), 10, "user-1", func(ctx context.Context, c map[string]any) error {
		applied = c
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "plan-1", applied["plan_id"])
}

func TestConfirmMarksErrorWhenApplyFails(t *testing.T) {
	metrics.ResetCounters()
	store := New()
	_, err := store.Create(context.Background(), 1, 10, "chan", "user-1", "req-1", sampleChain("req-1"), "m", "n", time.Minute)
	require.NoError(t, err)

	applyErr := assertError("apply failed")
	err = store.Confirm(context.Background(), 10, "user-1", func(ctx context.Context, c map[string]any) error { return applyErr })
	require.ErrorIs(t, err, applyErr)
	assert.Equal(t, int64(1), metrics.GetCounter("pending.confirm.error"))
}

func TestCancelMarksCanceled(t *testing.T) {
	metrics.ResetCounters()
	store := New()
	action, err := store.Create(context.Background(), 1, 10, "chan", "user-1", "req-1", sampleChain("req-1"), "m", "n", time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Cancel(10, "user-1"))
	assert.Equal(t, int64(1), metrics.GetCounter("pending.cancel.ok"))

	store.mu.Lock()
	status := store.byID[action.ID].Status
	store.mu.Unlock()
	assert.Equal(t, StatusCanceled, status)
}

func TestCancelWithNoPendingIncrementsNoneMetric(t *testing.T) {
	metrics.ResetCounters()
	store := New()
	err := store.Cancel(10, "user-1")
	require.ErrorIs(t, err, errNoPendingAction)
	assert.Equal(t, int64(1), metrics.GetCounter("pending.cancel.none"))
}

type stringError string

func (e stringError) Error() string { return string(e) }

func assertError(msg string) error { return stringError(msg) }
