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

// Package pending implements the two-phase staging store for chains that
// await player confirmation: stage, dedup, expire, confirm, cancel.
package pending

import (
	"context"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"ledgerd/internal/canon"
	"ledgerd/internal/orchestrator"
	"ledgerd/pkg/metrics"
)

// Status is a pending action's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCanceled  Status = "canceled"
	StatusExpired   Status = "expired"
	StatusError     Status = "error"
)

// Action is one staged chain awaiting confirmation or cancellation.
type Action struct {
	ID         int64
	CampaignID int64
	SceneID    int64
	ChannelID  string
	UserID     string
	RequestID  string
	Chain      map[string]any
	Mechanics  string
	Narration  string
	Status     Status
	CreatedAt  time.Time
	ExpiresAt  time.Time
	DedupHash  string
}

// Store is an in-process pending-action store; its rows live only in
// memory. No code in this tree reads or writes the pending_actions table.
type Store struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*Action
}

// New constructs an empty Store.
func New() *Store {
	return &Store{byID: map[int64]*Action{}}
}

// Create stages a chain, or returns the existing active row if one already
// matches (scene, user, dedup_hash).
func (s *Store) Create(ctx context.Context, campaignID, sceneID int64, channelID, userID, requestID string, chain map[string]any, mechanics, narration string, ttl time.Duration) (*Action, error) {
	dedupHash, err := dedupHash(chain)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.byID {
		if a.SceneID == sceneID && a.UserID == userID && a.DedupHash == dedupHash && a.Status == StatusPending {
			return a, nil
		}
	}

	s.nextID++
	action := &Action{
		ID:         s.nextID,
		CampaignID: campaignID,
		SceneID:    sceneID,
		ChannelID:  channelID,
		UserID:     userID,
		RequestID:  requestID,
		Chain:      chain,
		Mechanics:  mechanics,
		Narration:  narration,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  time.Now().UTC().Add(ttl),
		DedupHash:  dedupHash,
	}
	s.byID[action.ID] = action
	return action, nil
}

// GetLatestPendingForUser returns the most recently created pending
// (non-terminal) row for a (scene, user) pair, or nil if none exists.
func (s *Store) GetLatestPendingForUser(scene int64, userID string) *Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*Action
	for _, a := range s.byID {
		if a.SceneID == scene && a.UserID == userID && a.Status == StatusPending {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.After(candidates[j].CreatedAt) })
	return candidates[0]
}

// MarkStatus transitions a row to a terminal status.
func (s *Store) MarkStatus(id int64, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return errNotFound(id)
	}
	a.Status = status
	return nil
}

// ExpireStale marks every pending row whose expires_at has passed as
// expired, returning the count. Idempotent: rows already terminal are
// untouched.
func (s *Store) ExpireStale() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	count := 0
	for _, a := range s.byID {
		if a.Status == StatusPending && a.ExpiresAt.Before(now) {
			a.Status = StatusExpired
			count++
		}
	}
	metrics.IncCounter("pending.expired", int64(count))
	return count
}

// Confirm loads the latest pending action for (scene, user), applies its
// chain via apply, and marks it confirmed. If execution_request is present
// in the staged chain, it is preferred over the raw chain (matching the
// action-validation feature flag's behavior upstream).
func (s *Store) Confirm(ctx context.Context, scene int64, userID string, apply func(ctx context.Context, chain map[string]any) error) error {
	action := s.GetLatestPendingForUser(scene, userID)
	if action == nil {
		metrics.IncCounter("pending.confirm.none", 1)
		return errNoPendingAction
	}

	chainToApply := action.Chain
	if raw, present := action.Chain["execution_request"]; present {
		if execReq, ok := raw.(map[string]any); ok {
			chainToApply = execReq
		} else {
			metrics.IncCounter("pending.confirm.execution_request.invalid", 1)
		}
	}

	if err := apply(ctx, chainToApply); err != nil {
		_ = s.MarkStatus(action.ID, StatusError)
		metrics.IncCounter("pending.confirm.error", 1)
		return err
	}

	_ = s.MarkStatus(action.ID, StatusConfirmed)
	metrics.IncCounter("pending.confirm.ok", 1)
	return nil
}

// Cancel marks the latest pending action for (scene, user) as canceled.
func (s *Store) Cancel(scene int64, userID string) error {
	action := s.GetLatestPendingForUser(scene, userID)
	if action == nil {
		metrics.IncCounter("pending.cancel.none", 1)
		return errNoPendingAction
	}
	_ = s.MarkStatus(action.ID, StatusCanceled)
	metrics.IncCounter("pending.cancel.ok", 1)
	return nil
}

// ChainToMap converts an orchestrator chain_json payload (an
// orchestrator.ExecutionRequest plus its source chain) into the plain
// map[string]any shape Create expects to persist and canonically hash.
func ChainToMap(req orchestrator.ExecutionRequest, chain map[string]any) map[string]any {
	steps := make([]any, len(req.Steps))
	for i, st := range req.Steps {
		steps[i] = map[string]any{
			"op":                    st.Op,
			"args":                  st.Args,
			"requires_confirmation": st.RequiresConfirmation,
			"visibility":            st.Visibility,
		}
	}
	execReq := map[string]any{
		"plan_id": req.PlanID,
		"context": map[string]any{"scene_id": req.Context.SceneID},
		"steps":   steps,
	}
	out := map[string]any{"execution_request": execReq}
	for k, v := range chain {
		out[k] = v
	}
	return out
}

func dedupHash(chain map[string]any) (string, error) {
	hash, err := canon.Hash(chain)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(hash[:32]), nil
}
