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

package ledgerstore

import (
	"context"
	"sort"
	"sync"
	"time"

	lederr "ledgerd/pkg/errors"
	"ledgerd/internal/ledger"
	"ledgerd/pkg/metrics"
)

// MemoryRepository is an in-process Repository used by tests and local
// tooling. Its Append path runs the identical CAS-and-hash-chain algorithm
// as the Postgres backend, guarded by a mutex instead of a database
// constraint.
type MemoryRepository struct {
	resolver ActorResolver

	mu       sync.Mutex
	byID     map[int64][]ledger.Event                 // campaignID -> ordered events
	byIdem   map[int64]map[[16]byte]int                // campaignID -> idempotency key -> index into byID
}

// NewMemoryRepository constructs an empty MemoryRepository. resolver may be
// nil, in which case actor ids are never normalized.
func NewMemoryRepository(resolver ActorResolver) *MemoryRepository {
	return &MemoryRepository{
		resolver: resolver,
		byID:     map[int64][]ledger.Event{},
		byIdem:   map[int64]map[[16]byte]int{},
	}
}

func (r *MemoryRepository) EnsureGenesis(ctx context.Context, campaignID int64) (ledger.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if events, ok := r.byID[campaignID]; ok && len(events) > 0 {
		return events[0], nil
	}
	genesis := ledger.NewGenesis(campaignID, time.Now().UTC())
	r.byID[campaignID] = []ledger.Event{genesis}
	r.byIdem[campaignID] = map[[16]byte]int{genesis.IdempotencyKey: 0}
	return genesis, nil
}

func (r *MemoryRepository) AppendEvent(ctx context.Context, p AppendParams) (ledger.Event, error) {
	started := time.Now()
	defer func() {
		metrics.ObserveHistogram("event.apply.latency_ms", float64(time.Since(started).Milliseconds()))
	}()

	actorID := p.ActorID
	if actorID != nil && r.resolver != nil {
		if name, ok, err := r.resolver.ResolveActorName(ctx, p.CampaignID, *actorID); err == nil && ok {
			actorID = &name
		}
	}

	for attempt := 0; attempt < MaxAppendAttempts; attempt++ {
		r.mu.Lock()
		events, ok := r.byID[p.CampaignID]
		if !ok || len(events) == 0 {
			r.mu.Unlock()
			return ledger.Event{}, lederr.ErrLedgerInconsistent
		}
		tip := events[len(events)-1]
		nextOrdinal := tip.ReplayOrdinal + 1
		prevHash := ledger.EnvelopeHash(tip)

		payloadHash, err := ledger.PayloadHash(p.Payload)
		if err != nil {
			r.mu.Unlock()
			return ledger.Event{}, err
		}
		idemKey, err := ledger.IdempotencyKeyV2(p.CampaignID, p.EventType, p.ExecutionRequestID, p.PlanID, p.Payload)
		if err != nil {
			r.mu.Unlock()
			return ledger.Event{}, err
		}

		if idx, exists := r.byIdem[p.CampaignID][idemKey]; exists {
			existing := events[idx]
			r.mu.Unlock()
			if existing.EventType != p.EventType || existing.PayloadHash != payloadHash {
				return ledger.Event{}, lederr.ErrIdempotencyCollision
			}
			metrics.IncCounter("events.idempotent_reuse", 1)
			return existing, nil
		}

		wallTime := p.WallTimeUTC
		if wallTime.IsZero() {
			wallTime = time.Now().UTC()
		}
		var planID, execReqID, requestID *string
		if p.PlanID != "" {
			planID = &p.PlanID
		}
		if p.ExecutionRequestID != "" {
			execReqID = &p.ExecutionRequestID
		}
		_ = requestID

		event := ledger.Event{
			ReplayOrdinal:      nextOrdinal,
			CampaignID:         p.CampaignID,
			SceneID:            p.SceneID,
			EventType:          p.EventType,
			EventSchemaVersion: 1,
			WorldTime:          nextOrdinal,
			WallTimeUTC:        wallTime,
			PrevEventHash:      prevHash,
			PayloadHash:        payloadHash,
			IdempotencyKey:     idemKey,
			ActorID:            actorID,
			PlanID:             planID,
			ExecutionRequestID: execReqID,
			Payload:            p.Payload,
		}

		r.byID[p.CampaignID] = append(events, event)
		r.byIdem[p.CampaignID][idemKey] = len(r.byID[p.CampaignID]) - 1
		r.mu.Unlock()
		return event, nil
	}
	return ledger.Event{}, lederr.ErrLedgerContention
}

func (r *MemoryRepository) ListEvents(ctx context.Context, campaignID int64, sceneID *int64) ([]ledger.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := r.byID[campaignID]
	out := make([]ledger.Event, 0, len(events))
	for _, e := range events {
		if sceneID != nil {
			if e.SceneID == nil || *e.SceneID != *sceneID {
				continue
			}
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReplayOrdinal < out[j].ReplayOrdinal })
	return out, nil
}
