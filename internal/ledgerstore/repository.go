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

// Package ledgerstore implements the event ledger repository: append/read
// with dense per-campaign ordinals, uniqueness on (campaign_id,
// replay_ordinal) and (campaign_id, idempotency_key), chain continuity, and
// idempotent genesis bootstrap.
package ledgerstore

import (
	"context"
	"time"

	"ledgerd/internal/ledger"
)

// MaxAppendAttempts bounds the compare-and-append retry loop under
// concurrent writers targeting the same campaign (spec default: 5).
const MaxAppendAttempts = 5

// ActorResolver substitutes a numeric actor id for the character name it
// refers to, so the stored row carries the normalized value rather than the
// raw request field. actor_id is not an input to the payload hash, the
// idempotency key or the envelope hash. A miss (actor id not numeric, or
// not found) leaves the value untouched.
type ActorResolver interface {
	ResolveActorName(ctx context.Context, campaignID int64, actorID string) (name string, ok bool, err error)
}

// AppendParams carries the caller-supplied fields of a new event; the
// repository derives replay_ordinal, prev_event_hash, payload_hash, and
// idempotency_key.
type AppendParams struct {
	CampaignID          int64
	SceneID             *int64
	EventType           string
	Payload             map[string]any
	ActorID             *string
	PlanID              string
	ExecutionRequestID  string
	RequestID           string
	WallTimeUTC         time.Time
}

// Repository is the event ledger's storage contract. Implementations must
// guarantee the density, uniqueness, and chain invariants of the data model
// even under concurrent callers.
type Repository interface {
	// EnsureGenesis idempotently creates the genesis row for campaignID,
	// returning the existing row if one is already present.
	EnsureGenesis(ctx context.Context, campaignID int64) (ledger.Event, error)
	// AppendEvent atomically appends a new event, or returns the existing
	// row when the computed idempotency key already exists for this
	// campaign (idempotent reuse path).
	AppendEvent(ctx context.Context, params AppendParams) (ledger.Event, error)
	// ListEvents returns the campaign's events ordered by replay_ordinal
	// ascending, optionally filtered to one scene.
	ListEvents(ctx context.Context, campaignID int64, sceneID *int64) ([]ledger.Event, error)
}
