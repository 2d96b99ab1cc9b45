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

// Package ledger defines the event envelope: the immutable ledger row shape
// and the pure hash/key derivation functions (payload hash, idempotency key,
// envelope hash) that chain one event to the next.
package ledger

import "time"

// GenesisEventType is the fixed event_type of the first row in every
// campaign's ledger.
const GenesisEventType = "campaign.genesis"

// Event is the immutable ledger row. Once appended it is never mutated.
type Event struct {
	ReplayOrdinal      int64
	CampaignID         int64
	SceneID            *int64
	EventType          string
	EventSchemaVersion int
	WorldTime          int64
	WallTimeUTC        time.Time
	PrevEventHash      [32]byte
	PayloadHash        [32]byte
	IdempotencyKey     [16]byte
	ActorID            *string
	PlanID             *string
	ExecutionRequestID *string
	ApprovedBy         *string
	Payload            map[string]any
	MigratorAppliedFrom *string
}

// IsGenesis reports whether e is the campaign's genesis row.
func (e Event) IsGenesis() bool {
	return e.ReplayOrdinal == 0 && e.EventType == GenesisEventType
}
