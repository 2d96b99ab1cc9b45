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
	"crypto/sha256"
	"strconv"
	"time"

	"ledgerd/internal/canon"
)

// fieldDelimiter separates envelope/idempotency-key fields before hashing.
// It is a single byte that never appears in valid UTF-8 JSON text, chosen to
// avoid field-injection collisions (e.g. campaign_id "1" + event_type "2x"
// hashing the same as "12" + "x").
const fieldDelimiter = byte(0x1F)

var (
	// GenesisPrevEventHash is the fixed prev_event_hash of the genesis row.
	GenesisPrevEventHash [32]byte
	// GenesisIdempotencyKey is the fixed idempotency_key of the genesis row.
	GenesisIdempotencyKey [16]byte
	// GenesisPayloadHash is SHA-256(canonical_bytes({})), precomputed once.
	GenesisPayloadHash [32]byte
)

func init() {
	h, err := canon.Hash(map[string]any{})
	if err != nil {
		panic("ledger: genesis payload hash computation failed: " + err.Error())
	}
	GenesisPayloadHash = h
}

// PayloadHash returns SHA-256(canonical_bytes(payload)).
func PayloadHash(payload map[string]any) ([32]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	return canon.Hash(payload)
}

// IdempotencyKeyV2 computes the 16-byte idempotency key prefix per the
// spec's v2 field order: campaign_id, event_type, execution_request_id (or
// empty), plan_id (or empty), and the canonical payload bytes, delimited by
// a single non-JSON byte. replay_ordinal is deliberately excluded: it is
// only known once an append has claimed a slot, so hashing it would give a
// retried append a different key every time and defeat the idempotency
// collapse the spec requires for a repeated request_id.
//
// actorID-driven normalization (numeric id -> character name) must already
// be applied to any actor-bearing payload before this call; the key is
// computed over whatever value is about to be stored, never before.
func IdempotencyKeyV2(campaignID int64, eventType, executionRequestID, planID string, payload map[string]any) ([16]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	payloadBytes, err := canon.Bytes(payload)
	if err != nil {
		return [16]byte{}, err
	}

	h := sha256.New()
	writeDelimited(h, []byte(strconv.FormatInt(campaignID, 10)))
	writeDelimited(h, []byte(eventType))
	writeDelimited(h, []byte(executionRequestID))
	writeDelimited(h, []byte(planID))
	h.Write(payloadBytes)

	var out [16]byte
	copy(out[:], h.Sum(nil)[:16])
	return out, nil
}

// EnvelopeHash computes SHA-256 over the delimited concatenation of all
// envelope-identifying fields in the order fixed by the data model, used as
// the prev_event_hash of the event's successor.
func EnvelopeHash(e Event) [32]byte {
	h := sha256.New()
	writeDelimited(h, []byte(strconv.FormatInt(e.CampaignID, 10)))
	if e.SceneID != nil {
		writeDelimited(h, []byte(strconv.FormatInt(*e.SceneID, 10)))
	} else {
		writeDelimited(h, nil)
	}
	writeDelimited(h, []byte(strconv.FormatInt(e.ReplayOrdinal, 10)))
	writeDelimited(h, []byte(e.EventType))
	writeDelimited(h, []byte(strconv.Itoa(e.EventSchemaVersion)))
	writeDelimited(h, []byte(strconv.FormatInt(e.WorldTime, 10)))
	writeDelimited(h, []byte(strconv.FormatInt(epochMillis(e.WallTimeUTC), 10)))
	writeDelimited(h, e.PrevEventHash[:])
	writeDelimited(h, e.PayloadHash[:])
	h.Write(e.IdempotencyKey[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func writeDelimited(h interface{ Write([]byte) (int, error) }, field []byte) {
	h.Write(field)
	h.Write([]byte{fieldDelimiter})
}

func epochMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// NewGenesis builds the genesis event for a campaign. Callers must insert it
// exactly once per campaign via a ledger repository's EnsureGenesis, which
// serializes concurrent bootstrap attempts.
func NewGenesis(campaignID int64, wallTime time.Time) Event {
	return Event{
		ReplayOrdinal:      0,
		CampaignID:         campaignID,
		SceneID:            nil,
		EventType:          GenesisEventType,
		EventSchemaVersion: 1,
		WorldTime:          0,
		WallTimeUTC:        wallTime,
		PrevEventHash:      GenesisPrevEventHash,
		PayloadHash:        GenesisPayloadHash,
		IdempotencyKey:     GenesisIdempotencyKey,
		Payload:            map[string]any{},
	}
}
