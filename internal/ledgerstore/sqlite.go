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
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"ledgerd/internal/ledger"
	lederr "ledgerd/pkg/errors"
	"ledgerd/pkg/metrics"
)

// SQLiteRepository is the development-mode Repository backend. SQLite has
// no cross-process advisory lock, so this implementation relies on the
// in-process mutex alone, per the encounter lock service's SQLite tier: a
// single process is assumed to own the database file in dev mode.
type SQLiteRepository struct {
	db       *sql.DB
	resolver ActorResolver
	mu       sync.Mutex
}

// OpenSQLite opens (and does not migrate) a SQLite database file via the
// pure-Go modernc.org/sqlite driver, registered under database/sql the same
// way this codebase registers pgx/v5/stdlib.
func OpenSQLite(path string, resolver ActorResolver) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, lederr.Wrap(err, "ledgerstore: open sqlite")
	}
	db.SetMaxOpenConns(1) // single-writer; avoids SQLITE_BUSY under our own concurrency
	return &SQLiteRepository{db: db, resolver: resolver}, nil
}

func (r *SQLiteRepository) Close() error { return r.db.Close() }

func (r *SQLiteRepository) EnsureGenesis(ctx context.Context, campaignID int64) (ledger.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.loadByOrdinal(ctx, campaignID, 0)
	if err == nil {
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return ledger.Event{}, err
	}

	genesis := ledger.NewGenesis(campaignID, time.Now().UTC())
	payload, _ := json.Marshal(genesis.Payload)
	_, err = r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO events (
			campaign_id, scene_id, replay_ordinal, event_type, event_schema_version,
			world_time, wall_time_utc, prev_event_hash, payload_hash, idempotency_key, payload
		) VALUES (?, NULL, 0, ?, ?, 0, ?, ?, ?, ?, ?)
	`, campaignID, genesis.EventType, genesis.EventSchemaVersion, genesis.WallTimeUTC.Format(time.RFC3339Nano),
		genesis.PrevEventHash[:], genesis.PayloadHash[:], genesis.IdempotencyKey[:], payload)
	if err != nil {
		return ledger.Event{}, lederr.Wrap(err, "ledgerstore: sqlite ensure genesis")
	}
	return r.loadByOrdinal(ctx, campaignID, 0)
}

func (r *SQLiteRepository) AppendEvent(ctx context.Context, p AppendParams) (ledger.Event, error) {
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

	r.mu.Lock()
	defer r.mu.Unlock()

	var maxOrdinal sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(replay_ordinal) FROM events WHERE campaign_id = ?`, p.CampaignID).Scan(&maxOrdinal); err != nil {
		return ledger.Event{}, lederr.Wrap(err, "ledgerstore: sqlite load tip ordinal")
	}
	if !maxOrdinal.Valid {
		return ledger.Event{}, lederr.ErrLedgerInconsistent
	}

	tip, err := r.loadByOrdinal(ctx, p.CampaignID, maxOrdinal.Int64)
	if err != nil {
		return ledger.Event{}, lederr.Wrap(err, "ledgerstore: sqlite load tip event")
	}

	nextOrdinal := tip.ReplayOrdinal + 1
	prevHash := ledger.EnvelopeHash(tip)

	payloadHash, err := ledger.PayloadHash(p.Payload)
	if err != nil {
		return ledger.Event{}, err
	}
	idemKey, err := ledger.IdempotencyKeyV2(p.CampaignID, p.EventType, p.ExecutionRequestID, p.PlanID, p.Payload)
	if err != nil {
		return ledger.Event{}, err
	}

	if existing, err := r.loadByIdempotencyKey(ctx, p.CampaignID, idemKey); err == nil {
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
	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return ledger.Event{}, lederr.Wrapf(err, "ledgerstore: sqlite marshal payload")
	}
	var planID, execReqID *string
	if p.PlanID != "" {
		planID = &p.PlanID
	}
	if p.ExecutionRequestID != "" {
		execReqID = &p.ExecutionRequestID
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO events (
			campaign_id, scene_id, replay_ordinal, event_type, event_schema_version,
			world_time, wall_time_utc, prev_event_hash, payload_hash, idempotency_key,
			actor_id, plan_id, execution_request_id, payload
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, p.CampaignID, p.SceneID, nextOrdinal, p.EventType, 1,
		nextOrdinal, wallTime.Format(time.RFC3339Nano), prevHash[:], payloadHash[:], idemKey[:],
		actorID, planID, execReqID, payloadJSON)
	if err != nil {
		return ledger.Event{}, lederr.Wrap(err, "ledgerstore: sqlite insert event")
	}

	return ledger.Event{
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
	}, nil
}

func (r *SQLiteRepository) ListEvents(ctx context.Context, campaignID int64, sceneID *int64) ([]ledger.Event, error) {
	var rows *sql.Rows
	var err error
	if sceneID != nil {
		rows, err = r.db.QueryContext(ctx, sqliteSelectColumns+` FROM events WHERE campaign_id = ? AND scene_id = ? ORDER BY replay_ordinal ASC`, campaignID, *sceneID)
	} else {
		rows, err = r.db.QueryContext(ctx, sqliteSelectColumns+` FROM events WHERE campaign_id = ? ORDER BY replay_ordinal ASC`, campaignID)
	}
	if err != nil {
		return nil, lederr.Wrap(err, "ledgerstore: sqlite list events")
	}
	defer rows.Close()

	var out []ledger.Event
	for rows.Next() {
		e, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const sqliteSelectColumns = `SELECT campaign_id, scene_id, replay_ordinal, event_type, event_schema_version,
	world_time, wall_time_utc, prev_event_hash, payload_hash, idempotency_key,
	actor_id, plan_id, execution_request_id, payload`

func (r *SQLiteRepository) scanRow(rows *sql.Rows) (ledger.Event, error) {
	var e ledger.Event
	var sceneID sql.NullInt64
	var wallTime string
	var prevHash, payloadHash, idemKey, payload []byte
	var actorID, planID, execReqID sql.NullString
	if err := rows.Scan(
		&e.CampaignID, &sceneID, &e.ReplayOrdinal, &e.EventType, &e.EventSchemaVersion,
		&e.WorldTime, &wallTime, &prevHash, &payloadHash, &idemKey,
		&actorID, &planID, &execReqID, &payload,
	); err != nil {
		return ledger.Event{}, lederr.Wrap(err, "ledgerstore: sqlite scan row")
	}
	if sceneID.Valid {
		e.SceneID = &sceneID.Int64
	}
	if t, err := time.Parse(time.RFC3339Nano, wallTime); err == nil {
		e.WallTimeUTC = t
	}
	copy(e.PrevEventHash[:], prevHash)
	copy(e.PayloadHash[:], payloadHash)
	copy(e.IdempotencyKey[:], idemKey)
	if actorID.Valid {
		e.ActorID = &actorID.String
	}
	if planID.Valid {
		e.PlanID = &planID.String
	}
	if execReqID.Valid {
		e.ExecutionRequestID = &execReqID.String
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return ledger.Event{}, lederr.Wrap(err, "ledgerstore: sqlite unmarshal payload")
		}
	} else {
		e.Payload = map[string]any{}
	}
	return e, nil
}

func (r *SQLiteRepository) loadByOrdinal(ctx context.Context, campaignID, ordinal int64) (ledger.Event, error) {
	rows, err := r.db.QueryContext(ctx, sqliteSelectColumns+` FROM events WHERE campaign_id = ? AND replay_ordinal = ?`, campaignID, ordinal)
	if err != nil {
		return ledger.Event{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		return ledger.Event{}, sql.ErrNoRows
	}
	return r.scanRow(rows)
}

func (r *SQLiteRepository) loadByIdempotencyKey(ctx context.Context, campaignID int64, key [16]byte) (ledger.Event, error) {
	rows, err := r.db.QueryContext(ctx, sqliteSelectColumns+` FROM events WHERE campaign_id = ? AND idempotency_key = ?`, campaignID, key[:])
	if err != nil {
		return ledger.Event{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		return ledger.Event{}, sql.ErrNoRows
	}
	return r.scanRow(rows)
}
