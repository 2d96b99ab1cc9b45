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
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ledgerd/internal/ledger"
	lederr "ledgerd/pkg/errors"
	"ledgerd/pkg/metrics"
)

// PostgresRepository is the production Repository backend. It mirrors the
// compare-and-append shape used by this codebase's job event store
// (MAX(replay_ordinal) read, insert, unique-violation mapped to a typed
// retry), specialized to the ledger's hash-chain and idempotency-key
// semantics.
type PostgresRepository struct {
	pool     *pgxpool.Pool
	resolver ActorResolver
}

// NewPostgresRepository wraps an existing pgx pool. Schema bootstrap
// (the events table and its indexes) is handled by the migrations runner in
// cmd/server, not here.
func NewPostgresRepository(pool *pgxpool.Pool, resolver ActorResolver) *PostgresRepository {
	return &PostgresRepository{pool: pool, resolver: resolver}
}

func (r *PostgresRepository) EnsureGenesis(ctx context.Context, campaignID int64) (ledger.Event, error) {
	existing, err := r.loadByOrdinal(ctx, campaignID, 0)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return ledger.Event{}, lederr.Wrap(err, "ledgerstore: ensure genesis lookup")
	}

	genesis := ledger.NewGenesis(campaignID, time.Now().UTC())
	payload, _ := json.Marshal(genesis.Payload)
	_, err = r.pool.Exec(ctx, `
		INSERT INTO events (
			campaign_id, scene_id, replay_ordinal, event_type, event_schema_version,
			world_time, wall_time_utc, prev_event_hash, payload_hash, idempotency_key, payload
		) VALUES ($1, NULL, 0, $2, $3, 0, $4, $5, $6, $7, $8)
		ON CONFLICT (campaign_id, replay_ordinal) DO NOTHING
	`, campaignID, genesis.EventType, genesis.EventSchemaVersion, genesis.WallTimeUTC,
		genesis.PrevEventHash[:], genesis.PayloadHash[:], genesis.IdempotencyKey[:], payload)
	if err != nil {
		return ledger.Event{}, lederr.Wrap(err, "ledgerstore: ensure genesis insert")
	}
	return r.loadByOrdinal(ctx, campaignID, 0)
}

func (r *PostgresRepository) AppendEvent(ctx context.Context, p AppendParams) (ledger.Event, error) {
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
		event, retry, err := r.tryAppend(ctx, p, actorID)
		if err == nil {
			return event, nil
		}
		if !retry {
			return ledger.Event{}, err
		}
		backoff(attempt)
	}
	return ledger.Event{}, lederr.ErrLedgerContention
}

// tryAppend runs a single compare-and-append attempt in a transaction. The
// bool return reports whether the caller should retry.
func (r *PostgresRepository) tryAppend(ctx context.Context, p AppendParams, actorID *string) (ledger.Event, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return ledger.Event{}, false, lederr.Wrap(err, "ledgerstore: begin tx")
	}
	defer tx.Rollback(ctx)

	var maxOrdinal *int64
	if err := tx.QueryRow(ctx, `SELECT MAX(replay_ordinal) FROM events WHERE campaign_id = $1`, p.CampaignID).Scan(&maxOrdinal); err != nil {
		return ledger.Event{}, false, lederr.Wrap(err, "ledgerstore: load tip ordinal")
	}
	if maxOrdinal == nil {
		return ledger.Event{}, false, lederr.ErrLedgerInconsistent
	}

	tip, err := r.loadByOrdinalTx(ctx, tx, p.CampaignID, *maxOrdinal)
	if err != nil {
		return ledger.Event{}, false, lederr.Wrap(err, "ledgerstore: load tip event")
	}

	nextOrdinal := tip.ReplayOrdinal + 1
	prevHash := ledger.EnvelopeHash(tip)

	payloadHash, err := ledger.PayloadHash(p.Payload)
	if err != nil {
		return ledger.Event{}, false, err
	}
	idemKey, err := ledger.IdempotencyKeyV2(p.CampaignID, p.EventType, p.ExecutionRequestID, p.PlanID, p.Payload)
	if err != nil {
		return ledger.Event{}, false, err
	}

	wallTime := p.WallTimeUTC
	if wallTime.IsZero() {
		wallTime = time.Now().UTC()
	}
	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return ledger.Event{}, false, lederr.Wrapf(err, "ledgerstore: marshal payload")
	}

	var planID, execReqID *string
	if p.PlanID != "" {
		planID = &p.PlanID
	}
	if p.ExecutionRequestID != "" {
		execReqID = &p.ExecutionRequestID
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO events (
			campaign_id, scene_id, replay_ordinal, event_type, event_schema_version,
			world_time, wall_time_utc, prev_event_hash, payload_hash, idempotency_key,
			actor_id, plan_id, execution_request_id, payload
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, p.CampaignID, p.SceneID, nextOrdinal, p.EventType, 1,
		nextOrdinal, wallTime, prevHash[:], payloadHash[:], idemKey[:],
		actorID, planID, execReqID, payloadJSON)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "events_campaign_idempotency_key_key" || containsIdx(pgErr.ConstraintName, "idempotency") {
				// The failed INSERT aborted tx, so the existing row is read
				// through the pool rather than the transaction.
				_ = tx.Rollback(ctx)
				existing, lookupErr := scanEvent(r.pool.QueryRow(ctx, eventSelectColumns+` FROM events WHERE campaign_id = $1 AND idempotency_key = $2`, p.CampaignID, idemKey[:]))
				if lookupErr != nil {
					return ledger.Event{}, false, lederr.Wrap(lookupErr, "ledgerstore: idempotent lookup")
				}
				if existing.EventType != p.EventType || existing.PayloadHash != payloadHash {
					return ledger.Event{}, false, lederr.ErrIdempotencyCollision
				}
				metrics.IncCounter("events.idempotent_reuse", 1)
				return existing, false, nil
			}
			// ordinal collision: concurrent writer won the race, retry.
			return ledger.Event{}, true, lederr.ErrLedgerContention
		}
		return ledger.Event{}, false, lederr.Wrap(err, "ledgerstore: insert event")
	}

	if err := tx.Commit(ctx); err != nil {
		return ledger.Event{}, true, lederr.Wrap(err, "ledgerstore: commit")
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
	}, false, nil
}

func (r *PostgresRepository) ListEvents(ctx context.Context, campaignID int64, sceneID *int64) ([]ledger.Event, error) {
	var rows pgx.Rows
	var err error
	if sceneID != nil {
		rows, err = r.pool.Query(ctx, eventSelectColumns+` FROM events WHERE campaign_id = $1 AND scene_id = $2 ORDER BY replay_ordinal ASC`, campaignID, *sceneID)
	} else {
		rows, err = r.pool.Query(ctx, eventSelectColumns+` FROM events WHERE campaign_id = $1 ORDER BY replay_ordinal ASC`, campaignID)
	}
	if err != nil {
		return nil, lederr.Wrap(err, "ledgerstore: list events")
	}
	defer rows.Close()

	var out []ledger.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const eventSelectColumns = `SELECT campaign_id, scene_id, replay_ordinal, event_type, event_schema_version,
	world_time, wall_time_utc, prev_event_hash, payload_hash, idempotency_key,
	actor_id, plan_id, execution_request_id, approved_by, payload, migrator_applied_from`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (ledger.Event, error) {
	var e ledger.Event
	var prevHash, payloadHash, idemKey []byte
	var payload []byte
	if err := row.Scan(
		&e.CampaignID, &e.SceneID, &e.ReplayOrdinal, &e.EventType, &e.EventSchemaVersion,
		&e.WorldTime, &e.WallTimeUTC, &prevHash, &payloadHash, &idemKey,
		&e.ActorID, &e.PlanID, &e.ExecutionRequestID, &e.ApprovedBy, &payload, &e.MigratorAppliedFrom,
	); err != nil {
		return ledger.Event{}, lederr.Wrap(err, "ledgerstore: scan event row")
	}
	copy(e.PrevEventHash[:], prevHash)
	copy(e.PayloadHash[:], payloadHash)
	copy(e.IdempotencyKey[:], idemKey)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return ledger.Event{}, lederr.Wrap(err, "ledgerstore: unmarshal payload")
		}
	} else {
		e.Payload = map[string]any{}
	}
	return e, nil
}

func (r *PostgresRepository) loadByOrdinal(ctx context.Context, campaignID, ordinal int64) (ledger.Event, error) {
	row := r.pool.QueryRow(ctx, eventSelectColumns+` FROM events WHERE campaign_id = $1 AND replay_ordinal = $2`, campaignID, ordinal)
	return scanEvent(row)
}

func (r *PostgresRepository) loadByOrdinalTx(ctx context.Context, tx pgx.Tx, campaignID, ordinal int64) (ledger.Event, error) {
	row := tx.QueryRow(ctx, eventSelectColumns+` FROM events WHERE campaign_id = $1 AND replay_ordinal = $2`, campaignID, ordinal)
	return scanEvent(row)
}

func (r *PostgresRepository) loadByIdempotencyKeyTx(ctx context.Context, tx pgx.Tx, campaignID int64, key [16]byte) (ledger.Event, error) {
	row := tx.QueryRow(ctx, eventSelectColumns+` FROM events WHERE campaign_id = $1 AND idempotency_key = $2`, campaignID, key[:])
	return scanEvent(row)
}

func containsIdx(constraint, substr string) bool {
	for i := 0; i+len(substr) <= len(constraint); i++ {
		if constraint[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func backoff(attempt int) {
	delay := time.Duration(5+rand.Intn(10)) * time.Millisecond * time.Duration(attempt+1)
	time.Sleep(delay)
}
