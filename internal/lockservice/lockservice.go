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

// Package lockservice provides scoped serialization for encounter write
// operations. Two tiers are acquired in order: an in-process mutex (fast,
// serializes goroutines in this process) and, when the backend is
// Postgres, a cross-process advisory lock acquired by bounded polling.
// SQLite development backends rely on the in-process tier alone.
package lockservice

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	lederr "ledgerd/pkg/errors"
	"ledgerd/pkg/metrics"
)

// advisoryLockClass is the fixed class id namespacing this service's
// advisory locks from any others sharing the same Postgres instance.
const advisoryLockClass = 1001

const pollInterval = 50 * time.Millisecond

// Service serializes work per encounter_id. It is safe for concurrent use.
type Service struct {
	pool *pgxpool.Pool // nil in SQLite/dev mode: in-process tier is authoritative

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// New constructs a Service. Pass a nil pool to run in-process-only (the
// SQLite development mode); pass a live pgxpool.Pool to additionally take
// a Postgres advisory lock as the cross-process source of truth.
func New(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool, locks: map[int64]*sync.Mutex{}}
}

func (s *Service) localLock(encounterID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lk, ok := s.locks[encounterID]
	if !ok {
		lk = &sync.Mutex{}
		s.locks[encounterID] = lk
	}
	return lk
}

// WithEncounterLock runs fn while holding the encounter's lock(s), releasing
// them on every exit path including panics propagated through fn's error
// return. timeout bounds only the Postgres advisory-lock acquisition; the
// in-process mutex acquisition is unbounded (it is expected to be brief).
func (s *Service) WithEncounterLock(ctx context.Context, encounterID int64, timeout time.Duration, fn func(ctx context.Context) error) error {
	local := s.localLock(encounterID)
	local.Lock()
	defer local.Unlock()

	if s.pool == nil {
		metrics.IncCounter("locks.mode.inproc", 1)
		return fn(ctx)
	}

	metrics.IncCounter("locks.mode.pg", 1)
	waited, err := s.acquireAdvisory(ctx, encounterID, timeout)
	metrics.ObserveHistogram("locks.wait_ms", float64(waited.Milliseconds()))
	if err != nil {
		metrics.IncCounter("locks.acquire.error", 1)
		return err
	}
	defer s.releaseAdvisory(ctx, encounterID)

	metrics.IncCounter("locks.acquire.success", 1)
	return fn(ctx)
}

func (s *Service) acquireAdvisory(ctx context.Context, encounterID int64, timeout time.Duration) (time.Duration, error) {
	deadline := time.Now().Add(timeout)
	var waited time.Duration
	for {
		var ok bool
		err := s.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1, $2)`, advisoryLockClass, encounterID).Scan(&ok)
		if err != nil {
			return waited, lederr.Wrap(err, "lockservice: advisory lock query")
		}
		if ok {
			return waited, nil
		}
		if time.Now().After(deadline) {
			metrics.IncCounter("locks.acquire.timeout", 1)
			return waited, lederr.ErrLockTimeout
		}
		time.Sleep(pollInterval)
		waited += pollInterval
	}
}

func (s *Service) releaseAdvisory(ctx context.Context, encounterID int64) {
	_, _ = s.pool.Exec(ctx, `SELECT pg_advisory_unlock($1, $2)`, advisoryLockClass, encounterID)
}
