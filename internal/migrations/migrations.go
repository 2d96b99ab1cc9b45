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

// Package migrations bootstraps the events/pending_actions/tool_invocations/
// import_logs schema cmd/server needs before any Repository method runs.
// Postgres goes through golang-migrate against embedded .sql files, the same
// shape this codebase's pack-mate job store uses for its own schema. SQLite
// is applied directly: golang-migrate's sqlite3 source driver needs cgo via
// mattn/go-sqlite3, which conflicts with the pure-Go modernc.org/sqlite
// driver OpenSQLite already commits to, so its schema is a fixed idempotent
// script instead of a versioned migration chain.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	lederr "ledgerd/pkg/errors"
)

//go:embed sql
var postgresMigrations embed.FS

//go:embed sqlite_sql/schema.sql
var sqliteSchema embed.FS

// RunPostgres applies every pending embedded migration against dsn. It opens
// its own short-lived *sql.DB (golang-migrate's Postgres driver wants
// database/sql, not a pgx pool) and closes it before returning, so the
// caller's own pgxpool.Pool is unaffected.
func RunPostgres(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return lederr.Wrap(err, "migrations: open postgres")
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return lederr.Wrap(err, "migrations: ping postgres")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return lederr.Wrap(err, "migrations: postgres driver")
	}

	sourceDriver, err := iofs.New(postgresMigrations, "sql")
	if err != nil {
		return lederr.Wrap(err, "migrations: embedded source")
	}
	defer sourceDriver.Close()

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "ledgerd", driver)
	if err != nil {
		return lederr.Wrap(err, "migrations: new instance")
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return lederr.Wrap(err, "migrations: apply")
	}
	return nil
}

// ApplySQLite executes the fixed SQLite schema script against db. Every
// statement is CREATE TABLE/INDEX/TRIGGER IF NOT EXISTS, so calling this
// against an already-migrated database is a no-op.
func ApplySQLite(db *sql.DB) error {
	script, err := sqliteSchema.ReadFile("sqlite_sql/schema.sql")
	if err != nil {
		return lederr.Wrap(err, "migrations: read sqlite schema")
	}
	if _, err := db.Exec(string(script)); err != nil {
		return fmt.Errorf("migrations: apply sqlite schema: %w", err)
	}
	return nil
}
