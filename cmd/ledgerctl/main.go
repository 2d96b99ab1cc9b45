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

// Command ledgerctl is an operator tool for inspecting and appending to a
// campaign's event ledger directly against its SQLite file, without
// standing up the server.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"ledgerd/internal/ledgerstore"
	"ledgerd/internal/migrations"
	"ledgerd/internal/verify"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	cmd := os.Args[1]
	args := os.Args[2:]
	switch cmd {
	case "version":
		fmt.Println("ledgerctl 1.0.0")
	case "verify":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "Usage: ledgerctl verify <db-path> <campaign-id>\n")
			os.Exit(1)
		}
		runVerify(args[0], args[1])
	case "append":
		if len(args) < 4 {
			fmt.Fprintf(os.Stderr, "Usage: ledgerctl append <db-path> <campaign-id> <event-type> <payload-json>\n")
			os.Exit(1)
		}
		runAppend(args[0], args[1], args[2], args[3])
	case "migrate":
		if len(args) < 1 {
			fmt.Fprintf(os.Stderr, "Usage: ledgerctl migrate <db-path>\n")
			os.Exit(1)
		}
		runMigrate(args[0])
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `ledgerctl - ledger inspection and maintenance tool

Usage:
  ledgerctl version
  ledgerctl verify <db-path> <campaign-id>
  ledgerctl append <db-path> <campaign-id> <event-type> <payload-json>
  ledgerctl migrate <db-path>`)
}

// runMigrate applies the fixed SQLite schema script to dbPath, so a fresh
// file is ready for append/verify without standing up the server first.
func runMigrate(dbPath string) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening %s: %v\n", dbPath, err)
		os.Exit(1)
	}
	defer db.Close()

	if err := migrations.ApplySQLite(db); err != nil {
		fmt.Fprintf(os.Stderr, "applying schema: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("schema applied to %s\n", dbPath)
}

func runVerify(dbPath, campaignIDArg string) {
	campaignID, err := strconv.ParseInt(campaignIDArg, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid campaign id %q: %v\n", campaignIDArg, err)
		os.Exit(1)
	}

	repo, err := ledgerstore.OpenSQLite(dbPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening %s: %v\n", dbPath, err)
		os.Exit(1)
	}
	defer func() { _ = repo.Close() }()

	ctx := context.Background()
	events, err := repo.ListEvents(ctx, campaignID, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listing events: %v\n", err)
		os.Exit(1)
	}

	report := verify.VerifyChain(events)
	encoded, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(encoded))

	if report.Status == verify.StatusFailure {
		os.Exit(1)
	}
}

func runAppend(dbPath, campaignIDArg, eventType, payloadJSON string) {
	campaignID, err := strconv.ParseInt(campaignIDArg, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid campaign id %q: %v\n", campaignIDArg, err)
		os.Exit(1)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		fmt.Fprintf(os.Stderr, "invalid payload json: %v\n", err)
		os.Exit(1)
	}

	if schemaDB, err := sql.Open("sqlite", dbPath); err == nil {
		_ = migrations.ApplySQLite(schemaDB)
		_ = schemaDB.Close()
	}

	repo, err := ledgerstore.OpenSQLite(dbPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening %s: %v\n", dbPath, err)
		os.Exit(1)
	}
	defer func() { _ = repo.Close() }()

	ctx := context.Background()
	if _, err := repo.EnsureGenesis(ctx, campaignID); err != nil {
		fmt.Fprintf(os.Stderr, "ensuring genesis: %v\n", err)
		os.Exit(1)
	}

	event, err := repo.AppendEvent(ctx, ledgerstore.AppendParams{
		CampaignID:  campaignID,
		EventType:   eventType,
		Payload:     payload,
		WallTimeUTC: time.Now().UTC(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "appending event: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("appended ordinal=%d event_type=%s payload_hash=%x\n", event.ReplayOrdinal, event.EventType, event.PayloadHash)
}
