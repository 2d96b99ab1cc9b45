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

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"

	"ledgerd/internal/eventstream"
	"ledgerd/internal/fold"
	"ledgerd/internal/ledgerstore"
	"ledgerd/internal/llmclient"
	"ledgerd/internal/lockservice"
	"ledgerd/internal/migrations"
	"ledgerd/internal/orchestrator"
	"ledgerd/internal/pending"
	"ledgerd/internal/planner"
	"ledgerd/internal/predicate"
	"ledgerd/internal/tools"
	"ledgerd/internal/tools/mcpadapter"
	"ledgerd/internal/verify"
	"ledgerd/pkg/config"
	"ledgerd/pkg/metrics"

	applog "ledgerd/pkg/log"
)

// application holds every wired component cmd/server assembles from
// config; it exists so the HTTP handlers below have something to close
// over instead of a pile of package-level globals.
type application struct {
	log           *applog.Logger
	repo          ledgerstore.Repository
	locks         *lockservice.Service
	registry      *tools.Registry
	executor      *tools.Executor
	planner       *planner.Planner
	predicateGate *predicate.Gate
	orchestrator  *orchestrator.Orchestrator
	pending       *pending.Store
	mcp           *mcpadapter.Adapter
	stream        *eventstream.Manager
}

func newApplication(cfg *config.Config, logger *applog.Logger, repo ledgerstore.Repository, locks *lockservice.Service) *application {
	registry := tools.NewCoreRegistry()
	executor := tools.NewExecutor(registry, repo, locks, 1, cfg.Lock.LockTimeout())
	app := &application{
		log:      logger,
		repo:     repo,
		locks:    locks,
		registry: registry,
		executor: executor,
		pending:  pending.New(),
		stream:   eventstream.NewManager(),
	}

	if cfg.Features.LLM {
		llm := llmclient.New(cfg.Planner.Model, cfg.Planner.APIKey, cfg.Planner.BaseURL)
		app.planner = planner.New(llm, planner.CatalogFromRegistry(registry), planner.AllowlistFromRegistry(registry), cfg.Planner.MaxLevel)
		app.predicateGate = predicate.New(nil)
		app.orchestrator = orchestrator.New(llm, executor, nil, nil)
		logger.Info("llm-backed components wired", "planner", true, "predicate_gate", true, "orchestrator", true)
	}

	if cfg.Features.MCP {
		app.mcp = mcpadapter.New(mcpadapter.RegistryCaller{Registry: registry})
		logger.Info("mcp dispatch path enabled")
	}

	return app
}

func (a *application) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *application) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if err := metrics.WritePrometheus(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (a *application) handleVerifyCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID, err := strconv.ParseInt(r.URL.Query().Get("campaign_id"), 10, 64)
	if err != nil {
		http.Error(w, "campaign_id is required", http.StatusBadRequest)
		return
	}
	events, err := a.repo.ListEvents(r.Context(), campaignID, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	report := verify.VerifyChain(events)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}

// handlePreviewChain dry-runs a posted tool call chain. When features.mcp is
// on, the chain is routed through the MCP dispatch adapter instead of the
// registry's direct handler lookup; callers should see byte-identical
// results either way.
func (a *application) handlePreviewChain(w http.ResponseWriter, r *http.Request) {
	var chain tools.ToolCallChain
	if err := json.NewDecoder(r.Body).Decode(&chain); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var (
		result tools.PreviewResult
		err    error
	)
	if a.mcp != nil {
		result, err = a.mcp.Preview(r.Context(), chain)
	} else {
		result, err = a.executor.Preview(r.Context(), chain)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// sceneState is the folded read-model for a scene: every fold runs
// independently over the same event slice, so adding a new read-model
// later means adding a new field here, not touching the others.
type sceneState struct {
	HP         fold.HPState         `json:"hp"`
	Conditions fold.ConditionsState `json:"conditions"`
	Initiative fold.InitiativeState `json:"initiative"`
}

func (a *application) handleSceneState(w http.ResponseWriter, r *http.Request) {
	campaignID, err := strconv.ParseInt(r.URL.Query().Get("campaign_id"), 10, 64)
	if err != nil {
		http.Error(w, "campaign_id is required", http.StatusBadRequest)
		return
	}

	var scenePtr *int64
	if raw := r.URL.Query().Get("scene_id"); raw != "" {
		sceneID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid scene_id", http.StatusBadRequest)
			return
		}
		scenePtr = &sceneID
	}

	events, err := a.repo.ListEvents(r.Context(), campaignID, scenePtr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	state := sceneState{
		HP:         fold.FoldHP(events, nil),
		Conditions: fold.FoldConditions(events, nil),
		Initiative: fold.FoldInitiative(events, nil),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(state)
}

// actRequest is the body of POST /act: a player's free-text message
// against one scene.
type actRequest struct {
	CampaignID int64  `json:"campaign_id"`
	SceneID    int64  `json:"scene_id"`
	ChannelID  string `json:"channel_id"`
	UserID     string `json:"user_id"`
	RequestID  string `json:"request_id"`
	Message    string `json:"message"`
}

// handleAct runs a player's message through the orchestrator and, if
// accepted, stages the resulting chain for confirmation rather than
// applying it immediately — mirroring the two-phase stage/confirm flow
// internal/pending exists to serialize.
func (a *application) handleAct(w http.ResponseWriter, r *http.Request) {
	if a.orchestrator == nil {
		http.Error(w, "llm features are not enabled", http.StatusServiceUnavailable)
		return
	}

	var req actRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result := a.orchestrator.Handle(r.Context(), req.SceneID, req.Message, nil)
	if result.Rejected {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(result)
		return
	}

	chainMap, err := toMap(result.ChainJSON)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	action, err := a.pending.Create(r.Context(), req.CampaignID, req.SceneID, req.ChannelID, req.UserID, req.RequestID,
		chainMap, result.Mechanics, result.Narration, pendingActionTTL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"pending_id": action.ID,
		"mechanics":  result.Mechanics,
		"narration":  result.Narration,
		"expires_at": action.ExpiresAt,
	})
}

const pendingActionTTL = 5 * time.Minute

// confirmRequest is the body of POST /confirm: which (scene, user) pending
// action to resolve.
type confirmRequest struct {
	SceneID int64  `json:"scene_id"`
	UserID  string `json:"user_id"`
}

// handleConfirm applies the caller's latest pending action via the
// executor, broadcasting every event it commits to that scene's WebSocket
// subscribers.
func (a *application) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := a.pending.Confirm(r.Context(), req.SceneID, req.UserID, func(ctx context.Context, chainMap map[string]any) error {
		chain, err := fromMap[tools.ToolCallChain](chainMap)
		if err != nil {
			return err
		}
		applied, err := a.executor.Apply(ctx, chain)
		if err != nil {
			return err
		}
		for _, evt := range applied.Events {
			a.stream.BroadcastJSON(req.SceneID, evt)
		}
		return applied.FirstError
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleStream upgrades the request to a WebSocket and streams every event
// committed to scene_id for as long as the connection stays open.
func (a *application) handleStream(w http.ResponseWriter, r *http.Request) {
	sceneID, err := strconv.ParseInt(r.URL.Query().Get("scene_id"), 10, 64)
	if err != nil {
		http.Error(w, "scene_id is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	a.stream.Serve(r.Context(), conn, sceneID)
}

// toMap and fromMap round-trip a Go value through JSON, the same
// representation internal/pending.Action stores its staged chain as —
// this is how a tools.ToolCallChain becomes the map[string]any Store.Create
// expects and back again at confirm time.
func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap[T any](m map[string]any) (T, error) {
	var out T
	data, err := json.Marshal(m)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}

// runExpirySweep periodically marks stale pending actions as expired,
// mirroring the standalone sweep script this system's predecessor ran as a
// cron job.
func (a *application) runExpirySweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if count := a.pending.ExpireStale(); count > 0 {
				a.log.Info("expired stale pending actions", "count", count)
			}
		}
	}
}

func fatal(logger *applog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

func main() {
	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := applog.NewLogger(&applog.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	repo, closeRepo, err := openRepository(cfg)
	if err != nil {
		fatal(logger, "ledger store", err)
	}
	defer closeRepo()

	var pool *pgxpool.Pool
	if cfg.Database.Type == "postgres" {
		pool, err = pgxpool.New(context.Background(), cfg.Database.DSN)
		if err != nil {
			fatal(logger, "lock service pool", err)
		}
		defer pool.Close()
	}
	locks := lockservice.New(pool)

	app := newApplication(cfg, logger, repo, locks)

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go app.runExpirySweep(sweepCtx, time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", app.handleHealthz)
	mux.HandleFunc("/metrics", app.handleMetrics)
	mux.HandleFunc("/verify", app.handleVerifyCampaign)
	mux.HandleFunc("/state", app.handleSceneState)
	mux.HandleFunc("/preview", app.handlePreviewChain)
	mux.HandleFunc("/act", app.handleAct)
	mux.HandleFunc("/confirm", app.handleConfirm)
	mux.HandleFunc("/stream", app.handleStream)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("ledgerd listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server exited", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	cancelSweep()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace())
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("ledgerd shut down")
}

func openRepository(cfg *config.Config) (ledgerstore.Repository, func(), error) {
	switch cfg.Database.Type {
	case "postgres":
		ctx := context.Background()
		if err := migrations.RunPostgres(ctx, cfg.Database.DSN); err != nil {
			return nil, nil, err
		}
		pool, err := pgxpool.New(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		repo := ledgerstore.NewPostgresRepository(pool, nil)
		return repo, func() { pool.Close() }, nil
	default:
		if err := applySQLiteSchema(cfg.Database.Path); err != nil {
			return nil, nil, err
		}
		repo, err := ledgerstore.OpenSQLite(cfg.Database.Path, nil)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil
	}
}

// applySQLiteSchema runs the fixed SQLite schema script through its own
// short-lived connection, ahead of ledgerstore.OpenSQLite opening the file
// for real — OpenSQLite itself never migrates (see its doc comment).
func applySQLiteSchema(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("sqlite schema: open: %w", err)
	}
	defer db.Close()
	return migrations.ApplySQLite(db)
}
