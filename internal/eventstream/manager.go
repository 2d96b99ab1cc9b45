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

// Package eventstream fans committed ledger events out to WebSocket
// subscribers in real time, so a client watching a scene sees new events
// the moment they're appended instead of polling /state. This is a
// single-process broadcaster: subscribers connect to whichever server
// instance applied the chain. Cross-process fan-out (the teacher's
// Postgres LISTEN/NOTIFY relay) is left for a deployment that runs more
// than one ledgerd process against the same database; see DESIGN.md.
package eventstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const writeTimeout = 5 * time.Second

// Manager tracks WebSocket connections and their scene subscriptions.
type Manager struct {
	mu    sync.RWMutex
	conns map[string]*connection

	subMu sync.RWMutex
	subs  map[int64]map[string]bool // sceneID -> connection IDs
}

type connection struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{
		conns: map[string]*connection{},
		subs:  map[int64]map[string]bool{},
	}
}

// Serve subscribes conn, an already-accepted WebSocket connection, to
// sceneID and blocks until the client disconnects. The client receives every event
// Broadcast publishes for that scene for the lifetime of the connection;
// there is no subscribe/unsubscribe protocol on the wire, unlike the
// teacher's multi-channel manager — one connection is one scene.
func (m *Manager) Serve(parentCtx context.Context, conn *websocket.Conn, sceneID int64) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{id: uuid.NewString(), conn: conn, ctx: ctx, cancel: cancel}

	m.register(sceneID, c)
	defer m.unregister(sceneID, c)

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
		// Inbound messages are not part of the protocol; reading just
		// detects client-initiated close so the loop can exit.
	}
}

// Broadcast publishes event (already-marshaled JSON) to every connection
// subscribed to sceneID.
func (m *Manager) Broadcast(sceneID int64, event []byte) {
	m.subMu.RLock()
	ids, ok := m.subs[sceneID]
	if !ok {
		m.subMu.RUnlock()
		return
	}
	targets := make([]string, 0, len(ids))
	for id := range ids {
		targets = append(targets, id)
	}
	m.subMu.RUnlock()

	m.mu.RLock()
	conns := make([]*connection, 0, len(targets))
	for _, id := range targets {
		if c, ok := m.conns[id]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range conns {
		writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
		err := c.conn.Write(writeCtx, websocket.MessageText, event)
		cancel()
		if err != nil {
			slog.Warn("eventstream: write failed", "connection_id", c.id, "error", err)
		}
	}
}

// BroadcastJSON marshals v and calls Broadcast; marshal failures are
// logged and dropped since a malformed broadcast would otherwise panic a
// caller that doesn't check the error.
func (m *Manager) BroadcastJSON(sceneID int64, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("eventstream: marshal failed", "error", err)
		return
	}
	m.Broadcast(sceneID, data)
}

// ActiveConnections reports how many WebSocket clients are currently
// attached, across every scene.
func (m *Manager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

func (m *Manager) register(sceneID int64, c *connection) {
	m.mu.Lock()
	m.conns[c.id] = c
	m.mu.Unlock()

	m.subMu.Lock()
	if m.subs[sceneID] == nil {
		m.subs[sceneID] = map[string]bool{}
	}
	m.subs[sceneID][c.id] = true
	m.subMu.Unlock()
}

func (m *Manager) unregister(sceneID int64, c *connection) {
	m.subMu.Lock()
	if subs, ok := m.subs[sceneID]; ok {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(m.subs, sceneID)
		}
	}
	m.subMu.Unlock()

	m.mu.Lock()
	delete(m.conns, c.id)
	m.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}
