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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	toml := `
[server]
port = 9000
host = "127.0.0.1"

[log]
level = "debug"

[features]
executor = true
predicate_gate = true
`
	path := filepath.Join(dir, "test.toml")
	require.NoError(t, os.WriteFile(path, []byte(toml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Features.Executor)
	assert.True(t, cfg.Features.PredicateGate)
	assert.False(t, cfg.Features.MCP)
}

func TestLoadAppliesDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 1, cfg.Planner.MaxLevel)
	assert.Equal(t, 3, cfg.Lock.TimeoutSeconds)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	toml := "[server]\nport = 9000\n"
	path := filepath.Join(dir, "test.toml")
	require.NoError(t, os.WriteFile(path, []byte(toml), 0644))

	t.Setenv("LEDGERD_SERVER_PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
}

func TestLockTimeoutDefaultsWhenUnset(t *testing.T) {
	var lc LockConfig
	assert.Equal(t, 3e9, float64(lc.LockTimeout()))
}

func TestShutdownGraceDefaultsOnInvalidDuration(t *testing.T) {
	sc := ServerConfig{ShutdownTimeout: "not-a-duration"}
	assert.Equal(t, 10e9, float64(sc.ShutdownGrace()))
}
