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

// Package config loads the server's typed configuration from a TOML file,
// a .env file, and the process environment, in that ascending order of
// precedence: defaults < TOML file < .env < real environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Lock     LockConfig     `mapstructure:"lock"`
	Planner  PlannerConfig  `mapstructure:"planner"`
	Features FeaturesConfig `mapstructure:"features"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig is the bind address and shutdown grace period for cmd/server.
type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects and configures the ledger backend. Type is either
// "postgres" (production, advisory locks) or "sqlite" (local/dev, in-process
// mutex only, per the lock service's documented SQLite-mode rule).
type DatabaseConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
	Path string `mapstructure:"path"`
}

// LockConfig configures the encounter lock service's advisory-lock wait.
type LockConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// PlannerConfig configures the planning-tier ceiling and the LLM backend
// the planner and orchestrator share.
type PlannerConfig struct {
	MaxLevel int    `mapstructure:"max_level"`
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	Model    string `mapstructure:"model"`
}

// FeaturesConfig is the full set of feature flags gating optional
// subsystems, mirroring the flag surface of the original system this was
// distilled from.
type FeaturesConfig struct {
	LLM                 bool `mapstructure:"llm"`
	LLMVisible          bool `mapstructure:"llm_visible"`
	Executor            bool `mapstructure:"executor"`
	ExecutorConfirm     bool `mapstructure:"executor_confirm"`
	Events              bool `mapstructure:"events"`
	ActivityLog         bool `mapstructure:"activity_log"`
	Combat              bool `mapstructure:"combat"`
	Map                 bool `mapstructure:"map"`
	ActionValidation    bool `mapstructure:"action_validation"`
	PredicateGate       bool `mapstructure:"predicate_gate"`
	PlanningTiers       bool `mapstructure:"planning_tiers"`
	MCP                 bool `mapstructure:"mcp"`
	Ask                 bool `mapstructure:"ask"`
	AskNLURuleBased     bool `mapstructure:"ask_nlu_rule_based"`
	AskKBLookup         bool `mapstructure:"ask_kb_lookup"`
	ImprobabilityDrive  bool `mapstructure:"improbability_drive"`
	Importer            bool `mapstructure:"importer"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LockTimeout parses LockConfig's duration, defaulting to 3s per the lock
// service's own default when unset or non-positive.
func (c LockConfig) LockTimeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ShutdownGrace parses ServerConfig's grace period, defaulting to 10s.
func (c ServerConfig) ShutdownGrace() time.Duration {
	if c.ShutdownTimeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "./ledger.db")
	v.SetDefault("lock.timeout_seconds", 3)
	v.SetDefault("planner.max_level", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configPath (a TOML file) if present, merges in a .env file
// from the working directory if present, then layers real environment
// variables (ledger domain flags are namespaced under LEDGERD_, dots
// folded to underscores) on top — env wins over .env, which wins over the
// TOML file, which wins over the defaults above.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
			}
		}
	}

	v.SetEnvPrefix("LEDGERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// LoadDefault loads configuration from the conventional "ledgerd.toml" path
// in the working directory.
func LoadDefault() (*Config, error) {
	return Load("ledgerd.toml")
}
