// Package config provides configuration for the inkwell binary.
// Loads from: CLI flags > env vars > .inkwell/config.toml > built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// WorkspaceOverride is set by the global --workspace flag.
var WorkspaceOverride string

// Config holds all inkwell configuration, loaded from TOML + env + flags.
type Config struct {
	Workspace   WorkspaceConfig   `toml:"workspace"`
	Chunker     ChunkerConfig     `toml:"chunker"`
	Fingerprint FingerprintConfig `toml:"fingerprint"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	Query       QueryConfig       `toml:"query"`
	RateLimit   RateLimitConfig   `toml:"ratelimit"`
	Server      ServerConfig      `toml:"server"`
	Log         LogConfig         `toml:"log"`
}

// WorkspaceConfig holds workspace layout settings.
type WorkspaceConfig struct {
	Path      string `toml:"path"`       // workspace root; default cwd
	DraftsDir string `toml:"drafts_dir"` // watched markdown drafts, relative to root
}

// ChunkerConfig holds passage chunking parameters.
type ChunkerConfig struct {
	MaxTokensPerPassage         int  `toml:"max_tokens_per_passage"`
	OverlapTokens               int  `toml:"overlap_tokens"`
	MaxNoteTokens               int  `toml:"max_note_tokens"`
	MinPassageTokens            int  `toml:"min_passage_tokens"`
	PreserveStructureBoundaries bool `toml:"preserve_structure_boundaries"`
}

// FingerprintConfig selects the anchor fingerprint algorithm.
type FingerprintConfig struct {
	Algo string `toml:"algo"` // "sha256" (default) or "blake3"
}

// SchedulerConfig holds visibility scheduler tuning.
type SchedulerConfig struct {
	MaxInFlightPerNote      int `toml:"max_in_flight_per_note"`
	MaxInFlightPerWorkspace int `toml:"max_in_flight_per_workspace"`
	AgingIntervalMS         int `toml:"aging_interval_ms"`
	AgingBoost              int `toml:"aging_boost"`
	MaxRetries              int `toml:"max_retries"`
	RetryDelayMS            int `toml:"retry_delay_ms"`
	ProcessingTimeoutMS     int `toml:"processing_timeout_ms"`
	MaxQueueDepth           int `toml:"max_queue_depth"` // 0 = unbounded
}

// QueryConfig holds query pipeline tuning.
type QueryConfig struct {
	TopKRetrieve       int `toml:"top_k_retrieve"`
	TopKRerank         int `toml:"top_k_rerank"`
	TopKRerankDegraded int `toml:"top_k_rerank_degraded"`
	MaxPageSize        int `toml:"max_page_size"`
	SLODegradeMS       int `toml:"slo_degrade_ms"` // P95 above this shrinks rerank
	SLORecoverMS       int `toml:"slo_recover_ms"` // P95 below this restores it
}

// RateLimitConfig holds per-session token bucket settings.
// Burst is per the named window; sustained is per minute.
type RateLimitConfig struct {
	QueryBurstPerSec       int `toml:"query_burst_per_sec"`
	QuerySustainedPerMin   int `toml:"query_sustained_per_min"`
	MutationBurstPer5Sec   int `toml:"mutation_burst_per_5sec"`
	MutationSustainedPerMin int `toml:"mutation_sustained_per_min"`
	DraftBurstPerSec       int `toml:"draft_burst_per_sec"`
	DraftSustainedPerMin   int `toml:"draft_sustained_per_min"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `toml:"level"` // debug, info, warn, error
	File       string `toml:"file"`  // optional rotating file sink
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// DefaultConfig returns a Config with all built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			DraftsDir: "drafts",
		},
		Chunker: ChunkerConfig{
			MaxTokensPerPassage:         180,
			OverlapTokens:               90,
			MaxNoteTokens:               20_000,
			MinPassageTokens:            10,
			PreserveStructureBoundaries: true,
		},
		Fingerprint: FingerprintConfig{
			Algo: "sha256",
		},
		Scheduler: SchedulerConfig{
			MaxInFlightPerNote:      1,
			MaxInFlightPerWorkspace: 4,
			AgingIntervalMS:         5000,
			AgingBoost:              10,
			MaxRetries:              3,
			RetryDelayMS:            250,
			ProcessingTimeoutMS:     30_000,
		},
		Query: QueryConfig{
			TopKRetrieve:       128,
			TopKRerank:         64,
			TopKRerankDegraded: 32,
			MaxPageSize:        50,
			SLODegradeMS:       500,
			SLORecoverMS:       400,
		},
		RateLimit: RateLimitConfig{
			QueryBurstPerSec:        5,
			QuerySustainedPerMin:    60,
			MutationBurstPer5Sec:    1,
			MutationSustainedPerMin: 12,
			DraftBurstPerSec:        10,
			DraftSustainedPerMin:    300,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7341",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  20,
			MaxBackups: 3,
		},
	}
}

// Load resolves the workspace root and layers config.toml and env vars
// over the defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	root, err := resolveWorkspace()
	if err != nil {
		return nil, err
	}
	cfg.Workspace.Path = root

	path := filepath.Join(root, ".inkwell", "config.toml")
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		// DecodeFile may have overwritten the resolved path with a
		// relative one; re-resolve against the workspace root.
		if cfg.Workspace.Path == "" || !filepath.IsAbs(cfg.Workspace.Path) {
			cfg.Workspace.Path = root
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func resolveWorkspace() (string, error) {
	if WorkspaceOverride != "" {
		return filepath.Abs(WorkspaceOverride)
	}
	if env := os.Getenv("INKWELL_WORKSPACE"); env != "" {
		return filepath.Abs(env)
	}
	return os.Getwd()
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("INKWELL_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("INKWELL_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("INKWELL_FINGERPRINT_ALGO"); v != "" {
		cfg.Fingerprint.Algo = v
	}
	if v := os.Getenv("INKWELL_MAX_IN_FLIGHT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Scheduler.MaxInFlightPerWorkspace = n
		}
	}
}

// Validate checks cross-field constraints that TOML cannot express.
func (c *Config) Validate() error {
	var problems []string
	if c.Chunker.OverlapTokens >= c.Chunker.MaxTokensPerPassage {
		problems = append(problems, "chunker.overlap_tokens must be below max_tokens_per_passage")
	}
	if c.Chunker.MinPassageTokens <= 0 {
		problems = append(problems, "chunker.min_passage_tokens must be positive")
	}
	switch c.Fingerprint.Algo {
	case "sha256", "blake3":
	default:
		problems = append(problems, fmt.Sprintf("fingerprint.algo %q not supported", c.Fingerprint.Algo))
	}
	if c.Scheduler.MaxInFlightPerWorkspace < 1 {
		problems = append(problems, "scheduler.max_in_flight_per_workspace must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// DataDir returns the workspace metadata directory (.inkwell).
func (c *Config) DataDir() string {
	return filepath.Join(c.Workspace.Path, ".inkwell")
}

// DBPath returns the SQLite database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir(), "inkwell.db")
}

// DraftsPath returns the watched drafts directory.
func (c *Config) DraftsPath() string {
	return filepath.Join(c.Workspace.Path, c.Workspace.DraftsDir)
}

// LockPath returns the workspace lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir(), ".lock")
}

// WriteDefault writes a commented default config.toml into the workspace.
func WriteDefault(root string) error {
	dir := filepath.Join(root, ".inkwell")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil // never clobber an existing config
	}
	var sb strings.Builder
	sb.WriteString("# inkwell workspace configuration\n\n")
	enc := toml.NewEncoder(&sb)
	if err := enc.Encode(DefaultConfig()); err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}
