// Package config loads engine configuration from a YAML file with
// DORO_-prefixed environment variable overrides.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Storage      StorageConfig      `koanf:"storage"`
	OpenAI       OpenAIConfig       `koanf:"openai"`
	WhatsApp     WhatsAppConfig     `koanf:"whatsapp"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Pipeline     PipelineConfig     `koanf:"pipeline"`
	Alignment    AlignmentConfig    `koanf:"alignment"`
	Synthesizer  SynthesizerConfig  `koanf:"synthesizer"`
	Knowledge    KnowledgeConfig    `koanf:"knowledge"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type StorageConfig struct {
	Type     string         `koanf:"type"` // memory, sqlite, postgres
	SQLite   SQLiteConfig   `koanf:"sqlite"`
	Postgres PostgresConfig `koanf:"postgres"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type PostgresConfig struct {
	DSN string `koanf:"dsn"`
}

type OpenAIConfig struct {
	APIKey     string `koanf:"api_key"`
	Model      string `koanf:"model"`
	Timeout    string `koanf:"timeout"` // duration string like "8s"
	MaxRetries int    `koanf:"max_retries"`
}

// CallTimeout parses the per-call timeout, defaulting to 8s.
func (c OpenAIConfig) CallTimeout() time.Duration {
	return parseDuration(c.Timeout, 8*time.Second)
}

type WhatsAppConfig struct {
	BaseURL string `koanf:"base_url"`
	APIKey  string `koanf:"api_key"`
	Source  string `koanf:"source"`   // sending phone number
	AppName string `koanf:"app_name"` // Gupshup app name
}

type OrchestratorConfig struct {
	DebounceWindow  string `koanf:"debounce_window"`  // batch collection window
	DuplicateWindow string `koanf:"duplicate_window"` // duplicate-text suppression window
	BurstWindow     string `koanf:"burst_window"`     // rate-limit measurement window
	MaxBurst        int    `koanf:"max_burst"`        // max messages per burst window
	HistoryLimit    int    `koanf:"history_limit"`    // conversation messages fed to the pipeline
}

func (c OrchestratorConfig) Debounce() time.Duration {
	return parseDuration(c.DebounceWindow, 3*time.Second)
}

func (c OrchestratorConfig) Duplicate() time.Duration {
	return parseDuration(c.DuplicateWindow, 30*time.Second)
}

func (c OrchestratorConfig) Burst() time.Duration {
	return parseDuration(c.BurstWindow, 10*time.Second)
}

type PipelineConfig struct {
	Persona string `koanf:"persona"` // persona name used in prompts
}

// AlignmentConfig is the strategy/psychology alignment rubric. The
// weights are a tunable policy table, not a load-bearing constant.
type AlignmentConfig struct {
	Threshold             float64 `koanf:"threshold"`
	ReadinessWeight       float64 `koanf:"readiness_weight"`
	ResistanceWeight      float64 `koanf:"resistance_weight"`
	UrgencyWeight         float64 `koanf:"urgency_weight"`
	GoalWeight            float64 `koanf:"goal_weight"`
	HighResistancePenalty float64 `koanf:"high_resistance_penalty"`
}

type SynthesizerConfig struct {
	MinLength       int     `koanf:"min_length"`
	MaxLength       int     `koanf:"max_length"`
	AcceptThreshold float64 `koanf:"accept_threshold"` // 0-100
}

type KnowledgeConfig struct {
	SearchBaseURL string `koanf:"search_base_url"`
	SearchAPIKey  string `koanf:"search_api_key"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads configuration from path (when present) and the
// environment. DORO_SECTION__KEY overrides section.key.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = "config.yaml"
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// Missing file is fine, env vars still apply.
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("DORO_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "DORO_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.OpenAI.APIKey = substituteEnvVars(cfg.OpenAI.APIKey)
	cfg.WhatsApp.APIKey = substituteEnvVars(cfg.WhatsApp.APIKey)
	cfg.Knowledge.SearchAPIKey = substituteEnvVars(cfg.Knowledge.SearchAPIKey)
	cfg.Storage.Postgres.DSN = substituteEnvVars(cfg.Storage.Postgres.DSN)

	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":                       8080,
		"storage.type":                      "sqlite",
		"storage.sqlite.path":               "./data/doro.db",
		"openai.model":                      "gpt-4o-mini",
		"openai.timeout":                    "8s",
		"openai.max_retries":                2,
		"orchestrator.debounce_window":      "3s",
		"orchestrator.duplicate_window":     "30s",
		"orchestrator.burst_window":         "10s",
		"orchestrator.max_burst":            8,
		"orchestrator.history_limit":        30,
		"pipeline.persona":                  "Doro",
		"alignment.threshold":               0.6,
		"alignment.readiness_weight":        0.3,
		"alignment.resistance_weight":       0.2,
		"alignment.urgency_weight":          0.2,
		"alignment.goal_weight":             0.2,
		"alignment.high_resistance_penalty": 0.3,
		"synthesizer.min_length":            400,
		"synthesizer.max_length":            600,
		"synthesizer.accept_threshold":      70.0,
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
