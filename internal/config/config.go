package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Embedding EmbeddingConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Ticketing TicketingConfig
	Dialog    DialogConfig
	Log       LogConfig
}

type LogConfig struct {
	Level string
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type EmbeddingConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

type StorageConfig struct {
	DataDir string
	Timeout time.Duration
}

type RetrievalConfig struct {
	SimilarityThreshold float64
	MaxResults          int
	CacheTTL            time.Duration
}

type TicketingConfig struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

type DialogConfig struct {
	MaxAttempts  int
	ReleaseDelay time.Duration
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4400,
		},
		Embedding: EmbeddingConfig{
			BaseURL: "http://localhost:11434",
			Model:   "nomic-embed-text",
			Timeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
			Timeout: 10 * time.Second,
		},
		Retrieval: RetrievalConfig{
			SimilarityThreshold: 0.7,
			MaxResults:          5,
			CacheTTL:            24 * time.Hour,
		},
		Ticketing: TicketingConfig{
			Timeout: 30 * time.Second,
		},
		Dialog: DialogConfig{
			MaxAttempts:  3,
			ReleaseDelay: 5 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "helpdesk-data"
		}
	}
	return filepath.Join(dir, "helpdesk")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "helpdesk", "config.json")
}

// fileConfig is the JSON shape of the optional config file. All fields are
// optional; zero values fall back to defaults.
type fileConfig struct {
	Port                int     `json:"port"`
	EmbeddingBaseURL    string  `json:"embedding_base_url"`
	EmbeddingModel      string  `json:"embedding_model"`
	DataDir             string  `json:"data_dir"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	MaxResults          int     `json:"max_results"`
	CacheTTLHours       int     `json:"cache_ttl_hours"`
	TicketingBaseURL    string  `json:"ticketing_base_url"`
	MaxAttempts         int     `json:"max_attempts"`
	LogLevel            string  `json:"log_level"`
}

// Load reads configuration from defaults, the JSON config file at
// $XDG_CONFIG_HOME/helpdesk/config.json, and HELPDESK_* environment
// variables, in increasing order of precedence. A .env file in the working
// directory is loaded first if present. Secrets (API tokens) come from the
// environment only.
func Load() (Config, error) {
	// Best-effort: absence of a .env file is the normal case.
	_ = godotenv.Load()

	cfg := defaults()

	if err := applyFile(&cfg, configFilePath()); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)

	if cfg.Server.APIToken == "" {
		return Config{}, fmt.Errorf("missing required config: API token. Set it via environment variable HELPDESK_API_TOKEN")
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if fc.Port != 0 {
		cfg.Server.Port = fc.Port
	}
	if fc.EmbeddingBaseURL != "" {
		cfg.Embedding.BaseURL = fc.EmbeddingBaseURL
	}
	if fc.EmbeddingModel != "" {
		cfg.Embedding.Model = fc.EmbeddingModel
	}
	if fc.DataDir != "" {
		cfg.Storage.DataDir = fc.DataDir
	}
	if fc.SimilarityThreshold != 0 {
		cfg.Retrieval.SimilarityThreshold = fc.SimilarityThreshold
	}
	if fc.MaxResults != 0 {
		cfg.Retrieval.MaxResults = fc.MaxResults
	}
	if fc.CacheTTLHours != 0 {
		cfg.Retrieval.CacheTTL = time.Duration(fc.CacheTTLHours) * time.Hour
	}
	if fc.TicketingBaseURL != "" {
		cfg.Ticketing.BaseURL = fc.TicketingBaseURL
	}
	if fc.MaxAttempts != 0 {
		cfg.Dialog.MaxAttempts = fc.MaxAttempts
	}
	if fc.LogLevel != "" {
		cfg.Log.Level = fc.LogLevel
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HELPDESK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("HELPDESK_API_TOKEN"); v != "" {
		cfg.Server.APIToken = v
	}
	if v := os.Getenv("HELPDESK_EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("HELPDESK_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("HELPDESK_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("HELPDESK_SIMILARITY_THRESHOLD"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil && t > 0 && t <= 1 {
			cfg.Retrieval.SimilarityThreshold = t
		}
	}
	if v := os.Getenv("HELPDESK_TICKETING_BASE_URL"); v != "" {
		cfg.Ticketing.BaseURL = v
	}
	if v := os.Getenv("HELPDESK_TICKETING_API_TOKEN"); v != "" {
		cfg.Ticketing.APIToken = v
	}
	if v := os.Getenv("HELPDESK_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
