package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreNeo4j  = "neo4j"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config holds all runtime configuration parameters
type Config struct {
	SeedID            int64   `json:"seed_id"`
	MaxDepth          int     `json:"max_depth"`
	ConcurrentWorkers int     `json:"concurrent_workers"`
	MaxConnections    int     `json:"max_connections"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	RequestBurst      int     `json:"request_burst"`
	RequestTimeoutMs  int     `json:"request_timeout_ms"`
	APIBaseURL        string  `json:"api_base_url"`
	APIVersion        string  `json:"api_version"`
	AccessToken       string  `json:"-"`
	Store             string  `json:"store"`
	Buffered          bool    `json:"buffered"`
	Neo4jURI          string  `json:"neo4j_uri"`
	Neo4jUser         string  `json:"neo4j_user"`
	Neo4jPassword     string  `json:"neo4j_password"`
	Neo4jDatabase     string  `json:"neo4j_database"`
	DBPath            string  `json:"db_path"`
	MetricsPath       string  `json:"metrics_path"`
}

// LoadConfig reads configuration from a JSON file (optional when path is
// empty), then applies environment overrides, defaults and validation
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		decoder := json.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadDotEnv loads a .env file into the process environment if it exists
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// applyEnv copies credentials and endpoints from the environment
func applyEnv(cfg *Config) {
	if v := os.Getenv("VK_ACCESS_TOKEN"); v != "" {
		cfg.AccessToken = v
	}
	if v := os.Getenv("NEO4J_URI"); v != "" {
		cfg.Neo4jURI = v
	}
	if v := os.Getenv("NEO4J_USER"); v != "" {
		cfg.Neo4jUser = v
	}
	if v := os.Getenv("NEO4J_PASSWORD"); v != "" {
		cfg.Neo4jPassword = v
	}
}

// applyDefaults sets default values for unspecified fields
func applyDefaults(cfg *Config) {
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = 2
	}
	if cfg.ConcurrentWorkers == 0 {
		cfg.ConcurrentWorkers = 8
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 3
	}
	if cfg.RequestBurst == 0 {
		cfg.RequestBurst = 1
	}
	if cfg.RequestTimeoutMs == 0 {
		cfg.RequestTimeoutMs = 10000
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.vk.com/method"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "5.131"
	}
	if cfg.Store == "" {
		cfg.Store = StoreNeo4j
	}
	if cfg.Neo4jURI == "" {
		cfg.Neo4jURI = "bolt://localhost:7687"
	}
	if cfg.Neo4jUser == "" {
		cfg.Neo4jUser = "neo4j"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "weaver.db"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "metrics.json"
	}
}

// validate checks that values are sensible
func validate(cfg *Config) error {
	if cfg.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be >= 0")
	}
	if cfg.ConcurrentWorkers < 1 {
		return fmt.Errorf("concurrent_workers must be >= 1")
	}
	if cfg.MaxConnections < 0 {
		return fmt.Errorf("max_connections must be >= 0")
	}
	if cfg.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must be >= 0")
	}
	if cfg.RequestTimeoutMs < 1000 {
		return fmt.Errorf("request_timeout_ms must be >= 1000")
	}
	switch cfg.Store {
	case StoreNeo4j, StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("store must be one of %s, %s, %s", StoreNeo4j, StoreSQLite, StoreMemory)
	}
	return nil
}

// ValidateCrawl checks the settings only a crawl needs
func (cfg *Config) ValidateCrawl() error {
	if cfg.AccessToken == "" {
		return fmt.Errorf("VK_ACCESS_TOKEN is not set")
	}
	if cfg.SeedID <= 0 {
		return fmt.Errorf("seed_id is required")
	}
	if cfg.MaxDepth < 1 {
		return fmt.Errorf("max_depth must be >= 1")
	}
	return validate(cfg)
}
