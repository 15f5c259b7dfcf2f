package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all nodeflow configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	LogLevel       string `json:"log_level"`
	MaxConcurrent  int    `json:"max_concurrent"`
	DefaultTimeout string `json:"default_timeout"`
	WorkspaceRoot  string `json:"workspace_root"`
	KeepWorkspaces bool   `json:"keep_workspaces"`
	QueueCapacity  int    `json:"queue_capacity"`
	HistoryCap     int    `json:"history_cap"`
	PluginDir      string `json:"plugin_dir"`
	MetricsAddr    string `json:"metrics_addr"`
	SQLDefaultDSN  string `json:"sql_default_dsn"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:       "info",
		MaxConcurrent:  5,
		DefaultTimeout: "5m",
		WorkspaceRoot:  filepath.Join(nodeflowDir(), "workspaces"),
		QueueCapacity:  100,
		HistoryCap:     1000,
		PluginDir:      filepath.Join(nodeflowDir(), "plugins"),
	}
}

func nodeflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nodeflow"
	}
	return filepath.Join(home, ".nodeflow")
}

func settingsPath() string {
	return filepath.Join(nodeflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("NODEFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("NODEFLOW_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrent = n
		}
	}
	if v := os.Getenv("NODEFLOW_DEFAULT_TIMEOUT"); v != "" {
		cfg.DefaultTimeout = v
	}
	if v := os.Getenv("NODEFLOW_WORKSPACE_ROOT"); v != "" {
		cfg.WorkspaceRoot = v
	}
	if v := os.Getenv("NODEFLOW_KEEP_WORKSPACES"); v != "" {
		cfg.KeepWorkspaces = v == "true" || v == "1"
	}
	if v := os.Getenv("NODEFLOW_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueCapacity = n
		}
	}
	if v := os.Getenv("NODEFLOW_HISTORY_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HistoryCap = n
		}
	}
	if v := os.Getenv("NODEFLOW_PLUGIN_DIR"); v != "" {
		cfg.PluginDir = v
	}
	if v := os.Getenv("NODEFLOW_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("NODEFLOW_SQL_DSN"); v != "" {
		cfg.SQLDefaultDSN = v
	}

	return cfg
}

// timeout parses the configured run timeout, falling back to 5m.
func (c Config) timeout() time.Duration {
	d, err := time.ParseDuration(c.DefaultTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}
