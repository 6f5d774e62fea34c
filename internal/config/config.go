package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
	Upstream struct {
		BaseURL string `json:"base_url"`
	} `json:"upstream"`
	HTTP struct {
		Listen           string `json:"listen"`
		KeepaliveSeconds int    `json:"keepalive_seconds"`
	} `json:"http"`
	Hydration struct {
		MaxConcurrent int `json:"max_concurrent"`
	} `json:"hydration"`
	Journal struct {
		Enabled bool `json:"enabled"`
	} `json:"journal"`
	Report struct {
		Schedule string `json:"schedule"`
		Model    string `json:"model"`
	} `json:"report"`
	Telegram struct {
		Token  string `json:"token"`
		ChatID int64  `json:"chat_id"`
	} `json:"telegram"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".sessionrelay"),
		LogLevel: "info",
	}
	cfg.Upstream.BaseURL = "http://127.0.0.1:4096"
	cfg.HTTP.Listen = "127.0.0.1:8891"
	cfg.HTTP.KeepaliveSeconds = 30
	cfg.Hydration.MaxConcurrent = 4
	cfg.Report.Schedule = "@every 10m"
	cfg.Report.Model = "gpt-4"

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if url := os.Getenv("SESSIONRELAY_UPSTREAM_URL"); url != "" {
		cfg.Upstream.BaseURL = url
	}
	if listen := os.Getenv("SESSIONRELAY_LISTEN"); listen != "" {
		cfg.HTTP.Listen = listen
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if tgChat := os.Getenv("TELEGRAM_CHAT_ID"); tgChat != "" {
		if id, err := strconv.ParseInt(tgChat, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}

	return cfg, nil
}

// Save writes the config to path atomically.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
