package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config carries the daemon settings. Values are layered: built-in
// defaults, then the config file, then command-line flags.
type Config struct {
	Port       int
	Token      string
	HubURL     string
	DataDir    string
	AgentsDir  string
	ConfigPath string
	PrintToken bool

	// Lifecycle tunables. KillGrace bounds how long a terminating agent
	// process may linger before a forced kill; ExitReconcileWait bounds
	// how long the session manager waits for the stop event after the
	// process exits; WatchPoll is the progress watcher's polling
	// fallback interval.
	KillGrace         time.Duration
	ExitReconcileWait time.Duration
	WatchPoll         time.Duration
}

func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	cfg := &Config{
		Port:              8791,
		DataDir:           filepath.Join(homeDir, ".local", "share", "agentpilot"),
		KillGrace:         5 * time.Second,
		ExitReconcileWait: 3 * time.Second,
		WatchPoll:         500 * time.Millisecond,
	}
	cfg.ConfigPath = filepath.Join(homeDir, ".config", "agentpilot", "config")

	if err := cfg.loadFromFile(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	flag.IntVar(&cfg.Port, "port", cfg.Port, "server port (1-65535)")
	flag.StringVar(&cfg.Token, "token", cfg.Token, "authentication token (auto-generated if empty)")
	flag.StringVar(&cfg.HubURL, "hub-url", cfg.HubURL, "base URL of the remote hub (empty disables fleet queries)")
	flag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for the session database and progress logs")
	flag.StringVar(&cfg.AgentsDir, "agents-dir", cfg.AgentsDir, "directory holding agent runtime definitions")
	flag.DurationVar(&cfg.KillGrace, "kill-grace", cfg.KillGrace, "grace period before a kill escalates to SIGKILL")
	flag.DurationVar(&cfg.ExitReconcileWait, "exit-reconcile-wait", cfg.ExitReconcileWait, "how long to wait for a stop event after process exit")
	flag.DurationVar(&cfg.WatchPoll, "watch-poll", cfg.WatchPoll, "progress watcher polling fallback interval")
	flag.BoolVar(&cfg.PrintToken, "print-token", false, "print token to stdout (for local debugging)")
	flag.Parse()

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d: must be between 1 and 65535", cfg.Port)
	}
	if cfg.AgentsDir == "" {
		cfg.AgentsDir = filepath.Join(cfg.DataDir, "agents")
	}

	if cfg.Token == "" {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate token: %w", err)
		}
		cfg.Token = token
		if err := cfg.saveToFile(); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	}

	return cfg, nil
}

// DBPath is where the session database lives under the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "agentpilot.db")
}

// ProgressDir is the root under which per-task progress logs are written.
func (c *Config) ProgressDir() string {
	return filepath.Join(c.DataDir, "progress")
}

// HooksDir is where generated per-run hook settings files are written.
func (c *Config) HooksDir() string {
	return filepath.Join(c.DataDir, "hooks")
}

func (c *Config) loadFromFile() error {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		switch key {
		case "Token":
			c.Token = value
		case "HubURL":
			c.HubURL = value
		case "DataDir":
			c.DataDir = value
		case "AgentsDir":
			c.AgentsDir = value
		case "Port":
			var port int
			if _, err := fmt.Sscanf(value, "%d", &port); err != nil {
				return fmt.Errorf("invalid Port value %q: %w", value, err)
			}
			c.Port = port
		case "KillGrace":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid KillGrace value %q: %w", value, err)
			}
			c.KillGrace = d
		case "ExitReconcileWait":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid ExitReconcileWait value %q: %w", value, err)
			}
			c.ExitReconcileWait = d
		case "WatchPoll":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid WatchPoll value %q: %w", value, err)
			}
			c.WatchPoll = d
		}
	}
	return nil
}

func (c *Config) saveToFile() error {
	dir := filepath.Dir(c.ConfigPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Port=%d\nToken=%s\nDataDir=%s\n", c.Port, c.Token, c.DataDir)
	if c.HubURL != "" {
		fmt.Fprintf(&b, "HubURL=%s\n", c.HubURL)
	}
	return os.WriteFile(c.ConfigPath, []byte(b.String()), 0600)
}

func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
