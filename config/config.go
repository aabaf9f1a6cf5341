package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port         int
	DBPath       string
	PollInterval int // milliseconds, bounded wait per delivery cycle
	WriteTimeout int // seconds
	LogLevel     string
	LogFile      string
}

func Load() *Config {
	cfg := &Config{
		Port:         12345,
		DBPath:       "tinychat.db",
		PollInterval: 500,
		WriteTimeout: 30,
		LogLevel:     "info",
	}

	if portStr := os.Getenv("CHAT_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = port
		}
	}

	if dbPath := os.Getenv("CHAT_DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	if pollStr := os.Getenv("CHAT_POLL_INTERVAL"); pollStr != "" {
		if poll, err := strconv.Atoi(pollStr); err == nil {
			cfg.PollInterval = poll
		}
	}

	if timeoutStr := os.Getenv("CHAT_WRITE_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.WriteTimeout = timeout
		}
	}

	if level := os.Getenv("CHAT_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if file := os.Getenv("CHAT_LOG_FILE"); file != "" {
		cfg.LogFile = file
	}

	return cfg
}
