package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level      string // debug, info, warn, error
	FilePath   string // empty disables file logging
	MaxSize    int    // megabytes per log file
	MaxBackups int
	MaxAge     int // days
}

func DefaultConfig() Config {
	return Config{
		Level:      "info",
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     30,
	}
}

// Init configures the global zerolog logger: console output on stdout,
// plus rotated file output when a file path is set.
func Init(cfg Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}}
	if cfg.FilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
		})
	}

	var out io.Writer = writers[0]
	if len(writers) > 1 {
		out = io.MultiWriter(writers...)
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// New returns a logger tagged with the originating component.
func New(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
