package logger

import (
    "os"
    "time"

    "github.com/HamedShams/sprint-pulse/internal/config"
    "github.com/rs/zerolog"
    "github.com/rs/zerolog/log"
)

// New builds the process logger: pretty console output in dev, JSON
// elsewhere, filtered at the configured level (debug in dev when LOG_LEVEL
// is unset or unparseable, info otherwise).
func New(cfg config.Config) zerolog.Logger {
    logger := zerolog.New(writer(cfg)).Level(level(cfg)).With().Timestamp().Logger()
    log.Logger = logger
    return logger
}

func writer(cfg config.Config) zerolog.LevelWriter {
    if cfg.AppEnv == "dev" {
        return zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
    }
    zerolog.TimeFieldFormat = time.RFC3339
    return zerolog.MultiLevelWriter(os.Stdout)
}

func level(cfg config.Config) zerolog.Level {
    if lv, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lv != zerolog.NoLevel {
        return lv
    }
    if cfg.AppEnv == "dev" {
        return zerolog.DebugLevel
    }
    return zerolog.InfoLevel
}
