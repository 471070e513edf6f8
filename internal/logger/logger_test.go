package logger

import (
    "testing"

    "github.com/HamedShams/sprint-pulse/internal/config"
    "github.com/rs/zerolog"
    "github.com/stretchr/testify/assert"
)

func TestNew_RespectsConfiguredLevel(t *testing.T) {
    l := New(config.Config{AppEnv: "prod", LogLevel: "warn"})
    assert.Equal(t, zerolog.WarnLevel, l.GetLevel())

    l = New(config.Config{AppEnv: "prod", LogLevel: "nonsense"})
    assert.Equal(t, zerolog.InfoLevel, l.GetLevel())

    l = New(config.Config{AppEnv: "dev"})
    assert.Equal(t, zerolog.DebugLevel, l.GetLevel())
}
