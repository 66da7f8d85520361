package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "127.0.0.1:7777", cfg.BridgeAddr)
	assert.Equal(t, 30, cfg.PageSize)
	assert.Equal(t, 8*time.Second, cfg.SendTimeout)
	assert.Equal(t, 2*time.Second, cfg.TypingIdle)
	assert.Equal(t, 4*time.Second, cfg.TypingExpiry)
	assert.Empty(t, cfg.BridgeOrigins)
	assert.False(t, cfg.TracingEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PAGE_SIZE", "50")
	t.Setenv("SEND_TIMEOUT", "12s")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("BRIDGE_ALLOWED_ORIGINS", "http://localhost:3000, app://support ,")
	t.Setenv("TYPING_IDLE", "soon")

	cfg := Load()

	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, 12*time.Second, cfg.SendTimeout)
	assert.True(t, cfg.TracingEnabled)
	assert.Equal(t, []string{"http://localhost:3000", "app://support"}, cfg.BridgeOrigins)
	assert.Equal(t, 2*time.Second, cfg.TypingIdle, "unparseable values fall back to the default")
}
