package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("MESSAGE_TIMEOUT", "250ms")
	t.Setenv("DEBUG_ROUTES", "true")
	t.Setenv("JWT_TTL", "not-a-duration")

	cfg := Load()

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.MessageTimeout)
	assert.True(t, cfg.DebugRoutes)
	assert.Equal(t, 72*time.Hour, cfg.JWTTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.InviteTTL)
}
