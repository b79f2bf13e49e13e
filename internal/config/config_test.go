package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/messenger")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 50, cfg.PageSizeDefault)
	assert.Equal(t, 100, cfg.PageSizeMax)
	assert.False(t, cfg.DevLog)
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("DB_DSN", "")
	t.Setenv("JWT_SECRET", "s3cret")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadPageBounds(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/messenger")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PAGE_SIZE_DEFAULT", "100")
	t.Setenv("PAGE_SIZE_MAX", "10")

	_, err := Load()
	assert.Error(t, err)
}
