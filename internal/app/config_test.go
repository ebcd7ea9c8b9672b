package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/inventra/internal/authz"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s3cret")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, time.Minute, cfg.OverrideCacheTTL)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.False(t, cfg.IsProduction())

	policy, err := cfg.ConflictPolicy()
	require.NoError(t, err)
	assert.Equal(t, authz.ConflictAllow, policy)
}

func TestLoadConfigRejectsUnknownConflictPolicy(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s3cret")
	t.Setenv("OVERRIDE_CONFLICT_POLICY", "merge")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("OVERRIDE_CONFLICT_POLICY", "REJECT")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	policy, _ := cfg.ConflictPolicy()
	assert.Equal(t, authz.ConflictReject, policy)
}

func TestLoadConfigRequiresSessionSecret(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	_, err := LoadConfig()
	require.Error(t, err)
}
