package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fleetd.io/fleetd/internal/config"
)

func TestBuildCORSConfig_DefaultsToAllowlistWhenOriginsEmpty(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{AllowCredentials: true},
	}

	got := buildCORSConfig(cfg)
	assert.False(t, got.AllowAllOrigins)
	assert.True(t, got.AllowCredentials)
	assert.Equal(t, defaultAllowedOrigins, got.AllowOrigins)
}

func TestBuildCORSConfig_StripsWildcardUnlessUnsafeFlagEnabled(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			AllowedOrigins:   []string{"*", " https://example.com "},
			AllowCredentials: true,
		},
	}

	got := buildCORSConfig(cfg)
	assert.False(t, got.AllowAllOrigins)
	assert.Equal(t, []string{"https://example.com"}, got.AllowOrigins)
}

func TestBuildCORSConfig_UnsafeAllowAllDisablesCredentials(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			AllowedOrigins:        []string{"*"},
			AllowCredentials:      true,
			UnsafeAllowAllOrigins: true,
		},
	}

	got := buildCORSConfig(cfg)
	assert.True(t, got.AllowAllOrigins)
	assert.False(t, got.AllowCredentials)
	assert.Empty(t, got.AllowOrigins)
}
