package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("ZXB_JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddress())
	require.Equal(t, 2*time.Minute, cfg.RecallWindow)
	require.Equal(t, 100, cfg.DefaultRoomCapacity)
	require.Equal(t, 32, cfg.SendBufferSize)
	require.Equal(t, 30*time.Second, cfg.PingInterval)
	require.False(t, cfg.CloudinaryEnabled())
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("ZXB_JWT_SECRET", "secret")
	t.Setenv("ZXB_APP_PORT", ":9090")
	t.Setenv("ZXB_CHAT_RECALL_WINDOW", "5m")
	t.Setenv("ZXB_ROOM_DEFAULT_CAPACITY", "8")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddress())
	require.Equal(t, 5*time.Minute, cfg.RecallWindow)
	require.Equal(t, 8, cfg.DefaultRoomCapacity)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("ZXB_JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	t.Setenv("ZXB_JWT_SECRET", "secret")
	t.Setenv("ZXB_CHAT_RECALL_WINDOW", "soon")

	_, err := Load()
	require.Error(t, err)
}
