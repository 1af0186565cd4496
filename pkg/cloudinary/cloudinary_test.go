package cloudinary

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{CloudName: "demo"}, zerolog.Nop())
	require.Error(t, err)
}

func TestResolveURL(t *testing.T) {
	svc, err := New(Config{CloudName: "demo", APIKey: "key", APISecret: "secret", Folder: "/zxb/media/"}, zerolog.Nop())
	require.NoError(t, err)

	url, err := svc.ResolveURL(context.Background(), "cat", "image")
	require.NoError(t, err)
	require.Contains(t, url, "https://")
	require.Contains(t, url, "/demo/image/upload/")
	require.Contains(t, url, "zxb/media/cat")

	url, err = svc.ResolveURL(context.Background(), "rooms/recording-1", "video")
	require.NoError(t, err)
	require.Contains(t, url, "/video/upload/")
	require.Contains(t, url, "rooms/recording-1")
	require.NotContains(t, url, "zxb/media")

	_, err = svc.ResolveURL(context.Background(), "  ", "raw")
	require.Error(t, err)
}
