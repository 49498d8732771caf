//go:build integration

package redis

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"supporterhub/internal/platform/config"
	"supporterhub/pkg/testutil/containers"
)

func TestNewConnectsAndReportsHealth(t *testing.T) {
	rc := containers.GetManager().GetRedis(t)
	cfg := config.Defaults().Redis
	cfg.URL = rc.URL

	client, err := New(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	require.NotNil(t, client)
	defer client.Close()

	require.NoError(t, client.Health(context.Background()))
}
