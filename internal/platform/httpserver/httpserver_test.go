package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supporterhub/internal/platform/config"
)

type ctxKey struct{}

func TestNewInheritsBaseContext(t *testing.T) {
	base := context.WithValue(context.Background(), ctxKey{}, "base")
	srv := New(base, config.ServerConfig{Addr: ":0"}, http.NotFoundHandler(), slog.Default())

	assert.Equal(t, ":0", srv.Addr)
	require.NotNil(t, srv.BaseContext)
	assert.Equal(t, "base", srv.BaseContext(nil).Value(ctxKey{}))
	assert.Greater(t, srv.WriteTimeout, srv.ReadTimeout)
}
