//go:build integration

package geocache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/usittel/nap-proximity/internal/domain"
)

func startRedis(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return addr
}

func TestRedisStore_Integration(t *testing.T) {
	ctx := context.Background()
	client := OpenRedis(startRedis(ctx, t), "", 0)
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, "napmatch:test")
	c := Open(ctx, store, discardLogger())
	c.Store("alsina 956", Resolved(alsina, "Alsina 956, Tandil"))
	c.Store("paz 10", Failed(domain.ReasonNotFound, "", ""))
	require.NoError(t, c.Flush(ctx))

	reopened := Open(ctx, store, discardLogger())
	e, ok := reopened.Lookup("alsina 956")
	require.True(t, ok)
	assert.Equal(t, alsina, e.Point())
	assert.Equal(t, 2, reopened.Stats().Total)

	require.True(t, reopened.Forget("paz 10"))
	require.NoError(t, reopened.Flush(ctx))

	n, err := client.HLen(ctx, "napmatch:test").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
