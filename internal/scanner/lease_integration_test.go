//go:build integration

package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRedisLeaseIntegration(t *testing.T) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := NewRedisClient(addr, "", 0)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	lease := NewRedisLease(client, "test:")
	release, err := lease.Acquire(ctx, "a1", time.Second)
	require.NoError(t, err)

	_, err = lease.Acquire(ctx, "a1", time.Second)
	assert.True(t, IsConflictError(err), "second holder is rejected")

	other, err := lease.Acquire(ctx, "a2", time.Second)
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	again, err := lease.Acquire(ctx, "a1", time.Second)
	require.NoError(t, err)
	require.NoError(t, again(ctx))

	// A stale release must not drop a lease now held by someone else.
	stale, err := lease.Acquire(ctx, "a3", time.Second)
	require.NoError(t, err)
	require.NoError(t, client.Del(ctx, "test:a3").Err())
	current, err := lease.Acquire(ctx, "a3", time.Second)
	require.NoError(t, err)
	require.NoError(t, stale(ctx))
	_, err = lease.Acquire(ctx, "a3", time.Second)
	assert.True(t, IsConflictError(err))
	require.NoError(t, current(ctx))
}
