package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Docker-backed tests run only with PE_TEST_DOCKER=true.
func requireDocker(t *testing.T) {
	t.Helper()
	if os.Getenv("PE_TEST_DOCKER") != "true" {
		t.Skip("Docker tests disabled (set PE_TEST_DOCKER=true to enable)")
	}
}

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port nat.Port) string {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	mapped, err := c.MappedPort(ctx, port)
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

func newPostgresStore(t *testing.T) *PostgresStore {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "portfolio",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}, "5432/tcp")

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, fmt.Sprintf("postgres://postgres:test@%s/portfolio?sslmode=disable", addr))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	st := NewPostgresStore(pool)
	require.NoError(t, st.EnsureSchema(ctx))
	return st
}

func TestPostgresStore(t *testing.T) {
	requireDocker(t)
	runStoreSuite(t, newPostgresStore(t))
}

func TestCachedStore(t *testing.T) {
	requireDocker(t)
	primary := newPostgresStore(t)

	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}, "6379/tcp")

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })

	runStoreSuite(t, NewCachedStore(primary, rdb, 30*time.Second))
}
