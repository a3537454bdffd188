// Package testutil starts throwaway backend containers for integration
// tests. Each Start* helper blocks until the backend accepts connections
// and registers cleanup with the test, so a test package can treat the
// returned endpoint as ready to use.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// StartPostgresContainer runs a disposable Postgres and returns its DSN.
func StartPostgresContainer(t *testing.T) string {
	t.Helper()

	// Generous timeout for CI environments.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	t.Cleanup(cancel)

	postgresC, err := testcontainers.Run(
		ctx, "postgres:16",
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("ready to accept connections"),
				// Verify SQL connectivity, not just the listening socket.
				wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
					return fmt.Sprintf("postgres://convoflow:convoflow@%s:%s/convoflow_test?sslmode=disable", host, port.Port())
				}).WithQuery("SELECT 1"),
			).WithDeadline(2*time.Minute),
		),
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "convoflow",
			"POSTGRES_PASSWORD": "convoflow",
			"POSTGRES_DB":       "convoflow_test",
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { testcontainers.CleanupContainer(t, postgresC) })

	endpoint, err := postgresC.Endpoint(ctx, "")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://convoflow:convoflow@%s/convoflow_test?sslmode=disable", endpoint)
}

// StartMongoContainer runs a disposable MongoDB and returns its URI.
func StartMongoContainer(t *testing.T) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	t.Cleanup(cancel)

	mongoC, err := testcontainers.Run(
		ctx, "mongo:7",
		testcontainers.WithExposedPorts("27017/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("27017/tcp"),
			wait.ForLog("mongod startup complete"),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { testcontainers.CleanupContainer(t, mongoC) })

	endpoint, err := mongoC.Endpoint(ctx, "")
	require.NoError(t, err)

	return fmt.Sprintf("mongodb://%s", endpoint)
}

// StartRedisContainer runs a disposable Redis and returns its address.
func StartRedisContainer(t *testing.T) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	t.Cleanup(cancel)

	redisC, err := testcontainers.Run(
		ctx, "redis:latest",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp"),
			wait.ForLog("Ready to accept connections"),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { testcontainers.CleanupContainer(t, redisC) })

	endpoint, err := redisC.Endpoint(ctx, "")
	require.NoError(t, err)

	return endpoint
}
