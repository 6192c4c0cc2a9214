//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startFalkor(t *testing.T) GraphClient {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "falkordb/falkordb:latest",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	cfg := DefaultFalkorConfig()
	cfg.Host = host
	cfg.Port = port.Int()
	cfg.GraphName = "tailwatch_test"

	client := NewFalkorClient(cfg)
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(func() { _ = client.Close() })

	require.Eventually(t, func() bool { return client.Ping(ctx) == nil }, 10*time.Second, 200*time.Millisecond)
	require.NoError(t, client.InitializeSchema(ctx))
	return client
}

func TestFalkorIntegration(t *testing.T) {
	ctx := context.Background()
	s := NewFalkor(startFalkor(t))
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("calibration upsert", func(t *testing.T) {
		_, err := s.Load(ctx, "cpu", "h1")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.Save(ctx, "cpu", "h1", CalibrationParams{MaxZScore: 1, Step: 1000, CalibratedAt: now}))
		require.NoError(t, s.Save(ctx, "cpu", "h1", CalibrationParams{MaxZScore: 2, Step: 2000, CalibratedAt: now}))

		got, err := s.Load(ctx, "cpu", "h1")
		require.NoError(t, err)
		assert.Equal(t, 2.0, got.MaxZScore)
		assert.Equal(t, int64(2000), got.Step)
		assert.True(t, now.Equal(got.CalibratedAt))

		age, err := s.AgeMinutes(ctx, "cpu", "h1", now.Add(90*time.Second))
		require.NoError(t, err)
		assert.Equal(t, 2, age)
	})

	t.Run("anomaly idempotency", func(t *testing.T) {
		a := Anomaly{Metric: "cpu", Host: "h1", Value: 5, Timestamp: 1000}
		inserted, err := s.Insert(ctx, a)
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = s.Insert(ctx, a)
		require.NoError(t, err)
		assert.False(t, inserted)

		_, err = s.Insert(ctx, Anomaly{Metric: "cpu", Host: "h1", Value: 6, Timestamp: 2000})
		require.NoError(t, err)

		n, err := s.Count(ctx, "cpu", 0, 1500, "h1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.Count(ctx, "cpu", 0, 3000, "h1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}
