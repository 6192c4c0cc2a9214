package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	*Memory
	loads int
}

func (c *countingStore) Load(ctx context.Context, metric, host string) (*CalibrationParams, error) {
	c.loads++
	return c.Memory.Load(ctx, metric, host)
}

func TestCachedCalibrations(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{Memory: NewMemory()}
	cached := NewCachedCalibrations(inner, 16, time.Minute)

	_, err := cached.Load(ctx, "cpu", "h1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = cached.Load(ctx, "cpu", "h1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, inner.loads, "misses are not cached")

	require.NoError(t, cached.Save(ctx, "cpu", "h1", CalibrationParams{Step: 1000}))
	for i := 0; i < 3; i++ {
		p, err := cached.Load(ctx, "cpu", "h1")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), p.Step)
	}
	assert.Equal(t, 3, inner.loads)

	require.NoError(t, cached.Save(ctx, "cpu", "h1", CalibrationParams{Step: 2000}))
	p, err := cached.Load(ctx, "cpu", "h1")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), p.Step)
	assert.Equal(t, 4, inner.loads)
}
