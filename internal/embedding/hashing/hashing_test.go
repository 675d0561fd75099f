package hashing

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbed_DimensionAndNorm(t *testing.T) {
	e := NewEmbedder(0)
	assert.Equal(t, DefaultDimension, e.Dimension())

	vec, err := e.Embed(context.Background(), "El retiro es de hasta 4 UIT.")
	require.NoError(t, err)
	require.Len(t, vec, DefaultDimension)

	norm := 0.0
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestEmbed_Deterministic(t *testing.T) {
	a, err := NewEmbedder(64).Embed(context.Background(), "cuarto retiro AFP")
	require.NoError(t, err)
	b, err := NewEmbedder(64).Embed(context.Background(), "cuarto retiro AFP")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEmbed_StopwordsOnlyIsZero(t *testing.T) {
	vec, err := NewEmbedder(16).Embed(context.Background(), "de la y el ¿?")
	require.NoError(t, err)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestEmbed_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEmbedder(16).Embed(ctx, "texto")
	assert.ErrorIs(t, err, context.Canceled)
}
