package mock_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorekeeper/recall/pkg/embedder/mock"
	"github.com/lorekeeper/recall/pkg/storage"
)

func TestEmbedIsDeterministicAndNormalized(t *testing.T) {
	e := mock.New(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "Coffee with Alice")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "coffee, with alice!")
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, storage.CosineSimilarity(a, a), 1e-9)
}

func TestEmbedSharedWordsAreCloser(t *testing.T) {
	e := mock.New(mock.DefaultDimensions)
	ctx := context.Background()

	vecs, err := e.EmbedBatch(ctx, []string{"trip to lisbon in may", "lisbon trip", "quarterly tax report"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	assert.Greater(t,
		storage.CosineSimilarity(vecs[0], vecs[1]),
		storage.CosineSimilarity(vecs[0], vecs[2]))
}

func TestEmbedHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := mock.New(8).Embed(ctx, "x")
	assert.Error(t, err)
}
