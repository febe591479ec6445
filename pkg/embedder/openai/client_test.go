package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorekeeper/recall/pkg/embedder/openai"
)

func TestNewClientRequiresKey(t *testing.T) {
	_, err := openai.NewClient(&openai.Config{})
	assert.Error(t, err)
}

func TestEmbedBatchAgainstStubServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)

		// Results deliberately out of order.
		data := []map[string]interface{}{}
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]interface{}{
				"object": "embedding", "index": i, "embedding": []float32{float32(i), 1},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"object": "list", "data": data, "model": req.Model})
	}))
	defer srv.Close()

	client, err := openai.NewClient(&openai.Config{
		APIKey: "test", BaseURL: srv.URL, Model: "text-embedding-3-small", Dimensions: 2,
	})
	require.NoError(t, err)

	vecs, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 1}, {1, 1}}, vecs)

	vec, err := client.Embed(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, vec)
	assert.Equal(t, 2, client.Dimensions())
}
