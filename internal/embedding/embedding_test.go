package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/vesper/internal/vecutil"
)

func TestHTTPProviderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		vecs := make([][]float32, len(req.Input))
		for i := range vecs {
			v := make([]float32, vecutil.Dimensions)
			v[0] = 1
			vecs[i] = v
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: vecs})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, vecutil.Dimensions, 2*time.Second, 1)
	v, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.True(t, vecutil.IsUnit(v))
}

func TestHTTPProviderEmptyText(t *testing.T) {
	p := NewHTTPProvider("http://unused", vecutil.Dimensions, time.Second, 0)
	_, err := p.Embed(context.Background(), "   ")
	assert.Error(t, err)
}

func TestHTTPProviderRetriesThenFails(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, vecutil.Dimensions, time.Second, 2)
	_, err := p.Embed(context.Background(), "hello")
	assert.Error(t, err)
	assert.Equal(t, 3, calls) // 1 initial + 2 retries
}

func TestNoopProvider(t *testing.T) {
	p := NewNoopProvider(vecutil.Dimensions)
	_, err := p.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoProvider)
	assert.Error(t, p.Health(context.Background()))
}
