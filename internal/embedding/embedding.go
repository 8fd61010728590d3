// Package embedding provides the text-to-vector client (C1): a thin HTTP
// client over an external embedding service, with retry/backoff, a rate
// limiter protecting the service from bursty consolidation batches, and a
// noop degradation path so store operations never block on embeddings.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ashita-ai/vesper/internal/errkind"
	"github.com/ashita-ai/vesper/internal/vecutil"
)

// maxResponseBody caps how much of an embedding response we'll read (10 MB).
const maxResponseBody = 10 * 1024 * 1024

// Provider generates unit-normalized, fixed-dimension vectors from text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Health(ctx context.Context) error
}

// HTTPProvider calls an external embedding HTTP service at baseURL, expected
// to expose POST /embed accepting {"input": [...]} and returning
// {"embeddings": [[...], ...]}.
type HTTPProvider struct {
	baseURL    string
	dims       int
	httpClient *http.Client
	limiter    *rate.Limiter
	retries    int
}

// NewHTTPProvider constructs a Provider backed by an external HTTP service.
// retries is the number of retry attempts beyond the first try (spec §4.1: 3 retries).
func NewHTTPProvider(baseURL string, dims int, timeout time.Duration, retries int) *HTTPProvider {
	if retries < 0 {
		retries = 3
	}
	return &HTTPProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		dims:       dims,
		httpClient: &http.Client{Timeout: timeout},
		// Token-bucket: 10 requests/sec steady-state, burst of 20 — enough
		// headroom for consolidation's batch extraction without overwhelming
		// a locally-run embedding sidecar.
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		retries: retries,
	}
}

// Dimensions returns the configured vector size.
func (p *HTTPProvider) Dimensions() int { return p.dims }

type embedRequest struct {
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed generates a single unit-normalized embedding. Empty (post-trim) text
// fails with InvalidInput per spec §4.1.
func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one round trip,
// retrying transport errors with exponential backoff + jitter.
func (p *HTTPProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	trimmed := make([]string, len(texts))
	for i, t := range texts {
		trimmed[i] = strings.TrimSpace(t)
		if trimmed[i] == "" {
			return nil, errkind.New(errkind.InvalidInput, false, "embedding: text must not be empty")
		}
	}
	if len(trimmed) == 0 {
		return nil, nil
	}

	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 200 * time.Millisecond
			jitter := time.Duration(rand.Int64N(int64(backoff) / 2))
			select {
			case <-ctx.Done():
				return nil, errkind.Wrap(errkind.Classify(ctx, errkind.Timeout, ctx.Err()), false, "embedding: cancelled during backoff", ctx.Err())
			case <-time.After(backoff + jitter):
			}
		}

		vecs, err := p.tryEmbedBatch(ctx, trimmed)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
	}

	return nil, errkind.Wrap(errkind.Unavailable, true, fmt.Sprintf("embedding: service unreachable after %d attempts", p.retries+1), lastErr)
}

func (p *HTTPProvider) tryEmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(embedRequest{Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("embedding: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding: unexpected status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed embedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("embedding: unmarshal response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("embedding: service error: %s", parsed.Error)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding: expected %d vectors, got %d", len(texts), len(parsed.Embeddings))
	}

	out := make([][]float32, len(parsed.Embeddings))
	for i, e := range parsed.Embeddings {
		out[i] = vecutil.Normalize(e)
	}
	return out, nil
}

// Health probes the embedding service's reachability.
func (p *HTTPProvider) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return errkind.Wrap(errkind.Unavailable, true, "embedding: health probe failed", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return errkind.New(errkind.Unavailable, true, fmt.Sprintf("embedding: health probe returned %d", resp.StatusCode))
	}
	return nil
}

// NoopProvider is used when EMBEDDING_URL is unset. Embed/EmbedBatch return
// ErrNoProvider so callers can store the record without an embedding
// (has_embedding=false). No later pass back-fills such records.
type NoopProvider struct {
	dims int
}

// NewNoopProvider constructs a degradation-path provider.
func NewNoopProvider(dims int) *NoopProvider { return &NoopProvider{dims: dims} }

// ErrNoProvider signals "no embedding available," not a transient failure.
var ErrNoProvider = errkind.New(errkind.Unavailable, false, "embedding: no provider configured")

func (p *NoopProvider) Dimensions() int { return p.dims }

func (p *NoopProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrNoProvider
}

func (p *NoopProvider) EmbedBatch(_ context.Context, _ []string) ([][]float32, error) {
	return nil, ErrNoProvider
}

func (p *NoopProvider) Health(_ context.Context) error {
	return errkind.New(errkind.Unavailable, false, "embedding: noop provider has no backing service")
}
