package vectorindex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/ashita-ai/vesper/internal/errkind"
)

// QdrantConfig configures the QdrantIndex backend.
type QdrantConfig struct {
	URL    string // e.g. "http://localhost:6334" or "https://xyz.cloud.qdrant.io:6334"
	APIKey string
}

// QdrantIndex implements Index over a single Qdrant server, supporting
// multiple named collections (one per vector-bearing record type: working
// conversations, skill embeddings, relational vectors).
type QdrantIndex struct {
	client *qdrant.Client

	healthMu  sync.Mutex
	lastCheck time.Time
	lastErr   error
}

// NewQdrantIndex connects to Qdrant via gRPC.
func NewQdrantIndex(cfg QdrantConfig) (*QdrantIndex, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorindex: connect to qdrant at %s:%d: %w", host, port, err)
	}
	return &QdrantIndex{client: client}, nil
}

func parseQdrantURL(raw string) (host string, port int, useTLS bool, err error) {
	u, perr := url.Parse(raw)
	if perr != nil || u.Host == "" {
		return "", 0, false, errkind.New(errkind.InvalidInput, false, fmt.Sprintf("vectorindex: invalid qdrant URL %q", raw))
	}
	useTLS = u.Scheme == "https"
	host = u.Hostname()
	if portStr := u.Port(); portStr != "" {
		p, convErr := strconv.Atoi(portStr)
		if convErr != nil {
			return "", 0, false, errkind.New(errkind.InvalidInput, false, "vectorindex: invalid port in qdrant URL")
		}
		if p == 6333 {
			port = 6334 // REST port given; use the gRPC port instead.
		} else {
			port = p
		}
	} else {
		port = 6334
	}
	return host, port, useTLS, nil
}

// InitCollection creates the collection (cosine distance, HNSW) if absent.
func (q *QdrantIndex) InitCollection(ctx context.Context, name string, dim int) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return errkind.Wrap(errkind.Unavailable, true, "vectorindex: check collection exists", err)
	}
	if exists {
		return nil
	}

	m := uint64(16)
	efConstruct := uint64(128)
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim), //nolint:gosec // dim validated positive by config
			Distance: qdrant.Distance_Cosine,
			HnswConfig: &qdrant.HnswConfigDiff{
				M:           &m,
				EfConstruct: &efConstruct,
			},
		}),
	})
	if err != nil {
		return errkind.Wrap(errkind.Unavailable, true, "vectorindex: create collection "+name, err)
	}
	return nil
}

// Upsert is synchronous with indexing (Wait=true) per spec §4.2.
func (q *QdrantIndex) Upsert(ctx context.Context, collection string, p Point) error {
	if p.ID == uuid.Nil {
		return errkind.New(errkind.InvalidInput, false, "vectorindex: id must be a valid UUID")
	}
	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(p.ID.String()),
		Vectors: qdrant.NewVectorsDense(p.Vector),
		Payload: qdrant.NewValueMap(p.Payload),
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return errkind.Wrap(errkind.Unavailable, true, "vectorindex: upsert point", err)
	}
	return nil
}

// Search returns the topK nearest neighbors by cosine similarity.
func (q *QdrantIndex) Search(ctx context.Context, collection string, vector []float32, topK int) ([]ScoredPoint, error) {
	limit := uint64(topK) //nolint:gosec // topK is caller-bounded
	resp, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vector),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.Unavailable, true, "vectorindex: search", err)
	}

	out := make([]ScoredPoint, 0, len(resp))
	for _, sp := range resp {
		idStr := sp.Id.GetUuid()
		if idStr == "" {
			continue
		}
		id, perr := uuid.Parse(idStr)
		if perr != nil {
			continue
		}
		payload := make(map[string]any, len(sp.Payload))
		for k, v := range sp.Payload {
			payload[k] = v.AsInterface()
		}
		out = append(out, ScoredPoint{ID: id, Score: float64(sp.Score), Payload: payload})
	}
	return out, nil
}

// Delete removes a point by id.
func (q *QdrantIndex) Delete(ctx context.Context, collection string, id uuid.UUID) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{qdrant.NewID(id.String())}},
			},
		},
	})
	if err != nil {
		return errkind.Wrap(errkind.Unavailable, true, "vectorindex: delete point", err)
	}
	return nil
}

// Stats reports the collection's point count.
func (q *QdrantIndex) Stats(ctx context.Context, collection string) (Stats, error) {
	info, err := q.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return Stats{}, errkind.Wrap(errkind.Unavailable, true, "vectorindex: get collection info", err)
	}
	return Stats{
		Points:  int(info.GetPointsCount()),
		Indexed: int(info.GetIndexedVectorsCount()),
	}, nil
}

// Health reports whether Qdrant is reachable, caching the result briefly to
// avoid hammering the health endpoint on every call.
func (q *QdrantIndex) Health(ctx context.Context) error {
	q.healthMu.Lock()
	defer q.healthMu.Unlock()
	if time.Since(q.lastCheck) < 5*time.Second {
		return q.lastErr
	}
	_, err := q.client.HealthCheck(ctx)
	q.lastCheck = time.Now()
	if err != nil {
		q.lastErr = errkind.Wrap(errkind.Unavailable, true, "vectorindex: qdrant unhealthy", err)
	} else {
		q.lastErr = nil
	}
	return q.lastErr
}

// Close shuts down the gRPC connection.
func (q *QdrantIndex) Close() error { return q.client.Close() }
