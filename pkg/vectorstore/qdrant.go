package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/perbu/qest/pkg/qest"
)

// chunkNamespace seeds the UUIDv5 used for chunk ids Qdrant cannot take as-is.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/perbu/qest/chunk"))

// Qdrant implements Store using the Qdrant HTTP API.
type Qdrant struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Compile-time check that Qdrant implements Store.
var _ Store = (*Qdrant)(nil)

// NewQdrant creates a Qdrant client. timeout bounds every request.
func NewQdrant(baseURL, apiKey string, timeout time.Duration) *Qdrant {
	return &Qdrant{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// PointID converts a chunk id into an id Qdrant accepts: unsigned integers
// and UUIDs pass through, anything else becomes a deterministic UUIDv5.
func PointID(id qest.ID) any {
	if n, ok := id.Uint(); ok {
		return n
	}
	if u, err := uuid.Parse(string(id)); err == nil {
		return u.String()
	}
	return uuid.NewSHA1(chunkNamespace, []byte(id)).String()
}

func (q *Qdrant) collectionURL(name string, suffix string) string {
	return q.BaseURL + "/collections/" + url.PathEscape(name) + suffix
}

// StatusError is a non-200 reply from Qdrant. It matches qest.ErrExternal.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("qdrant %s %s returned status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	return qest.ErrExternal
}

// missingCollection maps err to qest.ErrCollectionNotFound when Qdrant itself
// reported the collection absent: a 404 whose JSON status.error names a
// collection that doesn't exist. Any other 404 (wrong base URL, proxy) stays
// an external error.
func missingCollection(err error, name string) error {
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		return err
	}
	var body struct {
		Status struct {
			Error string `json:"error"`
		} `json:"status"`
	}
	if json.Unmarshal([]byte(se.Body), &body) != nil {
		return err
	}
	msg := strings.ToLower(body.Status.Error)
	if strings.Contains(msg, "collection") && strings.Contains(msg, "doesn't exist") {
		return fmt.Errorf("%w: %s: %s", qest.ErrCollectionNotFound, name, body.Status.Error)
	}
	return err
}

// do sends a JSON request and decodes the "result" field into out when out
// is non-nil. Non-200 replies come back as *StatusError.
func (q *Qdrant) do(ctx context.Context, method, u string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.APIKey != "" {
		req.Header.Set("api-key", q.APIKey)
	}

	resp, err := q.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: qdrant %s %s: %w", qest.ErrExternal, method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading qdrant response: %w", qest.ErrExternal, err)
	}

	if resp.StatusCode != http.StatusOK {
		return &StatusError{
			Method: method,
			Path:   req.URL.Path,
			Code:   resp.StatusCode,
			Body:   string(respBody),
		}
	}

	if out == nil {
		return nil
	}
	envelope := struct {
		Result json.RawMessage `json:"result"`
	}{}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("%w: parsing qdrant response: %w", qest.ErrExternal, err)
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("%w: parsing qdrant result: %w", qest.ErrExternal, err)
	}
	return nil
}

// ListCollections returns the names of all collections.
// GET /collections
func (q *Qdrant) ListCollections(ctx context.Context) ([]string, error) {
	var result struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	}
	if err := q.do(ctx, http.MethodGet, q.BaseURL+"/collections", nil, &result); err != nil {
		return nil, err
	}

	names := make([]string, len(result.Collections))
	for i, c := range result.Collections {
		names[i] = c.Name
	}
	return names, nil
}

// GetCollection returns the declared vector parameters of a collection.
// GET /collections/{name}
func (q *Qdrant) GetCollection(ctx context.Context, name string) (qest.Collection, error) {
	var result struct {
		PointsCount *int `json:"points_count"`
		Config      struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	if err := q.do(ctx, http.MethodGet, q.collectionURL(name, ""), nil, &result); err != nil {
		return qest.Collection{}, missingCollection(err, name)
	}

	c := qest.Collection{
		Name:      name,
		Dimension: result.Config.Params.Vectors.Size,
		Distance:  qest.Distance(result.Config.Params.Vectors.Distance),
	}
	if result.PointsCount != nil {
		c.PointCount = *result.PointsCount
	}
	return c, nil
}

// CreateCollection creates a new vector collection.
// PUT /collections/{name} with {"vectors": {"size": dims, "distance": "Cosine"}}
func (q *Qdrant) CreateCollection(ctx context.Context, name string, dimension int, distance qest.Distance) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": string(distance),
		},
	}
	return q.do(ctx, http.MethodPut, q.collectionURL(name, ""), body, nil)
}

// DeleteCollection removes a collection and all its points.
// DELETE /collections/{name}
func (q *Qdrant) DeleteCollection(ctx context.Context, name string) error {
	return missingCollection(q.do(ctx, http.MethodDelete, q.collectionURL(name, ""), nil, nil), name)
}

type qdrantPoint struct {
	ID      any            `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// Upsert writes points and waits until they are applied.
// PUT /collections/{name}/points?wait=true
func (q *Qdrant) Upsert(ctx context.Context, name string, points []qest.Point) error {
	body := struct {
		Points []qdrantPoint `json:"points"`
	}{Points: make([]qdrantPoint, len(points))}

	for i, p := range points {
		body.Points[i] = qdrantPoint{
			ID:      PointID(p.ID),
			Vector:  p.Vector,
			Payload: p.Payload,
		}
	}
	return q.do(ctx, http.MethodPut, q.collectionURL(name, "/points?wait=true"), body, nil)
}

// qdrantSearchRequest is the JSON body for Qdrant's search endpoint.
type qdrantSearchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
	WithVector  bool      `json:"with_vector"`
}

type qdrantSearchResult struct {
	ID      qest.ID        `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// Search performs a nearest-neighbor search, returning payloads only.
// POST /collections/{name}/points/search
func (q *Qdrant) Search(ctx context.Context, name string, vector []float32, limit int) ([]qest.SearchHit, error) {
	req := qdrantSearchRequest{
		Vector:      vector,
		Limit:       limit,
		WithPayload: true,
		WithVector:  false,
	}

	var results []qdrantSearchResult
	if err := q.do(ctx, http.MethodPost, q.collectionURL(name, "/points/search"), req, &results); err != nil {
		return nil, missingCollection(err, name)
	}

	hits := make([]qest.SearchHit, 0, len(results))
	for _, r := range results {
		hit := qest.SearchHit{ID: r.ID, Score: r.Score, Payload: r.Payload}
		if id, ok := r.Payload[qest.PayloadChunkID].(string); ok && id != "" {
			hit.ID = qest.ID(id)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
