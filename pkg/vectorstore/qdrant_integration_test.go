package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/perbu/qest/pkg/qest"
)

// setupQdrant starts a Qdrant container and returns a client for it.
// Tests are skipped if Docker is not available.
func setupQdrant(t *testing.T) *Qdrant {
	t.Helper()

	if os.Getenv("SKIP_INTEGRATION") == "true" || testing.Short() {
		t.Skip("skipping Qdrant integration test")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "qdrant/qdrant:v1.12.4",
			ExposedPorts: []string{"6333/tcp"},
			WaitingFor: wait.ForHTTP("/readyz").
				WithPort("6333/tcp").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("skipping: could not start Qdrant container (is docker running?): %v", err)
	}

	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("getting container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6333/tcp")
	if err != nil {
		t.Fatalf("getting mapped port: %v", err)
	}

	return NewQdrant(fmt.Sprintf("http://%s:%s", host, port.Port()), "", 10*time.Second)
}

func TestQdrantIntegration_RoundTrip(t *testing.T) {
	q := setupQdrant(t)
	ctx := context.Background()

	if _, err := q.GetCollection(ctx, "qest"); !errors.Is(err, qest.ErrCollectionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := q.CreateCollection(ctx, "qest", 4, qest.Cosine); err != nil {
		t.Fatal(err)
	}

	points := qest.PointsFromChunks([]qest.Chunk{
		{ID: "1", Text: "Contracts require offer and acceptance.", Embedding: []float32{1, 0, 0, 0}},
		{ID: "intro", Text: "Torts are civil wrongs.", Embedding: []float32{0, 1, 0, 0}},
	})
	if err := q.Upsert(ctx, "qest", points); err != nil {
		t.Fatal(err)
	}
	// Same ids again: no growth.
	if err := q.Upsert(ctx, "qest", points); err != nil {
		t.Fatal(err)
	}

	c, err := q.GetCollection(ctx, "qest")
	if err != nil {
		t.Fatal(err)
	}
	if c.Dimension != 4 || c.PointCount != 2 {
		t.Errorf("unexpected collection: %+v", c)
	}

	hits, err := q.Search(ctx, "qest", []float32{0.9, 0.1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].ID != "1" || hits[1].ID != "intro" {
		t.Errorf("unexpected hits: %+v", hits)
	}

	if err := q.DeleteCollection(ctx, "qest"); err != nil {
		t.Fatal(err)
	}
}
