// Package metrics provides Prometheus collectors for the ingestion and
// query paths.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for retrieval and LLM
// latencies, ranging from 10ms to 60s.
var LLMBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60}

var (
	// SyncPointsTotal counts points committed to the vector store.
	SyncPointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qest_sync_points_total",
			Help: "Points upserted",
		},
		[]string{"collection"},
	)

	// SyncBatchesTotal counts batch upserts by outcome.
	SyncBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qest_sync_batches_total",
			Help: "Batch upserts",
		},
		[]string{"collection", "status"},
	)

	// CollectionRecreationsTotal counts destructive recreations on dimension mismatch.
	CollectionRecreationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qest_collection_recreations_total",
			Help: "Collections dropped and recreated",
		},
		[]string{"collection"},
	)

	// RetrievalDuration records embed+search latency in seconds.
	RetrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qest_retrieval_duration_seconds",
			Help:    "Retrieval duration",
			Buckets: LLMBuckets,
		},
		[]string{"collection"},
	)

	// RetrievalHits records how many hits each retrieval returned.
	RetrievalHits = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qest_retrieval_hits",
			Help:    "Hits per retrieval",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	// LLMRequestsTotal counts language-model calls by outcome.
	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qest_llm_requests_total",
			Help: "Language model requests",
		},
		[]string{"model", "status"},
	)
)

// Status label values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// All returns every collector defined by this package.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		SyncPointsTotal,
		SyncBatchesTotal,
		CollectionRecreationsTotal,
		RetrievalDuration,
		RetrievalHits,
		LLMRequestsTotal,
	}
}

// Register registers all collectors with reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range All() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
