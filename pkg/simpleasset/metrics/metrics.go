// Package metrics provides Prometheus metrics for asset ingestion,
// negotiation, lifecycle sweeps and object store calls.
package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/simple-asset/pkg/simpleasset"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simpleasset_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "simpleasset_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Ingestion metrics
	ingestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simpleasset_ingest_total",
			Help: "Total number of ingestion attempts by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	ingestBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simpleasset_ingest_bytes_total",
			Help: "Total bytes stored by ingestion",
		},
		[]string{"source"},
	)

	// Negotiation metrics
	negotiationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simpleasset_negotiations_total",
			Help: "Total number of size/quality negotiations by output format and budget result",
		},
		[]string{"format", "budget"},
	)

	negotiationQuality = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "simpleasset_negotiation_quality",
			Help:    "Encode quality chosen by negotiation; lossless output is not observed",
			Buckets: []float64{20, 30, 40, 50, 60, 70, 85, 100},
		},
	)

	negotiationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "simpleasset_negotiation_duration_seconds",
			Help:    "Time spent decoding, resizing and encoding images",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Lifecycle metrics
	lifecycleObjectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simpleasset_lifecycle_objects_total",
			Help: "Objects processed by lifecycle operations by result",
		},
		[]string{"operation", "result"},
	)

	// Object store metrics
	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simpleasset_store_operations_total",
			Help: "Total number of object store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "simpleasset_store_operation_duration_seconds",
			Help:    "Object store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Outcome maps an ingestion error onto a low-cardinality label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, simpleasset.ErrSecurityViolation):
		return "security_violation"
	case errors.Is(err, simpleasset.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, simpleasset.ErrTooLarge):
		return "too_large"
	case errors.Is(err, simpleasset.ErrUndecodable):
		return "undecodable"
	case errors.Is(err, simpleasset.ErrTransientIO):
		return "transient_io"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}

// RecordIngest records one ingestion attempt.
func RecordIngest(source string, storedBytes int, err error) {
	ingestTotal.WithLabelValues(source, Outcome(err)).Inc()
	if err == nil && storedBytes > 0 {
		ingestBytes.WithLabelValues(source).Add(float64(storedBytes))
	}
}

// RecordNegotiation records the result of a size/quality negotiation.
func RecordNegotiation(asset *simpleasset.ImageAsset, duration time.Duration) {
	if asset == nil {
		return
	}
	budget := "within"
	if asset.OverBudget {
		budget = "over"
	}
	negotiationsTotal.WithLabelValues(string(asset.Format), budget).Inc()
	if asset.Quality > 0 {
		negotiationQuality.Observe(float64(asset.Quality))
	}
	negotiationDuration.Observe(duration.Seconds())
}

// RecordLifecycle records the per-object counts of a lifecycle report.
func RecordLifecycle(operation string, report *simpleasset.Report) {
	if report == nil {
		return
	}
	lifecycleObjectsTotal.WithLabelValues(operation, "succeeded").Add(float64(report.SucceededCount()))
	lifecycleObjectsTotal.WithLabelValues(operation, "failed").Add(float64(report.FailedCount()))
}

// RecordStoreOperation records an object store call.
func RecordStoreOperation(backend, operation string, duration time.Duration, err error) {
	storeOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	status := "success"
	if err != nil {
		status = "error"
	}
	storeOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics. Requests
// are labelled by chi route pattern so path parameters do not explode
// label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// InstrumentedStore decorates an ObjectStore with operation metrics.
type InstrumentedStore struct {
	next    simpleasset.ObjectStore
	backend string
}

// InstrumentStore wraps store so every call is timed and counted under
// the given backend label.
func InstrumentStore(store simpleasset.ObjectStore, backend string) *InstrumentedStore {
	return &InstrumentedStore{next: store, backend: backend}
}

func (s *InstrumentedStore) Upload(ctx context.Context, path string, reader io.Reader, opts simpleasset.UploadOptions) error {
	start := time.Now()
	err := s.next.Upload(ctx, path, reader, opts)
	RecordStoreOperation(s.backend, "upload", time.Since(start), err)
	return err
}

func (s *InstrumentedStore) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := s.next.Download(ctx, path)
	RecordStoreOperation(s.backend, "download", time.Since(start), err)
	return rc, err
}

func (s *InstrumentedStore) List(ctx context.Context, prefix string, opts simpleasset.ListOptions) ([]simpleasset.ObjectEntry, error) {
	start := time.Now()
	entries, err := s.next.List(ctx, prefix, opts)
	RecordStoreOperation(s.backend, "list", time.Since(start), err)
	return entries, err
}

func (s *InstrumentedStore) Remove(ctx context.Context, paths []string) error {
	start := time.Now()
	err := s.next.Remove(ctx, paths)
	RecordStoreOperation(s.backend, "remove", time.Since(start), err)
	return err
}

// CopyObject forwards to the wrapped store when it supports server-side
// copies and returns errors.ErrUnsupported otherwise.
func (s *InstrumentedStore) CopyObject(ctx context.Context, srcPath, dstPath string) error {
	copier, ok := s.next.(simpleasset.ServerSideCopier)
	if !ok {
		return errors.ErrUnsupported
	}
	start := time.Now()
	err := copier.CopyObject(ctx, srcPath, dstPath)
	RecordStoreOperation(s.backend, "copy", time.Since(start), err)
	return err
}

func (s *InstrumentedStore) PublicURL(path string) string {
	return s.next.PublicURL(path)
}
