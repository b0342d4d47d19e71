// Package metrics exposes Prometheus instrumentation for the HTTP surface
// and for every storage gateway call.
package metrics

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/arencloud/bucketwarden/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	gatewayCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_gateway_calls_total",
			Help: "Storage gateway calls by operation and outcome kind",
		},
		[]string{"op", "kind"},
	)

	gatewayCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_gateway_call_duration_seconds",
			Help:    "Storage gateway call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	deletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucket_deletions_total",
			Help: "Bucket delete requests by mode and outcome kind",
		},
		[]string{"mode", "kind"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// HTTP is a chi middleware that records HTTP request metrics.
func HTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(ww, r)

		// chi route pattern keeps bucket names out of the label set
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps streaming responses live through the wrapper.
func (w *statusWriter) Flush() {
	if fl, ok := w.ResponseWriter.(http.Flusher); ok {
		fl.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// ObserveDeletion counts one orchestrated delete. kind is empty on success.
func ObserveDeletion(forced bool, kind storage.Kind) {
	mode := "plain"
	if forced {
		mode = "forced"
	}
	outcome := string(kind)
	if outcome == "" {
		outcome = "ok"
	}
	deletionsTotal.WithLabelValues(mode, outcome).Inc()
}

// Gateway wraps a storage.Gateway and records every call.
type Gateway struct {
	next storage.Gateway
}

var _ storage.Gateway = (*Gateway)(nil)

func Instrument(gw storage.Gateway) *Gateway { return &Gateway{next: gw} }

func observe(op string, start time.Time, err error) {
	kind := "ok"
	if err != nil {
		kind = string(storage.KindOf(err))
	}
	gatewayCallsTotal.WithLabelValues(op, kind).Inc()
	gatewayCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (g *Gateway) ListResources(ctx context.Context) ([]storage.Resource, error) {
	start := time.Now()
	out, err := g.next.ListResources(ctx)
	observe("list_resources", start, err)
	return out, err
}

func (g *Gateway) CreateResource(ctx context.Context, name, region string) error {
	start := time.Now()
	err := g.next.CreateResource(ctx, name, region)
	observe("create_resource", start, err)
	return err
}

func (g *Gateway) DeleteResource(ctx context.Context, name string) error {
	start := time.Now()
	err := g.next.DeleteResource(ctx, name)
	observe("delete_resource", start, err)
	return err
}

func (g *Gateway) ListItems(ctx context.Context, bucket string, opts storage.ListOptions) (storage.Page, error) {
	start := time.Now()
	p, err := g.next.ListItems(ctx, bucket, opts)
	observe("list_items", start, err)
	return p, err
}

func (g *Gateway) PutItem(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string, metadata map[string]string) (storage.PutResult, error) {
	start := time.Now()
	res, err := g.next.PutItem(ctx, bucket, key, body, size, contentType, metadata)
	observe("put_item", start, err)
	return res, err
}

func (g *Gateway) GetItem(ctx context.Context, bucket, key string) (*storage.ItemReader, error) {
	start := time.Now()
	rd, err := g.next.GetItem(ctx, bucket, key)
	observe("get_item", start, err)
	return rd, err
}

func (g *Gateway) HeadItem(ctx context.Context, bucket, key string) (storage.Item, error) {
	start := time.Now()
	it, err := g.next.HeadItem(ctx, bucket, key)
	observe("head_item", start, err)
	return it, err
}

func (g *Gateway) DeleteItem(ctx context.Context, bucket, key string) error {
	start := time.Now()
	err := g.next.DeleteItem(ctx, bucket, key)
	observe("delete_item", start, err)
	return err
}

func (g *Gateway) Presign(ctx context.Context, bucket, key string, mode storage.PresignMode) (string, error) {
	start := time.Now()
	u, err := g.next.Presign(ctx, bucket, key, mode)
	observe("presign", start, err)
	return u, err
}

// ListDependents never fails; calls are recorded with the ok kind.
func (g *Gateway) ListDependents(ctx context.Context, bucket, accountID string) []storage.Attachment {
	start := time.Now()
	out := g.next.ListDependents(ctx, bucket, accountID)
	observe("list_dependents", start, nil)
	return out
}

func (g *Gateway) DeleteDependent(ctx context.Context, name, accountID string) error {
	start := time.Now()
	err := g.next.DeleteDependent(ctx, name, accountID)
	observe("delete_dependent", start, err)
	return err
}
