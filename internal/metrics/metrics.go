// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesFetchedTotal      prometheus.Counter
	postsDiscoveredTotal   prometheus.Counter
	producersAbortedTotal  prometheus.Counter
	sessionRefreshesTotal  prometheus.Counter
	mediaIngestedTotal     *prometheus.CounterVec
	mediaFailedTotal       *prometheus.CounterVec
	bytesDownloadedTotal   prometheus.Counter
	pipelineActiveWorkers  prometheus.Gauge

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvester_pages_fetched_total",
			Help: "Total feed pages fetched across all producers.",
		})

		postsDiscoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvester_posts_discovered_total",
			Help: "Total new posts persisted during crawls.",
		})

		producersAbortedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvester_producers_aborted_total",
			Help: "Producer crawls aborted after retry or refresh budgets ran out.",
		})

		sessionRefreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvester_session_refreshes_total",
			Help: "Credential refreshes triggered by session-expired failures.",
		})

		mediaIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_media_ingested_total",
			Help: "Media items downloaded, transcoded and uploaded, labeled by kind.",
		}, []string{"kind"})

		mediaFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_media_failed_total",
			Help: "Media items abandoned after download, transcode or upload failures.",
		}, []string{"kind"})

		bytesDownloadedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvester_bytes_downloaded_total",
			Help: "Raw bytes downloaded from origin media URLs.",
		})

		pipelineActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_pipeline_active_workers",
			Help: "Ingestion pipeline items currently in flight.",
		})

		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_http_requests_total",
			Help: "HTTP requests served by the ops endpoint, labeled by path and status.",
		}, []string{"path", "status"})

		httpRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_http_request_duration_seconds",
			Help:    "HTTP request latency for the ops endpoint.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"})
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the fetched-page counter.
func ObservePage() {
	if pagesFetchedTotal != nil {
		pagesFetchedTotal.Inc()
	}
}

// ObservePostsDiscovered adds newly created posts to the counter.
func ObservePostsDiscovered(n int) {
	if postsDiscoveredTotal != nil && n > 0 {
		postsDiscoveredTotal.Add(float64(n))
	}
}

// ObserveProducerAborted increments the aborted-producer counter.
func ObserveProducerAborted() {
	if producersAbortedTotal != nil {
		producersAbortedTotal.Inc()
	}
}

// ObserveSessionRefresh increments the refresh counter.
func ObserveSessionRefresh() {
	if sessionRefreshesTotal != nil {
		sessionRefreshesTotal.Inc()
	}
}

// ObserveMediaIngested increments the ingested counter for the given kind.
func ObserveMediaIngested(kind string) {
	if mediaIngestedTotal != nil {
		mediaIngestedTotal.WithLabelValues(kind).Inc()
	}
}

// ObserveMediaFailed increments the failed counter for the given kind.
func ObserveMediaFailed(kind string) {
	if mediaFailedTotal != nil {
		mediaFailedTotal.WithLabelValues(kind).Inc()
	}
}

// ObserveDownloadBytes adds origin bytes to the download counter.
func ObserveDownloadBytes(n int) {
	if bytesDownloadedTotal != nil && n > 0 {
		bytesDownloadedTotal.Add(float64(n))
	}
}

// IncActiveWorkers increments the in-flight item gauge.
func IncActiveWorkers() {
	if pipelineActiveWorkers != nil {
		pipelineActiveWorkers.Inc()
	}
}

// DecActiveWorkers decrements the in-flight item gauge.
func DecActiveWorkers() {
	if pipelineActiveWorkers != nil {
		pipelineActiveWorkers.Dec()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency per path.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		if httpRequestsTotal != nil {
			httpRequestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(rec.status)).Inc()
		}
		if httpRequestDurationSeconds != nil {
			httpRequestDurationSeconds.WithLabelValues(r.URL.Path).Observe(time.Since(start).Seconds())
		}
	})
}
