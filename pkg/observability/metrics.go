// Package observability holds the prometheus metrics of the service. Each
// Collector owns its registry, so tests can build as many as they like.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	SequencesIngested *prometheus.CounterVec
	Embeddings        *prometheus.CounterVec

	ClusterRuns     *prometheus.CounterVec
	ClusterDuration prometheus.Histogram
	ClustersFound   prometheus.Gauge
	NoiseRatio      prometheus.Gauge

	IndexSize      prometheus.Gauge
	SearchRequests prometheus.Counter

	TaxonomyAssignments *prometheus.CounterVec
	ExternalFailures    prometheus.Counter

	Jobs *prometheus.CounterVec
}

func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		SequencesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequences_ingested_total",
			Help:      "Sequences seen at ingestion, by outcome",
		}, []string{"outcome"}),
		Embeddings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embeddings_total",
			Help:      "Embedding attempts, by outcome",
		}, []string{"outcome"}),
		ClusterRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_runs_total",
			Help:      "Clustering runs, by outcome",
		}, []string{"outcome"}),
		ClusterDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cluster_duration_seconds",
			Help:      "Clustering run duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		ClustersFound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clusters",
			Help:      "Clusters found by the latest run",
		}),
		NoiseRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cluster_noise_ratio",
			Help:      "Noise ratio of the latest run",
		}),
		IndexSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_vectors",
			Help:      "Vectors in the current similarity index",
		}),
		SearchRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "similarity_searches_total",
			Help:      "Similarity searches served",
		}),
		TaxonomyAssignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "taxonomy_assignments_total",
			Help:      "Taxonomy assignments, by method and outcome",
		}, []string{"method", "outcome"}),
		ExternalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_search_failures_total",
			Help:      "Failed external reference searches",
		}),
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Background jobs finished, by type and status",
		}, []string{"type", "status"}),
	}

	c.registry.MustRegister(
		c.HTTPRequests, c.HTTPDuration,
		c.SequencesIngested, c.Embeddings,
		c.ClusterRuns, c.ClusterDuration, c.ClustersFound, c.NoiseRatio,
		c.IndexSize, c.SearchRequests,
		c.TaxonomyAssignments, c.ExternalFailures,
		c.Jobs,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves this collector's registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (c *Collector) RecordClusterRun(nClusters int, noiseRatio float64, d time.Duration) {
	c.ClusterRuns.WithLabelValues("success").Inc()
	c.ClusterDuration.Observe(d.Seconds())
	c.ClustersFound.Set(float64(nClusters))
	c.NoiseRatio.Set(noiseRatio)
}

func (c *Collector) RecordTaxonomy(method string, failed bool) {
	outcome := "success"
	if failed {
		outcome = "error"
	}
	c.TaxonomyAssignments.WithLabelValues(method, outcome).Inc()
}
