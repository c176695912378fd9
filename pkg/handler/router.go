package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yumyai/edna/pkg/middle"
)

// NewRouter wires every route. slow is the threshold for slow-request warnings.
func NewRouter(app *AppContext, slow time.Duration) http.Handler {
	r := chi.NewRouter()
	metrics := app.Service.Metrics()

	r.Use(middle.RequestIDMiddleware(app.Log))
	r.Use(middle.LoggingMiddleware(app.Log, slow))
	r.Use(middle.MetricsMiddleware(metrics))

	r.Get("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", app.HealthCheck)

		r.Route("/sequences", func(r chi.Router) {
			r.Post("/upload", app.UploadSequences)
			r.Post("/validate", app.ValidateSequences)
			r.Get("/", app.ListSequences)
			r.Get("/{id}", app.GetSequence)
		})

		r.Post("/cluster", app.StartClustering)
		r.Route("/clusters", func(r chi.Router) {
			r.Get("/", app.ListClusters)
			r.Get("/{id}", app.ClusterPage)
			r.Get("/{id}/fasta", app.ClusterFasta)
		})

		r.Post("/index/rebuild", app.RebuildIndex)
		r.Post("/search", app.Search)

		r.Route("/taxonomy", func(r chi.Router) {
			r.Post("/assign", app.AssignTaxonomy)
			r.Post("/assign/batch", app.AssignTaxonomyBatch)
			r.Post("/references", app.AddReference)
			r.Get("/stats", app.TaxonomyStats)
		})

		r.Get("/metrics/diversity", app.Diversity)
		r.Post("/analysis", app.StartAnalysis)
		r.Get("/jobs/{id}", app.GetJob)
	})

	return r
}
