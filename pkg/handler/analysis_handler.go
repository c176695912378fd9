package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yumyai/edna/pkg/db"
	"github.com/yumyai/edna/pkg/pipeline"
	"github.com/yumyai/edna/pkg/render"
)

// Diversity returns the latest stored metrics. With ?recompute=true, or when
// nothing is stored yet, they are computed first.
func (app *AppContext) Diversity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	svc := app.Service

	rec, err := svc.DB().LatestDiversity(ctx)
	if r.URL.Query().Get("recompute") == "true" || errors.Is(err, db.ErrNotFound) {
		rec, err = svc.ComputeDiversity(ctx)
	}
	if err != nil {
		app.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// StartAnalysis queues the full pipeline: embed, cluster, index, taxonomy and
// diversity.
func (app *AppContext) StartAnalysis(w http.ResponseWriter, r *http.Request) {
	svc := app.Service
	job := svc.Jobs().Submit(context.WithoutCancel(r.Context()), pipeline.JobAnalysis, func(ctx context.Context, progress pipeline.Progress) (any, error) {
		return svc.RunFullAnalysis(ctx, progress)
	})
	writeJSON(w, http.StatusAccepted, job)
}

// GetJob reports a job as JSON, or as a self-refreshing page for browsers.
func (app *AppContext) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := app.Service.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		app.writeError(w, r, statusFor(err), err)
		return
	}

	if wantsHTML(r) {
		finished := job.Status == string(pipeline.JobCompleted) || job.Status == string(pipeline.JobFailed)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		err := render.RenderJobPage(w, render.JobPageData{
			JobID:                  job.ID,
			JobType:                job.Type,
			Status:                 job.Status,
			Progress:               job.Progress,
			Message:                job.Message,
			Result:                 string(job.Result),
			ErrorMessage:           job.Error,
			ShouldRefresh:          !finished,
			RefreshIntervalSeconds: app.RefreshSeconds,
		})
		if err != nil {
			app.writeError(w, r, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, job)
}
