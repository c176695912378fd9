package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yumyai/edna/pkg/cluster"
	"github.com/yumyai/edna/pkg/db"
	"github.com/yumyai/edna/pkg/diversity"
	"github.com/yumyai/edna/pkg/handler/request"
	"github.com/yumyai/edna/pkg/model"
	"github.com/yumyai/edna/pkg/pipeline"
	"github.com/yumyai/edna/pkg/render"
)

// StartClustering queues a clustering run. Parameters left at zero use the
// clusterer's defaults.
func (app *AppContext) StartClustering(w http.ResponseWriter, r *http.Request) {
	var req request.ClusterRequest
	if err := request.Decode(r, app.Validate, &req, true); err != nil {
		app.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	var params *cluster.Params
	if req.MinClusterSize != 0 || req.MinSamples != 0 || req.AllowSingleCluster {
		p := cluster.DefaultParams()
		if req.MinClusterSize != 0 {
			p.MinClusterSize = req.MinClusterSize
		}
		if req.MinSamples != 0 {
			p.MinSamples = req.MinSamples
		}
		p.AllowSingleCluster = req.AllowSingleCluster
		if err := p.Validate(); err != nil {
			app.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		params = &p
	}

	svc := app.Service
	job := svc.Jobs().Submit(context.WithoutCancel(r.Context()), pipeline.JobCluster, func(ctx context.Context, progress pipeline.Progress) (any, error) {
		progress(0.1, "clustering")
		report, err := svc.RunClustering(ctx, params)
		if err != nil {
			return nil, err
		}
		return report.Run, nil
	})
	writeJSON(w, http.StatusAccepted, job)
}

// ListClusters shows the latest run and its clusters, as JSON or as a page.
func (app *AppContext) ListClusters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	edb := app.Service.DB()

	run, err := edb.LatestClusterRun(ctx)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			err = errors.New("no clustering run yet")
		}
		app.writeError(w, r, statusFor(err), err)
		return
	}
	clusters, err := edb.ListClusters(ctx, run.ID)
	if err != nil {
		app.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	if wantsHTML(r) {
		var metrics *diversity.Metrics
		if rec, err := edb.LatestDiversity(ctx); err == nil && rec.RunID == run.ID {
			metrics = &rec.Metrics
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := render.RenderRunPage(w, run, clusters, metrics); err != nil {
			app.writeError(w, r, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "clusters": clusters})
}

// loadCluster resolves {id} against the latest run.
func (app *AppContext) loadCluster(r *http.Request) (*model.Cluster, []*model.SequenceRecord, int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		return nil, nil, http.StatusBadRequest, fmt.Errorf("cluster id need to be a non-negative integer")
	}
	ctx := r.Context()
	edb := app.Service.DB()

	run, err := edb.LatestClusterRun(ctx)
	if err != nil {
		return nil, nil, statusFor(err), err
	}
	c, err := edb.GetCluster(ctx, run.ID, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			err = fmt.Errorf("cluster %d: %w", id, err)
		}
		return nil, nil, statusFor(err), err
	}
	members, err := edb.ClusterMembers(ctx, id)
	if err != nil {
		return nil, nil, http.StatusInternalServerError, err
	}
	return c, members, http.StatusOK, nil
}

// ClusterPage renders one cluster as HTML, or JSON with ?format=json.
func (app *AppContext) ClusterPage(w http.ResponseWriter, r *http.Request) {
	c, members, status, err := app.loadCluster(r)
	if err != nil {
		app.writeError(w, r, status, err)
		return
	}

	if r.URL.Query().Get("format") == "json" {
		ids := make([]string, len(members))
		for i, m := range members {
			ids[i] = m.ID
		}
		writeJSON(w, http.StatusOK, map[string]any{"cluster": c, "members": ids})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := render.RenderClusterPage(w, c, members); err != nil {
		app.writeError(w, r, http.StatusInternalServerError, err)
	}
}

// ClusterFasta streams the member sequences of one cluster.
func (app *AppContext) ClusterFasta(w http.ResponseWriter, r *http.Request) {
	c, members, status, err := app.loadCluster(r)
	if err != nil {
		app.writeError(w, r, status, err)
		return
	}
	w.Header().Set("Content-Type", "text/x-fasta; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="cluster_%d.fna"`, c.ID))
	if err := render.RenderClusterFasta(w, members); err != nil {
		app.Log.Warn("Writing cluster FASTA failed", zap.Int("cluster_id", c.ID), zap.Error(err))
	}
}
