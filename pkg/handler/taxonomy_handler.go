package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/yumyai/edna/pkg/artifact"
	"github.com/yumyai/edna/pkg/handler/request"
	"github.com/yumyai/edna/pkg/model"
	"github.com/yumyai/edna/pkg/pipeline"
	"github.com/yumyai/edna/pkg/taxonomy"
)

// AssignTaxonomy resolves one raw sequence. Resolution failures are reported
// inside the assignment, not as an HTTP error.
func (app *AppContext) AssignTaxonomy(w http.ResponseWriter, r *http.Request) {
	var req request.TaxonomyRequest
	if err := request.Decode(r, app.Validate, &req, false); err != nil {
		app.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	// validated by the request tags; empty means the configured default
	method := taxonomy.Method(req.Method)
	out := app.Service.AssignSequences(r.Context(), []string{req.Sequence}, method)
	writeJSON(w, http.StatusOK, out[0])
}

// AssignTaxonomyBatch resolves raw sequences inline. Stored sequences, by ID
// or all of them when the body names none, are resolved in a background job
// and the results are stored on the records.
func (app *AppContext) AssignTaxonomyBatch(w http.ResponseWriter, r *http.Request) {
	var req request.TaxonomyBatchRequest
	if err := request.Decode(r, app.Validate, &req, true); err != nil {
		app.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if len(req.Sequences) > 0 && len(req.SequenceIDs) > 0 {
		app.writeError(w, r, http.StatusBadRequest, errors.New("give either sequences or sequence_ids, not both"))
		return
	}
	method := taxonomy.Method(req.Method)
	svc := app.Service

	if len(req.Sequences) > 0 {
		out := svc.AssignSequences(r.Context(), req.Sequences, method)
		writeJSON(w, http.StatusOK, map[string]any{"assignments": out, "count": len(out)})
		return
	}

	ids := req.SequenceIDs
	job := svc.Jobs().Submit(context.WithoutCancel(r.Context()), pipeline.JobTaxonomy, func(ctx context.Context, progress pipeline.Progress) (any, error) {
		progress(0.1, "resolving taxonomy")
		return svc.AssignTaxonomy(ctx, ids, method)
	})
	writeJSON(w, http.StatusAccepted, job)
}

// AddReference stores a new reference sequence. When the database cannot be
// persisted the entry is still usable until restart; that case answers 500
// with the new ID so the caller can retry.
func (app *AppContext) AddReference(w http.ResponseWriter, r *http.Request) {
	var req request.ReferenceRequest
	if err := request.Decode(r, app.Validate, &req, false); err != nil {
		app.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	id, err := app.Service.Resolver().AddReferenceSequence(r.Context(), req.Sequence, model.Taxonomy(req.Taxonomy), req.Category, req.ReferenceID)
	if err != nil {
		var perr *artifact.PersistenceError
		if errors.As(err, &perr) {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"reference_id": id, "error": err.Error()})
			return
		}
		app.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"reference_id": id, "category": req.Category})
}

func (app *AppContext) TaxonomyStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, app.Service.Resolver().Stats())
}
