package handler

import (
	"context"
	"net/http"

	"github.com/yumyai/edna/pkg/handler/request"
	"github.com/yumyai/edna/pkg/pipeline"
)

// RebuildIndex queues a rebuild of the similarity index.
func (app *AppContext) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	svc := app.Service
	job := svc.Jobs().Submit(context.WithoutCancel(r.Context()), pipeline.JobIndex, func(ctx context.Context, progress pipeline.Progress) (any, error) {
		n, err := svc.RebuildIndex(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int{"index_size": n}, nil
	})
	writeJSON(w, http.StatusAccepted, job)
}

// Search returns the k most similar indexed sequences. No index, or a query
// that cannot be embedded, gives an empty list.
func (app *AppContext) Search(w http.ResponseWriter, r *http.Request) {
	var req request.SearchRequest
	if err := request.Decode(r, app.Validate, &req, false); err != nil {
		app.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	matches, err := app.Service.SearchSimilar(r.Context(), pipeline.SearchQuery{
		SequenceID: req.SequenceID,
		Sequence:   req.Sequence,
		K:          req.K,
	})
	if err != nil {
		app.writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": matches, "count": len(matches)})
}
