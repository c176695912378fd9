package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/yumyai/edna/pkg/handler/request"
	"github.com/yumyai/edna/pkg/pipeline"
	"github.com/yumyai/edna/pkg/sequence"
)

// MaxUploadBytes caps FASTA uploads.
const MaxUploadBytes = 256 << 20

// UploadSequences accepts FASTA either as a multipart "file" field or as the
// raw request body. Parsing happens before the job is queued, so a malformed
// upload is rejected with 400. Ingestion and embedding run as one job.
func (app *AppContext) UploadSequences(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)

	var body io.Reader = r.Body
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			app.writeError(w, r, http.StatusBadRequest, fmt.Errorf("reading upload: %w", err))
			return
		}
		defer file.Close()
		body = file
	}

	records, err := sequence.ParseFASTA(body)
	if err != nil {
		app.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	svc := app.Service
	job := svc.Jobs().Submit(context.WithoutCancel(r.Context()), pipeline.JobIngest, func(ctx context.Context, progress pipeline.Progress) (any, error) {
		progress(0.1, fmt.Sprintf("ingesting %d records", len(records)))
		ingest, err := svc.Ingest(ctx, records)
		if err != nil {
			return nil, err
		}
		progress(0.5, "embedding")
		embedded, err := svc.EmbedPending(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"ingest": ingest, "embedding": embedded}, nil
	})
	writeJSON(w, http.StatusAccepted, job)
}

type ValidationResult struct {
	Index  int                  `json:"index"`
	Valid  bool                 `json:"valid"`
	Reason string               `json:"reason,omitempty"`
	Stats  sequence.Composition `json:"stats"`
}

// ValidateSequences checks sequences against the normalizer without storing them.
func (app *AppContext) ValidateSequences(w http.ResponseWriter, r *http.Request) {
	var req request.ValidateRequest
	if err := request.Decode(r, app.Validate, &req, false); err != nil {
		app.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	norm := app.Service.Normalizer()
	out := make([]ValidationResult, len(req.Sequences))
	for i, s := range req.Sequences {
		out[i] = ValidationResult{Index: i, Valid: true, Stats: sequence.Stats(s)}
		if err := norm.Validate(s); err != nil {
			out[i].Valid = false
			var verr *sequence.ValidationError
			if errors.As(err, &verr) {
				out[i].Reason = verr.Reason
			} else {
				out[i].Reason = err.Error()
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s need to be a non-negative integer", name)
	}
	return n, nil
}

// ListSequences pages through stored sequences with ?limit= and ?offset=.
func (app *AppContext) ListSequences(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err == nil && (limit == 0 || limit > 1000) {
		err = errors.New("limit must be between 1 and 1000")
	}
	offset, err2 := queryInt(r, "offset", 0)
	if err = errors.Join(err, err2); err != nil {
		app.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	records, err := app.Service.DB().ListSequences(ctx, limit, offset)
	if err != nil {
		app.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	total, err := app.Service.DB().CountSequences(ctx)
	if err != nil {
		app.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	for _, rec := range records {
		rec.Embedding = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":     total,
		"limit":     limit,
		"offset":    offset,
		"sequences": records,
	})
}

// GetSequence returns one record. The embedding is omitted unless
// ?embedding=true.
func (app *AppContext) GetSequence(w http.ResponseWriter, r *http.Request) {
	rec, err := app.Service.DB().GetSequence(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		app.writeError(w, r, statusFor(err), err)
		return
	}
	if r.URL.Query().Get("embedding") != "true" {
		rec.Embedding = nil
	}
	writeJSON(w, http.StatusOK, rec)
}
