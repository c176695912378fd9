package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/edna/pkg/artifact"
	"github.com/yumyai/edna/pkg/db"
	"github.com/yumyai/edna/pkg/embed"
	"github.com/yumyai/edna/pkg/pipeline"
	"github.com/yumyai/edna/pkg/taxonomy"
)

type testServer struct {
	svc    *pipeline.Service
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	edb, err := db.Open(ctx, filepath.Join(t.TempDir(), "edna.db"))
	require.NoError(t, err)
	t.Cleanup(func() { edb.Close() })

	kmer, err := embed.NewKmer()
	require.NoError(t, err)
	store := artifact.NewMemoryStore()

	svc, err := pipeline.New(pipeline.Deps{
		DB:       edb,
		Store:    store,
		Embedder: kmer,
		Resolver: taxonomy.NewResolver(taxonomy.DefaultConfig(), nil, store, nil),
	}, pipeline.Options{Method: taxonomy.MethodLocal}, nil)
	require.NoError(t, err)

	return &testServer{svc: svc, router: NewRouter(NewAppContext(svc, nil), 0)}
}

func (s *testServer) do(t *testing.T, method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) postJSON(t *testing.T, path, body string) *httptest.ResponseRecorder {
	return s.do(t, http.MethodPost, path, "application/json", strings.NewReader(body))
}

// waitJob waits for background jobs and returns the stored state of the one
// described by an accepted response.
func (s *testServer) waitJob(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var job map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	s.svc.Jobs().Wait()

	got := s.do(t, http.MethodGet, "/api/v1/jobs/"+job["job_id"].(string), "", nil)
	require.Equal(t, http.StatusOK, got.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &out))
	return out
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// communityFasta has one AT-only and one GC-only group, which cluster apart.
func communityFasta(perGroup int) string {
	rng := rand.New(rand.NewPCG(3, 5))
	draw := func(alphabet string) string {
		b := make([]byte, 150)
		for i := range b {
			b[i] = alphabet[rng.IntN(len(alphabet))]
		}
		return string(b)
	}
	var sb strings.Builder
	for i := 0; i < perGroup; i++ {
		fmt.Fprintf(&sb, ">at_%02d sample A\n%s\n", i, draw("AT"))
	}
	for i := 0; i < perGroup; i++ {
		fmt.Fprintf(&sb, ">gc_%02d sample B\n%s\n", i, draw("GC"))
	}
	return sb.String()
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	body := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", body.Health)
	assert.Equal(t, 0, body.Sequences)
}

func TestUploadAndBrowseSequences(t *testing.T) {
	s := newTestServer(t)

	fasta := ">good\n" + strings.Repeat("ACGT", 20) + "\n>short\nACGT\n"
	job := s.waitJob(t, s.do(t, http.MethodPost, "/api/v1/sequences/upload", "text/plain", strings.NewReader(fasta)))
	assert.Equal(t, "completed", job["status"])
	result := job["result"].(map[string]any)
	assert.EqualValues(t, 1, result["ingest"].(map[string]any)["accepted"])
	assert.EqualValues(t, 1, result["embedding"].(map[string]any)["embedded"])

	list := decode[map[string]any](t, s.do(t, http.MethodGet, "/api/v1/sequences?limit=10", "", nil))
	assert.EqualValues(t, 1, list["total"])
	require.Len(t, list["sequences"], 1)

	rec := s.do(t, http.MethodGet, "/api/v1/sequences/good", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	seq := decode[map[string]any](t, rec)
	assert.EqualValues(t, 80, seq["length"])
	assert.NotContains(t, seq, "embedding")

	seq = decode[map[string]any](t, s.do(t, http.MethodGet, "/api/v1/sequences/good?embedding=true", "", nil))
	assert.Contains(t, seq, "embedding")

	rec = s.do(t, http.MethodGet, "/api/v1/sequences/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	errBody := decode[ErrorResponse](t, rec)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), errBody.RequestID)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/sequences?limit=-1", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/sequences?limit=5000", "", nil).Code)
}

func TestUploadMultipart(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "reads.fasta")
	require.NoError(t, err)
	_, err = part.Write([]byte(">m1\n" + strings.Repeat("GATTACA", 10) + "\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	job := s.waitJob(t, s.do(t, http.MethodPost, "/api/v1/sequences/upload", mw.FormDataContentType(), &buf))
	assert.Equal(t, "completed", job["status"])

	rec := s.do(t, http.MethodGet, "/api/v1/sequences/m1", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUploadRejectsEmpty(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/sequences/upload", "text/plain", strings.NewReader("\n\n"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "empty")
}

func TestValidateSequences(t *testing.T) {
	s := newTestServer(t)
	rec := s.postJSON(t, "/api/v1/sequences/validate", fmt.Sprintf(`{"sequences":[%q,"ACGT"]}`, strings.Repeat("GC", 40)))
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode[[]ValidationResult](t, rec)
	require.Len(t, out, 2)
	assert.True(t, out[0].Valid)
	assert.Equal(t, 1.0, out[0].Stats.GCContent)
	assert.False(t, out[1].Valid)
	assert.Contains(t, out[1].Reason, "too short")

	assert.Equal(t, http.StatusBadRequest, s.postJSON(t, "/api/v1/sequences/validate", `{"sequences":[]}`).Code)
}

func TestClusteringFlow(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/clusters", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	job := s.waitJob(t, s.do(t, http.MethodPost, "/api/v1/sequences/upload", "text/plain", strings.NewReader(communityFasta(10))))
	require.Equal(t, "completed", job["status"])

	assert.Equal(t, http.StatusBadRequest, s.postJSON(t, "/api/v1/cluster", `{"min_cluster_size":1}`).Code)

	job = s.waitJob(t, s.postJSON(t, "/api/v1/cluster", `{"min_cluster_size":4,"min_samples":2}`))
	require.Equal(t, "completed", job["status"], job["error"])
	run := job["result"].(map[string]any)
	assert.EqualValues(t, 4, run["min_cluster_size"])
	nClusters := int(run["n_clusters"].(float64))
	require.GreaterOrEqual(t, nClusters, 1)

	list := decode[map[string]any](t, s.do(t, http.MethodGet, "/api/v1/clusters", "", nil))
	assert.Equal(t, run["run_id"], list["run"].(map[string]any)["run_id"])
	assert.Len(t, list["clusters"], nClusters)

	rec = s.do(t, http.MethodGet, "/api/v1/clusters?format=html", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Clustering run")

	rec = s.do(t, http.MethodGet, "/api/v1/clusters/0", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<h1>Cluster 0</h1>")

	detail := decode[map[string]any](t, s.do(t, http.MethodGet, "/api/v1/clusters/0?format=json", "", nil))
	members := detail["members"].([]any)
	require.NotEmpty(t, members)

	rec = s.do(t, http.MethodGet, "/api/v1/clusters/0/fasta", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, len(members), strings.Count(rec.Body.String(), ">"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "cluster_0.fna")

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/clusters/999", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/clusters/abc", "", nil).Code)

	div := decode[map[string]any](t, s.do(t, http.MethodGet, "/api/v1/metrics/diversity", "", nil))
	assert.Equal(t, run["run_id"], div["run_id"])
	assert.EqualValues(t, 20, div["metrics"].(map[string]any)["total_sequences"])
}

func TestSearch(t *testing.T) {
	s := newTestServer(t)

	rec := s.postJSON(t, "/api/v1/search", `{"sequence":"`+strings.Repeat("ACGT", 20)+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode[map[string]any](t, rec)["count"])

	assert.Equal(t, http.StatusBadRequest, s.postJSON(t, "/api/v1/search", `{"k":3}`).Code)
	assert.Equal(t, http.StatusNotFound, s.postJSON(t, "/api/v1/search", `{"sequence_id":"ghost"}`).Code)

	s.waitJob(t, s.do(t, http.MethodPost, "/api/v1/sequences/upload", "text/plain", strings.NewReader(communityFasta(5))))
	job := s.waitJob(t, s.do(t, http.MethodPost, "/api/v1/index/rebuild", "", nil))
	assert.EqualValues(t, 10, job["result"].(map[string]any)["index_size"])

	out := decode[map[string]any](t, s.postJSON(t, "/api/v1/search", `{"sequence_id":"at_01","k":2}`))
	results := out["results"].([]any)
	require.Len(t, results, 2)
	assert.Equal(t, "at_01", results[0].(map[string]any)["sequence_id"])
}

func TestTaxonomyEndpoints(t *testing.T) {
	s := newTestServer(t)
	ref := strings.Repeat("AAAATTTTCCCCGGGG", 5)

	assert.Equal(t, http.StatusBadRequest, s.postJSON(t, "/api/v1/taxonomy/references", `{"sequence":"`+ref+`","taxonomy":{}}`).Code)

	rec := s.postJSON(t, "/api/v1/taxonomy/references", `{"sequence":"`+ref+`","category":"marine_fish","reference_id":"r1","taxonomy":{"genus":"Gadus","species":"Gadus morhua"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "r1", decode[map[string]string](t, rec)["reference_id"])

	stats := decode[taxonomy.Stats](t, s.do(t, http.MethodGet, "/api/v1/taxonomy/stats", "", nil))
	assert.Equal(t, 1, stats.TotalReferenceSequences)
	assert.Contains(t, stats.Categories, "marine_fish")

	rec = s.postJSON(t, "/api/v1/taxonomy/assign", `{"sequence":"`+ref+`","method":"local"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	a := decode[taxonomy.Assignment](t, rec)
	assert.Equal(t, "Gadus", a.Taxonomy["genus"])
	assert.Equal(t, 1.0, a.Confidence)

	assert.Equal(t, http.StatusBadRequest, s.postJSON(t, "/api/v1/taxonomy/assign", `{"sequence":"ACGT","method":"magic"}`).Code)

	rec = s.postJSON(t, "/api/v1/taxonomy/assign/batch", `{"sequences":["`+ref+`","`+strings.Repeat("T", 80)+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	batch := decode[map[string]any](t, rec)
	assert.EqualValues(t, 2, batch["count"])

	assert.Equal(t, http.StatusBadRequest, s.postJSON(t, "/api/v1/taxonomy/assign/batch", `{"sequences":["A"],"sequence_ids":["x"]}`).Code)

	// stored sequences go through a job and are written back
	s.waitJob(t, s.do(t, http.MethodPost, "/api/v1/sequences/upload", "text/plain", strings.NewReader(">cod\n"+ref+"\n")))
	job := s.waitJob(t, s.postJSON(t, "/api/v1/taxonomy/assign/batch", `{"sequence_ids":["cod","missing"]}`))
	require.Equal(t, "completed", job["status"])
	results := job["result"].([]any)
	require.Len(t, results, 2)
	assert.Contains(t, results[1].(map[string]any)["error"], "missing")

	seq := decode[map[string]any](t, s.do(t, http.MethodGet, "/api/v1/sequences/cod", "", nil))
	assert.Equal(t, "Gadus", seq["taxonomy"].(map[string]any)["genus"])
}

func TestAnalysisJobAndPages(t *testing.T) {
	s := newTestServer(t)
	s.waitJob(t, s.do(t, http.MethodPost, "/api/v1/sequences/upload", "text/plain", strings.NewReader(communityFasta(8))))

	rec := s.do(t, http.MethodPost, "/api/v1/analysis", "", nil)
	job := s.waitJob(t, rec)
	require.Equal(t, "completed", job["status"], job["error"])
	report := job["result"].(map[string]any)
	assert.EqualValues(t, 16, report["index_size"])
	assert.EqualValues(t, 16, report["taxonomy_assigned"])

	id := job["job_id"].(string)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+id, nil)
	req.Header.Set("Accept", "text/html")
	page := httptest.NewRecorder()
	s.router.ServeHTTP(page, req)
	require.Equal(t, http.StatusOK, page.Code)
	assert.Contains(t, page.Body.String(), "completed (100%)")
	assert.NotContains(t, page.Body.String(), "setTimeout")

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/jobs/not-a-job", "", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/api/v1/health", "", nil)
	s.do(t, http.MethodGet, "/api/v1/sequences/x", "", nil)

	rec := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `edna_http_requests_total{method="GET",route="/api/v1/health",status="200"} 1`)
	assert.Contains(t, body, `route="/api/v1/sequences/{id}",status="404"`)
}
