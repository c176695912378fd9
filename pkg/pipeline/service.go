// Package pipeline wires the normalizer, embedder, clusterer, similarity
// index and taxonomy resolver around the record database. Every method runs
// synchronously; long operations go through the JobManager.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yumyai/edna/pkg/artifact"
	"github.com/yumyai/edna/pkg/cluster"
	"github.com/yumyai/edna/pkg/db"
	"github.com/yumyai/edna/pkg/diversity"
	"github.com/yumyai/edna/pkg/embed"
	"github.com/yumyai/edna/pkg/index"
	"github.com/yumyai/edna/pkg/model"
	"github.com/yumyai/edna/pkg/observability"
	"github.com/yumyai/edna/pkg/sequence"
	"github.com/yumyai/edna/pkg/taxonomy"
)

// Job types.
const (
	JobIngest    = "ingest"
	JobCluster   = "clustering"
	JobIndex     = "index_rebuild"
	JobTaxonomy  = "taxonomy"
	JobAnalysis  = "full_analysis"
	JobDiversity = "diversity"
)

// Deps are the collaborators of a Service. Metrics and Store may be nil.
type Deps struct {
	DB         *db.EDB
	Store      artifact.Store
	Normalizer sequence.Normalizer
	Embedder   embed.Embedder
	Clusterer  *cluster.Clusterer
	Searcher   *index.Searcher
	Resolver   *taxonomy.Resolver
	Metrics    *observability.Collector
}

type Options struct {
	IndexID  string
	ModelID  string
	DefaultK int
	Method   taxonomy.Method
}

type Service struct {
	db        *db.EDB
	store     artifact.Store
	norm      sequence.Normalizer
	embedder  embed.Embedder
	searcher  *index.Searcher
	resolver  *taxonomy.Resolver
	metrics   *observability.Collector
	jobs      *JobManager
	opts      Options
	log       *zap.Logger
	clusterMu sync.Mutex
	clusterer *cluster.Clusterer
}

func New(deps Deps, opts Options, log *zap.Logger) (*Service, error) {
	if deps.DB == nil || deps.Embedder == nil || deps.Resolver == nil {
		return nil, errors.New("pipeline: db, embedder and resolver are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Clusterer == nil {
		c, err := cluster.New(cluster.DefaultParams(), log.Named("cluster"))
		if err != nil {
			return nil, err
		}
		deps.Clusterer = c
	}
	if deps.Searcher == nil {
		deps.Searcher = index.NewSearcher(log.Named("index"))
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewCollector("edna")
	}
	if deps.Normalizer.MinLength == 0 && deps.Normalizer.MaxLength == 0 {
		deps.Normalizer = sequence.NewNormalizer()
	}
	if opts.IndexID == "" {
		opts.IndexID = "default"
	}
	if opts.ModelID == "" {
		opts.ModelID = "default"
	}
	if opts.DefaultK <= 0 {
		opts.DefaultK = 10
	}
	if opts.Method == "" {
		opts.Method = taxonomy.MethodAuto
	}

	s := &Service{
		db:        deps.DB,
		store:     deps.Store,
		norm:      deps.Normalizer,
		embedder:  deps.Embedder,
		clusterer: deps.Clusterer,
		searcher:  deps.Searcher,
		resolver:  deps.Resolver,
		metrics:   deps.Metrics,
		jobs:      NewJobManager(log.Named("jobs")),
		opts:      opts,
		log:       log,
	}
	s.jobs.OnChange(s.persistJob)
	return s, nil
}

func (s *Service) Jobs() *JobManager                 { return s.jobs }
func (s *Service) Metrics() *observability.Collector { return s.metrics }
func (s *Service) Resolver() *taxonomy.Resolver      { return s.resolver }
func (s *Service) DB() *db.EDB                       { return s.db }
func (s *Service) Normalizer() sequence.Normalizer   { return s.norm }
func (s *Service) Options() Options                  { return s.opts }

// Init loads persisted state: the reference database and the similarity
// index. Missing artifacts are not errors; the index is rebuilt from the
// database when it has embeddings.
func (s *Service) Init(ctx context.Context) error {
	if err := s.resolver.Load(ctx); err != nil {
		s.log.Warn("Reference database could not be loaded, using defaults", zap.Error(err))
	}
	if s.store == nil {
		return nil
	}
	if err := s.searcher.Load(ctx, s.store, s.opts.IndexID); err == nil {
		s.metrics.IndexSize.Set(float64(s.searcher.Len()))
		return nil
	} else if !errors.Is(err, artifact.ErrNotFound) {
		s.log.Warn("Stored similarity index could not be loaded", zap.Error(err))
	}
	if _, err := s.RebuildIndex(ctx); err != nil && !errors.Is(err, model.ErrNoValidInput) {
		return err
	}
	return nil
}

func (s *Service) persistJob(j Job) {
	rec := &db.JobRecord{
		ID:        j.ID,
		Type:      j.Type,
		Status:    string(j.Status),
		Progress:  j.Progress,
		Message:   j.Message,
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	if j.Result != nil {
		data, err := marshalResult(j.Result)
		if err != nil {
			s.log.Warn("Job result is not serializable", zap.String("job_id", j.ID), zap.Error(err))
		}
		rec.Result = data
	}
	if err := s.db.SaveJob(context.Background(), rec); err != nil {
		s.log.Warn("Failed to persist job", zap.String("job_id", j.ID), zap.Error(err))
	}
	if j.Finished() {
		s.metrics.Jobs.WithLabelValues(j.Type, string(j.Status)).Inc()
	}
}

// GetJob looks in memory first, then in the database for jobs from earlier
// processes.
func (s *Service) GetJob(ctx context.Context, id string) (*db.JobRecord, error) {
	if j, ok := s.jobs.GetJob(id); ok {
		data, _ := marshalResult(j.Result)
		return &db.JobRecord{
			ID: j.ID, Type: j.Type, Status: string(j.Status), Progress: j.Progress,
			Message: j.Message, Result: data, Error: j.Error,
			CreatedAt: j.CreatedAt, UpdatedAt: j.UpdatedAt,
		}, nil
	}
	return s.db.GetJob(ctx, id)
}

// Rejection is a record dropped at ingestion.
type Rejection struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

type IngestReport struct {
	Accepted int         `json:"accepted"`
	IDs      []string    `json:"ids"`
	Rejected []Rejection `json:"rejected"`
}

// Ingest validates and stores records. Invalid records are dropped with a
// warning and listed in the report; only storage errors fail the call.
func (s *Service) Ingest(ctx context.Context, records []sequence.Record) (*IngestReport, error) {
	report := &IngestReport{IDs: []string{}, Rejected: []Rejection{}}
	for _, r := range records {
		id := r.ID
		if id == "" {
			id = uuid.NewString()
		}
		rec, err := s.norm.NewRecord(id, r.Sequence)
		var verr *sequence.ValidationError
		if errors.As(err, &verr) {
			s.log.Warn("Dropping invalid sequence", zap.String("id", id), zap.String("reason", verr.Reason))
			report.Rejected = append(report.Rejected, Rejection{ID: id, Reason: verr.Reason})
			s.metrics.SequencesIngested.WithLabelValues("rejected").Inc()
			continue
		}
		if err != nil {
			return report, err
		}
		if err := s.db.UpsertSequence(ctx, rec); err != nil {
			return report, err
		}
		report.Accepted++
		report.IDs = append(report.IDs, id)
		s.metrics.SequencesIngested.WithLabelValues("accepted").Inc()
	}
	s.log.Info("Ingestion finished",
		zap.Int("accepted", report.Accepted),
		zap.Int("rejected", len(report.Rejected)),
	)
	return report, nil
}

type EmbedReport struct {
	Embedded int `json:"embedded"`
	Missing  int `json:"missing"`
}

// EmbedPending embeds every stored sequence that has no embedding yet.
func (s *Service) EmbedPending(ctx context.Context) (*EmbedReport, error) {
	pending, err := s.db.ListUnembedded(ctx)
	if err != nil {
		return nil, err
	}
	seqs := make([]string, len(pending))
	for i, rec := range pending {
		seqs[i] = rec.CleanedData
	}
	vectors := embed.EmbedBatch(ctx, s.embedder, seqs, s.log)

	report := &EmbedReport{}
	for i, v := range vectors {
		if v == nil {
			report.Missing++
			s.metrics.Embeddings.WithLabelValues("missing").Inc()
			continue
		}
		if err := s.db.SetEmbedding(ctx, pending[i].ID, v); err != nil {
			return report, err
		}
		report.Embedded++
		s.metrics.Embeddings.WithLabelValues("embedded").Inc()
	}
	return report, nil
}

type ClusterReport struct {
	Run         model.ClusterRun   `json:"run"`
	Clusters    []model.Cluster    `json:"clusters"`
	Assignments []model.Assignment `json:"assignments"`
}

// RunClustering clusters every embedded sequence and stores the run. The
// fitted model is saved too; failing to save it is logged, not returned.
func (s *Service) RunClustering(ctx context.Context, params *cluster.Params) (*ClusterReport, error) {
	records, err := s.db.ListEmbedded(ctx)
	if err != nil {
		return nil, err
	}
	embeddings := make([][]float32, len(records))
	for i, rec := range records {
		embeddings[i] = rec.Embedding
	}

	s.clusterMu.Lock()
	defer s.clusterMu.Unlock()

	start := time.Now()
	res, err := s.clusterer.Cluster(embeddings, params)
	if err != nil {
		s.metrics.ClusterRuns.WithLabelValues("error").Inc()
		return nil, err
	}
	used := s.clusterer.Params()
	if params != nil {
		used = *params
	}

	run := model.ClusterRun{
		ID:             uuid.NewString(),
		MinClusterSize: used.MinClusterSize,
		MinSamples:     used.MinSamples,
		NClusters:      res.NClusters,
		NNoise:         res.NNoise,
		NoiseRatio:     res.NoiseRatio,
		Silhouette:     res.Silhouette,
		CreatedAt:      time.Now(),
	}
	clusters := make([]model.Cluster, len(res.Clusters))
	for i, c := range res.Clusters {
		c.RunID = run.ID
		clusters[i] = c
	}
	assignments := res.Assignments()
	for i := range assignments {
		assignments[i].SequenceID = records[assignments[i].SequenceIndex].ID
	}

	if err := s.db.SaveClusterRun(ctx, &run, clusters, assignments); err != nil {
		return nil, err
	}
	if s.store != nil {
		if err := s.clusterer.SaveModel(ctx, s.store, s.opts.ModelID); err != nil {
			s.log.Warn("Clustering model not saved", zap.Error(err))
		}
	}
	s.metrics.RecordClusterRun(res.NClusters, res.NoiseRatio, time.Since(start))

	return &ClusterReport{Run: run, Clusters: clusters, Assignments: assignments}, nil
}

// RebuildIndex replaces the similarity index with every embedded sequence.
// On failure the previous index stays in place.
func (s *Service) RebuildIndex(ctx context.Context) (int, error) {
	records, err := s.db.ListEmbedded(ctx)
	if err != nil {
		return 0, err
	}
	embeddings := make([][]float32, len(records))
	ids := make([]string, len(records))
	for i, rec := range records {
		embeddings[i] = rec.Embedding
		ids[i] = rec.ID
	}
	if err := s.searcher.Build(embeddings, ids); err != nil {
		return 0, err
	}
	n := s.searcher.Len()
	s.metrics.IndexSize.Set(float64(n))
	if s.store != nil {
		if err := s.searcher.Save(ctx, s.store, s.opts.IndexID); err != nil {
			s.log.Warn("Similarity index not saved", zap.Error(err))
		}
	}
	return n, nil
}

// SearchQuery names either a stored sequence or a raw one.
type SearchQuery struct {
	SequenceID string
	Sequence   string
	K          int
}

// SearchSimilar fails closed: no index or no embedding for the query gives
// an empty result. An unknown SequenceID is an error.
func (s *Service) SearchSimilar(ctx context.Context, q SearchQuery) ([]index.Match, error) {
	k := q.K
	if k <= 0 {
		k = s.opts.DefaultK
	}
	s.metrics.SearchRequests.Inc()

	var vec []float32
	if q.SequenceID != "" {
		rec, err := s.db.GetSequence(ctx, q.SequenceID)
		if err != nil {
			return nil, err
		}
		vec = rec.Embedding
		if vec == nil {
			vec, _ = s.embedder.Embed(ctx, rec.CleanedData)
		}
	} else {
		v, err := s.embedder.Embed(ctx, sequence.Clean(q.Sequence))
		if err != nil {
			s.log.Warn("Query sequence could not be embedded", zap.Error(err))
		}
		vec = v
	}
	matches := s.searcher.Search(vec, k)
	if matches == nil {
		matches = []index.Match{}
	}
	return matches, nil
}

// TaxonomyResult is a taxonomy assignment for a stored sequence.
type TaxonomyResult struct {
	SequenceID string `json:"sequence_id"`
	taxonomy.Assignment
}

// AssignTaxonomy resolves the given stored sequences (all of them when ids is
// empty) and stores successful results. Missing sequences get an error entry.
func (s *Service) AssignTaxonomy(ctx context.Context, ids []string, method taxonomy.Method) ([]TaxonomyResult, error) {
	if method == "" {
		method = s.opts.Method
	}
	var records []*model.SequenceRecord
	if len(ids) == 0 {
		all, err := s.allSequences(ctx)
		if err != nil {
			return nil, err
		}
		records = all
	} else {
		records = make([]*model.SequenceRecord, len(ids))
		for i, id := range ids {
			rec, err := s.db.GetSequence(ctx, id)
			if err != nil && !errors.Is(err, db.ErrNotFound) {
				return nil, err
			}
			records[i] = rec
		}
	}

	// only stored sequences reach the resolver, so missing ids never count
	// against the external searcher's breaker
	var (
		seqs  []string
		found []int
	)
	for i, rec := range records {
		if rec != nil {
			seqs = append(seqs, rec.CleanedData)
			found = append(found, i)
		}
	}
	assigned := make([]taxonomy.Assignment, len(records))
	for j, a := range s.resolver.AssignBatch(ctx, seqs, method) {
		a.SequenceIndex = found[j]
		assigned[found[j]] = a
	}

	out := make([]TaxonomyResult, len(records))
	for i, a := range assigned {
		if records[i] == nil {
			out[i] = TaxonomyResult{SequenceID: ids[i], Assignment: taxonomy.Assignment{
				Taxonomy:      model.UnknownTaxonomy(),
				Method:        string(method),
				SequenceIndex: i,
				Error:         fmt.Sprintf("sequence %s not found", ids[i]),
			}}
			s.metrics.RecordTaxonomy(string(method), true)
			continue
		}
		out[i] = TaxonomyResult{SequenceID: records[i].ID, Assignment: a}
		s.metrics.RecordTaxonomy(a.Method, a.Error != "")
		if a.Error != "" {
			if a.Method == taxonomy.SourceExternal {
				s.metrics.ExternalFailures.Inc()
			}
			continue
		}
		if err := s.db.SetTaxonomy(ctx, records[i].ID, a.Taxonomy, a.Confidence); err != nil {
			return out, err
		}
	}
	return out, nil
}

// AssignSequences resolves raw sequences without storing anything.
func (s *Service) AssignSequences(ctx context.Context, seqs []string, method taxonomy.Method) []taxonomy.Assignment {
	if method == "" {
		method = s.opts.Method
	}
	out := s.resolver.AssignBatch(ctx, seqs, method)
	for _, a := range out {
		s.metrics.RecordTaxonomy(a.Method, a.Error != "")
	}
	return out
}

// ComputeDiversity derives metrics from current cluster memberships and
// taxonomy, stores them and returns the stored record.
func (s *Service) ComputeDiversity(ctx context.Context) (*db.DiversityRecord, error) {
	runID := ""
	run, err := s.db.LatestClusterRun(ctx)
	switch {
	case err == nil:
		runID = run.ID
	case !errors.Is(err, db.ErrNotFound):
		return nil, err
	}

	records, err := s.allSequences(ctx)
	if err != nil {
		return nil, err
	}
	labels := make([]int, len(records))
	taxa := make([]model.Taxonomy, len(records))
	quality := make([]float64, len(records))
	for i, rec := range records {
		labels[i] = model.NoiseLabel
		if rec.ClusterID != nil {
			labels[i] = *rec.ClusterID
		}
		taxa[i] = rec.Taxonomy
		quality[i] = rec.QualityScore
	}
	m := diversity.Compute(labels, taxa, quality)
	if err := s.db.SaveDiversity(ctx, runID, m); err != nil {
		return nil, err
	}
	return s.db.LatestDiversity(ctx)
}

type AnalysisReport struct {
	Embedding *EmbedReport        `json:"embedding"`
	Cluster   *ClusterReport      `json:"clustering"`
	IndexSize int                 `json:"index_size"`
	Taxonomy  int                 `json:"taxonomy_assigned"`
	Diversity *db.DiversityRecord `json:"diversity"`
}

// RunFullAnalysis embeds pending sequences, clusters, rebuilds the index,
// assigns taxonomy and computes diversity. The context is checked between
// stages only.
func (s *Service) RunFullAnalysis(ctx context.Context, progress Progress) (*AnalysisReport, error) {
	if progress == nil {
		progress = func(float64, string) {}
	}
	report := &AnalysisReport{}
	var err error

	progress(0.05, "embedding")
	if report.Embedding, err = s.EmbedPending(ctx); err != nil {
		return report, fmt.Errorf("embedding: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	progress(0.3, "clustering")
	report.Cluster, err = s.RunClustering(ctx, nil)
	if errors.Is(err, model.ErrNoValidInput) {
		s.log.Warn("No embedded sequences, skipping clustering and indexing")
		report.Cluster = nil
	} else if err != nil {
		return report, fmt.Errorf("clustering: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	progress(0.5, "indexing")
	if report.Cluster != nil {
		if report.IndexSize, err = s.RebuildIndex(ctx); err != nil {
			return report, fmt.Errorf("indexing: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	progress(0.7, "taxonomy")
	results, err := s.AssignTaxonomy(ctx, nil, s.opts.Method)
	if err != nil {
		return report, fmt.Errorf("taxonomy: %w", err)
	}
	for _, r := range results {
		if r.Error == "" {
			report.Taxonomy++
		}
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	progress(0.9, "diversity")
	if report.Diversity, err = s.ComputeDiversity(ctx); err != nil {
		return report, fmt.Errorf("diversity: %w", err)
	}
	return report, nil
}

func marshalResult(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (s *Service) allSequences(ctx context.Context) ([]*model.SequenceRecord, error) {
	const page = 500
	var all []*model.SequenceRecord
	for offset := 0; ; offset += page {
		batch, err := s.db.ListSequences(ctx, page, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < page {
			return all, nil
		}
	}
}
