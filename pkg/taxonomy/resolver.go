// Package taxonomy assigns taxonomic labels to sequences from a local
// reference database, falling back to an external reference search.
package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/yumyai/edna/pkg/artifact"
	"github.com/yumyai/edna/pkg/model"
	"github.com/yumyai/edna/pkg/sequence"
)

type Method string

const (
	MethodLocal Method = "local"
	MethodNCBI  Method = "ncbi"
	MethodAuto  Method = "auto"
)

func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodLocal, MethodNCBI, MethodAuto:
		return m, nil
	case "":
		return MethodAuto, nil
	}
	return "", fmt.Errorf("unknown taxonomy method %q", s)
}

// Tags recorded on results to say which lookup produced them.
const (
	SourceLocal    = "local_reference"
	SourceExternal = "ncbi_blast"
)

const (
	DefaultSimilarityThreshold = 0.8
	DefaultFallbackThreshold   = 0.5

	ReferenceDBKey = "taxonomy/reference_db.json"
)

type MatchDetails struct {
	ReferenceID     string         `json:"reference_id,omitempty"`
	Category        string         `json:"category,omitempty"`
	SimilarityScore float64        `json:"similarity_score"`
	External        map[string]any `json:"external,omitempty"`
}

// Assignment is the taxonomy result for one sequence. A failed lookup still
// yields an Assignment: Unknown taxonomy, zero confidence, Error set.
type Assignment struct {
	SequenceIndex int            `json:"sequence_index"`
	Taxonomy      model.Taxonomy `json:"taxonomy"`
	Confidence    float64        `json:"confidence"`
	Method        string         `json:"method"`
	MatchDetails  *MatchDetails  `json:"match_details,omitempty"`
	Error         string         `json:"error,omitempty"`
}

func unknown(method string) Assignment {
	return Assignment{Taxonomy: model.UnknownTaxonomy(), Method: method}
}

type Config struct {
	SimilarityThreshold float64
	FallbackThreshold   float64
	Scorer              Scorer
}

func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: DefaultSimilarityThreshold,
		FallbackThreshold:   DefaultFallbackThreshold,
		Scorer:              PositionalIdentity,
	}
}

// Resolver owns a reference database. external and store may be nil: without
// external the ncbi method always returns Unknown, without store additions
// stay in memory.
type Resolver struct {
	cfg      Config
	mu       sync.RWMutex // guards the db pointer; the ReferenceDB locks its own contents
	db       *ReferenceDB
	external ExternalSearcher
	store    artifact.Store
	log      *zap.Logger
}

func NewResolver(cfg Config, external ExternalSearcher, store artifact.Store, log *zap.Logger) *Resolver {
	if cfg.Scorer == nil {
		cfg.Scorer = PositionalIdentity
	}
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.FallbackThreshold == 0 {
		cfg.FallbackThreshold = DefaultFallbackThreshold
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		cfg:      cfg,
		db:       DefaultReferenceDB(),
		external: external,
		store:    store,
		log:      log,
	}
}

// WithReferenceDB replaces the reference database, mainly for tests and imports.
func (r *Resolver) WithReferenceDB(db *ReferenceDB) *Resolver {
	r.setReferenceDB(db)
	return r
}

func (r *Resolver) ReferenceDB() *ReferenceDB {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.db
}

// setReferenceDB swaps the database. Assignments already running finish
// against the one they started with.
func (r *Resolver) setReferenceDB(db *ReferenceDB) {
	r.mu.Lock()
	r.db = db
	r.mu.Unlock()
}

// Load reads the persisted reference database. When it is missing or
// unreadable the default database is used; only the unreadable case is
// reported as an error.
func (r *Resolver) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	data, err := r.store.Get(ctx, ReferenceDBKey)
	if errors.Is(err, artifact.ErrNotFound) {
		r.log.Info("No stored reference database, using defaults")
		r.setReferenceDB(DefaultReferenceDB())
		return nil
	}
	if err != nil {
		r.setReferenceDB(DefaultReferenceDB())
		return &artifact.PersistenceError{Op: "get", Key: ReferenceDBKey, Err: err}
	}
	db, err := ParseReferenceDB(data)
	if err != nil {
		r.setReferenceDB(DefaultReferenceDB())
		return &artifact.PersistenceError{Op: "decode", Key: ReferenceDBKey, Err: err}
	}
	r.setReferenceDB(db)
	r.log.Info("Loaded reference database",
		zap.Int("categories", len(db.CategoryNames())),
		zap.Int("sequences", db.Size()),
	)
	return nil
}

// Save persists the whole reference database.
func (r *Resolver) Save(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	return artifact.PutJSON(ctx, r.store, ReferenceDBKey, r.ReferenceDB())
}

// AssignLocal scores the cleaned query against every reference entry. The
// result is Unknown with confidence 0 when nothing scores above threshold.
func (r *Resolver) AssignLocal(seq string, threshold float64) Assignment {
	query := sequence.Clean(seq)
	best, ok := r.ReferenceDB().bestMatch(query, r.cfg.Scorer, threshold)
	if !ok {
		return unknown(SourceLocal)
	}

	tax := best.entry.Taxonomy
	if len(tax) == 0 {
		tax = best.template
	}
	return Assignment{
		Taxonomy:   tax.Clone(),
		Confidence: best.score,
		Method:     SourceLocal,
		MatchDetails: &MatchDetails{
			ReferenceID:     best.entry.ID,
			Category:        best.category,
			SimilarityScore: best.score,
		},
	}
}

// AssignExternal asks the external searcher. Failures become an Unknown
// result with Error set; they are never returned.
func (r *Resolver) AssignExternal(ctx context.Context, seq string) Assignment {
	res := unknown(SourceExternal)
	if r.external == nil {
		res.Error = ErrCollaboratorUnavailable.Error()
		return res
	}
	query := sequence.Clean(seq)
	if query == "" {
		// nothing to look up; not a collaborator failure
		return res
	}

	m, err := r.external.Search(ctx, query)
	if err != nil {
		r.log.Warn("External reference search failed", zap.Error(err))
		res.Error = err.Error()
		return res
	}
	if m == nil {
		return res
	}

	tax := m.Taxonomy
	if len(tax) == 0 {
		tax = model.UnknownTaxonomy()
	}
	res.Taxonomy = tax
	res.Confidence = m.Confidence
	res.MatchDetails = &MatchDetails{
		ReferenceID:     m.ReferenceID,
		SimilarityScore: m.Confidence,
		External:        m.Details,
	}
	return res
}

// Assign runs the chosen method. For auto, the external search only runs when
// the local confidence is below the fallback threshold, and its result is
// used only when strictly more confident than the local one.
func (r *Resolver) Assign(ctx context.Context, seq string, method Method) Assignment {
	switch method {
	case MethodLocal:
		return r.AssignLocal(seq, r.cfg.SimilarityThreshold)
	case MethodNCBI:
		return r.AssignExternal(ctx, seq)
	case MethodAuto, "":
		local := r.AssignLocal(seq, r.cfg.SimilarityThreshold)
		if local.Confidence >= r.cfg.FallbackThreshold {
			return local
		}
		ext := r.AssignExternal(ctx, seq)
		if ext.Confidence > local.Confidence {
			return ext
		}
		return local
	}
	res := unknown(string(method))
	res.Error = fmt.Sprintf("unknown taxonomy method %q", method)
	return res
}

// AssignBatch assigns every sequence in order. A failure on one sequence is
// recorded on its result and does not stop the rest.
func (r *Resolver) AssignBatch(ctx context.Context, seqs []string, method Method) []Assignment {
	out := make([]Assignment, len(seqs))
	failed := 0
	for i, s := range seqs {
		out[i] = r.assignOne(ctx, s, method)
		out[i].SequenceIndex = i
		if out[i].Error != "" {
			failed++
		}
		if (i+1)%10 == 0 {
			r.log.Info("Taxonomy assignment progress", zap.Int("done", i+1), zap.Int("total", len(seqs)))
		}
	}
	r.log.Info("Taxonomy batch completed",
		zap.Int("sequences", len(seqs)),
		zap.Int("failed", failed),
		zap.String("method", string(method)),
	)
	return out
}

func (r *Resolver) assignOne(ctx context.Context, seq string, method Method) (res Assignment) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("Taxonomy assignment panicked", zap.Any("panic", p))
			res = unknown(string(method))
			res.Error = fmt.Sprint(p)
		}
	}()
	return r.Assign(ctx, seq, method)
}

// AddReferenceSequence adds a cleaned reference sequence and persists the whole
// database. If saving fails the addition stays visible in memory and the
// returned error is an *artifact.PersistenceError.
func (r *Resolver) AddReferenceSequence(ctx context.Context, seq string, taxonomy model.Taxonomy, category, id string) (string, error) {
	if category == "" {
		return "", errors.New("category is required")
	}
	id = r.ReferenceDB().Add(category, id, sequence.Clean(seq), taxonomy)

	if err := r.Save(ctx); err != nil {
		r.log.Error("Failed to persist reference database", zap.String("id", id), zap.Error(err))
		return id, err
	}
	r.log.Info("Added reference sequence", zap.String("id", id), zap.String("category", category))
	return id, nil
}

type Stats struct {
	TotalCategories         int      `json:"total_categories"`
	TotalReferenceSequences int      `json:"total_reference_sequences"`
	Categories              []string `json:"categories"`
}

func (r *Resolver) Stats() Stats {
	db := r.ReferenceDB()
	names := db.CategoryNames()
	return Stats{
		TotalCategories:         len(names),
		TotalReferenceSequences: db.Size(),
		Categories:              names,
	}
}
