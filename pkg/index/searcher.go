package index

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/yumyai/edna/pkg/artifact"
)

// Searcher owns the current index snapshot. Build swaps in a new snapshot;
// searches running against the old one finish unaffected.
type Searcher struct {
	mu   sync.RWMutex
	flat *Flat
	log  *zap.Logger
}

func NewSearcher(log *zap.Logger) *Searcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Searcher{log: log}
}

func dataKey(id string) string { return "faiss_indices/" + id + ".index" }
func metaKey(id string) string { return "faiss_indices/" + id + "_metadata.json" }

// Build replaces the current index. On error the previous index stays.
func (s *Searcher) Build(embeddings [][]float32, ids []string) error {
	f, err := Build(embeddings, ids)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.flat = f
	s.mu.Unlock()
	s.log.Info("Similarity index built", zap.Int("vectors", f.Len()), zap.Int("dim", f.Dimension()))
	return nil
}

// Search fails closed: no index means no matches.
func (s *Searcher) Search(query []float32, k int) []Match {
	return s.current().Search(query, k)
}

func (s *Searcher) Len() int { return s.current().Len() }

func (s *Searcher) current() *Flat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flat
}

// Save writes the index bytes and metadata as two artifacts.
func (s *Searcher) Save(ctx context.Context, store artifact.Store, id string) error {
	f := s.current()
	data, meta, err := f.Serialize()
	if err != nil {
		return &artifact.PersistenceError{Op: "encode", Key: dataKey(id), Err: err}
	}
	if err := store.Put(ctx, dataKey(id), data); err != nil {
		return &artifact.PersistenceError{Op: "put", Key: dataKey(id), Err: err}
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return &artifact.PersistenceError{Op: "encode", Key: metaKey(id), Err: err}
	}
	if err := store.Put(ctx, metaKey(id), metaBytes); err != nil {
		return &artifact.PersistenceError{Op: "put", Key: metaKey(id), Err: err}
	}
	s.log.Info("Saved similarity index", zap.String("id", id), zap.Int("vectors", f.Len()))
	return nil
}

// Load replaces the current index with a saved one.
func (s *Searcher) Load(ctx context.Context, store artifact.Store, id string) error {
	data, err := store.Get(ctx, dataKey(id))
	if err != nil {
		return &artifact.PersistenceError{Op: "get", Key: dataKey(id), Err: err}
	}
	var meta Metadata
	if err := artifact.GetJSON(ctx, store, metaKey(id), &meta); err != nil {
		return err
	}
	f, err := Deserialize(data, meta)
	if err != nil {
		return &artifact.PersistenceError{Op: "decode", Key: dataKey(id), Err: err}
	}
	s.mu.Lock()
	s.flat = f
	s.mu.Unlock()
	s.log.Info("Loaded similarity index", zap.String("id", id), zap.Int("vectors", f.Len()))
	return nil
}
