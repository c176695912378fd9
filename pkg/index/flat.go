// Package index is an exact cosine-similarity index over sequence embeddings.
package index

import (
	"fmt"
	"math"
	"sort"

	"github.com/yumyai/edna/pkg/artifact"
	"github.com/yumyai/edna/pkg/model"
)

// ErrNoValidInput is returned by Build when no embedding is left after
// absent entries are dropped.
var ErrNoValidInput = fmt.Errorf("index: %w", model.ErrNoValidInput)

const (
	indexKind    = "similarity_index"
	indexVersion = 1
)

// Match is one search hit. Rank is 1-based.
type Match struct {
	ID    string  `json:"sequence_id"`
	Score float64 `json:"similarity_score"`
	Rank  int     `json:"rank"`
}

// Metadata travels next to the serialized index bytes.
type Metadata struct {
	SequenceIDs     []string `json:"sequence_ids"`
	EmbeddingsShape [2]int   `json:"embeddings_shape"`
}

// Flat holds L2-normalized vectors and scores queries by inner product, which
// equals cosine similarity. It is immutable once built.
type Flat struct {
	ids     []string
	vectors [][]float32
	dim     int
}

// Build pairs embeddings with ids by position and skips nil embeddings.
// All embeddings must have the same dimension. Zero vectors are kept and
// score 0 against everything.
func Build(embeddings [][]float32, ids []string) (*Flat, error) {
	f := &Flat{}
	for i, e := range embeddings {
		if e == nil || i >= len(ids) {
			continue
		}
		if f.dim == 0 {
			f.dim = len(e)
		}
		f.ids = append(f.ids, ids[i])
		f.vectors = append(f.vectors, normalize(e))
	}
	if len(f.vectors) == 0 {
		return nil, ErrNoValidInput
	}
	return f, nil
}

func normalize(v []float32) []float32 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if s == 0 {
		return out
	}
	n := math.Sqrt(s)
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

func dot(a, b []float32) float64 {
	n := min(len(a), len(b))
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// Len is the number of indexed vectors; 0 for a nil index.
func (f *Flat) Len() int {
	if f == nil {
		return 0
	}
	return len(f.ids)
}

func (f *Flat) Dimension() int {
	if f == nil {
		return 0
	}
	return f.dim
}

// Search returns at most k matches by descending cosine similarity. Equal
// scores keep build order. A nil index, nil query or k <= 0 gives no matches.
func (f *Flat) Search(query []float32, k int) []Match {
	if f.Len() == 0 || query == nil || k <= 0 {
		return []Match{}
	}
	q := normalize(query)

	scores := make([]float64, len(f.vectors))
	order := make([]int, len(f.vectors))
	for i, v := range f.vectors {
		scores[i] = dot(v, q)
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	k = min(k, len(order))
	out := make([]Match, k)
	for r := 0; r < k; r++ {
		i := order[r]
		out[r] = Match{ID: f.ids[i], Score: scores[i], Rank: r + 1}
	}
	return out
}

type payload struct {
	Dim     int         `msgpack:"dim"`
	Vectors [][]float32 `msgpack:"vectors"`
}

// Serialize returns the index bytes (a versioned envelope around the
// normalized matrix) and the metadata that must be stored beside them.
func (f *Flat) Serialize() ([]byte, Metadata, error) {
	if f.Len() == 0 {
		return nil, Metadata{}, ErrNoValidInput
	}
	data, err := artifact.Seal(indexKind, indexVersion, &payload{Dim: f.dim, Vectors: f.vectors})
	if err != nil {
		return nil, Metadata{}, err
	}
	meta := Metadata{
		SequenceIDs:     append([]string(nil), f.ids...),
		EmbeddingsShape: [2]int{len(f.vectors), f.dim},
	}
	return data, meta, nil
}

// Deserialize rebuilds an index that searches exactly like the serialized one.
func Deserialize(data []byte, meta Metadata) (*Flat, error) {
	var p payload
	if err := artifact.Open(data, indexKind, indexVersion, &p); err != nil {
		return nil, err
	}
	if len(p.Vectors) != len(meta.SequenceIDs) {
		return nil, fmt.Errorf("index: %d vectors but %d sequence ids", len(p.Vectors), len(meta.SequenceIDs))
	}
	if meta.EmbeddingsShape != [2]int{len(p.Vectors), p.Dim} {
		return nil, fmt.Errorf("index: shape %v does not match payload [%d %d]", meta.EmbeddingsShape, len(p.Vectors), p.Dim)
	}
	if len(p.Vectors) == 0 {
		return nil, ErrNoValidInput
	}
	return &Flat{
		ids:     append([]string(nil), meta.SequenceIDs...),
		vectors: p.Vectors,
		dim:     p.Dim,
	}, nil
}
