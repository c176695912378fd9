package embed

import (
	"context"
	"fmt"
)

// Kmer is a local embedder: normalized k-mer frequencies for each configured k
// followed by composition features (base and dinucleotide frequencies,
// GC content, GC skew, AT skew).
type Kmer struct {
	KSizes []int
	dim    int
}

func NewKmer(kSizes ...int) (*Kmer, error) {
	if len(kSizes) == 0 {
		kSizes = []int{3, 4}
	}
	dim := compositionDim
	for _, k := range kSizes {
		if k < 1 || k > 8 {
			return nil, fmt.Errorf("k-mer size %d out of range [1, 8]", k)
		}
		dim += 1 << (2 * k)
	}
	return &Kmer{KSizes: kSizes, dim: dim}, nil
}

// 4 base + 16 dinucleotide + gc, gc skew, at skew
const compositionDim = 4 + 16 + 3

func (e *Kmer) Name() string   { return "kmer" }
func (e *Kmer) Dimension() int { return e.dim }

// Embed expects a cleaned (ACGT only) sequence at least as long as the largest k.
func (e *Kmer) Embed(_ context.Context, seq string) ([]float32, error) {
	maxK := 0
	for _, k := range e.KSizes {
		maxK = max(maxK, k)
	}
	if len(seq) < max(maxK, 2) {
		return nil, fmt.Errorf("%w: sequence length %d below k-mer size", ErrUnavailable, len(seq))
	}

	out := make([]float32, 0, e.dim)
	for _, k := range e.KSizes {
		out = append(out, kmerFrequencies(seq, k)...)
	}
	out = append(out, composition(seq)...)
	return out, nil
}

// baseIndex fixes the nucleotide order A, T, G, C for every feature block.
func baseIndex(b byte) int {
	switch b {
	case 'A':
		return 0
	case 'T':
		return 1
	case 'G':
		return 2
	case 'C':
		return 3
	}
	return -1
}

// kmerFrequencies counts overlapping k-mers; windows with a non-ACGT byte are skipped.
func kmerFrequencies(seq string, k int) []float32 {
	counts := make([]float32, 1<<(2*k))
	total := 0
	for i := 0; i+k <= len(seq); i++ {
		idx := 0
		ok := true
		for j := 0; j < k; j++ {
			b := baseIndex(seq[i+j])
			if b < 0 {
				ok = false
				break
			}
			idx = idx<<2 | b
		}
		if !ok {
			continue
		}
		counts[idx]++
		total++
	}
	if total > 0 {
		for i := range counts {
			counts[i] /= float32(total)
		}
	}
	return counts
}

func composition(seq string) []float32 {
	out := make([]float32, 0, compositionDim)

	var n [4]int
	for i := 0; i < len(seq); i++ {
		if b := baseIndex(seq[i]); b >= 0 {
			n[b]++
		}
	}
	length := float32(len(seq))
	for _, c := range n {
		out = append(out, float32(c)/length)
	}

	out = append(out, kmerFrequencies(seq, 2)...)

	a, t, g, c := n[0], n[1], n[2], n[3]
	out = append(out, float32(g+c)/length)
	out = append(out, skew(g, c), skew(a, t))
	return out
}

func skew(x, y int) float32 {
	if x+y == 0 {
		return 0
	}
	return float32(x-y) / float32(x+y)
}
