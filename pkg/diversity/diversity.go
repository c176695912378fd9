// Package diversity computes biodiversity indices over one clustering run,
// treating each non-noise cluster as an operational taxonomic unit (OTU).
package diversity

import (
	"math"
	"sort"

	"github.com/yumyai/edna/pkg/model"
)

type Metrics struct {
	ShannonIndex     float64 `json:"shannon_index"`
	SimpsonIndex     float64 `json:"simpson_index"`
	Richness         int     `json:"species_richness"`
	Evenness         float64 `json:"evenness"`
	KnownTaxaPercent float64 `json:"known_taxa_percentage"`
	NovelTaxaPercent float64 `json:"novel_taxa_percentage"`
	NovelTaxaCount   int     `json:"novel_taxa_count"`
	TotalSequences   int     `json:"total_sequences"`
	TotalClusters    int     `json:"total_clusters"`
	QualityScoreAvg  float64 `json:"quality_score_avg"`
}

// Compute takes parallel per-sequence slices. taxa and quality may be shorter
// than labels (or nil); missing entries count as unknown and are left out of
// the quality average.
//
// Shannon is -Σ p ln p over OTU abundances, Simpson is 1 - Σ p², evenness is
// Shannon / ln(richness) (0 when richness < 2). A cluster is a novel taxon when
// none of its members has a known genus or species.
func Compute(labels []int, taxa []model.Taxonomy, quality []float64) Metrics {
	m := Metrics{TotalSequences: len(labels)}

	abundance := make(map[int]int)
	knownInCluster := make(map[int]bool)
	known := 0
	for i, l := range labels {
		isKnown := i < len(taxa) && taxa[i].IsKnown()
		if isKnown {
			known++
		}
		if l == model.NoiseLabel {
			continue
		}
		abundance[l]++
		if isKnown {
			knownInCluster[l] = true
		}
	}

	m.Richness = len(abundance)
	m.TotalClusters = len(abundance)
	m.ShannonIndex, m.SimpsonIndex = indices(abundance)
	if m.Richness > 1 {
		m.Evenness = m.ShannonIndex / math.Log(float64(m.Richness))
	}

	for l := range abundance {
		if !knownInCluster[l] {
			m.NovelTaxaCount++
		}
	}
	if m.TotalSequences > 0 {
		m.KnownTaxaPercent = 100 * float64(known) / float64(m.TotalSequences)
	}
	if m.TotalClusters > 0 {
		m.NovelTaxaPercent = 100 * float64(m.NovelTaxaCount) / float64(m.TotalClusters)
	}

	if len(quality) > 0 {
		var sum float64
		for _, q := range quality {
			sum += q
		}
		m.QualityScoreAvg = sum / float64(len(quality))
	}
	return m
}

func indices(abundance map[int]int) (shannon, simpson float64) {
	total := 0
	keys := make([]int, 0, len(abundance))
	for k, n := range abundance {
		total += n
		keys = append(keys, k)
	}
	if total == 0 {
		return 0, 0
	}
	// fixed order keeps the float sums reproducible
	sort.Ints(keys)
	var sumSq float64
	for _, k := range keys {
		p := float64(abundance[k]) / float64(total)
		shannon -= p * math.Log(p)
		sumSq += p * p
	}
	return shannon, 1 - sumSq
}
