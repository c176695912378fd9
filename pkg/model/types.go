package model

import (
	"errors"
	"time"
)

// ErrNoValidInput is returned when a batch operation is left with nothing to work on
// after absent entries are dropped.
var ErrNoValidInput = errors.New("no valid input")

// NoiseLabel marks a sequence that does not belong to any cluster.
const NoiseLabel = -1

const Unknown = "Unknown"

// Taxonomic ranks, most general first.
var Ranks = []string{"kingdom", "phylum", "class", "order", "family", "genus", "species"}

// Taxonomy maps a rank name to a label. Partial maps are allowed; missing ranks read as Unknown.
type Taxonomy map[string]string

func UnknownTaxonomy() Taxonomy {
	t := make(Taxonomy, len(Ranks))
	for _, r := range Ranks {
		t[r] = Unknown
	}
	return t
}

// Rank returns the label at rank, or Unknown.
func (t Taxonomy) Rank(rank string) string {
	if v, ok := t[rank]; ok && v != "" {
		return v
	}
	return Unknown
}

// IsKnown reports whether the genus or species is resolved.
func (t Taxonomy) IsKnown() bool {
	return t.Rank("genus") != Unknown || t.Rank("species") != Unknown
}

func (t Taxonomy) Clone() Taxonomy {
	if t == nil {
		return nil
	}
	c := make(Taxonomy, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}

// SequenceRecord is a stored sample sequence and everything derived from it.
type SequenceRecord struct {
	ID                 string    `json:"id"`
	RawData            string    `json:"raw_data"`
	CleanedData        string    `json:"cleaned_data"`
	Embedding          []float32 `json:"embedding,omitempty"`
	QualityScore       float64   `json:"quality_score"`
	GCContent          float64   `json:"gc_content"`
	Length             int       `json:"length"`
	Taxonomy           Taxonomy  `json:"taxonomy"`
	TaxonomyConfidence float64   `json:"taxonomy_confidence"`
	ClusterID          *int      `json:"cluster_id"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Cluster is one non-noise group from a clustering run. Centroid is in standardized feature space.
type Cluster struct {
	ID          int       `json:"cluster_id"`
	RunID       string    `json:"run_id"`
	MemberCount int       `json:"member_count"`
	Centroid    []float64 `json:"centroid"`
	Stability   float64   `json:"stability"`
}

// ClusterRun summarises one clustering pass over the stored sequences.
type ClusterRun struct {
	ID             string    `json:"run_id"`
	MinClusterSize int       `json:"min_cluster_size"`
	MinSamples     int       `json:"min_samples"`
	NClusters      int       `json:"n_clusters"`
	NNoise         int       `json:"n_noise"`
	NoiseRatio     float64   `json:"noise_ratio"`
	Silhouette     *float64  `json:"silhouette,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Assignment is a (sequence, cluster) membership. ClusterID is nil for noise.
type Assignment struct {
	SequenceIndex int     `json:"sequence_index"`
	SequenceID    string  `json:"sequence_id,omitempty"`
	ClusterID     *int    `json:"cluster_id"`
	Probability   float64 `json:"probability"`
	IsNoise       bool    `json:"is_noise"`
}
