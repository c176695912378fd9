// Package cluster groups sequence embeddings with HDBSCAN. Embeddings are
// standardized per batch before clustering; noise points get label -1.
package cluster

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yumyai/edna/pkg/model"
)

// ErrNoValidInput is returned when every embedding in a batch is absent.
var ErrNoValidInput = fmt.Errorf("cluster: %w", model.ErrNoValidInput)

var ErrInvalidParams = errors.New("cluster: invalid parameters")

const (
	DefaultMinClusterSize = 5
	DefaultMinSamples     = 3
)

type Params struct {
	MinClusterSize     int  `json:"min_cluster_size" msgpack:"min_cluster_size" yaml:"min_cluster_size"`
	MinSamples         int  `json:"min_samples" msgpack:"min_samples" yaml:"min_samples"`
	AllowSingleCluster bool `json:"allow_single_cluster" msgpack:"allow_single_cluster" yaml:"allow_single_cluster"`
}

func DefaultParams() Params {
	return Params{
		MinClusterSize: DefaultMinClusterSize,
		MinSamples:     DefaultMinSamples,
	}
}

func (p Params) Validate() error {
	if p.MinClusterSize < 2 {
		return fmt.Errorf("%w: min_cluster_size must be >= 2, got %d", ErrInvalidParams, p.MinClusterSize)
	}
	if p.MinSamples < 1 {
		return fmt.Errorf("%w: min_samples must be >= 1, got %d", ErrInvalidParams, p.MinSamples)
	}
	return nil
}

// Result of one clustering call. Labels, Probabilities and Indices line up:
// entry i describes the input embedding at position Indices[i].
type Result struct {
	Labels        []int           `json:"labels"`
	Probabilities []float64       `json:"probabilities"`
	Indices       []int           `json:"indices"`
	NClusters     int             `json:"n_clusters"`
	NNoise        int             `json:"n_noise"`
	NoiseRatio    float64         `json:"noise_ratio"`
	Clusters      []model.Cluster `json:"clusters"`
	Silhouette    *float64        `json:"silhouette,omitempty"`
}

// Assignments lists one membership per clustered input, tagged with its input position.
func (r *Result) Assignments() []model.Assignment {
	out := make([]model.Assignment, len(r.Labels))
	for i, l := range r.Labels {
		a := model.Assignment{
			SequenceIndex: r.Indices[i],
			Probability:   r.Probabilities[i],
			IsNoise:       l == model.NoiseLabel,
		}
		if l != model.NoiseLabel {
			id := l
			a.ClusterID = &id
		}
		out[i] = a
	}
	return out
}

// Clusterer owns its parameters and the scaler fitted by the most recent call.
// It is not safe for concurrent use.
type Clusterer struct {
	params Params
	fitted Params // parameters of the call that fitted scaler
	scaler *Scaler
	log    *zap.Logger
}

func New(params Params, log *zap.Logger) (*Clusterer, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Clusterer{params: params, log: log}, nil
}

func (c *Clusterer) Params() Params { return c.params }

// Scaler returns the scaler fitted by the last Cluster call (or loaded with
// the model), nil before either.
func (c *Clusterer) Scaler() *Scaler { return c.scaler }

// Cluster drops nil embeddings, standardizes the rest on this batch alone and
// runs HDBSCAN. override, when non-nil, replaces the clusterer's parameters
// for this call only. All embeddings must share one dimension.
func (c *Clusterer) Cluster(embeddings [][]float32, override *Params) (*Result, error) {
	params := c.params
	if override != nil {
		if err := override.Validate(); err != nil {
			return nil, err
		}
		params = *override
	}

	var (
		x       [][]float64
		indices []int
	)
	for i, e := range embeddings {
		if e == nil {
			continue
		}
		if len(x) > 0 && len(e) != len(x[0]) {
			return nil, fmt.Errorf("cluster: embedding %d has dimension %d, want %d", i, len(e), len(x[0]))
		}
		row := make([]float64, len(e))
		for j, v := range e {
			row[j] = float64(v)
		}
		x = append(x, row)
		indices = append(indices, i)
	}
	if len(x) == 0 {
		return nil, ErrNoValidInput
	}

	start := time.Now()
	c.scaler = FitScaler(x)
	c.fitted = params
	scaled := c.scaler.Transform(x)
	out := hdbscan(scaled, params)

	res := &Result{
		Labels:        out.labels,
		Probabilities: out.probs,
		Indices:       indices,
		NClusters:     len(out.stability),
	}
	for _, l := range out.labels {
		if l == model.NoiseLabel {
			res.NNoise++
		}
	}
	res.NoiseRatio = float64(res.NNoise) / float64(len(out.labels))
	res.Clusters = centroids(scaled, out)
	if res.NClusters >= 2 {
		s := silhouette(scaled, out.labels)
		res.Silhouette = &s
	}

	c.log.Info("Clustering completed",
		zap.Int("sequences", len(x)),
		zap.Int("dropped", len(embeddings)-len(x)),
		zap.Int("clusters", res.NClusters),
		zap.Int("noise", res.NNoise),
		zap.Duration("took", time.Since(start)),
	)
	return res, nil
}

// centroids are means of member points in standardized space. Noise has none.
func centroids(x [][]float64, out hdbscanOutput) []model.Cluster {
	k := len(out.stability)
	if k == 0 {
		return nil
	}
	dim := len(x[0])
	clusters := make([]model.Cluster, k)
	for l := range clusters {
		clusters[l] = model.Cluster{ID: l, Centroid: make([]float64, dim), Stability: out.stability[l]}
	}
	for i, l := range out.labels {
		if l == model.NoiseLabel {
			continue
		}
		clusters[l].MemberCount++
		for j, v := range x[i] {
			clusters[l].Centroid[j] += v
		}
	}
	for l := range clusters {
		if n := clusters[l].MemberCount; n > 0 {
			for j := range clusters[l].Centroid {
				clusters[l].Centroid[j] /= float64(n)
			}
		}
	}
	return clusters
}

// silhouette is the mean silhouette coefficient over non-noise points.
func silhouette(x [][]float64, labels []int) float64 {
	k := 0
	for _, l := range labels {
		k = max(k, l+1)
	}
	var total float64
	var count int
	sums := make([]float64, k)
	sizes := make([]int, k)
	for _, l := range labels {
		if l >= 0 {
			sizes[l]++
		}
	}
	for i, li := range labels {
		if li < 0 {
			continue
		}
		clear(sums)
		for j, lj := range labels {
			if lj < 0 || j == i {
				continue
			}
			sums[lj] += euclidean(x[i], x[j])
		}
		count++
		if sizes[li] <= 1 {
			continue
		}
		a := sums[li] / float64(sizes[li]-1)
		b := -1.0
		for l := 0; l < k; l++ {
			if l == li || sizes[l] == 0 {
				continue
			}
			m := sums[l] / float64(sizes[l])
			if b < 0 || m < b {
				b = m
			}
		}
		if d := max(a, b); d > 0 {
			total += (b - a) / d
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}
