package cluster

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/edna/pkg/artifact"
	"github.com/yumyai/edna/pkg/model"
)

// makeBlob returns n points scattered tightly around center.
func makeBlob(rng *rand.Rand, center []float32, n int, spread float32) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, len(center))
		for j, c := range center {
			v[j] = c + float32(rng.NormFloat64())*spread
		}
		out[i] = v
	}
	return out
}

func newClusterer(t *testing.T) *Clusterer {
	t.Helper()
	c, err := New(DefaultParams(), nil)
	require.NoError(t, err)
	return c
}

func checkInvariants(t *testing.T, res *Result, inputLen int) {
	t.Helper()
	require.Len(t, res.Probabilities, len(res.Labels))
	require.Len(t, res.Indices, len(res.Labels))
	assert.Len(t, res.Clusters, res.NClusters)

	noise := 0
	for i, l := range res.Labels {
		assert.True(t, l == model.NoiseLabel || (l >= 0 && l < res.NClusters), "label %d out of range", l)
		assert.GreaterOrEqual(t, res.Probabilities[i], 0.0)
		assert.LessOrEqual(t, res.Probabilities[i], 1.0)
		assert.Less(t, res.Indices[i], inputLen)
		if l == model.NoiseLabel {
			noise++
			assert.Equal(t, 0.0, res.Probabilities[i])
		}
	}
	assert.Equal(t, noise, res.NNoise)

	members := 0
	for _, c := range res.Clusters {
		assert.GreaterOrEqual(t, c.MemberCount, 1)
		members += c.MemberCount
	}
	assert.Equal(t, len(res.Labels)-noise, members)
}

func TestCluster_SeparatedBlobs(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	var data [][]float32
	data = append(data, makeBlob(rng, []float32{0, 0, 0}, 6, 0.1)...)
	data = append(data, makeBlob(rng, []float32{10, 0, 0}, 6, 0.1)...)
	data = append(data, makeBlob(rng, []float32{0, 10, 0}, 6, 0.1)...)
	data = append(data, []float32{60, 60, 60}, []float32{-50, 40, -30})

	res, err := newClusterer(t).Cluster(data, nil)
	require.NoError(t, err)
	checkInvariants(t, res, len(data))

	assert.Equal(t, 3, res.NClusters)
	assert.Equal(t, 2, res.NNoise)
	assert.Equal(t, model.NoiseLabel, res.Labels[18])
	assert.Equal(t, model.NoiseLabel, res.Labels[19])

	// each blob maps to one label, and the labels differ
	seen := map[int]bool{}
	for b := 0; b < 3; b++ {
		first := res.Labels[b*6]
		require.NotEqual(t, model.NoiseLabel, first)
		for i := b * 6; i < (b+1)*6; i++ {
			assert.Equal(t, first, res.Labels[i])
		}
		assert.False(t, seen[first])
		seen[first] = true
	}

	require.NotNil(t, res.Silhouette)
	assert.Greater(t, *res.Silhouette, 0.9)
	assert.InDelta(t, 2.0/20.0, res.NoiseRatio, 1e-12)
}

func TestCluster_ExactlyMinClusterSize(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 0))
	data := append(makeBlob(rng, []float32{0, 0}, 5, 0.05), makeBlob(rng, []float32{5, 5}, 5, 0.05)...)

	res, err := newClusterer(t).Cluster(data, nil)
	require.NoError(t, err)
	checkInvariants(t, res, len(data))

	assert.Equal(t, 2, res.NClusters)
	assert.Equal(t, 0, res.NNoise)
	for _, c := range res.Clusters {
		assert.Equal(t, 5, c.MemberCount)
	}
}

func TestCluster_IdenticalPoints(t *testing.T) {
	data := make([][]float32, 12)
	for i := range data {
		data[i] = []float32{1, 2, 3}
	}

	res, err := newClusterer(t).Cluster(data, nil)
	require.NoError(t, err)
	checkInvariants(t, res, len(data))
	assert.LessOrEqual(t, res.NClusters, 1)
	for _, l := range res.Labels {
		assert.Equal(t, res.Labels[0], l)
	}

	single := DefaultParams()
	single.AllowSingleCluster = true
	res, err = newClusterer(t).Cluster(data, &single)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NClusters)
	assert.Equal(t, 0, res.NNoise)
}

func TestCluster_AllNoise(t *testing.T) {
	data := [][]float32{{0, 0}, {5, 5}, {10, -3}}

	res, err := newClusterer(t).Cluster(data, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.NClusters)
	assert.Equal(t, 3, res.NNoise)
	assert.Equal(t, 1.0, res.NoiseRatio)
	assert.Empty(t, res.Clusters)
	assert.Nil(t, res.Silhouette)
}

func TestCluster_DropsNilEmbeddings(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 0))
	blob := makeBlob(rng, []float32{1, 1}, 6, 0.1)
	data := [][]float32{nil, blob[0], blob[1], nil, blob[2], blob[3], blob[4], blob[5]}

	single := Params{MinClusterSize: 5, MinSamples: 3, AllowSingleCluster: true}
	res, err := newClusterer(t).Cluster(data, &single)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 4, 5, 6, 7}, res.Indices)

	for i, a := range res.Assignments() {
		assert.Equal(t, res.Indices[i], a.SequenceIndex)
		assert.Equal(t, a.IsNoise, a.ClusterID == nil)
	}
}

func TestCluster_NoValidInput(t *testing.T) {
	c := newClusterer(t)

	_, err := c.Cluster(nil, nil)
	assert.ErrorIs(t, err, ErrNoValidInput)

	_, err = c.Cluster([][]float32{nil, nil}, nil)
	assert.True(t, errors.Is(err, model.ErrNoValidInput))
}

func TestCluster_DimensionMismatch(t *testing.T) {
	_, err := newClusterer(t).Cluster([][]float32{{1, 2}, {1, 2, 3}}, nil)
	assert.Error(t, err)
}

func TestParams_Validate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())
	assert.ErrorIs(t, Params{MinClusterSize: 1, MinSamples: 3}.Validate(), ErrInvalidParams)
	assert.ErrorIs(t, Params{MinClusterSize: 5, MinSamples: 0}.Validate(), ErrInvalidParams)

	_, err := New(Params{}, nil)
	assert.Error(t, err)
}

func TestCentroidsInStandardizedSpace(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 0))
	data := append(makeBlob(rng, []float32{100, 100}, 6, 0.5), makeBlob(rng, []float32{200, 300}, 6, 0.5)...)

	c := newClusterer(t)
	res, err := c.Cluster(data, nil)
	require.NoError(t, err)
	require.Equal(t, 2, res.NClusters)

	// standardized feature 0 is roughly -1 and +1 for the two blobs
	for _, cl := range res.Clusters {
		assert.InDelta(t, 1.0, abs(cl.Centroid[0]), 0.05)
		orig := c.Scaler().Inverse(cl.Centroid)
		assert.True(t, abs(orig[0]-100) < 2 || abs(orig[0]-200) < 2)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestModelRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemoryStore()

	c := newClusterer(t)
	assert.ErrorIs(t, c.SaveModel(ctx, store, "default"), ErrNotFitted)

	rng := rand.New(rand.NewPCG(5, 0))
	_, err := c.Cluster(makeBlob(rng, []float32{1, 2, 3}, 8, 1), nil)
	require.NoError(t, err)
	require.NoError(t, c.SaveModel(ctx, store, "default"))

	loaded, err := LoadModel(ctx, store, "default", nil)
	require.NoError(t, err)
	assert.Equal(t, c.Params(), loaded.Params())
	assert.Equal(t, c.Scaler(), loaded.Scaler())

	_, err = LoadModel(ctx, store, "missing", nil)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestModelRoundTrip_KeepsOverride(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemoryStore()

	c := newClusterer(t)
	rng := rand.New(rand.NewPCG(11, 0))
	override := Params{MinClusterSize: 8, MinSamples: 4, AllowSingleCluster: true}
	_, err := c.Cluster(makeBlob(rng, []float32{0, 0}, 10, 1), &override)
	require.NoError(t, err)
	assert.Equal(t, DefaultParams(), c.Params())

	require.NoError(t, c.SaveModel(ctx, store, "tuned"))
	loaded, err := LoadModel(ctx, store, "tuned", nil)
	require.NoError(t, err)
	assert.Equal(t, override, loaded.Params())
	assert.Equal(t, c.Scaler(), loaded.Scaler())

	// a later call without override goes back to the defaults
	_, err = c.Cluster(makeBlob(rng, []float32{0, 0}, 10, 1), nil)
	require.NoError(t, err)
	require.NoError(t, c.SaveModel(ctx, store, "tuned"))
	loaded, err = LoadModel(ctx, store, "tuned", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultParams(), loaded.Params())
}

func TestLoadModel_RejectsOtherVersion(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemoryStore()

	data, err := artifact.Seal(modelKind, modelVersion+1, &savedModel{Params: DefaultParams()})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, ModelKey("old"), data))

	_, err = LoadModel(ctx, store, "old", nil)
	assert.ErrorIs(t, err, artifact.ErrIncompatibleVersion)
}
