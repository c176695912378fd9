package index

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/edna/pkg/artifact"
	"github.com/yumyai/edna/pkg/model"
)

// orthogonalCorpus is e1..e3 followed by their negatives.
func orthogonalCorpus() ([][]float32, []string) {
	vecs := [][]float32{
		{1, 0, 0}, {0, 1, 0}, {0, 0, 1},
		{-1, 0, 0}, {0, -1, 0}, {0, 0, -1},
	}
	ids := []string{"e1", "e2", "e3", "-e1", "-e2", "-e3"}
	return vecs, ids
}

func TestSearch_SelfMatch(t *testing.T) {
	vecs, ids := orthogonalCorpus()
	f, err := Build(vecs, ids)
	require.NoError(t, err)

	for i, v := range vecs {
		got := f.Search(v, 1)
		require.Len(t, got, 1)
		assert.Equal(t, ids[i], got[0].ID)
		assert.Equal(t, 1.0, got[0].Score)
		assert.Equal(t, 1, got[0].Rank)
	}
}

func TestSearch_KClamped(t *testing.T) {
	vecs, ids := orthogonalCorpus()
	f, err := Build(vecs, ids)
	require.NoError(t, err)

	got := f.Search([]float32{1, 0, 0}, 100)
	require.Len(t, got, 6)
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, -1.0, got[5].Score)
	assert.Equal(t, "-e1", got[5].ID)

	// ties at score 0 keep build order
	assert.Equal(t, []string{"e2", "e3", "-e2", "-e3"}, []string{got[1].ID, got[2].ID, got[3].ID, got[4].ID})

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
		assert.Equal(t, i+1, got[i].Rank)
	}
}

func TestSearch_ScaleInvariant(t *testing.T) {
	f, err := Build([][]float32{{3, 4}, {4, -3}}, []string{"a", "b"})
	require.NoError(t, err)

	got := f.Search([]float32{30, 40}, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
}

func TestSearch_FailsClosed(t *testing.T) {
	var f *Flat
	assert.Empty(t, f.Search([]float32{1}, 3))

	vecs, ids := orthogonalCorpus()
	f, err := Build(vecs, ids)
	require.NoError(t, err)
	assert.Empty(t, f.Search(nil, 3))
	assert.Empty(t, f.Search([]float32{1, 0, 0}, 0))

	s := NewSearcher(nil)
	assert.Empty(t, s.Search([]float32{1, 0, 0}, 3))
	assert.Equal(t, 0, s.Len())
}

func TestBuild_DropsNil(t *testing.T) {
	f, err := Build([][]float32{nil, {1, 0}, nil, {0, 1}}, []string{"a", "b", "c", "d"})
	require.NoError(t, err)
	assert.Equal(t, 2, f.Len())

	got := f.Search([]float32{0, 1}, 1)
	assert.Equal(t, "d", got[0].ID)
}

func TestBuild_NoValidInput(t *testing.T) {
	_, err := Build(nil, nil)
	assert.ErrorIs(t, err, ErrNoValidInput)

	_, err = Build([][]float32{nil, nil}, []string{"a", "b"})
	assert.ErrorIs(t, err, model.ErrNoValidInput)
}

func TestSerializeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	vecs := make([][]float32, 50)
	ids := make([]string, 50)
	for i := range vecs {
		v := make([]float32, 16)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		vecs[i] = v
		ids[i] = string(rune('A'+i%26)) + string(rune('a'+i/26))
	}

	f, err := Build(vecs, ids)
	require.NoError(t, err)

	data, meta, err := f.Serialize()
	require.NoError(t, err)
	assert.Equal(t, [2]int{50, 16}, meta.EmbeddingsShape)
	assert.Equal(t, ids, meta.SequenceIDs)

	g, err := Deserialize(data, meta)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		q := vecs[rng.IntN(len(vecs))]
		assert.Equal(t, f.Search(q, 7), g.Search(q, 7))
	}
}

func TestDeserialize_Mismatch(t *testing.T) {
	vecs, ids := orthogonalCorpus()
	f, err := Build(vecs, ids)
	require.NoError(t, err)
	data, meta, err := f.Serialize()
	require.NoError(t, err)

	bad := meta
	bad.SequenceIDs = bad.SequenceIDs[:2]
	_, err = Deserialize(data, bad)
	assert.Error(t, err)

	bad = meta
	bad.EmbeddingsShape = [2]int{6, 4}
	_, err = Deserialize(data, bad)
	assert.Error(t, err)

	_, err = Deserialize([]byte("not an index"), meta)
	assert.ErrorIs(t, err, artifact.ErrIncompatibleVersion)
}

func TestSearcher_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemoryStore()
	vecs, ids := orthogonalCorpus()

	s := NewSearcher(nil)
	assert.Error(t, s.Save(ctx, store, "default"), "nothing to save yet")

	require.NoError(t, s.Build(vecs, ids))
	require.NoError(t, s.Save(ctx, store, "default"))
	assert.ElementsMatch(t, []string{"faiss_indices/default.index", "faiss_indices/default_metadata.json"}, store.Keys())

	other := NewSearcher(nil)
	require.NoError(t, other.Load(ctx, store, "default"))
	assert.Equal(t, s.Search([]float32{0, 0, 1}, 3), other.Search([]float32{0, 0, 1}, 3))

	assert.ErrorIs(t, other.Load(ctx, store, "missing"), artifact.ErrNotFound)
	// failed load keeps the previous index
	assert.Equal(t, 6, other.Len())
}

func TestSearcher_BuildErrorKeepsIndex(t *testing.T) {
	s := NewSearcher(nil)
	vecs, ids := orthogonalCorpus()
	require.NoError(t, s.Build(vecs, ids))

	assert.ErrorIs(t, s.Build(nil, nil), ErrNoValidInput)
	assert.Equal(t, 6, s.Len())
}
