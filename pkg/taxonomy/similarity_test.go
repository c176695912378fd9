package taxonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/edna/pkg/model"
)

func TestPositionalIdentity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"ACGT", "ACGT", 1.0},
		{"ACGT", "ACGA", 0.75},
		{"ACGT", "ACGTACGT", 0.5},
		{"ACGT", "", 0.0},
		{"", "", 0.0},
		// one insertion shifts everything after it
		{"AACGT", "ACGT", 0.2},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, PositionalIdentity(tt.a, tt.b), 1e-9, "%s vs %s", tt.a, tt.b)
		assert.InDelta(t, tt.want, PositionalIdentity(tt.b, tt.a), 1e-9, "symmetric")
	}
}

func TestEditIdentity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"ACGT", "ACGT", 1.0},
		{"AACGT", "ACGT", 0.8},
		{"ACGT", "TGCA", 0.0},
		{"ACGT", "", 0.0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, EditIdentity(tt.a, tt.b), 1e-9, "%s vs %s", tt.a, tt.b)
	}
}

func TestScorerByName(t *testing.T) {
	for _, name := range []string{"", "positional", "edit"} {
		s, err := ScorerByName(name)
		require.NoError(t, err)
		assert.Equal(t, 1.0, s("ACGT", "ACGT"))
	}
	_, err := ScorerByName("smith-waterman")
	assert.Error(t, err)
}

func TestReferenceDB_Snapshot(t *testing.T) {
	db := DefaultReferenceDB()
	db.Add("marine_fish", "f1", "ACGT", model.Taxonomy{"genus": "Gadus"})
	db.Add("custom", "", "TTTT", nil)

	data, err := db.MarshalJSON()
	require.NoError(t, err)

	back, err := ParseReferenceDB(data)
	require.NoError(t, err)
	assert.Equal(t, db.CategoryNames(), back.CategoryNames())
	assert.Equal(t, 2, back.Size())

	// a category created without taxonomy still gets a template
	back.mu.RLock()
	assert.Equal(t, model.UnknownTaxonomy(), back.categories["custom"].Template)
	back.mu.RUnlock()
}

func TestParseReferenceDB_Legacy(t *testing.T) {
	legacy := `{
		"zeta": {"sequences": [], "taxonomy": {"kingdom": "Plantae"}},
		"alpha": {"sequences": [{"id": "a1", "sequence": "ACGT", "taxonomy": {"genus": "A"}}], "taxonomy": {}}
	}`
	db, err := ParseReferenceDB([]byte(legacy))
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, db.CategoryNames())
	assert.Equal(t, 1, db.Size())

	_, err = ParseReferenceDB([]byte(`{"version": 7, "categories": []}`))
	assert.Error(t, err)
}
