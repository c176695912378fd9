package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/edna/pkg/diversity"
	"github.com/yumyai/edna/pkg/model"
)

func members() []*model.SequenceRecord {
	return []*model.SequenceRecord{
		{ID: "s1", CleanedData: strings.Repeat("ACGT", 25), Length: 100, GCContent: 0.5, Taxonomy: model.Taxonomy{"genus": "Gadus"}, TaxonomyConfidence: 0.9},
		{ID: "s2", CleanedData: strings.Repeat("AT", 30), Length: 60, GCContent: 0, Taxonomy: model.UnknownTaxonomy()},
		{ID: "<s3>", CleanedData: strings.Repeat("G", 50), Length: 50, GCContent: 1, Taxonomy: model.Taxonomy{"genus": "Gadus"}},
	}
}

func TestRenderClusterPage(t *testing.T) {
	var buf bytes.Buffer
	c := &model.Cluster{ID: 3, RunID: "run-1", MemberCount: 3, Stability: 4.25}
	require.NoError(t, RenderClusterPage(&buf, c, members()))

	out := buf.String()
	assert.Contains(t, out, "<h1>Cluster 3</h1>")
	assert.Contains(t, out, "stability 4.250")
	assert.Contains(t, out, "Average length 70.0 bp")
	assert.Contains(t, out, "Gadus (2), Unknown (1)")
	assert.Contains(t, out, "/api/v1/clusters/3/fasta")
	assert.Contains(t, out, "&lt;s3&gt;")
	assert.NotContains(t, out, "<s3>")
}

func TestRenderClusterPageEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderClusterPage(&buf, &model.Cluster{ID: 0}, nil))
	assert.Contains(t, buf.String(), "Average length 0.0 bp")
}

func TestRenderClusterFasta(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderClusterFasta(&buf, members()[:2]))
	assert.Equal(t, ">s1\n"+strings.Repeat("ACGT", 20)+"\n"+strings.Repeat("ACGT", 5)+"\n>s2\n"+strings.Repeat("AT", 30)+"\n", buf.String())
}

func TestRenderJobPage(t *testing.T) {
	tests := []struct {
		name     string
		data     JobPageData
		contains []string
		absent   []string
	}{
		{
			name:     "running refreshes",
			data:     JobPageData{JobID: "j1", Status: "running", Progress: 0.3, ShouldRefresh: true, RefreshIntervalSeconds: 5},
			contains: []string{"running (30%)", "5000", "still running"},
		},
		{
			name:     "failed shows error",
			data:     JobPageData{JobID: "j2", Status: "failed", Progress: 0.5, ErrorMessage: "no embeddings"},
			contains: []string{"no embeddings"},
			absent:   []string{"setTimeout"},
		},
		{
			name:     "completed shows result",
			data:     JobPageData{JobID: "j3", Status: "completed", Progress: 1, Result: `{"n_clusters":2}`},
			contains: []string{"completed (100%)", "n_clusters"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, RenderJobPage(&buf, tt.data))
			for _, s := range tt.contains {
				assert.Contains(t, buf.String(), s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestRenderRunPage(t *testing.T) {
	sil := 0.42
	run := &model.ClusterRun{ID: "run-9", NClusters: 2, NNoise: 1, NoiseRatio: 0.1, MinClusterSize: 5, MinSamples: 3, Silhouette: &sil}
	clusters := []model.Cluster{{ID: 0, MemberCount: 5, Stability: 0.5}, {ID: 1, MemberCount: 4, Stability: 20}}

	var buf bytes.Buffer
	require.NoError(t, RenderRunPage(&buf, run, clusters, &diversity.Metrics{ShannonIndex: 0.69, Richness: 2}))
	out := buf.String()
	assert.Contains(t, out, "2 clusters, 1 noise sequences (10.0%)")
	assert.Contains(t, out, "Silhouette 0.420")
	assert.Contains(t, out, "0.690")
	assert.Contains(t, out, `href="/api/v1/clusters/1"`)
	assert.Contains(t, out, "#CCCCCC")

	buf.Reset()
	require.NoError(t, RenderRunPage(&buf, &model.ClusterRun{ID: "r"}, nil, nil))
	assert.NotContains(t, buf.String(), "Shannon")
}

func TestColorByStability(t *testing.T) {
	assert.Equal(t, "#CCCCCC", colorByStability(0.2))
	assert.Equal(t, "#800000", colorByStability(1000))
	assert.NotEqual(t, colorByStability(2), colorByStability(10))
}
