package request

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		body    string
		dst     any
		empty   bool
		wantErr string
	}{
		{"search by id", `{"sequence_id":"s1","k":5}`, &SearchRequest{}, false, ""},
		{"search needs one of", `{"k":5}`, &SearchRequest{}, false, "sequence_id is required when sequence is missing"},
		{"k range", `{"sequence":"ACGT","k":0}`, &SearchRequest{}, false, ""},
		{"k too big", `{"sequence":"ACGT","k":5000}`, &SearchRequest{}, false, "k must be at most 1000"},
		{"bad method", `{"sequence":"ACGT","method":"magic"}`, &TaxonomyRequest{}, false, "method must be one of: local ncbi auto"},
		{"unknown field", `{"sequence":"ACGT","extra":1}`, &TaxonomyRequest{}, false, "invalid request body"},
		{"malformed", `{"sequence":`, &TaxonomyRequest{}, false, "invalid request body"},
		{"empty allowed", ``, &ClusterRequest{}, true, ""},
		{"empty refused", ``, &TaxonomyRequest{}, false, "invalid request body"},
		{"cluster size", `{"min_cluster_size":1}`, &ClusterRequest{}, true, "min_cluster_size must be at least 2"},
		{"batch blank entry", `{"sequences":["ACGT",""]}`, &TaxonomyBatchRequest{}, false, "sequences[1] is required"},
		{"reference", `{"sequence":"ACGTACGTACGT","category":"fish","taxonomy":{"genus":"Gadus"}}`, &ReferenceRequest{}, false, ""},
		{"reference without category", `{"sequence":"ACGTACGTACGT","taxonomy":{}}`, &ReferenceRequest{}, false, "category is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/", strings.NewReader(tt.body))
			err := Decode(r, v, tt.dst, tt.empty)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
