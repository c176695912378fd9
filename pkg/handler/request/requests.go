package request

// Request bodies for the JSON API. Validation tags are checked by Decode.

// Validate a batch of raw sequences without storing them.
type ValidateRequest struct {
	Sequences []string `json:"sequences" validate:"required,min=1,max=10000"`
}

// Clustering parameters. Zero values fall back to the configured defaults.
type ClusterRequest struct {
	MinClusterSize     int  `json:"min_cluster_size" validate:"omitempty,min=2"`
	MinSamples         int  `json:"min_samples" validate:"omitempty,min=1"`
	AllowSingleCluster bool `json:"allow_single_cluster"`
}

// Similarity search by stored sequence ID or by raw sequence.
type SearchRequest struct {
	SequenceID string `json:"sequence_id" validate:"required_without=Sequence"`
	Sequence   string `json:"sequence" validate:"required_without=SequenceID"`
	K          int    `json:"k" validate:"omitempty,min=1,max=1000"`
}

// Taxonomy for one raw sequence.
type TaxonomyRequest struct {
	Sequence string `json:"sequence" validate:"required"`
	Method   string `json:"method" validate:"omitempty,oneof=local ncbi auto"`
}

// Taxonomy for raw sequences, or for stored ones by ID. With neither, every
// stored sequence is resolved.
type TaxonomyBatchRequest struct {
	Sequences   []string `json:"sequences" validate:"max=1000,dive,required"`
	SequenceIDs []string `json:"sequence_ids" validate:"max=10000,dive,required"`
	Method      string   `json:"method" validate:"omitempty,oneof=local ncbi auto"`
}

// A new entry for the local reference database.
type ReferenceRequest struct {
	Sequence    string            `json:"sequence" validate:"required,min=10"`
	Category    string            `json:"category" validate:"required"`
	ReferenceID string            `json:"reference_id"`
	Taxonomy    map[string]string `json:"taxonomy" validate:"required"`
}
