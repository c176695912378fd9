package sequence

import (
	"time"

	"github.com/yumyai/edna/pkg/model"
)

// NewRecord validates raw and builds a fresh record with its derived fields
// filled. The taxonomy starts as Unknown.
func (n Normalizer) NewRecord(id, raw string) (*model.SequenceRecord, error) {
	if err := n.Validate(raw); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rec := &model.SequenceRecord{
		ID:        id,
		RawData:   raw,
		Taxonomy:  model.UnknownTaxonomy(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	Refresh(rec)
	return rec, nil
}

// Refresh recomputes the cleaned sequence and everything derived from it.
func Refresh(rec *model.SequenceRecord) {
	rec.CleanedData = Clean(rec.RawData)
	rec.Length = len(rec.CleanedData)
	rec.GCContent = GCContent(rec.CleanedData)
	rec.QualityScore = QualityScore(rec.RawData)
}
