package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/yumyai/edna/pkg/model"
)

const sequenceColumns = `id, raw_data, cleaned_data, embedding, quality_score, gc_content, length,
	taxonomy, taxonomy_confidence, cluster_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSequence(row rowScanner) (*model.SequenceRecord, error) {
	var (
		rec       model.SequenceRecord
		embedding []byte
		taxonomy  string
		clusterID sql.NullInt64
		created   int64
		updated   int64
	)
	err := row.Scan(&rec.ID, &rec.RawData, &rec.CleanedData, &embedding, &rec.QualityScore,
		&rec.GCContent, &rec.Length, &taxonomy, &rec.TaxonomyConfidence, &clusterID, &created, &updated)
	if err != nil {
		return nil, err
	}

	if len(embedding) > 0 {
		if err := msgpack.Unmarshal(embedding, &rec.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding of %s: %w", rec.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(taxonomy), &rec.Taxonomy); err != nil {
		return nil, fmt.Errorf("decode taxonomy of %s: %w", rec.ID, err)
	}
	if len(rec.Taxonomy) == 0 {
		rec.Taxonomy = model.UnknownTaxonomy()
	}
	if clusterID.Valid {
		id := int(clusterID.Int64)
		rec.ClusterID = &id
	}
	rec.CreatedAt = fromUnix(created)
	rec.UpdatedAt = fromUnix(updated)
	return &rec, nil
}

// encodeEmbedding returns a msgpack blob, or an untyped nil so the column is NULL.
func encodeEmbedding(v []float32) (any, error) {
	if v == nil {
		return nil, nil
	}
	return msgpack.Marshal(v)
}

// UpsertSequence inserts rec or replaces the stored raw and derived fields.
// An existing taxonomy or cluster id is kept unless rec sets one; an existing
// embedding is kept only while the cleaned sequence is unchanged.
func (e *EDB) UpsertSequence(ctx context.Context, rec *model.SequenceRecord) error {
	emb, err := encodeEmbedding(rec.Embedding)
	if err != nil {
		return err
	}
	tax := rec.Taxonomy
	if tax == nil {
		tax = model.UnknownTaxonomy()
	}
	taxJSON, err := json.Marshal(tax)
	if err != nil {
		return err
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	var clusterID any
	if rec.ClusterID != nil {
		clusterID = *rec.ClusterID
	}

	_, err = e.sql.ExecContext(ctx, `
		INSERT INTO sequences (`+sequenceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			raw_data = excluded.raw_data,
			cleaned_data = excluded.cleaned_data,
			embedding = CASE WHEN excluded.cleaned_data = sequences.cleaned_data
				THEN COALESCE(excluded.embedding, sequences.embedding) ELSE excluded.embedding END,
			quality_score = excluded.quality_score,
			gc_content = excluded.gc_content,
			length = excluded.length,
			taxonomy = CASE WHEN excluded.taxonomy_confidence > 0 THEN excluded.taxonomy ELSE sequences.taxonomy END,
			taxonomy_confidence = MAX(excluded.taxonomy_confidence, sequences.taxonomy_confidence),
			cluster_id = COALESCE(excluded.cluster_id, sequences.cluster_id),
			updated_at = excluded.updated_at`,
		rec.ID, rec.RawData, rec.CleanedData, emb, rec.QualityScore, rec.GCContent, rec.Length,
		string(taxJSON), rec.TaxonomyConfidence, clusterID, toUnix(rec.CreatedAt), toUnix(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert sequence %s: %w", rec.ID, err)
	}
	return nil
}

func (e *EDB) GetSequence(ctx context.Context, id string) (*model.SequenceRecord, error) {
	row := e.sql.QueryRowContext(ctx, `SELECT `+sequenceColumns+` FROM sequences WHERE id = ?`, id)
	rec, err := scanSequence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sequence %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// ListSequences pages through sequences in insertion order.
func (e *EDB) ListSequences(ctx context.Context, limit, offset int) ([]*model.SequenceRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return e.querySequences(ctx,
		`SELECT `+sequenceColumns+` FROM sequences ORDER BY created_at, id LIMIT ? OFFSET ?`, limit, offset)
}

// ListEmbedded returns every sequence that has an embedding.
func (e *EDB) ListEmbedded(ctx context.Context) ([]*model.SequenceRecord, error) {
	return e.querySequences(ctx,
		`SELECT `+sequenceColumns+` FROM sequences WHERE embedding IS NOT NULL ORDER BY created_at, id`)
}

// ListUnembedded returns sequences still waiting for an embedding.
func (e *EDB) ListUnembedded(ctx context.Context) ([]*model.SequenceRecord, error) {
	return e.querySequences(ctx,
		`SELECT `+sequenceColumns+` FROM sequences WHERE embedding IS NULL ORDER BY created_at, id`)
}

func (e *EDB) querySequences(ctx context.Context, query string, args ...any) ([]*model.SequenceRecord, error) {
	stm, err := e.sql.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer stm.Close()

	rows, err := stm.QueryContext(ctx, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*model.SequenceRecord
	for rows.Next() {
		rec, err := scanSequence(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func (e *EDB) CountSequences(ctx context.Context) (int, error) {
	var n int
	err := e.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM sequences`).Scan(&n)
	return n, err
}

func (e *EDB) SetEmbedding(ctx context.Context, id string, embedding []float32) error {
	emb, err := encodeEmbedding(embedding)
	if err != nil {
		return err
	}
	return e.updateOne(ctx, id,
		`UPDATE sequences SET embedding = ?, updated_at = ? WHERE id = ?`,
		emb, toUnix(time.Now()), id)
}

func (e *EDB) SetTaxonomy(ctx context.Context, id string, tax model.Taxonomy, confidence float64) error {
	if tax == nil {
		tax = model.UnknownTaxonomy()
	}
	taxJSON, err := json.Marshal(tax)
	if err != nil {
		return err
	}
	return e.updateOne(ctx, id,
		`UPDATE sequences SET taxonomy = ?, taxonomy_confidence = ?, updated_at = ? WHERE id = ?`,
		string(taxJSON), confidence, toUnix(time.Now()), id)
}

func (e *EDB) updateOne(ctx context.Context, id, query string, args ...any) error {
	res, err := e.sql.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update sequence %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("sequence %s: %w", id, ErrNotFound)
	}
	return nil
}
