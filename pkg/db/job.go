package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yumyai/edna/pkg/diversity"
)

// JobRecord is the persisted form of a background job.
type JobRecord struct {
	ID        string          `json:"job_id"`
	Type      string          `json:"job_type"`
	Status    string          `json:"status"`
	Progress  float64         `json:"progress"`
	Message   string          `json:"message,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (e *EDB) SaveJob(ctx context.Context, j *JobRecord) error {
	var result any
	if len(j.Result) > 0 {
		result = string(j.Result)
	}
	_, err := e.sql.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, progress, message, result, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			message = excluded.message,
			result = excluded.result,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		j.ID, j.Type, j.Status, j.Progress, j.Message, result, j.Error, toUnix(j.CreatedAt), toUnix(j.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	return nil
}

func (e *EDB) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	var (
		j       JobRecord
		result  sql.NullString
		created int64
		updated int64
	)
	err := e.sql.QueryRowContext(ctx, `
		SELECT id, type, status, progress, message, result, error, created_at, updated_at
		FROM jobs WHERE id = ?`, id).
		Scan(&j.ID, &j.Type, &j.Status, &j.Progress, &j.Message, &result, &j.Error, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if result.Valid {
		j.Result = json.RawMessage(result.String)
	}
	j.CreatedAt = fromUnix(created)
	j.UpdatedAt = fromUnix(updated)
	return &j, nil
}

// DiversityRecord is one stored metrics snapshot.
type DiversityRecord struct {
	RunID     string            `json:"run_id"`
	Metrics   diversity.Metrics `json:"metrics"`
	CreatedAt time.Time         `json:"created_at"`
}

func (e *EDB) SaveDiversity(ctx context.Context, runID string, m diversity.Metrics) error {
	_, err := e.sql.ExecContext(ctx, `
		INSERT INTO diversity_metrics (run_id, shannon_index, simpson_index, species_richness, evenness,
			known_taxa_percentage, novel_taxa_percentage, novel_taxa_count, total_sequences, total_clusters,
			quality_score_avg, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, m.ShannonIndex, m.SimpsonIndex, m.Richness, m.Evenness, m.KnownTaxaPercent, m.NovelTaxaPercent,
		m.NovelTaxaCount, m.TotalSequences, m.TotalClusters, m.QualityScoreAvg, toUnix(time.Now()))
	if err != nil {
		return fmt.Errorf("save diversity metrics: %w", err)
	}
	return nil
}

// LatestDiversity returns ErrNotFound when no metrics were computed yet.
func (e *EDB) LatestDiversity(ctx context.Context) (*DiversityRecord, error) {
	var (
		r       DiversityRecord
		m       = &r.Metrics
		created int64
	)
	err := e.sql.QueryRowContext(ctx, `
		SELECT run_id, shannon_index, simpson_index, species_richness, evenness, known_taxa_percentage,
			novel_taxa_percentage, novel_taxa_count, total_sequences, total_clusters, quality_score_avg, created_at
		FROM diversity_metrics ORDER BY id DESC LIMIT 1`).
		Scan(&r.RunID, &m.ShannonIndex, &m.SimpsonIndex, &m.Richness, &m.Evenness, &m.KnownTaxaPercent,
			&m.NovelTaxaPercent, &m.NovelTaxaCount, &m.TotalSequences, &m.TotalClusters, &m.QualityScoreAvg, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("diversity metrics: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	r.CreatedAt = fromUnix(created)
	return &r, nil
}
