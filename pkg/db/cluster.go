package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/yumyai/edna/pkg/model"
)

// SaveClusterRun records a run with its clusters and moves every sequence to
// its new cluster in one transaction. Sequences absent from assignments, and
// noise, end up with no cluster.
func (e *EDB) SaveClusterRun(ctx context.Context, run *model.ClusterRun, clusters []model.Cluster, assignments []model.Assignment) error {
	tx, err := e.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var silhouette any
	if run.Silhouette != nil {
		silhouette = *run.Silhouette
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cluster_runs (id, min_cluster_size, min_samples, n_clusters, n_noise, noise_ratio, silhouette, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.MinClusterSize, run.MinSamples, run.NClusters, run.NNoise, run.NoiseRatio, silhouette, toUnix(run.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert cluster run: %w", err)
	}

	insCluster, err := tx.PrepareContext(ctx, `
		INSERT INTO clusters (run_id, cluster_id, member_count, centroid, stability) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insCluster.Close()
	for _, c := range clusters {
		centroid, err := msgpack.Marshal(c.Centroid)
		if err != nil {
			return err
		}
		if _, err := insCluster.ExecContext(ctx, run.ID, c.ID, c.MemberCount, centroid, c.Stability); err != nil {
			return fmt.Errorf("insert cluster %d: %w", c.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sequences SET cluster_id = NULL`); err != nil {
		return err
	}
	setCluster, err := tx.PrepareContext(ctx, `UPDATE sequences SET cluster_id = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer setCluster.Close()
	for _, a := range assignments {
		if a.ClusterID == nil || a.SequenceID == "" {
			continue
		}
		if _, err := setCluster.ExecContext(ctx, *a.ClusterID, a.SequenceID); err != nil {
			return fmt.Errorf("assign %s: %w", a.SequenceID, err)
		}
	}

	return tx.Commit()
}

func scanRun(row rowScanner) (*model.ClusterRun, error) {
	var (
		run        model.ClusterRun
		silhouette sql.NullFloat64
		created    int64
	)
	err := row.Scan(&run.ID, &run.MinClusterSize, &run.MinSamples, &run.NClusters, &run.NNoise,
		&run.NoiseRatio, &silhouette, &created)
	if err != nil {
		return nil, err
	}
	if silhouette.Valid {
		s := silhouette.Float64
		run.Silhouette = &s
	}
	run.CreatedAt = fromUnix(created)
	return &run, nil
}

// LatestClusterRun returns ErrNotFound before the first run.
func (e *EDB) LatestClusterRun(ctx context.Context) (*model.ClusterRun, error) {
	row := e.sql.QueryRowContext(ctx, `
		SELECT id, min_cluster_size, min_samples, n_clusters, n_noise, noise_ratio, silhouette, created_at
		FROM cluster_runs ORDER BY created_at DESC, rowid DESC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cluster run: %w", ErrNotFound)
	}
	return run, err
}

func (e *EDB) ListClusters(ctx context.Context, runID string) ([]model.Cluster, error) {
	rows, err := e.sql.QueryContext(ctx, `
		SELECT cluster_id, member_count, centroid, stability
		FROM clusters WHERE run_id = ? ORDER BY cluster_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Cluster
	for rows.Next() {
		c := model.Cluster{RunID: runID}
		var centroid []byte
		if err := rows.Scan(&c.ID, &c.MemberCount, &centroid, &c.Stability); err != nil {
			return nil, err
		}
		if len(centroid) > 0 {
			if err := msgpack.Unmarshal(centroid, &c.Centroid); err != nil {
				return nil, fmt.Errorf("decode centroid %d: %w", c.ID, err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (e *EDB) GetCluster(ctx context.Context, runID string, clusterID int) (*model.Cluster, error) {
	clusters, err := e.ListClusters(ctx, runID)
	if err != nil {
		return nil, err
	}
	for i := range clusters {
		if clusters[i].ID == clusterID {
			return &clusters[i], nil
		}
	}
	return nil, fmt.Errorf("cluster %d in run %s: %w", clusterID, runID, ErrNotFound)
}

// ClusterMembers lists the sequences currently assigned to clusterID.
func (e *EDB) ClusterMembers(ctx context.Context, clusterID int) ([]*model.SequenceRecord, error) {
	return e.querySequences(ctx,
		`SELECT `+sequenceColumns+` FROM sequences WHERE cluster_id = ? ORDER BY created_at, id`, clusterID)
}
