package cluster

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/yumyai/edna/pkg/artifact"
)

const (
	modelKind    = "cluster_model"
	modelVersion = 1
)

// savedModel is the persisted unit: parameters plus the fitted scaler.
type savedModel struct {
	Params  Params    `msgpack:"params"`
	Scaler  *Scaler   `msgpack:"scaler"`
	SavedAt time.Time `msgpack:"saved_at"`
}

func ModelKey(id string) string {
	return "clustering_models/" + id + ".msgpack"
}

var ErrNotFitted = errors.New("cluster: no fitted scaler to save")

// SaveModel writes the last fitted scaler together with the parameters of the
// call that fitted it, overrides included, as one versioned artifact.
func (c *Clusterer) SaveModel(ctx context.Context, store artifact.Store, id string) error {
	if c.scaler == nil {
		return ErrNotFitted
	}
	key := ModelKey(id)
	data, err := artifact.Seal(modelKind, modelVersion, &savedModel{
		Params:  c.fitted,
		Scaler:  c.scaler,
		SavedAt: time.Now().UTC(),
	})
	if err != nil {
		return &artifact.PersistenceError{Op: "encode", Key: key, Err: err}
	}
	if err := store.Put(ctx, key, data); err != nil {
		return &artifact.PersistenceError{Op: "put", Key: key, Err: err}
	}
	c.log.Info("Saved clustering model", zap.String("key", key))
	return nil
}

// LoadModel restores parameters and scaler. There is no incremental
// prediction; call Cluster again for fresh assignments.
func LoadModel(ctx context.Context, store artifact.Store, id string, log *zap.Logger) (*Clusterer, error) {
	key := ModelKey(id)
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, &artifact.PersistenceError{Op: "get", Key: key, Err: err}
	}
	var m savedModel
	if err := artifact.Open(data, modelKind, modelVersion, &m); err != nil {
		return nil, &artifact.PersistenceError{Op: "decode", Key: key, Err: err}
	}
	c, err := New(m.Params, log)
	if err != nil {
		return nil, err
	}
	c.scaler = m.Scaler
	c.fitted = m.Params
	return c, nil
}
