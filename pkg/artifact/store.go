// Package artifact persists model artifacts (clusterer models, index snapshots,
// reference databases) as opaque byte blobs addressed by key.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no artifact exists under the key.
var ErrNotFound = errors.New("artifact: not found")

// Store is the put/get collaborator used for artifacts. Keys are slash
// separated paths such as "clustering_models/default.msgpack".
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// PersistenceError wraps a failed save or load. Callers log it and keep their
// in-memory state.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("artifact %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// PutJSON stores v as JSON.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &PersistenceError{Op: "put", Key: key, Err: err}
	}
	if err := s.Put(ctx, key, data); err != nil {
		return &PersistenceError{Op: "put", Key: key, Err: err}
	}
	return nil
}

// GetJSON loads key into v. A missing key is reported as ErrNotFound (wrapped).
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return &PersistenceError{Op: "get", Key: key, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &PersistenceError{Op: "decode", Key: key, Err: err}
	}
	return nil
}
