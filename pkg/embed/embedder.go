// Package embed turns cleaned DNA sequences into fixed-length feature vectors.
package embed

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrUnavailable means no embedding could be produced for the input. Callers
// treat it as an absent vector, not as a batch failure.
var ErrUnavailable = errors.New("embedding unavailable")

// Embedder maps a cleaned sequence to a vector. Equal inputs give equal vectors.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, sequence string) ([]float32, error)
}

// EmbedBatch embeds every sequence in order. Failed entries are left nil so
// positions still line up with the input.
func EmbedBatch(ctx context.Context, e Embedder, sequences []string, log *zap.Logger) [][]float32 {
	if log == nil {
		log = zap.NewNop()
	}
	out := make([][]float32, len(sequences))
	missing := 0
	for i, seq := range sequences {
		if ctx.Err() != nil {
			missing += len(sequences) - i
			break
		}
		v, err := e.Embed(ctx, seq)
		if err != nil {
			missing++
			log.Debug("No embedding for sequence", zap.Int("index", i), zap.Error(err))
		} else {
			out[i] = v
		}
		if (i+1)%10 == 0 {
			log.Info("Embedding progress", zap.Int("done", i+1), zap.Int("total", len(sequences)))
		}
	}
	if missing > 0 {
		log.Warn("Some sequences have no embedding",
			zap.String("embedder", e.Name()),
			zap.Int("missing", missing),
			zap.Int("total", len(sequences)),
		)
	}
	return out
}
