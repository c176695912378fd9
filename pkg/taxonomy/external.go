package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/yumyai/edna/internal/breaker"
	"github.com/yumyai/edna/pkg/model"
)

// ErrCollaboratorUnavailable marks an external lookup that could not run.
// It never escalates past the resolver; the item gets an Unknown result.
var ErrCollaboratorUnavailable = errors.New("reference search unavailable")

// ExternalMatch is the best hit from an external reference search.
type ExternalMatch struct {
	Taxonomy    model.Taxonomy
	Confidence  float64
	ReferenceID string
	Details     map[string]any
}

// ExternalSearcher looks a sequence up in a remote or local reference
// database. (nil, nil) means the search ran and found nothing.
type ExternalSearcher interface {
	Search(ctx context.Context, sequence string) (*ExternalMatch, error)
}

// BreakerSearcher guards another searcher with a per-call timeout and a
// circuit breaker. It does not retry.
type BreakerSearcher struct {
	next    ExternalSearcher
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

func NewBreakerSearcher(next ExternalSearcher, cfg breaker.Config, timeout time.Duration, log *zap.Logger) *BreakerSearcher {
	if cfg.Name == "" {
		cfg.Name = "reference-search"
	}
	return &BreakerSearcher{
		next:    next,
		cb:      breaker.New(cfg, log),
		timeout: timeout,
	}
}

func (b *BreakerSearcher) Search(ctx context.Context, sequence string) (*ExternalMatch, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.Search(ctx, sequence)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCollaboratorUnavailable, err)
	}
	m, _ := v.(*ExternalMatch)
	return m, nil
}
