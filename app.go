package main

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/yumyai/edna/internal/breaker"
	"github.com/yumyai/edna/internal/config"
	"github.com/yumyai/edna/logger"
	"github.com/yumyai/edna/pkg/artifact"
	"github.com/yumyai/edna/pkg/cluster"
	"github.com/yumyai/edna/pkg/db"
	"github.com/yumyai/edna/pkg/embed"
	"github.com/yumyai/edna/pkg/observability"
	"github.com/yumyai/edna/pkg/pipeline"
	"github.com/yumyai/edna/pkg/sequence"
	"github.com/yumyai/edna/pkg/taxonomy"
)

// app holds everything a command needs. close releases it in reverse order.
type app struct {
	cfg     *config.Config
	svc     *pipeline.Service
	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("Close failed", zap.Error(err))
		}
	}
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	edb, err := db.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, edb.Close)
	logger.Info("Open database on", zap.String("DB_LOC", cfg.Database.Path))

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	resolver, err := newResolver(cfg, store)
	if err != nil {
		return nil, err
	}
	clusterer, err := cluster.New(cluster.Params{
		MinClusterSize:     cfg.Clustering.MinClusterSize,
		MinSamples:         cfg.Clustering.MinSamples,
		AllowSingleCluster: cfg.Clustering.AllowSingleCluster,
	}, logger.Named("cluster"))
	if err != nil {
		return nil, err
	}
	method, err := taxonomy.ParseMethod(cfg.Taxonomy.Method)
	if err != nil {
		return nil, err
	}

	a.svc, err = pipeline.New(pipeline.Deps{
		DB:    edb,
		Store: store,
		Normalizer: sequence.Normalizer{
			MinLength:     cfg.Sequence.MinLength,
			MaxLength:     cfg.Sequence.MaxLength,
			MinValidRatio: cfg.Sequence.MinValidRatio,
		},
		Embedder:  embedder,
		Clusterer: clusterer,
		Resolver:  resolver,
		Metrics:   observability.NewCollector("edna"),
	}, pipeline.Options{
		IndexID:  cfg.Index.ID,
		ModelID:  cfg.Clustering.ModelID,
		DefaultK: cfg.Index.DefaultK,
		Method:   method,
	}, logger.Named("pipeline"))
	if err != nil {
		return nil, err
	}
	if err := a.svc.Init(ctx); err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

// openStore returns the artifact store for the configured backend and, for
// backends holding resources, a close function.
func openStore(cfg *config.Config) (artifact.Store, func() error, error) {
	ac := cfg.Artifacts
	logger.Info("Artifact store", zap.String("backend", ac.Backend))
	switch ac.Backend {
	case "local":
		s, err := artifact.NewLocalStore(ac.Dir)
		return s, nil, err
	case "memory":
		return artifact.NewMemoryStore(), nil, nil
	case "badger":
		s, err := artifact.NewBadger(artifact.BadgerOptions{
			Dir:    filepath.Join(ac.Dir, "badger"),
			Logger: logger.Named("badger"),
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "s3":
		client := artifact.NewS3Client(artifact.S3Config{
			Endpoint:     ac.S3.Endpoint,
			Region:       ac.S3.Region,
			AccessKey:    ac.S3.AccessKey,
			SecretKey:    ac.S3.SecretKey,
			UsePathStyle: ac.S3.UsePathStyle,
		})
		return artifact.NewS3(client, ac.S3.Bucket, ac.S3.Prefix), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown artifact backend %q", ac.Backend)
}

func newEmbedder(cfg *config.Config) (embed.Embedder, error) {
	ec := cfg.Embedding
	switch ec.Backend {
	case "remote":
		return embed.NewRemote(embed.RemoteConfig{
			URL:       ec.RemoteURL,
			Dimension: ec.Dimension,
			Timeout:   ec.Timeout,
			Breaker:   breaker.DefaultConfig("embedding-service"),
		}, logger.Named("embed"))
	default:
		return embed.NewKmer(ec.KSizes...)
	}
}

// newResolver wires BLAST behind a circuit breaker when it is enabled.
func newResolver(cfg *config.Config, store artifact.Store) (*taxonomy.Resolver, error) {
	tc := cfg.Taxonomy
	scorer, err := taxonomy.ScorerByName(tc.Scorer)
	if err != nil {
		return nil, err
	}

	var external taxonomy.ExternalSearcher
	if tc.Blast.Enabled {
		blast := taxonomy.NewBlastSearcher(tc.Blast.Binary, tc.Blast.DB)
		if tc.Blast.MaxTargetSeqs > 0 {
			blast.MaxTargetSeqs = tc.Blast.MaxTargetSeqs
		}
		external = taxonomy.NewBreakerSearcher(blast, tc.Breaker, tc.Blast.Timeout, logger.Named("blast"))
		logger.Info("External reference search enabled", zap.String("db", tc.Blast.DB))
	}

	return taxonomy.NewResolver(taxonomy.Config{
		SimilarityThreshold: tc.SimilarityThreshold,
		FallbackThreshold:   tc.FallbackThreshold,
		Scorer:              scorer,
	}, external, store, logger.Named("taxonomy")), nil
}
