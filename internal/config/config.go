// Package config loads the service configuration from config.yaml and the
// environment. Environment variables (optionally from .env) win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yumyai/edna/internal/breaker"
	"github.com/yumyai/edna/internal/util"
)

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// Requests slower than this are logged as warnings.
	SlowRequest time.Duration `yaml:"slow_request"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type S3Config struct {
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// ArtifactConfig picks where models, indices and the reference database live.
type ArtifactConfig struct {
	Backend string   `yaml:"backend"` // local | s3 | badger | memory
	Dir     string   `yaml:"dir"`
	S3      S3Config `yaml:"s3"`
}

type SequenceConfig struct {
	MinLength     int     `yaml:"min_length"`
	MaxLength     int     `yaml:"max_length"`
	MinValidRatio float64 `yaml:"min_valid_ratio"`
}

type EmbeddingConfig struct {
	Backend   string        `yaml:"backend"` // kmer | remote
	KSizes    []int         `yaml:"k_sizes"`
	RemoteURL string        `yaml:"remote_url"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
}

type ClusteringConfig struct {
	MinClusterSize     int    `yaml:"min_cluster_size"`
	MinSamples         int    `yaml:"min_samples"`
	AllowSingleCluster bool   `yaml:"allow_single_cluster"`
	ModelID            string `yaml:"model_id"`
}

type IndexConfig struct {
	ID       string `yaml:"id"`
	DefaultK int    `yaml:"default_k"`
}

type BlastConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Binary        string        `yaml:"binary"`
	DB            string        `yaml:"db"`
	MaxTargetSeqs int           `yaml:"max_target_seqs"`
	Timeout       time.Duration `yaml:"timeout"`
}

type TaxonomyConfig struct {
	SimilarityThreshold float64        `yaml:"similarity_threshold"`
	FallbackThreshold   float64        `yaml:"fallback_threshold"`
	Method              string         `yaml:"method"`
	Scorer              string         `yaml:"scorer"`
	Blast               BlastConfig    `yaml:"blast"`
	Breaker             breaker.Config `yaml:"breaker"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	DataDir    string           `yaml:"data_dir"`
	Database   DatabaseConfig   `yaml:"database"`
	Artifacts  ArtifactConfig   `yaml:"artifacts"`
	Sequence   SequenceConfig   `yaml:"sequence"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Index      IndexConfig      `yaml:"index"`
	Taxonomy   TaxonomyConfig   `yaml:"taxonomy"`
}

// Load reads path, fills defaults and applies EDNA_* environment overrides.
// A missing file is not an error: the defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads path into the process environment when it exists and
// reports whether it did. A missing file is not an error; a malformed one is.
func LoadDotEnv(path string) (bool, error) {
	if !util.FileExists(path) {
		return false, nil
	}
	if err := godotenv.Load(path); err != nil {
		return false, fmt.Errorf("load %s: %w", path, err)
	}
	return true, nil
}

func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "0.0.0.0:8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.SlowRequest == 0 {
		cfg.Server.SlowRequest = 2 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(cfg.DataDir, "db", "edna.db")
	}

	if cfg.Artifacts.Backend == "" {
		cfg.Artifacts.Backend = "local"
	}
	if cfg.Artifacts.Dir == "" {
		cfg.Artifacts.Dir = filepath.Join(cfg.DataDir, "artifacts")
	}
	if cfg.Artifacts.S3.Bucket == "" {
		cfg.Artifacts.S3.Bucket = "edna-models"
	}

	if cfg.Sequence.MinLength == 0 {
		cfg.Sequence.MinLength = 50
	}
	if cfg.Sequence.MaxLength == 0 {
		cfg.Sequence.MaxLength = 10000
	}
	if cfg.Sequence.MinValidRatio == 0 {
		cfg.Sequence.MinValidRatio = 0.8
	}

	if cfg.Embedding.Backend == "" {
		cfg.Embedding.Backend = "kmer"
	}
	if len(cfg.Embedding.KSizes) == 0 {
		cfg.Embedding.KSizes = []int{3, 4}
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}

	if cfg.Clustering.MinClusterSize == 0 {
		cfg.Clustering.MinClusterSize = 5
	}
	if cfg.Clustering.MinSamples == 0 {
		cfg.Clustering.MinSamples = 3
	}
	if cfg.Clustering.ModelID == "" {
		cfg.Clustering.ModelID = "default"
	}

	if cfg.Index.ID == "" {
		cfg.Index.ID = "default"
	}
	if cfg.Index.DefaultK == 0 {
		cfg.Index.DefaultK = 10
	}

	t := &cfg.Taxonomy
	if t.SimilarityThreshold == 0 {
		t.SimilarityThreshold = 0.8
	}
	if t.FallbackThreshold == 0 {
		t.FallbackThreshold = 0.5
	}
	if t.Method == "" {
		t.Method = "auto"
	}
	if t.Scorer == "" {
		t.Scorer = "positional"
	}
	if t.Blast.Binary == "" {
		t.Blast.Binary = "blastn"
	}
	if t.Blast.DB == "" {
		t.Blast.DB = filepath.Join(cfg.DataDir, "db", "blastdb", "reference")
	}
	if t.Blast.MaxTargetSeqs == 0 {
		t.Blast.MaxTargetSeqs = 10
	}
	if t.Blast.Timeout == 0 {
		t.Blast.Timeout = 60 * time.Second
	}
	def := breaker.DefaultConfig("reference-search")
	if t.Breaker.Name == "" {
		t.Breaker.Name = def.Name
	}
	if t.Breaker.MaxRequests == 0 {
		t.Breaker.MaxRequests = def.MaxRequests
	}
	if t.Breaker.Interval == 0 {
		t.Breaker.Interval = def.Interval
	}
	if t.Breaker.Timeout == 0 {
		t.Breaker.Timeout = def.Timeout
	}
	if t.Breaker.FailureThreshold == 0 {
		t.Breaker.FailureThreshold = def.FailureThreshold
	}
	if t.Breaker.MinRequests == 0 {
		t.Breaker.MinRequests = def.MinRequests
	}
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("EDNA_DATA", &cfg.DataDir)
	setString("EDNA_ADDR", &cfg.Server.Addr)
	setString("EDNA_LOG_LEVEL", &cfg.Log.Level)
	setString("EDNA_DB_PATH", &cfg.Database.Path)
	setString("EDNA_ARTIFACT_BACKEND", &cfg.Artifacts.Backend)
	setString("EDNA_ARTIFACT_DIR", &cfg.Artifacts.Dir)
	setString("EDNA_S3_ENDPOINT", &cfg.Artifacts.S3.Endpoint)
	setString("EDNA_S3_REGION", &cfg.Artifacts.S3.Region)
	setString("EDNA_S3_BUCKET", &cfg.Artifacts.S3.Bucket)
	setString("EDNA_S3_ACCESS_KEY", &cfg.Artifacts.S3.AccessKey)
	setString("EDNA_S3_SECRET_KEY", &cfg.Artifacts.S3.SecretKey)
	setString("EDNA_EMBEDDING_URL", &cfg.Embedding.RemoteURL)
	setString("EDNA_BLAST_DB", &cfg.Taxonomy.Blast.DB)
	if v := os.Getenv("EDNA_BLAST_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Taxonomy.Blast.Enabled = b
		}
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Artifacts.Backend {
	case "local", "s3", "badger", "memory":
	default:
		errs = append(errs, fmt.Errorf("artifacts.backend: unknown backend %q", c.Artifacts.Backend))
	}
	switch c.Embedding.Backend {
	case "kmer":
	case "remote":
		if c.Embedding.RemoteURL == "" {
			errs = append(errs, errors.New("embedding.remote_url is required for the remote backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("embedding.backend: unknown backend %q", c.Embedding.Backend))
	}
	switch c.Taxonomy.Method {
	case "local", "ncbi", "auto":
	default:
		errs = append(errs, fmt.Errorf("taxonomy.method: unknown method %q", c.Taxonomy.Method))
	}
	if c.Sequence.MinLength > c.Sequence.MaxLength {
		errs = append(errs, fmt.Errorf("sequence.min_length %d exceeds max_length %d", c.Sequence.MinLength, c.Sequence.MaxLength))
	}
	if c.Clustering.MinClusterSize < 2 {
		errs = append(errs, fmt.Errorf("clustering.min_cluster_size must be >= 2, got %d", c.Clustering.MinClusterSize))
	}
	for _, th := range []float64{c.Taxonomy.SimilarityThreshold, c.Taxonomy.FallbackThreshold, c.Sequence.MinValidRatio} {
		if th < 0 || th > 1 {
			errs = append(errs, fmt.Errorf("threshold %v outside [0, 1]", th))
		}
	}
	return errors.Join(errs...)
}
