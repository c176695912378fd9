package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yumyai/edna/logger"
	"github.com/yumyai/edna/pkg/cluster"
	"github.com/yumyai/edna/pkg/model"
	"github.com/yumyai/edna/pkg/pipeline"
	"github.com/yumyai/edna/pkg/sequence"
	"github.com/yumyai/edna/pkg/taxonomy"
)

// withApp opens the service for one command and prints its result as JSON.
func withApp(run func(ctx context.Context, svc *pipeline.Service) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		out, err := run(ctx, a.svc)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
}

// readFasta reads every path, "-" meaning stdin.
func readFasta(paths []string) ([]sequence.Record, error) {
	var all []sequence.Record
	for _, p := range paths {
		var r io.Reader = os.Stdin
		if p != "-" {
			f, err := os.Open(p)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			r = f
		}
		recs, err := sequence.ParseFASTA(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		all = append(all, recs...)
	}
	return all, nil
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <fasta>...",
	Short: "Validate, store and embed sequences from FASTA files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := readFasta(args)
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, svc *pipeline.Service) (any, error) {
			ingest, err := svc.Ingest(ctx, records)
			if err != nil {
				return nil, err
			}
			embedded, err := svc.EmbedPending(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"ingest": ingest, "embedding": embedded}, nil
		})(cmd, args)
	},
}

var clusterFlags cluster.Params

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster every embedded sequence",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := cluster.Params{
			MinClusterSize:     cfg.Clustering.MinClusterSize,
			MinSamples:         cfg.Clustering.MinSamples,
			AllowSingleCluster: cfg.Clustering.AllowSingleCluster,
		}
		flags := cmd.Flags()
		if flags.Changed("min-cluster-size") {
			p.MinClusterSize = clusterFlags.MinClusterSize
		}
		if flags.Changed("min-samples") {
			p.MinSamples = clusterFlags.MinSamples
		}
		if flags.Changed("allow-single-cluster") {
			p.AllowSingleCluster = clusterFlags.AllowSingleCluster
		}
		if err := p.Validate(); err != nil {
			return err
		}
		return withApp(func(ctx context.Context, svc *pipeline.Service) (any, error) {
			report, err := svc.RunClustering(ctx, &p)
			if err != nil {
				return nil, err
			}
			return map[string]any{"run": report.Run, "clusters": report.Clusters}, nil
		})(cmd, args)
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Rebuild the similarity index",
	RunE: withApp(func(ctx context.Context, svc *pipeline.Service) (any, error) {
		n, err := svc.RebuildIndex(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int{"index_size": n}, nil
	}),
}

var searchQuery pipeline.SearchQuery

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Find the most similar indexed sequences",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if (searchQuery.SequenceID == "") == (searchQuery.Sequence == "") {
			return errors.New("give exactly one of --id or --sequence")
		}
		return nil
	},
	RunE: withApp(func(ctx context.Context, svc *pipeline.Service) (any, error) {
		return svc.SearchSimilar(ctx, searchQuery)
	}),
}

var (
	assignMethod string
	assignStored bool
)

var assignCmd = &cobra.Command{
	Use:   "assign [fasta]...",
	Short: "Assign taxonomy to FASTA records, or to stored sequences with --stored",
	RunE: func(cmd *cobra.Command, args []string) error {
		var method taxonomy.Method
		if assignMethod != "" {
			m, err := taxonomy.ParseMethod(assignMethod)
			if err != nil {
				return err
			}
			method = m
		}
		if assignStored {
			return withApp(func(ctx context.Context, svc *pipeline.Service) (any, error) {
				return svc.AssignTaxonomy(ctx, args, method)
			})(cmd, args)
		}
		if len(args) == 0 {
			return errors.New("give FASTA files, or --stored")
		}
		records, err := readFasta(args)
		if err != nil {
			return err
		}
		seqs := make([]string, len(records))
		for i, r := range records {
			seqs[i] = sequence.Clean(r.Sequence)
		}
		return withApp(func(ctx context.Context, svc *pipeline.Service) (any, error) {
			return svc.AssignSequences(ctx, seqs, method), nil
		})(cmd, args)
	},
}

var referenceCmd = &cobra.Command{
	Use:   "reference",
	Short: "Manage the local reference database",
}

var (
	refCategory string
	refTaxa     []string
)

// parseTaxa turns rank=value pairs into a taxonomy.
func parseTaxa(pairs []string) (model.Taxonomy, error) {
	tax := model.Taxonomy{}
	for _, p := range pairs {
		rank, value, ok := strings.Cut(p, "=")
		if !ok || rank == "" || value == "" {
			return nil, fmt.Errorf("taxon %q: want rank=value", p)
		}
		tax[rank] = value
	}
	return tax, nil
}

var referenceAddCmd = &cobra.Command{
	Use:   "add <fasta>...",
	Short: "Add every FASTA record as a reference with the given taxonomy",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tax, err := parseTaxa(refTaxa)
		if err != nil {
			return err
		}
		records, err := readFasta(args)
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, svc *pipeline.Service) (any, error) {
			ids := make([]string, 0, len(records))
			for _, r := range records {
				id, err := svc.Resolver().AddReferenceSequence(ctx, r.Sequence, tax, refCategory, r.ID)
				if err != nil {
					return nil, err
				}
				ids = append(ids, id)
			}
			logger.Info("References added", zap.Int("count", len(ids)), zap.String("category", refCategory))
			return map[string]any{"added": ids, "stats": svc.Resolver().Stats()}, nil
		})(cmd, args)
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Embed, cluster, index, assign taxonomy and compute diversity",
	RunE: withApp(func(ctx context.Context, svc *pipeline.Service) (any, error) {
		return svc.RunFullAnalysis(ctx, func(f float64, msg string) {
			logger.Info("Analysis", zap.String("stage", msg), zap.Float64("progress", f))
		})
	}),
}

var diversityCmd = &cobra.Command{
	Use:   "diversity",
	Short: "Compute diversity metrics for the current clusters",
	RunE: withApp(func(ctx context.Context, svc *pipeline.Service) (any, error) {
		return svc.ComputeDiversity(ctx)
	}),
}

func init() {
	cf := clusterCmd.Flags()
	cf.IntVar(&clusterFlags.MinClusterSize, "min-cluster-size", 0, "override clustering.min_cluster_size")
	cf.IntVar(&clusterFlags.MinSamples, "min-samples", 0, "override clustering.min_samples")
	cf.BoolVar(&clusterFlags.AllowSingleCluster, "allow-single-cluster", false, "override clustering.allow_single_cluster")

	sf := searchCmd.Flags()
	sf.StringVar(&searchQuery.SequenceID, "id", "", "stored sequence ID")
	sf.StringVar(&searchQuery.Sequence, "sequence", "", "raw query sequence")
	sf.IntVarP(&searchQuery.K, "top", "k", 0, "number of results (default index.default_k)")

	assignCmd.Flags().StringVarP(&assignMethod, "method", "m", "", "local, ncbi or auto (default taxonomy.method)")
	assignCmd.Flags().BoolVar(&assignStored, "stored", false, "resolve stored sequences (the args are IDs; none means all)")

	rf := referenceAddCmd.Flags()
	rf.StringVar(&refCategory, "category", "", "reference category")
	rf.StringArrayVarP(&refTaxa, "taxon", "t", nil, "rank=value, repeatable")
	_ = referenceAddCmd.MarkFlagRequired("category")
	referenceCmd.AddCommand(referenceAddCmd)

	rootCmd.AddCommand(ingestCmd, clusterCmd, indexCmd, searchCmd, assignCmd, referenceCmd, analyzeCmd, diversityCmd)
}
