package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"rexlit/internal/embedding"
	"rexlit/internal/extract"
	"rexlit/internal/index"
	"rexlit/internal/ingest"
)

var (
	flagIndexRebuild bool
	flagIndexWorkers int
	flagIndexDense   bool
	flagDenseDim     int
	flagSearchLimit  int
	flagSearchMode   string
	flagGenAIKey     string
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build and query the document search index",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build <source>",
	Short: "Index documents under a root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := ingest.Discover(args[0], ingest.Options{Recursive: true})
		if err != nil {
			return err
		}

		store, err := index.Open(settings.IndexDir())
		if err != nil {
			return err
		}
		defer store.Close()
		cache := index.LoadMetadataCache(settings.IndexDir())

		var denseDocs []index.DenseDocument
		opts := index.BuildOptions{Rebuild: flagIndexRebuild, MaxWorkers: flagIndexWorkers}
		if flagIndexDense {
			opts.DenseCollector = &denseDocs
		}

		stats, err := index.Build(cmd.Context(), store, cache, docs, extract.PlainTextExtractor{}, opts)
		if err != nil {
			return err
		}
		fmt.Printf("Indexed %d documents (%d skipped) in %v\n", stats.Indexed, stats.Skipped, stats.Elapsed)

		if flagIndexDense {
			engine, err := newEmbeddingEngine()
			if err != nil {
				return err
			}
			dense, err := index.OpenDense(settings.IndexDir(), engine.Dimensions())
			if err != nil {
				return err
			}
			defer dense.Close()
			usage, err := index.BuildDense(cmd.Context(), dense, settings.OfflineGate(), engine, denseDocs)
			if err != nil {
				return err
			}
			fmt.Printf("Dense index: %d documents embedded (%.0fms)\n", usage.Texts, usage.LatencyMS)
		}
		return nil
	},
}

var indexSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the index (lexical, dense, or hybrid)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")

		store, err := index.Open(settings.IndexDir())
		if err != nil {
			return err
		}
		defer store.Close()

		var results []index.SearchResult
		switch flagSearchMode {
		case "lexical":
			results, err = store.Search(query, flagSearchLimit)
		case "dense":
			engine, dense, derr := openDense()
			if derr != nil {
				return derr
			}
			defer dense.Close()
			results, _, err = index.SearchDense(cmd.Context(), dense, settings.OfflineGate(), engine, query, flagSearchLimit)
		case "hybrid":
			engine, dense, derr := openDense()
			if derr != nil {
				return derr
			}
			defer dense.Close()
			var telemetry index.Telemetry
			results, telemetry, err = index.SearchHybrid(cmd.Context(), store, dense, settings.OfflineGate(), engine, query, flagSearchLimit, index.DefaultFusionK)
			if err == nil {
				fmt.Printf("fusion=%s dense_latency=%.0fms\n", telemetry.Fusion, telemetry.LatencyMS)
			}
		default:
			return fmt.Errorf("unknown search mode %q (use lexical, dense, or hybrid)", flagSearchMode)
		}
		if err != nil {
			return err
		}

		for i, r := range results {
			fmt.Printf("%2d. %.4f  %s  [%s]\n", i+1, r.Score, r.Path, r.Strategy)
			if r.Snippet != "" {
				fmt.Printf("    %s\n", r.Snippet)
			}
		}
		return nil
	},
}

var indexStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index metadata from the cache sidecar",
	RunE: func(cmd *cobra.Command, args []string) error {
		cache := index.LoadMetadataCache(settings.IndexDir())
		fmt.Printf("Documents:  %d\n", cache.DocCount())
		fmt.Printf("Custodians: %s\n", strings.Join(cache.Custodians(), ", "))
		fmt.Printf("Doctypes:   %s\n", strings.Join(cache.Doctypes(), ", "))
		return nil
	},
}

func newEmbeddingEngine() (embedding.Engine, error) {
	cfg := embedding.DefaultConfig()
	if flagGenAIKey != "" {
		cfg.Provider = "genai"
		cfg.GenAIAPIKey = flagGenAIKey
	}
	if flagDenseDim > 0 {
		cfg.Dimensions = flagDenseDim
	}
	return embedding.NewEngine(cfg)
}

func openDense() (embedding.Engine, *index.DenseStore, error) {
	engine, err := newEmbeddingEngine()
	if err != nil {
		return nil, nil, err
	}
	dense, err := index.OpenDense(settings.IndexDir(), engine.Dimensions())
	if err != nil {
		return nil, nil, err
	}
	return engine, dense, nil
}

func init() {
	indexBuildCmd.Flags().BoolVar(&flagIndexRebuild, "rebuild", false, "rebuild the index from scratch")
	indexBuildCmd.Flags().IntVar(&flagIndexWorkers, "workers", 0, "extraction workers (default NumCPU-1)")
	indexBuildCmd.Flags().BoolVar(&flagIndexDense, "dense", false, "also build the dense vector index")
	indexBuildCmd.Flags().IntVar(&flagDenseDim, "dense-dim", 0, "dense embedding dimensionality")
	indexBuildCmd.Flags().StringVar(&flagGenAIKey, "genai-api-key", "", "use the GenAI embedding backend")

	indexSearchCmd.Flags().IntVar(&flagSearchLimit, "limit", 10, "maximum results")
	indexSearchCmd.Flags().StringVar(&flagSearchMode, "mode", "lexical", "search mode: lexical, dense, hybrid")
	indexSearchCmd.Flags().IntVar(&flagDenseDim, "dense-dim", 0, "dense embedding dimensionality")
	indexSearchCmd.Flags().StringVar(&flagGenAIKey, "genai-api-key", "", "use the GenAI embedding backend")

	indexCmd.AddCommand(indexBuildCmd, indexSearchCmd, indexStatsCmd)
	rootCmd.AddCommand(indexCmd)
}
