package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"rexlit/internal/bates"
	"rexlit/internal/extract"
	"rexlit/internal/ingest"
	"rexlit/internal/pack"
	"rexlit/internal/pii"
	"rexlit/internal/pipeline"
	"rexlit/internal/redact"
)

var (
	flagManifest    string
	flagRecursive   bool
	flagIncludeExts string
	flagExcludeExts string
	flagSkipPack    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <source>",
	Short: "Run the evidence pipeline: discover, dedupe, plan, manifest, pack",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		planKey, err := settings.RedactionPlanKey()
		if err != nil {
			return err
		}

		analyzer := pii.NewPatternAnalyzer(extract.PlainTextExtractor{})
		planner := redact.NewPlanner(planKey, analyzer, nil)
		batesPlanner := bates.NewPlanner(settings.BatesPrefix, settings.BatesWidth)

		var packager pipeline.Packager
		if !flagSkipPack {
			packager = pack.ZipPackager{}
		}

		p := pipeline.New(settings.OfflineGate(), ingest.HashDeduper{}, planner, batesPlanner, packager, ledger)
		p.GuardAdapter("PII detection", analyzer)

		result, err := p.Run(args[0], pipeline.RunOptions{
			ManifestPath:      flagManifest,
			Recursive:         flagRecursive,
			IncludeExtensions: parseExtensions(flagIncludeExts),
			ExcludeExtensions: parseExtensions(flagExcludeExts),
			BatesPlanPath:     settings.BatesPlanPath(),
		})
		for _, stage := range result.Stages {
			fmt.Printf("%-16s %-10s %s (%.2fs)\n", stage.Name, stage.Status, stage.Detail, stage.DurationSeconds)
		}
		if err != nil {
			return err
		}
		for _, note := range result.Notes {
			fmt.Println(note)
		}
		return nil
	},
}

func parseExtensions(raw string) map[string]bool {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	out := make(map[string]bool)
	for _, ext := range strings.Split(raw, ",") {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = true
	}
	return out
}

func init() {
	ingestCmd.Flags().StringVar(&flagManifest, "manifest", "", "manifest output path")
	ingestCmd.Flags().BoolVar(&flagRecursive, "recursive", true, "walk the source recursively")
	ingestCmd.Flags().StringVar(&flagIncludeExts, "include-ext", "", "comma-separated extensions to include")
	ingestCmd.Flags().StringVar(&flagExcludeExts, "exclude-ext", "", "comma-separated extensions to exclude")
	ingestCmd.Flags().BoolVar(&flagSkipPack, "skip-pack", false, "skip the pack stage")
	rootCmd.AddCommand(ingestCmd)
}
