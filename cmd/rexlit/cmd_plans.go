package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"rexlit/internal/bates"
	"rexlit/internal/concept"
	"rexlit/internal/extract"
	"rexlit/internal/highlight"
	"rexlit/internal/ingest"
	"rexlit/internal/pii"
	"rexlit/internal/redact"
	"rexlit/internal/sanitize"
)

var (
	flagPlanOutput      string
	flagApplyPreview    bool
	flagApplyForce      bool
	flagHLConcepts      string
	flagHLThreshold     float64
	flagBatchWorkers    int
	flagSanitizeNoMask  bool
	flagBatesPlanOutput string
)

var batesCmd = &cobra.Command{
	Use:   "bates",
	Short: "Bates numbering plans",
}

var batesPlanCmd = &cobra.Command{
	Use:   "plan <source>",
	Short: "Assign sequential Bates labels to documents under a root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := ingest.Discover(args[0], ingest.Options{Recursive: true})
		if err != nil {
			return err
		}
		planPath := flagBatesPlanOutput
		if planPath == "" {
			planPath = settings.BatesPlanPath()
		}
		planner := bates.NewPlanner(settings.BatesPrefix, settings.BatesWidth)
		plan, err := planner.Plan(docs, planPath)
		if err != nil {
			return err
		}
		fmt.Printf("%d assignments written to %s\n", len(plan.Assignments), plan.Path)
		return nil
	},
}

var batesVerifyCmd = &cobra.Command{
	Use:   "verify [plan]",
	Short: "Verify a Bates plan registry on disk",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		planPath := settings.BatesPlanPath()
		if len(args) == 1 {
			planPath = args[0]
		}
		ok, errs := bates.VerifyRegistry(planPath)
		if !ok {
			for _, e := range errs {
				fmt.Println(e)
			}
			return fmt.Errorf("Bates registry verification failed with %d error(s)", len(errs))
		}
		fmt.Println("Bates registry verified")
		return nil
	},
}

var redactCmd = &cobra.Command{
	Use:   "redact",
	Short: "Redaction plan and apply",
}

var redactPlanCmd = &cobra.Command{
	Use:   "plan <document>",
	Short: "Generate (or re-validate) the sealed redaction plan for a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := settings.RedactionPlanKey()
		if err != nil {
			return err
		}
		analyzer := pii.NewPatternAnalyzer(extract.PlainTextExtractor{})
		planner := redact.NewPlanner(key, analyzer, nil)
		path, planID, err := planner.Plan(args[0], flagPlanOutput)
		if err != nil {
			return err
		}
		fmt.Printf("plan %s written to %s\n", planID[:16], path)
		return nil
	},
}

var redactApplyCmd = &cobra.Command{
	Use:   "apply <plan> <document> <output>",
	Short: "Apply a sealed redaction plan to a document",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := settings.RedactionPlanKey()
		if err != nil {
			return err
		}
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		service := redact.NewService(key, nil, ledger)
		result, err := service.Apply(args[0], args[1], args[2], flagApplyPreview, flagApplyForce)
		if err != nil {
			return err
		}
		if result.Preview {
			for _, line := range result.Diff {
				fmt.Println(line)
			}
			return nil
		}
		fmt.Printf("%d actions recorded; output at %s\n", result.ActionCount, result.Output)
		return nil
	},
}

var highlightCmd = &cobra.Command{
	Use:   "highlight",
	Short: "Highlight plans",
}

var highlightPlanCmd = &cobra.Command{
	Use:   "plan <document> <output>",
	Short: "Generate the sealed highlight plan for a document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := newHighlightService()
		if err != nil {
			return err
		}
		plan, err := service.Plan(args[0], args[1], parseConcepts(flagHLConcepts), flagHLThreshold)
		if err != nil {
			return err
		}
		fmt.Printf("plan %s: %d highlights\n", plan.PlanID[:16], len(plan.Highlights))
		return nil
	},
}

var highlightBatchCmd = &cobra.Command{
	Use:   "batch <source-dir> <output-dir>",
	Short: "Plan highlights for a directory of documents in parallel",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := newHighlightService()
		if err != nil {
			return err
		}
		result, err := service.RunBatch(cmd.Context(), args[0], args[1],
			parseConcepts(flagHLConcepts), flagHLThreshold, flagBatchWorkers)
		if err != nil {
			return err
		}
		fmt.Printf("%d/%d documents planned, %d highlights, %d failed (%.1fs)\n",
			result.Successful, result.TotalDocuments, result.TotalHighlights, result.Failed, result.DurationSeconds)
		return nil
	},
}

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize <manifest> <output>",
	Short: "Export a redacted safe manifest",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, err := sanitize.ExportSafeManifest(args[0], args[1], !flagSanitizeNoMask)
		if err != nil {
			return err
		}
		fmt.Printf("%d records exported to %s\n", count, args[1])
		return nil
	},
}

func newHighlightService() (*highlight.Service, error) {
	key, err := settings.HighlightPlanKey()
	if err != nil {
		return nil, err
	}
	ledger, err := openLedger()
	if err != nil {
		return nil, err
	}
	detector := concept.NewPatternDetector(extract.PlainTextExtractor{})
	return highlight.NewService(detector, nil, settings.OfflineGate(), key, ledger, nil), nil
}

func parseConcepts(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, strings.ToUpper(c))
		}
	}
	return out
}

func init() {
	batesPlanCmd.Flags().StringVar(&flagBatesPlanOutput, "output", "", "plan output path")
	batesCmd.AddCommand(batesPlanCmd, batesVerifyCmd)

	redactPlanCmd.Flags().StringVar(&flagPlanOutput, "output", "", "plan output path")
	redactApplyCmd.Flags().BoolVar(&flagApplyPreview, "preview", false, "show the diff without writing")
	redactApplyCmd.Flags().BoolVar(&flagApplyForce, "force", false, "skip hash verification")
	redactCmd.AddCommand(redactPlanCmd, redactApplyCmd)

	highlightPlanCmd.Flags().StringVar(&flagHLConcepts, "concepts", "", "comma-separated concept types")
	highlightPlanCmd.Flags().Float64Var(&flagHLThreshold, "threshold", 0.5, "confidence threshold")
	highlightBatchCmd.Flags().StringVar(&flagHLConcepts, "concepts", "", "comma-separated concept types")
	highlightBatchCmd.Flags().Float64Var(&flagHLThreshold, "threshold", 0.5, "confidence threshold")
	highlightBatchCmd.Flags().IntVar(&flagBatchWorkers, "workers", 0, "parallel workers (default NumCPU)")
	highlightCmd.AddCommand(highlightPlanCmd, highlightBatchCmd)

	sanitizeCmd.Flags().BoolVar(&flagSanitizeNoMask, "no-mask-emails", false, "disable email masking")

	rootCmd.AddCommand(batesCmd, redactCmd, highlightCmd, sanitizeCmd)
}
