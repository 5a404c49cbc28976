package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"rexlit/internal/privilege"
)

var (
	flagReviewThreshold float64
	flagReviewReport    string
	flagEnableVault     bool
)

var privilegeCmd = &cobra.Command{
	Use:   "privilege",
	Short: "Privacy-preserving privilege review",
}

var privilegeReviewCmd = &cobra.Command{
	Use:   "review <document>...",
	Short: "Classify documents for privilege through the safeguard envelope",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager := privilege.NewPolicyManager(settings.PolicyDir(), nil, settings.Roots())
		policyText, err := manager.ShowPolicy(1)
		if err != nil {
			return err
		}

		var vault *privilege.Vault
		if flagEnableVault || settings.CoTVaultEnabled {
			key, err := settings.VaultKey()
			if err != nil {
				return err
			}
			vault, err = privilege.NewVault(settings.CoTVaultDir(), key)
			if err != nil {
				return err
			}
		}

		model, err := newReasoningModel()
		if err != nil {
			return err
		}
		if err := settings.OfflineGate().EnsureSupported("Privilege reasoning", model.RequiresOnline()); err != nil {
			return err
		}

		safeguard := privilege.NewSafeguard(model, privilege.SafeguardConfig{
			PolicyText: policyText,
			Vault:      vault,
		})
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		service := privilege.NewReviewService(safeguard, ledger)

		decisions := make(map[string]privilege.PolicyDecision, len(args))
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			decision := service.ReviewDocument(cmd.Context(), path, string(data), flagReviewThreshold)
			decisions[path] = decision
			fmt.Printf("%s: labels=%v confidence=%s needs_review=%v\n",
				path, decision.Labels, strconv.FormatFloat(decision.Confidence, 'f', 2, 64), decision.NeedsReview)
		}

		if flagReviewReport != "" {
			if err := service.ExportReport(decisions, flagReviewReport); err != nil {
				return err
			}
			fmt.Printf("review report written to %s\n", flagReviewReport)
		}
		return nil
	},
}

var privilegePolicyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage privilege policy templates",
}

var privilegePolicyValidateCmd = &cobra.Command{
	Use:   "validate <stage>",
	Short: "Validate a policy template's structure",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stage, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("stage must be 1, 2, or 3")
		}
		manager := privilege.NewPolicyManager(settings.PolicyDir(), nil, settings.Roots())
		ok, errs := manager.ValidatePolicy(stage)
		if !ok {
			for _, e := range errs {
				fmt.Println(e)
			}
			return fmt.Errorf("policy validation failed")
		}
		fmt.Println("policy valid")
		return nil
	},
}

var privilegePolicyApplyCmd = &cobra.Command{
	Use:   "apply <stage> <file>",
	Short: "Install a policy template from a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		stage, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("stage must be 1, 2, or 3")
		}
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		manager := privilege.NewPolicyManager(settings.PolicyDir(), ledger, settings.Roots())
		return manager.ApplyFromFile(stage, args[1])
	},
}

// newReasoningModel wires the reasoning backend. The self-hosted model
// server is an external collaborator; without one configured, review runs
// against the null model and every decision lands in needs_review.
func newReasoningModel() (privilege.Model, error) {
	return privilege.NullModel{}, nil
}

func init() {
	privilegeReviewCmd.Flags().Float64Var(&flagReviewThreshold, "threshold", 0.75, "confidence threshold")
	privilegeReviewCmd.Flags().StringVar(&flagReviewReport, "report", "", "write a JSONL review report")
	privilegeReviewCmd.Flags().BoolVar(&flagEnableVault, "enable-vault", false, "store sealed raw reasoning")
	privilegePolicyCmd.AddCommand(privilegePolicyValidateCmd, privilegePolicyApplyCmd)
	privilegeCmd.AddCommand(privilegeReviewCmd, privilegePolicyCmd)
	rootCmd.AddCommand(privilegeCmd)
}
