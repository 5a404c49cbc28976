package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	flagAuditOp     string
	flagAuditInput  string
	flagAuditOutput string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and verify the chain-of-custody ledger",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the full hash chain and sidecar seal",
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		ok, verr := ledger.Verify()
		if !ok {
			return fmt.Errorf("ledger verification FAILED: %v", verr)
		}
		fmt.Println("ledger verified: chain and sidecar intact")
		return nil
	},
}

var auditShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print ledger entries, optionally filtered",
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger()
		if err != nil {
			return err
		}

		entries, err := ledger.ReadAll()
		if err != nil {
			return err
		}
		switch {
		case flagAuditOp != "":
			entries, err = ledger.GetByOperation(flagAuditOp)
		case flagAuditInput != "":
			entries, err = ledger.GetByInput(flagAuditInput)
		case flagAuditOutput != "":
			entries, err = ledger.GetByOutput(flagAuditOutput)
		}
		if err != nil {
			return err
		}

		for _, entry := range entries {
			line, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			fmt.Println(string(line))
		}
		return nil
	},
}

func init() {
	auditShowCmd.Flags().StringVar(&flagAuditOp, "operation", "", "filter by operation name")
	auditShowCmd.Flags().StringVar(&flagAuditInput, "input", "", "filter by input identifier")
	auditShowCmd.Flags().StringVar(&flagAuditOutput, "output", "", "filter by output identifier")
	auditCmd.AddCommand(auditVerifyCmd, auditShowCmd)
	rootCmd.AddCommand(auditCmd)
}
