package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rexlit/internal/pack"
)

var (
	flagPackNoNatives  bool
	flagPackNoText     bool
	flagPackNoMetadata bool
	flagLoadFormat     string
	flagProdFormat     string
	flagProdPrefix     string
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Production packaging and load files",
}

var packCreateCmd = &cobra.Command{
	Use:   "create <input> <output>",
	Short: "Create a production pack from processed documents",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		service := pack.NewService(ledger)
		manifest, err := service.CreatePack(args[0], args[1], pack.Options{
			IncludeNatives:  !flagPackNoNatives,
			IncludeText:     !flagPackNoText,
			IncludeMetadata: !flagPackNoMetadata,
		})
		if err != nil {
			return err
		}
		fmt.Printf("pack %s: %d documents, %d artifacts\n",
			manifest.PackID, manifest.DocumentCount, len(manifest.Artifacts))
		return nil
	},
}

var packValidateCmd = &cobra.Command{
	Use:   "validate <pack>",
	Short: "Validate a pack's manifest and artifacts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		ok, err := pack.NewService(ledger).ValidatePack(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("pack validation FAILED for %s", args[0])
		}
		fmt.Println("pack valid")
		return nil
	},
}

var packExportCmd = &cobra.Command{
	Use:   "export <pack> <output>",
	Short: "Export a DAT or Opticon load file from a pack",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		path, err := pack.NewService(ledger).ExportLoadFile(args[0], args[1], flagLoadFormat)
		if err != nil {
			return err
		}
		fmt.Printf("load file written to %s\n", path)
		return nil
	},
}

var packProductionCmd = &cobra.Command{
	Use:   "production <stamped-dir> <name>",
	Short: "Create a production load file from stamped output",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		path, err := pack.NewService(ledger).CreateProduction(args[0], args[1], flagProdFormat, flagProdPrefix)
		if err != nil {
			return err
		}
		fmt.Printf("production load file written to %s\n", path)
		return nil
	},
}

func init() {
	packCreateCmd.Flags().BoolVar(&flagPackNoNatives, "no-natives", false, "skip native files")
	packCreateCmd.Flags().BoolVar(&flagPackNoText, "no-text", false, "skip extracted text")
	packCreateCmd.Flags().BoolVar(&flagPackNoMetadata, "no-metadata", false, "skip metadata JSONL")
	packExportCmd.Flags().StringVar(&flagLoadFormat, "format", "dat", "load file format: dat or opticon")
	packProductionCmd.Flags().StringVar(&flagProdFormat, "format", "dat", "production format: dat or opticon")
	packProductionCmd.Flags().StringVar(&flagProdPrefix, "bates-prefix", "", "required Bates label prefix")
	packCmd.AddCommand(packCreateCmd, packValidateCmd, packExportCmd, packProductionCmd)
	rootCmd.AddCommand(packCmd)
}
