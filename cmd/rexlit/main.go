// Package main implements the rexlit CLI - an offline-first litigation
// toolkit with a defensible chain of custody.
//
// Command implementations are split across cmd_*.go files:
//   - cmd_ingest.go    - pipeline run (discover -> plan -> manifest -> pack)
//   - cmd_index.go     - index build/search/stats
//   - cmd_audit.go     - audit verify/show
//   - cmd_plans.go     - bates/redact/highlight planning
//   - cmd_pack.go      - pack create/validate/export/production
//   - cmd_privilege.go - privilege review and policy management
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rexlit/internal/audit"
	"rexlit/internal/config"
	"rexlit/internal/logging"
	"rexlit/internal/schema"
)

var (
	flagConfig string
	flagOnline bool
	flagDebug  bool

	settings *config.Settings
	zlog     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:     "rexlit",
	Short:   "Offline-first litigation toolkit",
	Version: schema.Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		settings, err = config.Load(flagConfig)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("online") {
			settings.Online = flagOnline
		}
		if cmd.Flags().Changed("debug") {
			settings.DebugMode = flagDebug
		}
		if err := settings.EnsureDirs(); err != nil {
			return err
		}
		return logging.Initialize(settings.DataDir, settings.DebugMode)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "settings file (default <config>/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&flagOnline, "online", false, "enable features that need network access")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable categorized file logging")
}

// openLedger builds the audit ledger from the settings' key material.
func openLedger() (*audit.Ledger, error) {
	key, err := settings.AuditHMACKey()
	if err != nil {
		return nil, err
	}
	return audit.NewLedger(settings.AuditLedgerPath(), key)
}

func main() {
	var err error
	zlog, err = zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "rexlit: %v\n", err)
		os.Exit(1)
	}
	defer zlog.Sync()

	if err := rootCmd.Execute(); err != nil {
		zlog.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}
