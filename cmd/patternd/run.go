package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ledgerline/patternd/pkg/schema"
)

var (
	runInputs     string
	runSnapshotID string
	runLedgerRef  string
	runTraceID    string
)

var runCmd = &cobra.Command{
	Use:   "run <pattern-id>",
	Short: "Execute a pattern and print its result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cfgFile)
		if err != nil {
			return err
		}

		var inputs map[string]any
		if runInputs != "" {
			if err := json.Unmarshal([]byte(runInputs), &inputs); err != nil {
				return fmt.Errorf("parse --inputs: %w", err)
			}
		}

		ctx := cmd.Context()
		app, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		req := schema.NewRequestContext(runSnapshotID, runLedgerRef)
		if runTraceID != "" {
			req.TraceID = runTraceID
		}

		result, err := app.Run(ctx, args[0], inputs, req)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}

		if result.Error != nil {
			return fmt.Errorf("invocation aborted at step %d (%s): %s",
				result.Error.Step, result.Error.Capability, result.Error.Message)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runInputs, "inputs", "", "invocation inputs as a JSON object")
	runCmd.Flags().StringVar(&runSnapshotID, "pricing-snapshot", "", "pricing snapshot id (required)")
	runCmd.Flags().StringVar(&runLedgerRef, "ledger-reference", "", "ledger reference (required)")
	runCmd.Flags().StringVar(&runTraceID, "trace-id", "", "correlation trace id (generated when omitted)")
	_ = runCmd.MarkFlagRequired("pricing-snapshot")
	_ = runCmd.MarkFlagRequired("ledger-reference")
}
