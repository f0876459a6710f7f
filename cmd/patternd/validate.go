package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var validateInputs string

var validateCmd = &cobra.Command{
	Use:   "validate <pattern-id>",
	Short: "Validate a pattern without executing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cfgFile)
		if err != nil {
			return err
		}

		var inputs map[string]any
		if validateInputs != "" {
			if err := json.Unmarshal([]byte(validateInputs), &inputs); err != nil {
				return fmt.Errorf("parse --inputs: %w", err)
			}
		}

		app, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		result := app.interpreter.Validate(args[0], inputs)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{
			"valid":    result.Valid(),
			"errors":   result.Errors,
			"warnings": result.Warnings,
		}); err != nil {
			return err
		}

		if !result.Valid() {
			return fmt.Errorf("pattern %q failed validation with %d errors", args[0], len(result.Errors))
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateInputs, "inputs", "", "invocation inputs as a JSON object")
}
