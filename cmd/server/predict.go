package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"stockcast-api/internal/handlers"
)

var predictCompact bool

var predictCmd = &cobra.Command{
	Use:   "predict SYMBOL",
	Short: "Print the prediction payload for one ticker",
	Long: `Runs the same pipeline as POST /predict and prints the JSON payload.
Logs go to stderr.

Example:
  stockcast predict AAPL
  stockcast predict brk-b --compact`,
	Args: cobra.ExactArgs(1),
	RunE: runPredict,
}

func init() {
	predictCmd.Flags().BoolVar(&predictCompact, "compact", false, "print JSON on one line")
}

func runPredict(cmd *cobra.Command, args []string) error {
	symbol := handlers.NormalizeSymbol(args[0])
	if !handlers.ValidSymbol(symbol) {
		return fmt.Errorf("invalid symbol %q", args[0])
	}

	ctx := cmd.Context()
	s, err := newStack(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	resp, err := s.orchestrator.Predict(ctx, symbol)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	if !predictCompact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(resp)
}
