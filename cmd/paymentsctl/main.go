// Command paymentsctl runs one-off operations against the payments core:
// a manual dispatch cycle, schema migrations, approval tokens and invoice
// calculations.
package main

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/config"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "paymentsctl",
		Short:         "Operate the payments core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newDispatchCmd(),
		newMigrateCmd(),
		newTokenCmd(),
		newServiceTokenCmd(),
		newCalcCmd(),
	)
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
