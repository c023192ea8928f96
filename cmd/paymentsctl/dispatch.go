package main

import (
	"github.com/spf13/cobra"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/app"
)

func newDispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Run one dispatch cycle over the outbound queue and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := app.NewLogger(cfg.Log)

			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Dispatcher.RunCycle(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
}
