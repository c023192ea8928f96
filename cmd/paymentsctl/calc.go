package main

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/service/invoice"
)

func newCalcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "calc <extraction.json>",
		Short: "Compute gross, withholdings and net value from an OCR extraction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			extraction, err := parseExtraction(raw)
			if err != nil {
				return err
			}
			return printJSON(cmd, invoice.CalculateNetInvoice(extraction))
		},
	}
}

// parseExtraction accepts either the bare field set or the OCR response
// shape with the fields under "extraction".
func parseExtraction(raw []byte) (invoice.Extraction, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid extraction JSON: %w", err)
	}
	if inner, ok := doc["extraction"].(map[string]interface{}); ok {
		return invoice.Extraction(inner), nil
	}
	return invoice.Extraction(doc), nil
}
