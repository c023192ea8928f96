package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/app"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/config"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/model"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/service/approval"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/auth"
)

func newTokenCmd() *cobra.Command {
	var (
		scheme  string
		secret  string
		baseURL string
	)
	cmd := &cobra.Command{
		Use:   "token <invoice-id> <created-at> <approve|reject>",
		Short: "Print the approval token (and link) for an invoice",
		Long: "Computes the token an approval link carries. created-at is the invoice\n" +
			"creation time in RFC 3339 form, exactly as stored.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid invoice id: %w", err)
			}
			createdAt, err := time.Parse(time.RFC3339Nano, args[1])
			if err != nil {
				return fmt.Errorf("invalid created-at: %w", err)
			}
			action, err := approval.ParseAction(args[2])
			if err != nil {
				return err
			}

			tokens, err := app.NewTokens(config.ApprovalConfig{TokenScheme: scheme, Secret: secret})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, tokens.Compute(id, createdAt, action))
			if baseURL != "" {
				inv := &model.Invoice{ID: id, CreatedAt: createdAt}
				fmt.Fprintln(out, approval.NewLinks(baseURL, tokens).URL(inv, action))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scheme, "scheme", "hmac", "token scheme: hmac or legacy")
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("PAYMENTS_APPROVAL_SECRET"), "HMAC secret")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "also print the full approval link")
	return cmd
}

func newServiceTokenCmd() *cobra.Command {
	var (
		secret string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "service-token <subject>",
		Short: "Issue a bearer token for the internal API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("a signing secret is required")
			}
			token, err := auth.NewServiceTokens(secret, ttl).Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("PAYMENTS_SERVICE_JWT_SECRET"), "service JWT secret")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime; 0 issues a token without expiry")
	return cmd
}
