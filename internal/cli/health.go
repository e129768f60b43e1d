package cli

import (
	"github.com/spf13/cobra"

	"github.com/mcoot/playhub/internal/api/response"
)

func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Health

			if err := client.Get("/api/v1/health", &result); err != nil {
				return err
			}

			newOutput(cmd).Print(result)
			return nil
		},
	}

	cmd.AddCommand(newHealthDegradeCmd())
	cmd.AddCommand(newHealthRecoverCmd())

	return cmd
}

func newHealthDegradeCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "degrade",
		Short: "Put the server into read-only mode (supervisor)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Health
			if err := client.Post("/api/v1/health/degrade", map[string]string{"reason": reason}, &result); err != nil {
				return err
			}

			newOutput(cmd).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason shown to clients")

	return cmd
}

func newHealthRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Leave operator-initiated read-only mode (supervisor)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Health
			if err := client.Post("/api/v1/health/recover", nil, &result); err != nil {
				return err
			}

			newOutput(cmd).Print(result)
			return nil
		},
	}
}
