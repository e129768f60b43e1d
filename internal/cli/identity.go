package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/mcoot/playhub/internal/api/response"
)

func newIdentityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Join requests, sessions and identities",
	}

	cmd.AddCommand(newIdentityJoinCmd())
	cmd.AddCommand(newIdentityClaimCmd())
	cmd.AddCommand(newIdentityLoginCmd())
	cmd.AddCommand(newIdentityLogoutCmd())
	cmd.AddCommand(newIdentityMeCmd())
	cmd.AddCommand(newIdentityRequestsCmd())
	cmd.AddCommand(newIdentityApproveCmd())
	cmd.AddCommand(newIdentityDenyCmd())
	cmd.AddCommand(newIdentityListCmd())

	return cmd
}

func newIdentityJoinCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Ask a supervisor to let you join",
		Long: `Ask to join as a participant. Keep the printed request id and claim
secret: once a supervisor approves the request, run "identity claim" with them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.JoinRequest
			if err := client.Post("/api/v1/join-requests", map[string]string{"display_name": name}, &result); err != nil {
				return err
			}

			newOutput(cmd).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (required)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newIdentityClaimCmd() *cobra.Command {
	var secret string

	cmd := &cobra.Command{
		Use:   "claim <request-id>",
		Short: "Claim an approved join request and save the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.AuthResponse
			path := "/api/v1/join-requests/" + url.PathEscape(args[0]) + "/claim"
			if err := client.Post(path, map[string]string{"secret": secret}, &result); err != nil {
				return err
			}

			if err := cfg.SaveToken(result.SessionToken); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			newOutput(cmd).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "Claim secret from the join request (required)")
	_ = cmd.MarkFlagRequired("secret")

	return cmd
}

func newIdentityLoginCmd() *cobra.Command {
	var user, pass string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in as a supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]string{
				"username": user,
				"password": pass,
			}
			var result response.AuthResponse

			if err := client.Post("/api/v1/sessions", req, &result); err != nil {
				return err
			}

			// Save token
			if err := cfg.SaveToken(result.SessionToken); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			newOutput(cmd).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Username (required)")
	cmd.Flags().StringVar(&pass, "pass", "", "Password (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("pass")

	return cmd
}

func newIdentityLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Delete("/api/v1/sessions/current", nil); err != nil {
				return err
			}
			if err := cfg.ClearToken(); err != nil {
				return fmt.Errorf("failed to clear token: %w", err)
			}

			newOutput(cmd).PrintMessage("Logged out")
			return nil
		},
	}
}

func newIdentityMeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the current identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Identity
			if err := client.Get("/api/v1/identities/me", &result); err != nil {
				return err
			}

			newOutput(cmd).Print(result)
			return nil
		},
	}
}

func newIdentityRequestsCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "requests",
		Short: "List join requests (supervisor)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result []response.JoinRequest
			if err := client.Get("/api/v1/join-requests?status="+url.QueryEscape(status), &result); err != nil {
				return err
			}

			newOutput(cmd).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "pending", "Request status: pending, approved, claimed, denied")

	return cmd
}

func newIdentityApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a join request (supervisor)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Identity
			if err := client.Post("/api/v1/join-requests/"+url.PathEscape(args[0])+"/approve", nil, &result); err != nil {
				return err
			}

			newOutput(cmd).Print(result)
			return nil
		},
	}
}

func newIdentityDenyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deny <request-id>",
		Short: "Deny a join request (supervisor)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Post("/api/v1/join-requests/"+url.PathEscape(args[0])+"/deny", nil, nil); err != nil {
				return err
			}

			newOutput(cmd).PrintMessage("Join request denied")
			return nil
		},
	}
}

func newIdentityListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List identities (supervisor)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result []response.Identity
			if err := client.Get("/api/v1/identities", &result); err != nil {
				return err
			}

			newOutput(cmd).Print(result)
			return nil
		},
	}
}

func newEvictCmd() *cobra.Command {
	var ban bool

	cmd := &cobra.Command{
		Use:   "evict <identity-id>",
		Short: "Remove an identity and close its connections (supervisor)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/identities/%s?ban=%t", url.PathEscape(args[0]), ban)
			var result response.Removal
			if err := client.Delete(path, &result); err != nil {
				return err
			}

			newOutput(cmd).Print(result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&ban, "ban", false, "Ban the identity instead of just removing it")

	return cmd
}
