// Package cli implements playhubctl, a command-line client for the JSON API
// and the WebSocket event stream.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfg    *Config
	client *Client
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cfg = DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "playhubctl",
		Short: "CLI tool for the playhub API",
		Long: `playhubctl is a CLI tool for interacting with the playhub JSON API.

It covers joining and logging in, inventory and transfer offers, the
matchmaking queue, supervisor operations such as read-only mode and
evictions, and real-time event streaming over WebSocket.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load token from file if not provided via flag/env
			if err := cfg.LoadToken(); err != nil {
				return err
			}

			// Create HTTP client
			client = NewClient(cfg.ServerURL, cfg.Token)
			if cfg.Verbose {
				client.SetTrace(cmd.ErrOrStderr())
			}
			return nil
		},
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Server URL (env: PLAYHUB_SERVER)")
	rootCmd.PersistentFlags().StringVar(&cfg.Token, "token", cfg.Token, "Session token (env: PLAYHUB_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&cfg.TokenFile, "token-file", cfg.TokenFile, "Token file path (env: PLAYHUB_TOKEN_FILE)")
	rootCmd.PersistentFlags().StringVarP(&cfg.Output, "output", "o", cfg.Output, "Output format: text, json")
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose output")

	// Add subcommands
	rootCmd.AddCommand(newIdentityCmd())
	rootCmd.AddCommand(newEvictCmd())
	rootCmd.AddCommand(newInventoryCmd())
	rootCmd.AddCommand(newOfferCmd())
	rootCmd.AddCommand(newQueueCmd())
	rootCmd.AddCommand(newMatchCmd())
	rootCmd.AddCommand(newPresenceCmd())
	rootCmd.AddCommand(newEventsCmd())
	rootCmd.AddCommand(newHealthCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	rootCmd := NewRootCmd()
	rootCmd.SilenceErrors = true
	if err := rootCmd.Execute(); err != nil {
		NewOutput(cfg.Output).PrintError(err)
		os.Exit(1)
	}
}
