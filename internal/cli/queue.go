package cli

import (
	"net/url"

	"github.com/spf13/cobra"

	"github.com/mcoot/playhub/internal/api/request"
	"github.com/mcoot/playhub/internal/api/response"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Matchmaking queue",
	}

	cmd.AddCommand(newQueueJoinCmd())
	cmd.AddCommand(newQueueStatusCmd())
	cmd.AddCommand(newQueueCancelCmd())

	return cmd
}

func newQueueJoinCmd() *cobra.Command {
	var req request.EnqueueRequest

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Wait for an opponent",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.QueueResult
			if err := client.Post("/api/v1/queue", req, &result); err != nil {
				return err
			}

			newOutput(cmd).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.GameKey, "game", "", "Game key (required)")
	cmd.Flags().StringVar(&req.Mode, "mode", "", "Game mode")
	_ = cmd.MarkFlagRequired("game")

	return cmd
}

func newQueueStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show your latest queue entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.QueueEntry
			if err := client.Get("/api/v1/queue", &result); err != nil {
				return err
			}

			newOutput(cmd).Print(result)
			return nil
		},
	}
}

func newQueueCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Leave the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.QueueResult
			if err := client.Delete("/api/v1/queue", &result); err != nil {
				return err
			}

			newOutput(cmd).Print(result)
			return nil
		},
	}
}

func newMatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Matches",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <match-id>",
		Short: "Show a match you took part in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Match
			if err := client.Get("/api/v1/matches/"+url.PathEscape(args[0]), &result); err != nil {
				return err
			}

			newOutput(cmd).Print(result)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rematch <match-id>",
		Short: "Queue for a rematch against the same opponent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.QueueResult
			if err := client.Post("/api/v1/matches/"+url.PathEscape(args[0])+"/rematch", nil, &result); err != nil {
				return err
			}

			newOutput(cmd).Print(result)
			return nil
		},
	})

	return cmd
}

func newPresenceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presence",
		Short: "List who is online",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result []response.Presence
			if err := client.Get("/api/v1/presence", &result); err != nil {
				return err
			}

			newOutput(cmd).Print(result)
			return nil
		},
	}
}
