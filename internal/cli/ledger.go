package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcoot/playhub/internal/api/request"
	"github.com/mcoot/playhub/internal/api/response"
)

func newInventoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Show your items",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result []response.Stack
			if err := client.Get("/api/v1/inventory", &result); err != nil {
				return err
			}

			newOutput(cmd).Print(result)
			return nil
		},
	}

	cmd.AddCommand(newInventoryGrantCmd())
	cmd.AddCommand(newImportCmd())

	return cmd
}

func newInventoryGrantCmd() *cobra.Command {
	var req request.GrantRequest

	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Credit items to an identity (supervisor)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Stack
			if err := client.Post("/api/v1/inventory/grant", req, &result); err != nil {
				return err
			}

			newOutput(cmd).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Owner, "owner", "", "Identity id (required)")
	cmd.Flags().StringVar(&req.Item, "item", "", "Item key (required)")
	cmd.Flags().IntVar(&req.Qty, "qty", 1, "Quantity")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("item")

	return cmd
}

func newImportCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Set stack quantities from a JSON file (supervisor)",
		Long: `Read a JSON array of {"owner", "item", "qty"} objects and set each
stack's quantity. Imports are accepted while the server is read-only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			stacks, err := readImportFile(file)
			if err != nil {
				return err
			}

			var result map[string]int
			if err := client.Post("/api/v1/inventory/import", request.ImportRequest{Stacks: stacks}, &result); err != nil {
				return err
			}

			newOutput(cmd).PrintMessage(fmt.Sprintf("Imported %d stacks", result["imported"]))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file, or - for stdin (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func readImportFile(path string) ([]request.ImportStack, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read import file: %w", err)
	}

	var stacks []request.ImportStack
	if err := json.Unmarshal(data, &stacks); err != nil {
		return nil, fmt.Errorf("parse import file: %w", err)
	}
	if len(stacks) == 0 {
		return nil, fmt.Errorf("import file has no stacks")
	}
	return stacks, nil
}

func newOfferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offer",
		Short: "Transfer offers",
	}

	cmd.AddCommand(newOfferCreateCmd())
	cmd.AddCommand(newOfferListCmd())
	cmd.AddCommand(newOfferGetCmd())
	cmd.AddCommand(newOfferFinalizeCmd("accept", "Accept an offer made to you"))
	cmd.AddCommand(newOfferFinalizeCmd("reject", "Reject an offer made to you"))
	cmd.AddCommand(newOfferFinalizeCmd("cancel", "Cancel an offer you made"))

	return cmd
}

func newOfferCreateCmd() *cobra.Command {
	var req request.CreateOfferRequest

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Offer items to another identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.TransferResult
			if err := client.Post("/api/v1/offers", req, &result); err != nil {
				return err
			}

			newOutput(cmd).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.To, "to", "", "Receiving identity id (required)")
	cmd.Flags().StringVar(&req.Item, "item", "", "Item key (required)")
	cmd.Flags().IntVar(&req.Qty, "qty", 1, "Quantity")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("item")

	return cmd
}

func newOfferListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List offers you are a party to",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result []response.Offer
			if err := client.Get("/api/v1/offers", &result); err != nil {
				return err
			}

			newOutput(cmd).Print(result)
			return nil
		},
	}
}

func newOfferGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <offer-id>",
		Short: "Show an offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Offer
			if err := client.Get("/api/v1/offers/"+url.PathEscape(args[0]), &result); err != nil {
				return err
			}

			newOutput(cmd).Print(result)
			return nil
		},
	}
}

// newOfferFinalizeCmd builds accept, reject and cancel. Retrying any of them
// is safe: the server answers with the offer's terminal status.
func newOfferFinalizeCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <offer-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.TransferResult
			if err := client.Post("/api/v1/offers/"+url.PathEscape(args[0])+"/"+action, nil, &result); err != nil {
				return err
			}

			newOutput(cmd).Print(result)
			return nil
		},
	}
}
