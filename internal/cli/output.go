package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcoot/playhub/internal/api/response"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
}

// NewOutput creates a new Output formatter writing to stdout
func NewOutput(format string) *Output {
	return &Output{format: format, w: os.Stdout}
}

// newOutput writes to the command's output stream in the configured format
func newOutput(cmd *cobra.Command) *Output {
	return &Output{format: cfg.Output, w: cmd.OutOrStdout()}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	if o.format == "json" {
		errData := map[string]any{
			"error": map[string]string{
				"message": err.Error(),
			},
		}
		data, _ := json.Marshal(errData)
		fmt.Fprintln(os.Stderr, string(data))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		fmt.Fprintln(o.w, string(data))
	} else {
		fmt.Fprintln(o.w, msg)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case response.Identity:
		o.printIdentity(v)
	case []response.Identity:
		for _, i := range v {
			o.printIdentity(i)
		}
	case response.AuthResponse:
		o.printIdentity(v.Identity)
		fmt.Fprintf(o.w, "Token: %s\n", v.SessionToken)
		fmt.Fprintf(o.w, "Expires: %s\n", v.ExpiresAt.Format("2006-01-02 15:04:05"))
	case response.JoinRequest:
		o.printJoinRequest(v)
	case []response.JoinRequest:
		for _, r := range v {
			o.printJoinRequest(r)
		}
	case response.Removal:
		fmt.Fprintf(o.w, "Removed: %s (%s)\n", v.Identity.DisplayName, v.Identity.ID)
		fmt.Fprintf(o.w, "Banned: %t\n", v.Identity.Banned)
		fmt.Fprintf(o.w, "Connections closed: %d\n", v.ConnectionsClosed)
	case response.Health:
		o.printHealth(v)
	case []response.Stack:
		o.printStacks(v)
	case response.Stack:
		o.printStacks([]response.Stack{v})
	case response.TransferResult:
		fmt.Fprintf(o.w, "Result: %s\n", v.Status)
		o.printOffer(v.Offer)
	case response.Offer:
		o.printOffer(v)
	case []response.Offer:
		for _, offer := range v {
			o.printOffer(offer)
		}
	case response.QueueResult:
		o.printQueueResult(v)
	case response.QueueEntry:
		o.printQueueEntry(v)
	case response.Match:
		o.printMatch(v)
	case []response.Presence:
		for _, p := range v {
			fmt.Fprintf(o.w, "%s: %s (%d connections)\n", p.IdentityID, p.Status, p.Connections)
		}
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

func (o *Output) printIdentity(i response.Identity) {
	fmt.Fprintf(o.w, "Identity: %s (%s)\n", i.DisplayName, i.ID)
	fmt.Fprintf(o.w, "Role: %s\n", i.Role)
	if i.RemovedAt != nil {
		fmt.Fprintf(o.w, "Removed: %s\n", i.RemovedAt.Format("2006-01-02 15:04:05"))
	}
}

func (o *Output) printJoinRequest(r response.JoinRequest) {
	fmt.Fprintf(o.w, "Join request: %s (%s)\n", r.ID, r.DisplayName)
	fmt.Fprintf(o.w, "Status: %s\n", r.Status)
	if r.ClaimSecret != "" {
		fmt.Fprintf(o.w, "Claim secret: %s\n", r.ClaimSecret)
	}
}

func (o *Output) printHealth(h response.Health) {
	fmt.Fprintf(o.w, "Status: %s\n", h.Status)
	if h.Degraded {
		fmt.Fprintf(o.w, "Reason: %s (%s)\n", h.Reason, h.Source)
		fmt.Fprintf(o.w, "Retry after: %ds\n", h.RetryAfterSeconds)
	}
}

func (o *Output) printStacks(stacks []response.Stack) {
	if len(stacks) == 0 {
		fmt.Fprintln(o.w, "No items")
		return
	}
	for _, s := range stacks {
		fmt.Fprintf(o.w, "  %-20s %5d (reserved %d, available %d)\n", s.Item, s.Qty, s.ReservedQty, s.Available)
	}
}

func (o *Output) printOffer(offer response.Offer) {
	fmt.Fprintf(o.w, "Offer: %s\n", offer.ID)
	fmt.Fprintf(o.w, "  %s -> %s: %d x %s\n", offer.From, offer.To, offer.Qty, offer.Item)
	fmt.Fprintf(o.w, "  Status: %s\n", offer.Status)
	if offer.Status == "pending" {
		fmt.Fprintf(o.w, "  Expires: %s\n", offer.ExpiresAt.Format("2006-01-02 15:04:05"))
	}
}

func (o *Output) printQueueResult(r response.QueueResult) {
	fmt.Fprintf(o.w, "Queue: %s\n", r.Status)
	if r.Match != nil {
		o.printMatch(*r.Match)
	}
}

func (o *Output) printQueueEntry(e response.QueueEntry) {
	pool := e.GameKey
	if e.Mode != "" {
		pool += "/" + e.Mode
	}
	fmt.Fprintf(o.w, "Queue: %s (%s)\n", e.Status, pool)
	if e.MatchID != "" {
		fmt.Fprintf(o.w, "Match: %s\n", e.MatchID)
	}
}

func (o *Output) printMatch(m response.Match) {
	fmt.Fprintf(o.w, "Match: %s (%s)\n", m.ID, m.GameKey)
	fmt.Fprintf(o.w, "Participants: %s\n", strings.Join(m.Participants, ", "))
	fmt.Fprintf(o.w, "Status: %s\n", m.Status)
	if m.Winner != "" {
		fmt.Fprintf(o.w, "Winner: %s\n", m.Winner)
	}
}
