package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// heartbeatPeriod keeps the identity from going idle while streaming
const heartbeatPeriod = time.Minute

func newEventsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream real-time events",
		Long: `Connect to the WebSocket gateway and stream events addressed to you.

Events include:
  - presence_changed: someone came online, went idle or went offline
  - health_changed: the server entered or left read-only mode
  - offer_created, offer_finalized: transfer offers you are a party to
  - queue_updated, match_found, match_completed: your matchmaking
  - identity_removed: an identity was removed or banned

Holding the stream open counts as being online. Press Ctrl+C to disconnect.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return streamEvents(cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output events as JSON lines")

	return cmd
}

// StreamEvent is one frame received from the gateway
type StreamEvent struct {
	Time    time.Time       `json:"time"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func streamEvents(w io.Writer, jsonOutput bool) error {
	if cfg.Token == "" {
		return errors.New("not logged in")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.Token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, cfg.WebSocketURL(), header)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connection failed: HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("connection failed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if !jsonOutput {
		fmt.Fprintln(w, "Connected")
	}

	// Heartbeats and the final close frame are written from this goroutine only
	go func() {
		ticker := time.NewTicker(heartbeatPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteJSON(map[string]string{"type": "heartbeat"}); err != nil {
					return
				}
			case <-ctx.Done():
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		var evt StreamEvent
		if err := conn.ReadJSON(&evt); err != nil {
			if ctx.Err() != nil {
				if !jsonOutput {
					fmt.Fprintln(w, "\nDisconnected")
				}
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				if closeErr.Code == websocket.CloseNormalClosure {
					return nil
				}
				return fmt.Errorf("closed by server: %s", closeErr.Text)
			}
			return fmt.Errorf("stream error: %w", err)
		}
		evt.Time = time.Now()
		printEvent(w, evt, jsonOutput)
	}
}

func printEvent(w io.Writer, evt StreamEvent, jsonOutput bool) {
	if jsonOutput {
		jsonData, _ := json.Marshal(evt)
		fmt.Fprintln(w, string(jsonData))
		return
	}

	timestamp := evt.Time.Format("2006-01-02 15:04:05")
	// Truncate data if it's too long for display
	displayData := string(evt.Payload)
	if len(displayData) > 100 {
		displayData = displayData[:100] + "..."
	}
	displayData = strings.ReplaceAll(displayData, "\n", " ")
	fmt.Fprintf(w, "[%s] %s: %s\n", timestamp, evt.Type, displayData)
}
