package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"peerchat/models"
	"peerchat/storage"
)

func newHistoryCommand(root *rootOptions) *cobra.Command {
	var (
		peer  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Shows recent handshakes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := storage.HandshakeEventFilter{Limit: limit}
			if peer != "" {
				id, err := models.ParsePeerID(peer)
				if err != nil {
					return err
				}
				filter.PeerID = id.String()
			}

			e, err := root.load()
			if err != nil {
				return err
			}
			defer e.close()

			store, err := e.events()
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					e.log.Warn("event log close failed", zap.Error(err))
				}
			}()

			events, err := store.ListHandshakeEvents(filter)
			if err != nil {
				return err
			}
			printHandshakes(cmd.OutOrStdout(), events)
			return nil
		},
	}

	cmd.Flags().StringVar(&peer, "peer", "", "Only show handshakes with this peer id")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of rows")
	return cmd
}

func printHandshakes(w io.Writer, events []storage.HandshakeEvent) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No handshakes recorded")
		return
	}

	fmt.Fprintf(w, "%-25s %-9s %-7s %-38s %-23s %s\n", "Time", "Direction", "Outcome", "Peer", "Remote", "Detail")
	fmt.Fprintln(w, strings.Repeat("-", 120))
	for _, event := range events {
		peer := event.PeerID
		if peer == "" {
			peer = "-"
		}
		when := time.UnixMilli(event.Timestamp).Format(time.RFC3339)
		fmt.Fprintf(w, "%-25s %-9s %-7s %-38s %-23s %s\n", when, event.Direction, event.Outcome, peer, event.RemoteAddr, event.Detail)
	}
}
