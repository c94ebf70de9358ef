package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"peerchat/models"
)

func newListCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Lists connected peers",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := root.load()
			if err != nil {
				return err
			}
			defer e.close()

			dir, err := e.directory()
			if err != nil {
				return err
			}
			printPeers(cmd.OutOrStdout(), dir.Peers(), time.Now())
			return nil
		},
	}
}

func printPeers(w io.Writer, peers []models.Peer, now time.Time) {
	fmt.Fprintf(w, "%-38s %-23s %-20s %-10s\n", "ID", "Address", "Last Seen", "Status")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, peer := range peers {
		lastSeen := "never"
		if peer.LastSeen != nil {
			lastSeen = formatDurationAgo(now.Sub(*peer.LastSeen))
		}
		fmt.Fprintf(w, "%-38s %-23s %-20s %-10s\n", peer.ID, peer.Addr, lastSeen, peer.Status)
	}
}

// formatDurationAgo renders d in its largest whole unit. Negative values count as zero.
func formatDurationAgo(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	switch {
	case secs < 60:
		return fmt.Sprintf("%d second(s) ago", secs)
	case secs < 3600:
		return fmt.Sprintf("%d minute(s) ago", secs/60)
	case secs < 86400:
		return fmt.Sprintf("%d hour(s) ago", secs/3600)
	default:
		return fmt.Sprintf("%d day(s) ago", secs/86400)
	}
}
