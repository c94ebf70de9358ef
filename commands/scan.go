package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"peerchat/crypto"
	"peerchat/discovery"
	"peerchat/network"
	"peerchat/storage"
)

func newScanCommand(root *rootOptions) *cobra.Command {
	var (
		timeout time.Duration
		connect bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Lists peers announced on the LAN",
		Long: `Browse mDNS for peers started with "listen --announce". With --connect, run the
ping/pong handshake against every peer found.`,
		Args: cobra.NoArgs,
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

			peers, err := discovery.Scan(cmd.Context(), discovery.Config{
				SelfID:      dir.ID(),
				ScanTimeout: timeout,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printDiscovered(out, peers)
			if !connect || len(peers) == 0 {
				return nil
			}

			store, err := e.events()
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					e.log.Warn("event log close failed", zap.Error(err))
				}
			}()
			return connectDiscovered(cmd.Context(), out, peers, dir, store, e.log)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", discovery.DefaultScanTimeout, "How long to browse")
	cmd.Flags().BoolVar(&connect, "connect", false, "Handshake with every discovered peer")
	return cmd
}

func printDiscovered(w io.Writer, peers []discovery.DiscoveredPeer) {
	if len(peers) == 0 {
		fmt.Fprintln(w, "No peers found on the LAN")
		return
	}

	fmt.Fprintf(w, "%-38s %-23s %-23s %s\n", "ID", "Address", "Chat Address", "Fingerprint")
	fmt.Fprintln(w, strings.Repeat("-", 110))
	for _, peer := range peers {
		addr, err := peer.ControlAddr()
		if err != nil {
			addr = "-"
		}
		fmt.Fprintf(w, "%-38s %-23s %-23s %s\n", peer.ID, addr, peer.ChatAddr, crypto.FormatFingerprint(peer.KeyFingerprint))
	}
}

// connectDiscovered handshakes with each peer in turn and joins the failures.
func connectDiscovered(ctx context.Context, w io.Writer, peers []discovery.DiscoveredPeer, dir *storage.Directory, recorder network.Recorder, log *zap.Logger) error {
	var errs []error
	for _, peer := range peers {
		addr, err := peer.ControlAddr()
		if err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", peer.ID, err))
			continue
		}

		outcome, err := network.Connect(ctx, addr, dir, network.ClientOptions{
			Recorder: recorder,
			Logger:   log,
		})
		if err != nil {
			fmt.Fprintf(w, "%s: %v\n", addr, err)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(w, "Connected to %s at %s\n", outcome.Peer.ID, outcome.Address)
	}
	return errors.Join(errs...)
}
