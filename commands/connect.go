package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"peerchat/network"
)

func newConnectCommand(root *rootOptions) *cobra.Command {
	var retries int

	cmd := &cobra.Command{
		Use:   "connect ADDRESS",
		Short: "Connects to a peer",
		Long: `Ping the discovery server at ADDRESS once and record the responder as online.
The command exits non-zero when the handshake does not complete.`,
		Args: cobra.ExactArgs(1),
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
			store, err := e.events()
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					e.log.Warn("event log close failed", zap.Error(err))
				}
			}()

			outcome, err := network.Connect(cmd.Context(), args[0], dir, network.ClientOptions{
				ConnectRetries: retries,
				Recorder:       store,
				Logger:         e.log,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s at %s (chat %s)\n",
				outcome.Peer.ID, outcome.Address, outcome.Peer.ChatAddr)
			return nil
		},
	}

	cmd.Flags().IntVar(&retries, "retries", 0, "Extra dial attempts with exponential backoff")
	return cmd
}
