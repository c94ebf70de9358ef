package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"peerchat/crypto"
)

func newInfoCommand(root *rootOptions) *cobra.Command {
	var showQR bool

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Shows the local identity",
		Args:  cobra.NoArgs,
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
			keys, err := e.keys()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Peer ID:        %s\n", dir.ID())
			fmt.Fprintf(out, "Address:        %s\n", dir.Addr())
			fmt.Fprintf(out, "Chat Address:   %s\n", dir.ChatAddr())
			fmt.Fprintf(out, "Known Peers:    %d\n", dir.Len())
			fmt.Fprintf(out, "Fingerprint:    %s\n", crypto.FormatFingerprint(keys.Fingerprint))
			fmt.Fprintf(out, "Box Public Key: %s\n", hex.EncodeToString(keys.BoxPublicKey[:]))
			fmt.Fprintf(out, "Config File:    %s\n", e.configPath)
			fmt.Fprintf(out, "App Directory:  %s\n", e.paths.AppDir)

			if showQR {
				fmt.Fprintln(out)
				qrterminal.GenerateWithConfig(dir.Addr(), qrterminal.Config{
					Level:     qrterminal.M,
					Writer:    out,
					BlackChar: qrterminal.BLACK,
					WhiteChar: qrterminal.WHITE,
					QuietZone: 1,
				})
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showQR, "qr", false, "Render the control address as a QR code")
	return cmd
}
