package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"peerchat/config"
	"peerchat/crypto"
	"peerchat/models"
	"peerchat/storage"
)

func newInitCommand(root *rootOptions) *cobra.Command {
	var (
		force       bool
		writeConfig bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initializes files",
		Long: `Create a fresh peer directory with a new peer id and generate the local keypairs.
An existing directory is kept unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if writeConfig {
				if err := writeDefaultConfig(root.configPath); err != nil {
					return err
				}
			}

			e, err := root.load()
			if err != nil {
				return err
			}
			defer e.close()

			if err := config.EnsureAppDirectory(e.paths); err != nil {
				return err
			}

			if _, err := os.Stat(e.paths.PeerInfo); err == nil && !force {
				return fmt.Errorf("peer info %s already exists (use --force to replace it)", e.paths.PeerInfo)
			}

			dir := storage.NewDirectory(models.NewPeerID(), e.cfg.Network.Address, e.cfg.Chat.Address, e.paths.PeerInfo)
			if err := dir.Save(); err != nil {
				return fmt.Errorf("save peer info: %w", err)
			}

			keys, err := e.keys()
			if err != nil {
				return err
			}
			e.log.Debug("initialized",
				zap.String("peer_id", dir.ID().String()),
				zap.String("path", dir.Path()),
			)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Peer ID:      %s\n", dir.ID())
			fmt.Fprintf(out, "Address:      %s\n", dir.Addr())
			fmt.Fprintf(out, "Chat Address: %s\n", dir.ChatAddr())
			fmt.Fprintf(out, "Fingerprint:  %s\n", crypto.FormatFingerprint(keys.Fingerprint))
			fmt.Fprintf(out, "Peer Info:    %s\n", dir.Path())
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing peer directory")
	cmd.Flags().BoolVar(&writeConfig, "write-config", false, "Write a default config file if none exists")
	return cmd
}

func writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat config: %w", err)
	}
	return config.Save(path, config.Default())
}
