// Package commands wires the peerchat CLI.
package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"peerchat/config"
	"peerchat/crypto"
	"peerchat/logging"
	"peerchat/storage"
)

// Version is reported by the version command and --version.
const Version = "0.3.0"

type rootOptions struct {
	configPath string
}

// NewRootCommand builds the peerchat command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "peerchat",
		Short: "Peer-to-peer terminal chat",
		Long: `peerchat keeps a directory of known peers, learns new ones through a
ping/pong handshake and chats with every known peer from the terminal.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultConfigFile, "Config file path")

	root.AddCommand(
		newInitCommand(opts),
		newListenCommand(opts),
		newConnectCommand(opts),
		newListCommand(opts),
		newChatCommand(opts),
		newInfoCommand(opts),
		newScanCommand(opts),
		newHistoryCommand(opts),
		newVersionCommand(),
	)
	return root
}

// env is the state every subcommand derives from the config file.
type env struct {
	configPath string
	cfg        *config.Config
	paths      config.Paths
	log        *zap.Logger
}

func (o *rootOptions) load() (*env, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	paths, err := cfg.ResolvePaths()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return &env{
		configPath: o.configPath,
		cfg:        cfg,
		paths:      paths,
		log:        log,
	}, nil
}

func (e *env) close() {
	_ = e.log.Sync()
}

func (e *env) directory() (*storage.Directory, error) {
	dir, err := storage.LoadDirectory(e.paths.PeerInfo)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load peer info: %w (run `peerchat init` first)", err)
		}
		return nil, fmt.Errorf("load peer info: %w", err)
	}
	return dir, nil
}

func (e *env) events() (*storage.Store, error) {
	store, err := storage.OpenPath(e.paths.Events)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return store, nil
}

type identityKeys struct {
	Fingerprint  string
	BoxPublicKey [32]byte
}

// keys loads both keypairs, generating any that are missing.
func (e *env) keys() (identityKeys, error) {
	_, signing, err := crypto.EnsureEd25519KeyPair(e.paths.PrivateKey, e.paths.PublicKey)
	if err != nil {
		return identityKeys{}, fmt.Errorf("prepare Ed25519 keypair: %w", err)
	}
	box, err := crypto.EnsureX25519KeyPair(e.paths.BoxPrivateKey, e.paths.BoxPublicKey)
	if err != nil {
		return identityKeys{}, fmt.Errorf("prepare X25519 keypair: %w", err)
	}
	return identityKeys{
		Fingerprint:  crypto.KeyFingerprint(signing),
		BoxPublicKey: *box.Public,
	}, nil
}
