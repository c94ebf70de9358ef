package commands

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"peerchat/discovery"
	"peerchat/models"
	"peerchat/network"
)

func newListenCommand(root *rootOptions) *cobra.Command {
	var announce bool

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Listens for connections",
		Long: `Run the discovery server on the directory's control address until interrupted.
Every valid ping is answered with a pong and the sender is recorded as online.`,
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
			store, err := e.events()
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					e.log.Warn("event log close failed", zap.Error(err))
				}
			}()

			srv, err := network.Listen(dir.Addr(), network.ServerOptions{
				Directory: dir,
				Recorder:  store,
				Logger:    e.log,
			})
			if err != nil {
				return err
			}
			defer srv.Close()

			go func() {
				for err := range srv.Errors() {
					e.log.Warn("discovery server error", zap.Error(err))
				}
			}()

			e.log.Info("listening",
				zap.String("peer_id", dir.ID().String()),
				zap.String("addr", srv.Addr().String()),
			)

			ctx := cmd.Context()
			if announce {
				if svc := startAnnouncer(e, dir.ID(), srv.Addr().String(), dir.ChatAddr()); svc != nil {
					defer svc.Stop()
					go logDiscoveryEvents(ctx, e.log, svc.Scanner.Events())
				}
			}

			<-ctx.Done()
			e.log.Info("shutting down")
			return nil
		},
	}

	cmd.Flags().BoolVar(&announce, "announce", false, "Advertise this peer on the LAN via mDNS")
	return cmd
}

// startAnnouncer advertises over mDNS. Failure is logged and the server keeps running.
func startAnnouncer(e *env, selfID models.PeerID, controlAddr, chatAddr string) *discovery.Service {
	keys, err := e.keys()
	if err != nil {
		e.log.Warn("mDNS announce disabled", zap.Error(err))
		return nil
	}

	svc, err := discovery.Start(discovery.Config{
		SelfID:         selfID,
		ControlAddr:    controlAddr,
		ChatAddr:       chatAddr,
		KeyFingerprint: keys.Fingerprint,
	})
	if err != nil {
		e.log.Warn("mDNS announce failed", zap.Error(err))
		return nil
	}
	e.log.Info("announcing on LAN", zap.String("service", discovery.DefaultService))
	return svc
}

func logDiscoveryEvents(ctx context.Context, log *zap.Logger, events <-chan discovery.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			switch event.Type {
			case discovery.EventPeerUpserted:
				log.Info("LAN peer available",
					zap.String("peer_id", event.Peer.ID.String()),
					zap.Strings("addresses", event.Peer.Addresses),
					zap.Int("port", event.Peer.Port),
				)
			case discovery.EventPeerRemoved:
				log.Info("LAN peer removed", zap.String("peer_id", event.Peer.ID.String()))
			default:
				log.Debug("LAN event", zap.String("event", string(event.Type)), zap.String("peer_id", event.Peer.ID.String()))
			}
		}
	}
}
