package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"peerchat/chat"
	"peerchat/ui"
)

func newChatCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Starts realtime chat with connected peers",
		Long: `Listen on the directory's chat address, send every input line to each known
peer and render local and remote lines newest first.`,
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

			width, height := ui.TerminalSize(os.Stdout)
			renderer := ui.NewRenderer(cmd.OutOrStdout(), width, height)

			hub, err := chat.NewHub(chat.HubOptions{
				Directory:    dir,
				Consumer:     renderer,
				Logger:       e.log,
				WriteTimeout: e.cfg.Chat.WriteTimeout.Duration,
			})
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go ui.WatchResize(ctx, os.Stdout, renderer)

			return hub.Run(ctx, cmd.InOrStdin())
		},
	}
}
