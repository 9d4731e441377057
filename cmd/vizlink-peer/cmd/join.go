package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vizlink/vizlink/internal/config"
	"github.com/vizlink/vizlink/internal/peer"
)

var (
	joinServerURL string
	joinActor     string
	joinTopic     string
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a relay session and stay connected until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(nil)
		if err != nil {
			return err
		}
		logger := config.NewLogger(cfg)
		slog.SetDefault(logger)

		actor := joinActor
		if actor == "" {
			actor = uuid.NewString()
		}

		p := peer.New(cfg, joinServerURL, actor, joinTopic, logger)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Info("joining session",
			"server_url", joinServerURL,
			"actor", actor,
			"topic", p.Sync().Topic(),
		)

		err = p.Run(ctx)
		if errors.Is(err, context.Canceled) {
			logger.Info("session ended")
			return nil
		}
		return err
	},
}

func init() {
	joinCmd.Flags().StringVarP(&joinServerURL, "server", "s", "ws://localhost:8080/ws", "relay WebSocket URL")
	joinCmd.Flags().StringVarP(&joinActor, "actor", "a", "", "actor id for document edits (default: random)")
	joinCmd.Flags().StringVarP(&joinTopic, "topic", "t", "", "replication topic (default: "+peer.DefaultSyncTopic+")")
	rootCmd.AddCommand(joinCmd)
}
