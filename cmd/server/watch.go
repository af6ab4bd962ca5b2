package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openclaw/subbot-linker/internal/config"
	"github.com/openclaw/subbot-linker/internal/events"
	"github.com/openclaw/subbot-linker/internal/logging"
	"github.com/openclaw/subbot-linker/internal/model"
	"github.com/openclaw/subbot-linker/internal/redis"
)

var errStreamEnded = errors.New("session ended")

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Print relayed events of one session from redis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		closer := logging.Setup(cfg.LogLevel, cfg.LogFile)
		defer closer.Close()

		if cfg.RedisURL == "" {
			return errors.New("watch requires REDIS_URL")
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()

		enc := json.NewEncoder(os.Stdout)
		err = events.NewRedisRelay(client).Follow(ctx, args[0], func(e model.Event) error {
			if err := enc.Encode(e); err != nil {
				return err
			}
			if e.Type == model.EventExpired || e.Type == model.EventDeleted {
				return errStreamEnded
			}
			return nil
		})
		switch {
		case errors.Is(err, errStreamEnded), errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			return fmt.Errorf("follow %s: %w", args[0], err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
