package main

import (
	"errors"
	"fmt"

	"github.com/datallboy/manifetch/internal/status"
	"github.com/dustin/go-humanize"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the live progress of a run mirrored to redis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			appCtx, err := bootstrap(ctx, true, nil)
			if err != nil {
				return err
			}
			defer appCtx.Close()

			if appCtx.Redis == nil {
				return fmt.Errorf("the redis mirror is disabled (redis.enabled=false)")
			}

			snap, err := status.NewRedisObserver(appCtx.Redis, 0, appCtx.Logger).Load(ctx, args[0])
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("no status for run %s (finished more than redis.ttl ago, or never mirrored)", args[0])
			}
			if err != nil {
				return err
			}

			paused := ""
			if snap.Paused {
				paused = ", paused"
			}
			fmt.Printf("%s: %s%s, %d/%d files (%d failed, %d cancelled), %s written\n",
				snap.RunID, snap.Status, paused, snap.Completed, snap.Total,
				snap.Failed, snap.Cancelled, humanize.Bytes(snap.BytesWritten))
			if snap.Error != "" {
				fmt.Printf("Error: %s\n", snap.Error)
			}
			return nil
		},
	}
}
