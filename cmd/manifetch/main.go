package main

import (
	"context"
	"fmt"
	"os"

	"github.com/datallboy/manifetch/internal/app"
	"github.com/datallboy/manifetch/internal/infra/config"
	"github.com/datallboy/manifetch/internal/infra/logger"
	"github.com/spf13/cobra"

	// Bucket drivers for manifest sources
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "manifetch",
		Short:         "Download and verify every file listed in a manifest",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")

	root.AddCommand(newRunCmd(), newServeCmd(), newHistoryCmd(), newVerifyCmd(), newStatusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap loads config, applies flag overrides, opens the logger and
// builds the application context. withServices also connects the history
// store and redis.
func bootstrap(ctx context.Context, withServices bool, override func(*config.Config)) (*app.Context, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if override != nil {
		override(cfg)
	}

	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.IncludeStdout)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	appCtx := app.NewContext(cfg, log)
	if withServices {
		if err := appCtx.Open(ctx); err != nil {
			return nil, err
		}
	}
	return appCtx, nil
}
