package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/datallboy/manifetch/internal/app"
	"github.com/datallboy/manifetch/internal/domain"
	"github.com/datallboy/manifetch/internal/engine"
	"github.com/datallboy/manifetch/internal/infra/config"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		source     string
		outDir     string
		workers    int
		paused     bool
		noProgress bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Download a manifest into an output directory",
		Long: `Download every file of a manifest and verify its digest.

While running, type p to pause, r to resume or s to stop, followed by Enter.
Ctrl+C stops the run; a second Ctrl+C exits immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			appCtx, err := bootstrap(ctx, true, func(cfg *config.Config) {
				if source == "" {
					source = cfg.Manifest.Source
				}
				if outDir == "" {
					outDir = cfg.Download.OutDir
				}
				if workers > 0 {
					cfg.Download.Workers = workers
				}
			})
			if err != nil {
				return err
			}
			defer appCtx.Close()

			appCtx.Logger.Info("Loading manifest %s", source)
			m, err := appCtx.Loader.Load(ctx, source)
			if err != nil {
				return err
			}

			if !noProgress {
				appCtx.Controller.AddObserver(engine.NewProgressBar(os.Stdout))
			}

			if _, err := appCtx.Controller.Start(ctx, m, outDir, engine.RunOptions{
				Source:       source,
				StartPaused:  paused,
				CreateOutDir: true,
			}); err != nil {
				return err
			}
			if paused {
				appCtx.Logger.Info("Run is paused; type r and Enter to begin")
			}

			go handleSignals(appCtx)
			go handleKeys(appCtx)

			snap, err := appCtx.Controller.Wait(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d/%d files downloaded, %d failed, %d cancelled\n",
				snap.Status, snap.Completed, snap.Total, snap.Failed, snap.Cancelled)

			if snap.Status == domain.StatusFailed {
				return fmt.Errorf("run failed: %s", snap.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&source, "manifest", "m", "", "manifest URL, bucket URL or path (default from config)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default from config)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent downloads (default from config)")
	cmd.Flags().BoolVar(&paused, "paused", false, "start paused")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the progress bar")

	return cmd
}

// handleSignals stops the run on the first SIGINT/SIGTERM and exits on the
// second.
func handleSignals(appCtx *app.Context) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	<-sigs
	appCtx.Logger.Warn("Interrupt received, stopping (press Ctrl+C again to exit now)")
	appCtx.Controller.Stop()

	<-sigs
	appCtx.Close()
	os.Exit(130)
}

func handleKeys(appCtx *app.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "p", "pause":
			appCtx.Controller.Pause()
		case "r", "resume":
			appCtx.Controller.Resume()
		case "s", "stop":
			appCtx.Controller.Stop()
		}
	}
}
