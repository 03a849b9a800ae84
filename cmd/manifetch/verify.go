package main

import (
	"fmt"

	"github.com/datallboy/manifetch/internal/engine"
	"github.com/datallboy/manifetch/internal/infra/config"
	"github.com/spf13/cobra"
)

func newVerifyCmd() *cobra.Command {
	var source, outDir string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check an existing output directory against a manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			appCtx, err := bootstrap(ctx, false, func(cfg *config.Config) {
				if source == "" {
					source = cfg.Manifest.Source
				}
				if outDir == "" {
					outDir = cfg.Download.OutDir
				}
			})
			if err != nil {
				return err
			}
			defer appCtx.Close()

			m, err := appCtx.Loader.Load(ctx, source)
			if err != nil {
				return err
			}

			v, err := engine.NewVerifier(appCtx.Config.Download.Digest)
			if err != nil {
				return err
			}

			results, err := engine.Audit(ctx, m, outDir, v, appCtx.Config.Download.Workers)
			if err != nil {
				return err
			}

			counts := make(map[engine.AuditStatus]int)
			for _, r := range results {
				counts[r.Status]++
				if r.Status == engine.AuditOK {
					continue
				}
				if r.Error != "" {
					fmt.Printf("%-8s %s: %s\n", r.Status, r.Path, r.Error)
				} else {
					fmt.Printf("%-8s %s\n", r.Status, r.Path)
				}
			}

			fmt.Printf("%d ok, %d missing, %d mismatched, %d invalid\n",
				counts[engine.AuditOK], counts[engine.AuditMissing], counts[engine.AuditMismatch], counts[engine.AuditInvalid])

			if bad := len(results) - counts[engine.AuditOK]; bad > 0 {
				return fmt.Errorf("%d of %d files failed verification", bad, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&source, "manifest", "m", "", "manifest URL, bucket URL or path (default from config)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default from config)")
	return cmd
}
