package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/datallboy/manifetch/internal/domain"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs, or show one run with its files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			appCtx, err := bootstrap(ctx, true, nil)
			if err != nil {
				return err
			}
			defer appCtx.Close()

			if appCtx.Store == nil {
				return fmt.Errorf("run history is disabled (store.driver=none)")
			}

			if len(args) == 1 {
				run, err := appCtx.Store.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				printRun(run)
				return nil
			}

			runs, err := appCtx.Store.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			printRuns(runs)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	return cmd
}

func printRuns(runs []domain.RunRecord) {
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tSTATUS\tFILES\tFAILED\tWRITTEN\tMANIFEST")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%s\t%s\n",
			r.RunID, humanize.Time(r.StartedAt), r.Status, r.Completed, r.Total,
			r.Failed, humanize.Bytes(r.BytesWritten), r.Manifest)
	}
	w.Flush()
}

func printRun(r domain.RunRecord) {
	fmt.Printf("Run:      %s\n", r.RunID)
	fmt.Printf("Manifest: %s\n", r.Manifest)
	fmt.Printf("Output:   %s\n", r.OutDir)
	fmt.Printf("Status:   %s (%d/%d files, %d failed, %d cancelled)\n",
		r.Status, r.Completed, r.Total, r.Failed, r.Cancelled)
	fmt.Printf("Written:  %s\n", humanize.Bytes(r.BytesWritten))
	if !r.FinishedAt.IsZero() {
		fmt.Printf("Duration: %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	}
	if r.Error != "" {
		fmt.Printf("Error:    %s\n", r.Error)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\n#\tRESULT\tPATH\tDETAIL")
	for _, o := range r.Outcomes {
		detail := o.Reason
		if o.Error != "" {
			detail = o.Error
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", o.Index, o.Kind, o.Path, detail)
	}
	w.Flush()
}
