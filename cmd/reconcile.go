package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/skuboard/internal/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-decide buffered listings against the current catalog",
	Long:  "Scans unresolved raw offers and reports what would be promoted. Nothing is written unless --apply is set.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		limit, _ := cmd.Flags().GetInt("limit")
		country, _ := cmd.Flags().GetString("country")
		apply, _ := cmd.Flags().GetBool("apply")
		afterID, _ := cmd.Flags().GetInt64("after-id")

		env, err := initApp(ctx, "reconcile")
		if err != nil {
			return err
		}
		defer env.Close()

		dryRun := !apply
		stats, err := env.Reconcile.Reconcile(ctx, reconcile.Scope{Limit: limit, Country: country, DryRun: &dryRun, AfterID: afterID})
		if err != nil {
			return err
		}
		formatReconcileStats(os.Stdout, stats)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().Int("limit", reconcile.DefaultLimit, "maximum raw offers to scan")
	reconcileCmd.Flags().String("country", "", "restrict to one market")
	reconcileCmd.Flags().Bool("apply", false, "write promotions and decisions")
	reconcileCmd.Flags().Int64("after-id", 0, "resume after this raw offer id")
	rootCmd.AddCommand(reconcileCmd)
}

func formatReconcileStats(out io.Writer, s reconcile.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Dry run:\t%t\n", s.DryRun)
	_, _ = fmt.Fprintf(w, "Scanned:\t%d\n", s.Scanned)
	_, _ = fmt.Fprintf(w, "Eligible:\t%d\n", s.Eligible)
	_, _ = fmt.Fprintf(w, "Promoted:\t%d\n", s.Promoted)
	_, _ = fmt.Fprintf(w, "  Created:\t%d\n", s.Created)
	_, _ = fmt.Fprintf(w, "  Merged:\t%d\n", s.Merged)
	_, _ = fmt.Fprintf(w, "Errors:\t%d\n", s.Errors)
	if s.NextAfterID > 0 {
		_, _ = fmt.Fprintf(w, "Next batch:\t--after-id %d\n", s.NextAfterID)
	}
	_, _ = fmt.Fprintf(w, "Classifier calls:\t%d / %d (%.0f%%)\n",
		s.Classifier.Calls, s.Classifier.Limit, s.Classifier.Fraction*100)

	reasons := make([]string, 0, len(s.Skipped))
	for r := range s.Skipped {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		_, _ = fmt.Fprintf(w, "Skipped %s:\t%d\n", r, s.Skipped[r])
	}
	_ = w.Flush()
}
