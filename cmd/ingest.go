package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/skuboard/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Search one SKU in one or more markets and promote matching listings",
	Example: `  skuboard ingest --sku iphone-16-pro-256gb-black-new --country JP --country US
  skuboard ingest --sku iphone-16e-128gb-white-new --country DE --min-confidence 0.9`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		sku, _ := cmd.Flags().GetString("sku")
		countries, _ := cmd.Flags().GetStringSlice("country")
		if strings.TrimSpace(sku) == "" || len(countries) == 0 {
			return eris.New("ingest: --sku and at least one --country are required")
		}
		var minConfidence *float64
		if cmd.Flags().Changed("min-confidence") {
			mc, _ := cmd.Flags().GetFloat64("min-confidence")
			if mc < 0 || mc > 1 {
				return eris.New("ingest: --min-confidence must be within 0..1")
			}
			minConfidence = &mc
		}

		env, err := initApp(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		reqs := make([]ingest.Request, 0, len(countries))
		for _, c := range countries {
			reqs = append(reqs, ingest.Request{SKUKey: sku, Country: c, MinConfidence: minConfidence})
		}
		results, err := env.Ingest.IngestMany(ctx, reqs)
		formatIngestResults(os.Stdout, results)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}
		for _, r := range results {
			if r.Error != "" {
				return eris.Errorf("ingest: %s/%s failed: %s", r.Request.SKUKey, r.Request.Country, r.Error)
			}
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("sku", "", "Golden SKU key to search for")
	ingestCmd.Flags().StringSlice("country", nil, "market country code (repeatable)")
	ingestCmd.Flags().Float64("min-confidence", 0, "override the promotion threshold (0..1)")
	rootCmd.AddCommand(ingestCmd)
}

func formatIngestResults(out io.Writer, results []ingest.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COUNTRY\tQUERY\tFETCHED\tNEW\tPROMOTED\tMERGED\tUNRESOLVED\tDROPPED\tERROR")
	for _, r := range results {
		s := r.Stats
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			strings.ToUpper(r.Request.Country), s.Query, s.Fetched, s.NewRaw,
			s.Promoted, s.Merged, s.Unresolved, s.Dropped, r.Error)
	}
	_ = w.Flush()
}
