package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/skuboard/internal/merchants"
	"github.com/sells-group/skuboard/pkg/google"
)

var merchantsCmd = &cobra.Command{
	Use:   "merchants",
	Short: "Merchant maintenance",
}

var merchantsRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Look up ratings for merchants without current reputation data",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		batch, _ := cmd.Flags().GetInt("batch")

		if err := cfg.Validate("merchants"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		places := google.NewClient(cfg.Google.Key, google.WithBaseURL(cfg.Google.BaseURL))
		r := merchants.New(st, places, newGuard("google", 10, 3), merchants.Config{BatchSize: batch})
		stats, err := r.Refresh(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(os.Stdout, "checked=%d updated=%d no_match=%d errors=%d\n",
			stats.Checked, stats.Updated, stats.NoMatch, stats.Errors)
		return nil
	},
}

func init() {
	merchantsRefreshCmd.Flags().Int("batch", 50, "merchants to check per run")
	merchantsCmd.AddCommand(merchantsRefreshCmd)
	rootCmd.AddCommand(merchantsCmd)
}
