package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var explainCmd = &cobra.Command{
	Use:   "explain <raw-offer-id | identity-key>",
	Short: "Show how a buffered listing is currently decided",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		country, _ := cmd.Flags().GetString("country")

		env, err := initApp(ctx, "reconcile")
		if err != nil {
			return err
		}
		defer env.Close()

		ex, err := env.Reconcile.Explain(ctx, args[0], country)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(ex), "explain: encode")
	},
}

func init() {
	explainCmd.Flags().String("country", "", "market of an identity key")
	rootCmd.AddCommand(explainCmd)
}
