package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/skuboard/internal/model"
)

var phrasesCmd = &cobra.Command{
	Use:   "phrases",
	Short: "Manage the extractor phrase dictionary",
}

var phrasesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dictionary phrases",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		kind, _ := cmd.Flags().GetString("kind")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		phrases, err := st.ListPhrases(ctx)
		if err != nil {
			return err
		}
		formatPhrases(os.Stdout, phrases, model.PhraseKind(kind))
		return nil
	},
}

var phrasesAddCmd = &cobra.Command{
	Use:   "add <phrase>",
	Short: "Add a phrase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		kind, _ := cmd.Flags().GetString("kind")
		lang, _ := cmd.Flags().GetString("lang")

		p := model.Phrase{Kind: model.PhraseKind(kind), Phrase: strings.TrimSpace(args[0]), Lang: lang}
		if !p.Kind.Valid() {
			return eris.Errorf("phrases: unknown kind %q", kind)
		}
		if p.Phrase == "" {
			return eris.New("phrases: phrase is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		added, err := st.AddPhrase(ctx, p)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(os.Stdout, "added phrase %d\n", added.ID)
		return nil
	},
}

var phrasesRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a phrase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return eris.Errorf("phrases: invalid id %q", args[0])
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return st.DeletePhrase(ctx, id)
	},
}

func init() {
	phrasesListCmd.Flags().String("kind", "", "filter by kind")
	phrasesAddCmd.Flags().String("kind", "", "phrase kind (contract, multi_variant, accessory, condition_new, condition_used, condition_refurbished)")
	phrasesAddCmd.Flags().String("lang", "", "language the phrase applies to (empty for all)")
	_ = phrasesAddCmd.MarkFlagRequired("kind")
	phrasesCmd.AddCommand(phrasesListCmd, phrasesAddCmd, phrasesRemoveCmd)
	rootCmd.AddCommand(phrasesCmd)
}

func formatPhrases(out io.Writer, phrases []model.Phrase, kind model.PhraseKind) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tLANG\tPHRASE")
	for _, p := range phrases {
		if kind != "" && p.Kind != kind {
			continue
		}
		lang := p.Lang
		if lang == "" {
			lang = "*"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.ID, p.Kind, lang, p.Phrase)
	}
	_ = w.Flush()
}
