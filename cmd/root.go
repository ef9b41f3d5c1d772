package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/skuboard/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "skuboard",
	Short: "Cross-market iPhone price leaderboard",
	Long: "Searches shopping listings per market, matches them to a Golden SKU catalog, and ranks offers by effective price and merchant trust.\n\n" +
		"Settings come from config.yaml and SKUBOARD_* variables; the persistent flags override both.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("config")
		c, err := config.LoadFile(path)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		applyFlagOverrides(cmd.Flags(), c)
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		zap.L().Debug("config loaded",
			zap.String("command", cmd.Name()),
			zap.String("store_driver", cfg.Store.Driver),
			zap.Bool("redis", cfg.Redis.URL != ""),
			zap.Bool("classifier", cfg.Classifier.Enabled),
		)
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	addRootFlags(rootCmd.PersistentFlags())
}

func addRootFlags(pf *pflag.FlagSet) {
	pf.String("config", "", "config file (default ./config.yaml)")
	pf.String("store-driver", "", "store backend: sqlite or postgres")
	pf.String("database-url", "", "sqlite path or postgres connection string")
	pf.String("redis-url", "", "redis URL for shared caches and leases")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format: json or console")
	pf.Bool("no-classifier", false, "disable the LLM fallback for this run")
}

// applyFlagOverrides copies explicitly set persistent flags onto c.
func applyFlagOverrides(fs *pflag.FlagSet, c *config.Config) {
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			*dst, _ = fs.GetString(name)
		}
	}
	str("store-driver", &c.Store.Driver)
	str("database-url", &c.Store.DatabaseURL)
	str("redis-url", &c.Redis.URL)
	str("log-level", &c.Log.Level)
	str("log-format", &c.Log.Format)
	if off, _ := fs.GetBool("no-classifier"); off {
		c.Classifier.Enabled = false
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
