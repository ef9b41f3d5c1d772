package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/skuboard/internal/api"
	"github.com/sells-group/skuboard/internal/home"
	"github.com/sells-group/skuboard/internal/merchants"
	"github.com/sells-group/skuboard/internal/refresh"
	"github.com/sells-group/skuboard/pkg/google"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the leaderboard API and the scheduled refresh",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		homeSvc := home.New(env.Ranking, env.Store, env.FX, env.Cache, home.Config{
			CacheTTL: secs(cfg.Ranking.UICacheTTLSecs),
		})
		srv := api.NewServer(api.Deps{
			Store:      env.Store,
			Home:       homeSvc,
			Redirector: env.Hydrate,
			Ingester:   env.Ingest,
			Reconciler: env.Reconcile,
			Resolvers:  env.Resolvers,
		}, api.Config{
			AllowedOrigins: cfg.Server.AllowedOrigins,
		})

		if cfg.Refresh.Enabled {
			var reputation refresh.Reputation
			if cfg.Google.Key != "" {
				places := google.NewClient(cfg.Google.Key, google.WithBaseURL(cfg.Google.BaseURL))
				reputation = merchants.New(env.Store, places, newGuard("google", 10, 3), merchants.Config{})
			}
			sched := refresh.New(env.Store, env.Ingest, env.Reconcile, reputation, refresh.Config{
				Interval:       time.Duration(cfg.Refresh.IntervalHours) * time.Hour,
				Countries:      cfg.Refresh.Countries,
				ReconcileBatch: cfg.Refresh.ReconcileBatch,
			})
			go sched.Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		httpSrv := api.NewHTTPServer(fmt.Sprintf(":%d", port), srv.Routes())

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
