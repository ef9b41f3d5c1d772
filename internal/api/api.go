// Package api serves the public leaderboard and redirect endpoints and the
// admin surface over chi.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/skuboard/internal/home"
	"github.com/sells-group/skuboard/internal/hydrate"
	"github.com/sells-group/skuboard/internal/ingest"
	"github.com/sells-group/skuboard/internal/model"
	"github.com/sells-group/skuboard/internal/reconcile"
)

// HomeService builds the landing payload.
type HomeService interface {
	Get(ctx context.Context, req home.Request) (*home.Payload, error)
}

// Redirector resolves where an offer click goes.
type Redirector interface {
	RedirectTarget(ctx context.Context, offerID int64) (hydrate.Target, error)
}

// Ingester runs one ingestion unit.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (ingest.Stats, error)
}

// Reconciler re-decides buffered listings and explains single ones.
type Reconciler interface {
	Reconcile(ctx context.Context, scope reconcile.Scope) (reconcile.Stats, error)
	Explain(ctx context.Context, ref, country string) (*reconcile.Explanation, error)
}

// Store is the slice of the store the admin handlers use directly.
type Store interface {
	Ping(ctx context.Context) error
	ListPhrases(ctx context.Context) ([]model.Phrase, error)
	AddPhrase(ctx context.Context, p model.Phrase) (*model.Phrase, error)
	DeletePhrase(ctx context.Context, id int64) error
	ListGoldenSkus(ctx context.Context) ([]model.GoldenSku, error)
	UpsertGoldenSkus(ctx context.Context, skus []model.GoldenSku) (int64, error)
	SetMerchantBlacklisted(ctx context.Context, id int64, blacklisted bool) error
}

// Invalidator drops cached catalog and dictionary snapshots after an edit.
type Invalidator interface {
	Invalidate()
}

// Deps are the services behind the routes.
type Deps struct {
	Store      Store
	Home       HomeService
	Redirector Redirector
	Ingester   Ingester
	Reconciler Reconciler
	Resolvers  Invalidator
}

// Config controls the HTTP surface.
type Config struct {
	AllowedOrigins []string
}

// Server holds the handlers.
type Server struct {
	deps Deps
	cfg  Config
	log  *zap.Logger
}

// NewServer creates a server.
func NewServer(deps Deps, cfg Config) *Server {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return &Server{deps: deps, cfg: cfg, log: zap.L().With(zap.String("component", "api"))}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Accept-Language", "Content-Type"},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/v1/ui/home", s.getHome)
	r.Get("/r/offers/{id}", s.redirectOffer)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/ingest", s.postIngest)
		r.Get("/ingest/countries", s.listCountries)
		r.Post("/reconcile", s.postReconcile)
		r.Get("/raw-offers/{ref}/explain", s.explainRawOffer)
		r.Get("/phrases", s.listPhrases)
		r.Post("/phrases", s.addPhrase)
		r.Delete("/phrases/{id}", s.deletePhrase)
		r.Get("/skus", s.listSkus)
		r.Post("/skus", s.upsertSkus)
		r.Post("/merchants/{id}/blacklist", s.blacklistMerchant)
	})
	return r
}

// NewHTTPServer wraps the routes in an http.Server with conservative
// timeouts. Admin runs can be slow, so the write timeout is generous.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
}
