package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/skuboard/internal/catalog"
	"github.com/sells-group/skuboard/internal/ingest"
	"github.com/sells-group/skuboard/internal/model"
	"github.com/sells-group/skuboard/internal/reconcile"
	"github.com/sells-group/skuboard/internal/skukey"
)

func (s *Server) postIngest(w http.ResponseWriter, r *http.Request) {
	var req ingest.Request
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	req.SKUKey = strings.ToLower(strings.TrimSpace(req.SKUKey))
	if req.SKUKey == "" || req.Country == "" {
		s.fail(w, r, eris.Wrap(errBadRequest, "sku_key and country_code are required"))
		return
	}
	if mc := req.MinConfidence; mc != nil && (*mc < 0 || *mc > 1) {
		s.fail(w, r, eris.Wrap(errBadRequest, "min_confidence must be within 0..1"))
		return
	}
	stats, err := s.deps.Ingester.Ingest(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listCountries(w http.ResponseWriter, _ *http.Request) {
	type country struct {
		model.Market
		Flag string `json:"flag"`
	}
	markets := model.Markets()
	out := make([]country, 0, len(markets))
	for _, m := range markets {
		out = append(out, country{Market: m, Flag: m.Flag()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) postReconcile(w http.ResponseWriter, r *http.Request) {
	var scope reconcile.Scope
	if err := decodeBody(r, &scope); err != nil {
		s.fail(w, r, err)
		return
	}
	if scope.Limit < 0 || scope.Limit > reconcile.MaxLimit {
		s.fail(w, r, eris.Wrapf(errBadRequest, "limit must be within 0..%d", reconcile.MaxLimit))
		return
	}
	if scope.AfterID < 0 {
		s.fail(w, r, eris.Wrap(errBadRequest, "after_id must not be negative"))
		return
	}
	stats, err := s.deps.Reconciler.Reconcile(r.Context(), scope)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// explainRawOffer accepts a numeric id or an escaped identity key; identity
// keys need ?country=.
func (s *Server) explainRawOffer(w http.ResponseWriter, r *http.Request) {
	ref, err := url.PathUnescape(chi.URLParam(r, "ref"))
	if err != nil || strings.TrimSpace(ref) == "" {
		s.fail(w, r, eris.Wrap(errBadRequest, "invalid raw offer reference"))
		return
	}
	ex, err := s.deps.Reconciler.Explain(r.Context(), ref, r.URL.Query().Get("country"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func (s *Server) listPhrases(w http.ResponseWriter, r *http.Request) {
	phrases, err := s.deps.Store.ListPhrases(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := phrases[:0]
		for _, p := range phrases {
			if string(p.Kind) == kind {
				filtered = append(filtered, p)
			}
		}
		phrases = filtered
	}
	if phrases == nil {
		phrases = []model.Phrase{}
	}
	writeJSON(w, http.StatusOK, phrases)
}

func (s *Server) addPhrase(w http.ResponseWriter, r *http.Request) {
	var p model.Phrase
	if err := decodeBody(r, &p); err != nil {
		s.fail(w, r, err)
		return
	}
	if !p.Kind.Valid() {
		s.fail(w, r, eris.Wrapf(errBadRequest, "unknown phrase kind %q", p.Kind))
		return
	}
	if strings.TrimSpace(p.Phrase) == "" {
		s.fail(w, r, eris.Wrap(errBadRequest, "phrase is required"))
		return
	}
	out, err := s.deps.Store.AddPhrase(r.Context(), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.deps.Resolvers.Invalidate()
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) deletePhrase(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Store.DeletePhrase(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.deps.Resolvers.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listSkus(w http.ResponseWriter, r *http.Request) {
	skus, err := s.deps.Store.ListGoldenSkus(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if m := r.URL.Query().Get("model"); m != "" {
		filtered := skus[:0]
		for _, g := range skus {
			if g.Model == m {
				filtered = append(filtered, g)
			}
		}
		skus = filtered
	}
	if skus == nil {
		skus = []model.GoldenSku{}
	}
	writeJSON(w, http.StatusOK, skus)
}

// upsertSkus adds catalog entries. Keys are always derived from the
// defining attributes; a supplied key must agree with them.
func (s *Server) upsertSkus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Skus []model.GoldenSku `json:"skus"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if len(body.Skus) == 0 {
		s.fail(w, r, eris.Wrap(errBadRequest, "skus is required"))
		return
	}
	keys := make([]string, 0, len(body.Skus))
	for i := range body.Skus {
		g := &body.Skus[i]
		if err := normalizeSku(g); err != nil {
			s.fail(w, r, err)
			return
		}
		keys = append(keys, g.Key)
	}
	n, err := s.deps.Store.UpsertGoldenSkus(r.Context(), body.Skus)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.deps.Resolvers.Invalidate()
	writeJSON(w, http.StatusOK, map[string]any{"changed": n, "keys": keys})
}

func normalizeSku(g *model.GoldenSku) error {
	g.Condition = model.Condition(strings.ToLower(strings.TrimSpace(string(g.Condition))))
	if !g.Condition.Valid() {
		return eris.Wrapf(errBadRequest, "unknown condition %q", g.Condition)
	}
	key := skukey.ForSku(*g)
	if key == "" {
		return eris.Wrap(errBadRequest, "model, storage, color and condition are required")
	}
	if g.Key != "" && skukey.Normalize(g.Key) != key {
		return eris.Wrapf(errBadRequest, "key %q does not match attributes (%s)", g.Key, key)
	}
	p, _ := skukey.Parse(key)
	g.Key, g.Model, g.Storage, g.Color = key, p.Model, p.Storage, p.Color
	g.SimVariant, g.LockState, g.RegionVariant = p.Sim, p.Lock, p.Region
	if g.DisplayName == "" {
		g.DisplayName = catalog.DisplayName(*g)
	}
	if g.ReferencePriceUSD < 0 {
		return eris.Wrap(errBadRequest, "reference_price_usd must not be negative")
	}
	return nil
}

func (s *Server) blacklistMerchant(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	body := struct {
		Blacklisted *bool `json:"blacklisted"`
	}{}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	blacklisted := body.Blacklisted == nil || *body.Blacklisted
	if err := s.deps.Store.SetMerchantBlacklisted(r.Context(), id, blacklisted); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"merchant_id": id, "blacklisted": blacklisted})
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.fail(w, r, eris.Wrap(errBadRequest, "id must be a positive integer"))
		return 0, false
	}
	return id, true
}
