package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/skuboard/internal/home"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		s.log.Warn("health: store ping failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getHome(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := home.Request{SKU: q.Get("sku"), Country: q.Get("country"), Lang: q.Get("lang")}
	if req.Country == "" {
		req.Country = q.Get("home")
	}
	if req.Lang == "" {
		req.Lang = r.Header.Get("Accept-Language")
	}
	if raw := q.Get("minTrust"); raw != "" {
		mt, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(w, r, eris.Wrapf(errBadRequest, "minTrust %q is not an integer", raw))
			return
		}
		req.MinTrust = &mt
	}

	p, err := s.deps.Home.Get(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	writeJSON(w, http.StatusOK, p)
}

// redirectOffer sends the visitor to the merchant. Only vetted http(s) URLs
// are ever placed in Location.
func (s *Server) redirectOffer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.fail(w, r, eris.Wrap(errBadRequest, "offer id must be a positive integer"))
		return
	}
	target, err := s.deps.Redirector.RedirectTarget(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.Header().Set("X-Redirect-Source", string(target.Source))
	http.Redirect(w, r, target.URL, http.StatusFound)
}
