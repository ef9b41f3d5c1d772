package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skuboard/internal/home"
	"github.com/sells-group/skuboard/internal/hydrate"
	"github.com/sells-group/skuboard/internal/ingest"
	"github.com/sells-group/skuboard/internal/reconcile"
	"github.com/sells-group/skuboard/internal/resilience"
	"github.com/sells-group/skuboard/internal/store"
)

// errBadRequest marks malformed input detected by a handler.
var errBadRequest = eris.New("api: bad request")

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = msg
	body.RequestID = requestID(r.Context())
	writeJSON(w, status, body)
}

// fail maps err to a status and error code. Unexpected errors are logged
// and reported without detail.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "internal error"
	}
	writeError(w, r, status, code, msg)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, home.ErrInvalidRequest),
		errors.Is(err, reconcile.ErrNeedsCountry):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, home.ErrUnknownMarket), errors.Is(err, ingest.ErrUnknownMarket):
		return http.StatusBadRequest, "unknown_market"
	case errors.Is(err, home.ErrUnknownSKU), errors.Is(err, ingest.ErrUnknownSKU):
		return http.StatusNotFound, "unknown_sku"
	case errors.Is(err, hydrate.ErrUnsafeURL):
		return http.StatusNotFound, "no_destination"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ingest.ErrSearchInFlight):
		return http.StatusConflict, "search_in_flight"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "upstream_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return eris.Wrapf(errBadRequest, "invalid body: %v", err)
	}
	return nil
}
