// Package httpapi exposes the gateway over JSON/HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"passkeygate.org/internal/account"
	"passkeygate.org/internal/action"
	"passkeygate.org/internal/auth"
	"passkeygate.org/internal/controller"
	"passkeygate.org/internal/obs"
	"passkeygate.org/internal/passkey"
	"passkeygate.org/internal/sink/remote"
	"passkeygate.org/internal/stream"
)

const defaultMaxBody = 1 << 20

// ReadyProbe checks the state database, when there is one.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over a Controller.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	gateway    *controller.Controller
	tokens     *auth.Tokens
	account    account.ID
	ledger     LedgerView
	events     *stream.Hub

	rateLimit  bool
	rateBurst  int
	ratePerSec float64
	maxBody    int64
}

type Option func(*API)

// WithRateLimit enables per-client rate limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		a.rateLimit = perSecond > 0 && burst > 0
		a.ratePerSec = perSecond
		a.rateBurst = burst
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

func WithReadyProbe(rp ReadyProbe) Option {
	return func(a *API) { a.readyProbe = rp }
}

// WithLedger exposes read-only ledger routes.
func WithLedger(l LedgerView) Option {
	return func(a *API) { a.ledger = l }
}

// New wires the routes. gatewayAccount is the account the gateway acts as.
func New(gw *controller.Controller, tokens *auth.Tokens, gatewayAccount account.ID, version string, opts ...Option) *API {
	a := &API{
		mux:     http.NewServeMux(),
		version: version,
		gateway: gw,
		tokens:  tokens,
		account: gatewayAccount,
		maxBody: defaultMaxBody,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/initialize", a.initialize)
	a.mux.HandleFunc("GET /v1/relayer", a.getRelayer)
	a.mux.HandleFunc("PUT /v1/relayer", a.setRelayer)
	a.mux.HandleFunc("GET /v1/owner", a.getOwner)
	a.mux.HandleFunc("PUT /v1/owner", a.setOwner)

	a.mux.HandleFunc("GET /v1/credentials", a.listCredentials)
	a.mux.HandleFunc("POST /v1/credentials", a.addCredential)
	a.mux.HandleFunc("GET /v1/credentials/{key}", a.getCredential)
	a.mux.HandleFunc("DELETE /v1/credentials/{key}", a.removeCredential)

	a.mux.HandleFunc("POST /v1/actions/delegated", a.executeDelegated)
	a.mux.HandleFunc("POST /v1/actions/delegated/batch", a.executeDelegatedBatch)
	a.mux.HandleFunc("POST /v1/actions/direct", a.executeDirect)
	a.mux.HandleFunc("POST /v1/actions/direct/batch", a.executeDirectBatch)

	a.mux.HandleFunc("GET /v1/events", a.Events)

	if a.ledger != nil {
		a.mux.HandleFunc("GET /v1/ledger/accounts/{id}", a.getLedgerAccount)
		a.mux.HandleFunc("GET /v1/ledger/receipts", a.listReceipts)
	}

	return a
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBody)
	if a.rateLimit {
		h = RateLimit(h, a.rateBurst, a.ratePerSec)
	}
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "passkeygate",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "passkeygate",
		"account": a.account.String(),
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleGatewayError maps controller, validation and sink errors to status
// codes. Anything unrecognised is logged and reported as 500.
func handleGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, controller.ErrUnauthorized), errors.Is(err, controller.ErrNotRegistered):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, action.ErrMissingField),
		errors.Is(err, action.ErrInvalidField),
		errors.Is(err, action.ErrUnknownKind),
		errors.Is(err, account.ErrInvalidID),
		errors.Is(err, passkey.ErrInvalidKey):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, controller.ErrAlreadyInitialized), errors.Is(err, controller.ErrNotInitialized):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.As(err, &maxErr):
		writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, remote.ErrRejected), errors.Is(err, remote.ErrUnavailable):
		obs.Error("sink_failed", err, map[string]any{"request_id": RequestIDFromContext(r.Context())})
		writeError(w, r, http.StatusBadGateway, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusServiceUnavailable, "request cancelled")
	default:
		obs.Error("request_failed", err, map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// badRequest reports a body that could not be decoded.
func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, r, http.StatusBadRequest, err.Error())
}
