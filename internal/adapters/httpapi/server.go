// Package httpapi exposes the webhook, reporting and monitoring endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"hookTrader/internal/app"
	"hookTrader/internal/domain"
	"hookTrader/internal/ports"
)

const defaultHistoryLimit = 50

// Service is the part of app.TradingService the handlers use.
type Service interface {
	Switch(ctx context.Context, sig app.Signal) (domain.Outcome, error)
	Reports(ctx context.Context, profile, symbol string, reset bool) ([]app.Report, error)
	Status() []app.StateView
	History(ctx context.Context, profile, symbol string, limit int) (*app.History, error)
}

// Handler serves every HTTP route.
type Handler struct {
	svc     Service
	hub     *Hub
	metrics http.Handler // Optional
	logger  ports.Logger
}

// NewHandler wires the handlers. hub and metrics may be nil.
func NewHandler(svc Service, hub *Hub, metrics http.Handler, logger ports.Logger) *Handler {
	return &Handler{svc: svc, hub: hub, metrics: metrics, logger: logger}
}

// Routes builds the chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/webhook", h.Webhook)
	r.Post("/webhook/{profile}", h.Webhook)
	r.Get("/report", h.Report)
	r.Get("/status", h.Status)
	r.Get("/history", h.History)
	r.Get("/health", h.Health)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	if h.hub != nil {
		r.Get("/ws/monitor", h.hub.HandleWebSocket)
	}
	return r
}

// flexInt accepts 10 as well as "10"; alert templates send both.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("leverage %s is not an integer", b)
	}
	*f = flexInt(v)
	return nil
}

// webhookPayload is the alert body. "signal" is the legacy name of "action".
type webhookPayload struct {
	Symbol   string  `json:"symbol"`
	Action   string  `json:"action"`
	Signal   string  `json:"signal"`
	Leverage flexInt `json:"leverage"`
}

// Webhook handles POST /webhook and /webhook/{profile}.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	op := "Webhook"
	var payload webhookPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	action := payload.Action
	if action == "" {
		action = payload.Signal
	}
	if strings.TrimSpace(payload.Symbol) == "" || strings.TrimSpace(action) == "" {
		writeError(w, http.StatusBadRequest, "invalid payload: symbol and action are required")
		return
	}

	sig := app.Signal{
		Profile:  chi.URLParam(r, "profile"),
		Symbol:   payload.Symbol,
		Action:   action,
		Leverage: int(payload.Leverage),
	}
	// A caller hanging up mid close-and-wait must not strand the switch;
	// MaxWait bounds it instead.
	ctx := context.WithoutCancel(r.Context())
	out, err := h.svc.Switch(ctx, sig)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error(ctx, err, op+": Signal failed", map[string]interface{}{"symbol": sig.Symbol, "action": sig.Action, "profile": sig.Profile})
		}
		writeError(w, status, err.Error())
		return
	}

	switch out.Status {
	case domain.StatusSkipped:
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": out.Status, "reason": out.Reason})
	case domain.StatusDryRun:
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": out.Status})
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": out.Status, "result": out.Result()})
	}
}

// Report handles GET /report?profile=&symbol=&reset=.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reset := false
	if raw := q.Get("reset"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "reset must be a boolean")
			return
		}
		reset = v
	}
	reports, err := h.svc.Reports(r.Context(), q.Get("profile"), q.Get("symbol"), reset)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reports": reports})
}

// Status handles GET /status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"states": h.svc.Status()})
}

// History handles GET /history?profile=&symbol=&limit=.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultHistoryLimit
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = v
	}
	hist, err := h.svc.History(r.Context(), q.Get("profile"), q.Get("symbol"), limit)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "time": time.Now().UTC()})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ports.ErrQuantityTooLow), errors.Is(err, ports.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ports.ErrUnknownProfile), errors.Is(err, ports.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Server is the HTTP listener.
type Server struct {
	srv    *http.Server
	logger ports.Logger
}

// NewServer creates a server on addr. Write timeout leaves room for a
// webhook that closes and waits before entering.
func NewServer(addr string, handler http.Handler, writeTimeout time.Duration, logger ports.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      writeTimeout,
		},
		logger: logger,
	}
}

// ListenAndServe blocks until the server stops. A graceful shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info(context.Background(), "HTTP server listening", map[string]interface{}{"addr": s.srv.Addr})
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
