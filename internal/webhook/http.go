package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/your-org/metabridge/internal/processor"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
const SignatureHeader = "x-adobe-signature"

const maxBodyBytes = 1 << 20

// HTTPHandler exposes the webhook and health endpoints.
type HTTPHandler struct {
	verifier  *Verifier
	processor *processor.Processor
	logger    *zap.Logger
	version   string
	router    chi.Router
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
func NewHTTPHandler(verifier *Verifier, proc *processor.Processor, logger *zap.Logger, version string) *HTTPHandler {
	h := &HTTPHandler{
		verifier:  verifier,
		processor: proc,
		logger:    logger,
		version:   version,
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/health", h.handleHealth)
	r.Post("/webhook/aem-events", h.handleEvent)

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
	})
}

func (h *HTTPHandler) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Error("read webhook body", zap.Error(err))
		writeServerError(w, "failed to read request body")
		return
	}

	// Signature comes first: nothing is parsed or processed until the raw
	// body is authenticated. Skipped only when no secret is configured.
	if h.verifier.Enabled() {
		if !h.verifier.Verify(body, r.Header.Get(SignatureHeader)) {
			h.logger.Warn("rejected webhook with invalid signature",
				zap.String("remote", r.RemoteAddr))
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid signature",
			})
			return
		}
	} else {
		h.logger.Debug("signature verification disabled, no secret configured")
	}

	event, err := processor.ParseEvent(body)
	if err != nil {
		if errors.Is(err, processor.ErrMalformedEvent) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		h.logger.Error("parse webhook body", zap.Error(err))
		writeServerError(w, "failed to parse event")
		return
	}

	outcome := h.processor.Process(r.Context(), event)

	if outcome.Status == processor.StatusIgnored {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ignored",
			"reason": outcome.Reason,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "processed",
		"result": outcome,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeServerError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":     msg,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
