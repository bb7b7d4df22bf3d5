// Package action adapts the sync core to function-invocation runtimes
// (OpenWhisk-style web actions). It differs from the HTTP server only in
// how the event arrives and how the response is returned.
package action

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/metabridge/internal/processor"
	"github.com/your-org/metabridge/internal/webhook"
)

// Response is the invocation result in web-action shape.
type Response struct {
	StatusCode int            `json:"statusCode"`
	Body       map[string]any `json:"body"`
}

// Handler invokes the shared verifier and processor for one set of
// action parameters.
type Handler struct {
	verifier  *webhook.Verifier
	processor *processor.Processor
	logger    *zap.Logger
}

// NewHandler constructs an action Handler over the shared core.
func NewHandler(verifier *webhook.Verifier, proc *processor.Processor, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{verifier: verifier, processor: proc, logger: logger}
}

// Invoke processes one web-action invocation. The runtime supplies the
// raw request body under __ow_body (possibly base64-encoded) and headers
// under __ow_headers.
func (h *Handler) Invoke(ctx context.Context, params map[string]any) Response {
	body, err := rawBody(params)
	if err != nil {
		return errorResponse(http.StatusBadRequest, err.Error())
	}

	if h.verifier.Enabled() {
		if !h.verifier.Verify(body, headerValue(params, webhook.SignatureHeader)) {
			h.logger.Warn("rejected action invocation with invalid signature")
			return Response{
				StatusCode: http.StatusUnauthorized,
				Body:       map[string]any{"error": "Invalid signature"},
			}
		}
	}

	event, err := processor.ParseEvent(body)
	if err != nil {
		if errors.Is(err, processor.ErrMalformedEvent) {
			return errorResponse(http.StatusBadRequest, err.Error())
		}
		return errorResponse(http.StatusInternalServerError, "failed to parse event")
	}

	outcome := h.processor.Process(ctx, event)

	if outcome.Status == processor.StatusIgnored {
		return Response{
			StatusCode: http.StatusOK,
			Body:       map[string]any{"status": "ignored", "reason": outcome.Reason},
		}
	}
	return Response{
		StatusCode: http.StatusOK,
		Body:       map[string]any{"status": "processed", "result": outcome},
	}
}

func rawBody(params map[string]any) ([]byte, error) {
	raw, ok := params["__ow_body"].(string)
	if !ok || raw == "" {
		return nil, errors.New("missing request body")
	}
	// Raw web actions base64-encode non-form bodies; a JSON body passed
	// through verbatim starts with a brace.
	if strings.HasPrefix(strings.TrimSpace(raw), "{") {
		return []byte(raw), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.New("request body is neither JSON nor base64")
	}
	return decoded, nil
}

func headerValue(params map[string]any, name string) string {
	headers, ok := params["__ow_headers"].(map[string]any)
	if !ok {
		return ""
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func errorResponse(status int, msg string) Response {
	return Response{
		StatusCode: status,
		Body: map[string]any{
			"error":     msg,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}
}
