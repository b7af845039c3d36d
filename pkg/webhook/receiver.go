package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/megagig/pharmacare/pkg/lifecycle"
	"github.com/megagig/pharmacare/pkg/logger"
)

// DefaultMaxBodySize caps the webhook body read by the receiver.
const DefaultMaxBodySize int64 = 1 << 20

// Handler applies a verified event. *lifecycle.Engine implements it.
type Handler interface {
	Apply(ctx context.Context, evt lifecycle.Event) (lifecycle.Result, error)
}

// Provider binds a gateway name to its verification and payload format.
type Provider struct {
	Name     string
	Verifier Verifier
	Parse    Parser
}

// Receiver is the inbound webhook endpoint. It verifies, parses and applies
// one event per request and acknowledges only after the handler returns.
//
// Responses: 200 {"success":true} for applied, duplicate, unresolved and
// ignored events; 400 for a missing or malformed signature or payload; 401
// for a signature mismatch; 404 for an unknown provider; 500 when the secret
// is not configured or the event could not be applied, so the gateway retries.
type Receiver struct {
	handler   Handler
	providers map[string]Provider
	log       *slog.Logger
	metrics   *Metrics
	maxBody   int64
}

type Option func(*Receiver)

func WithLogger(l *slog.Logger) Option {
	return func(rc *Receiver) {
		if l != nil {
			rc.log = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(rc *Receiver) { rc.metrics = m }
}

func WithMaxBodySize(n int64) Option {
	return func(rc *Receiver) {
		if n > 0 {
			rc.maxBody = n
		}
	}
}

// NewReceiver returns a receiver dispatching to h. Providers without a
// parser read the normalized envelope.
func NewReceiver(h Handler, providers []Provider, opts ...Option) *Receiver {
	if h == nil {
		panic("webhook: nil handler")
	}
	rc := &Receiver{
		handler:   h,
		providers: make(map[string]Provider, len(providers)),
		log:       slog.Default(),
		maxBody:   DefaultMaxBodySize,
	}
	for _, p := range providers {
		if p.Parse == nil {
			p.Parse = ParseEnvelope
		}
		rc.providers[strings.ToLower(p.Name)] = p
	}
	for _, opt := range opts {
		opt(rc)
	}
	rc.log = rc.log.With(logger.Component("webhook"))
	return rc
}

type response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ServeHTTP handles POST /webhooks/{provider}. The provider is read from the
// chi route parameter, falling back to the last path segment.
func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := strings.ToLower(chi.URLParam(r, "provider"))
	if name == "" {
		name = strings.ToLower(path.Base(r.URL.Path))
	}

	var (
		eventType string
		outcome   = "error"
	)
	defer func() {
		if rec := recover(); rec != nil {
			rc.log.ErrorContext(r.Context(), "webhook handler panicked",
				logger.Provider(name),
				logger.Error(fmt.Errorf("panic: %v", rec)),
			)
			outcome = "panic"
			writeResponse(w, http.StatusInternalServerError, "internal error")
		}
		rc.metrics.observe(name, eventType, outcome, time.Since(start))
	}()

	p, ok := rc.providers[name]
	if !ok {
		outcome = "unknown_provider"
		writeResponse(w, http.StatusNotFound, ErrUnknownProvider.Error())
		return
	}
	log := rc.log.With(logger.Provider(p.Name))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, rc.maxBody))
	if err != nil {
		outcome = "invalid"
		log.WarnContext(r.Context(), "failed to read webhook body", logger.Error(err))
		writeResponse(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	if err := rc.verify(p, r, body); err != nil {
		outcome = "rejected"
		status := verificationStatus(err)
		if status >= http.StatusInternalServerError {
			log.ErrorContext(r.Context(), "webhook verification unavailable", logger.Error(err))
		} else {
			log.WarnContext(r.Context(), "webhook rejected", logger.Error(err))
		}
		writeResponse(w, status, publicMessage(err))
		return
	}

	evt, err := p.Parse(p.Name, body)
	if err != nil {
		outcome = "invalid"
		log.WarnContext(r.Context(), "malformed webhook payload", logger.Error(err))
		writeResponse(w, http.StatusBadRequest, ErrInvalidPayload.Error())
		return
	}
	eventType = string(evt.Type)
	if !evt.Type.Known() {
		eventType = "unhandled"
	}

	res, err := rc.handler.Apply(r.Context(), evt)
	if err != nil {
		if errors.Is(err, lifecycle.ErrMissingEventID) {
			outcome = "invalid"
			writeResponse(w, http.StatusBadRequest, ErrInvalidPayload.Error())
			return
		}
		writeResponse(w, http.StatusInternalServerError, "event processing failed")
		return
	}

	outcome = string(res.Outcome)
	writeResponse(w, http.StatusOK, "")
}

func (rc *Receiver) verify(p Provider, r *http.Request, body []byte) error {
	if p.Verifier == nil {
		return ErrNotConfigured
	}
	return p.Verifier.Verify(r, body)
}

func verificationStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, ErrMissingSignature), errors.Is(err, ErrMalformedSignature):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(err error) string {
	for _, target := range []error{ErrMissingSignature, ErrMalformedSignature, ErrInvalidSignature} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "webhook verification unavailable"
}

func writeResponse(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response{Success: status == http.StatusOK, Error: msg})
}
