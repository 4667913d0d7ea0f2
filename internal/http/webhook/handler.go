package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/MrJamesThe3rd/payments/internal/deadletter"
	"github.com/MrJamesThe3rd/payments/internal/payment"
	"github.com/MrJamesThe3rd/payments/internal/webhook"
)

const (
	signatureHeader = "Stripe-Signature"
	maxPayloadBytes = 256 << 10

	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 500
)

// Reconciler applies verified notifications.
type Reconciler interface {
	Reconcile(ctx context.Context, n payment.Notification) (payment.Outcome, error)
}

// DeadLetters keeps notifications that verified but could not be applied.
type DeadLetters interface {
	Send(ctx context.Context, rec deadletter.Record) error
	Recent(ctx context.Context, n int64) ([]deadletter.Record, error)
	Len(ctx context.Context) (int64, error)
	Remove(ctx context.Context, rec deadletter.Record) error
}

type Handler struct {
	verifier    *webhook.Verifier
	reconciler  Reconciler
	deadLetters DeadLetters
	logger      *zap.Logger
}

type Option func(*Handler)

func WithDeadLetters(d DeadLetters) Option {
	return func(h *Handler) { h.deadLetters = d }
}

func NewHandler(verifier *webhook.Verifier, reconciler Reconciler, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		verifier:   verifier,
		reconciler: reconciler,
		logger:     logger,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/stripe", h.stripe)
}

// DeadLetterRoutes lets an operator inspect and replay stored deliveries.
func (h *Handler) DeadLetterRoutes(r chi.Router) {
	r.Get("/", h.listDeadLetters)
	r.Post("/replay", h.replayDeadLetters)
}

func (h *Handler) stripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	n, err := h.verifier.Verify(payload, r.Header.Get(signatureHeader))
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) || errors.Is(err, webhook.ErrExtraction) {
			h.logger.Warn("rejected webhook", zap.Error(err))
			http.Error(w, err.Error(), http.StatusBadRequest)

			return
		}

		h.logger.Error("failed to verify webhook", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	outcome, err := h.reconciler.Reconcile(r.Context(), n)
	if err != nil {
		h.deadLetter(r.Context(), n, payload, err)

		switch {
		case errors.Is(err, payment.ErrNotFound):
			http.Error(w, "transaction not found", http.StatusNotFound)
		case errors.Is(err, payment.ErrInvalidState), errors.Is(err, payment.ErrConflict):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.logger.Error("failed to reconcile webhook", zap.String("event_id", n.EventID), zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}

		return
	}

	h.logger.Info("webhook reconciled",
		zap.String("event_id", n.EventID),
		zap.String("type", n.Type),
		zap.String("external_id", n.ExternalID),
		zap.String("outcome", string(outcome)),
	)

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) deadLetter(ctx context.Context, n payment.Notification, payload []byte, cause error) {
	if h.deadLetters == nil {
		return
	}

	rec := deadletter.Record{
		EventID:    n.EventID,
		Type:       n.Type,
		ExternalID: n.ExternalID,
		Reason:     cause.Error(),
		Payload:    string(payload),
		ReceivedAt: time.Now().UTC(),
	}

	if err := h.deadLetters.Send(context.WithoutCancel(ctx), rec); err != nil {
		h.logger.Error("failed to store dead letter", zap.String("event_id", n.EventID), zap.Error(err))
	}
}

type deadLetterList struct {
	Total   int64               `json:"total"`
	Records []deadletter.Record `json:"records"`
}

func (h *Handler) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.deadLetterLimit(w, r)
	if !ok {
		return
	}

	records, err := h.deadLetters.Recent(r.Context(), limit)
	if err != nil {
		h.internalError(w, "failed to read dead letters", err)
		return
	}

	total, err := h.deadLetters.Len(r.Context())
	if err != nil {
		h.internalError(w, "failed to count dead letters", err)
		return
	}

	writeJSON(w, http.StatusOK, deadLetterList{Total: total, Records: records})
}

type replayResult struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
}

type replayReport struct {
	Replayed  int            `json:"replayed"`
	Remaining int64          `json:"remaining"`
	Results   []replayResult `json:"results"`
}

// replayDeadLetters reconciles stored payloads again, oldest first. Payloads were
// verified when received, so only decoding is repeated. Records that apply are removed.
func (h *Handler) replayDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.deadLetterLimit(w, r)
	if !ok {
		return
	}

	ctx := context.WithoutCancel(r.Context())

	records, err := h.deadLetters.Recent(ctx, limit)
	if err != nil {
		h.internalError(w, "failed to read dead letters", err)
		return
	}

	slices.Reverse(records)

	report := replayReport{Results: make([]replayResult, 0, len(records))}

	for _, rec := range records {
		res := replayResult{EventID: rec.EventID, Type: rec.Type}

		outcome, err := h.replay(ctx, rec)
		if err != nil {
			res.Error = err.Error()
			report.Results = append(report.Results, res)

			continue
		}

		res.Outcome = string(outcome)
		report.Replayed++
		report.Results = append(report.Results, res)

		if err := h.deadLetters.Remove(ctx, rec); err != nil {
			h.logger.Warn("failed to remove replayed dead letter", zap.String("event_id", rec.EventID), zap.Error(err))
		}
	}

	report.Remaining, err = h.deadLetters.Len(ctx)
	if err != nil {
		h.internalError(w, "failed to count dead letters", err)
		return
	}

	h.logger.Info("dead letters replayed",
		zap.Int("attempted", len(records)),
		zap.Int("replayed", report.Replayed),
		zap.Int64("remaining", report.Remaining),
	)

	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) replay(ctx context.Context, rec deadletter.Record) (payment.Outcome, error) {
	n, err := webhook.Decode([]byte(rec.Payload))
	if err != nil {
		return "", err
	}

	return h.reconciler.Reconcile(ctx, n)
}

func (h *Handler) deadLetterLimit(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if h.deadLetters == nil {
		http.Error(w, "dead letter queue not configured", http.StatusServiceUnavailable)
		return 0, false
	}

	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultDeadLetterLimit, true
	}

	limit, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || limit <= 0 {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return 0, false
	}

	return min(limit, maxDeadLetterLimit), true
}

func (h *Handler) internalError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
