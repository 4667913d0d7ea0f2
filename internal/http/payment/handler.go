package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MrJamesThe3rd/payments/internal/money"
	"github.com/MrJamesThe3rd/payments/internal/payment"
)

const (
	idempotencyHeader = "Idempotency-Key"
	maxBodyBytes      = 64 << 10
)

type Handler struct {
	svc      *payment.Service
	logger   *zap.Logger
	validate *validator.Validate
}

func NewHandler(svc *payment.Service, logger *zap.Logger) *Handler {
	return &Handler{
		svc:      svc,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/authorize", h.authorize)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/{id}/capture", h.capture)
	r.Post("/{id}/refund", h.refund)
}

type authorizeRequest struct {
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency" validate:"required,len=3,alpha"`
	Metadata       map[string]string `json:"metadata" validate:"omitempty,max=50,dive,keys,required,max=40,endkeys,max=500"`
	IdempotencyKey string            `json:"idempotency_key" validate:"max=255"`
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	key, err := idempotencyKey(req.IdempotencyKey, r.Header.Get(idempotencyHeader))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		http.Error(w, validationMessage(err), http.StatusBadRequest)
		return
	}

	amount, err := money.New(req.Amount, req.Currency)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tx, err := h.svc.Authorize(r.Context(), payment.AuthorizeParams{
		Amount:         amount,
		Metadata:       req.Metadata,
		IdempotencyKey: key,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.write(w, http.StatusCreated, toResponse(tx))
}

// idempotencyKey takes the key from the body or the header; both may be given only
// if they agree.
func idempotencyKey(body, header string) (string, error) {
	body, header = strings.TrimSpace(body), strings.TrimSpace(header)

	switch {
	case body == "" && header == "":
		return "", errors.New("idempotency_key is required")
	case body != "" && header != "" && body != header:
		return "", fmt.Errorf("idempotency_key does not match the %s header", idempotencyHeader)
	case body != "":
		return body, nil
	default:
		return header, nil
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := payment.ListFilter{}

	if s := r.URL.Query().Get("status"); s != "" {
		filter.Status = new(payment.Status(strings.ToUpper(s)))
	}

	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}

		filter.Limit = limit
	}

	txs, err := h.svc.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.write(w, http.StatusOK, toResponseList(txs))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	tx, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.write(w, http.StatusOK, toResponse(tx))
}

func (h *Handler) capture(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	tx, err := h.svc.Capture(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.write(w, http.StatusOK, toResponse(tx))
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	tx, err := h.svc.Refund(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.write(w, http.StatusOK, toResponse(tx))
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}

	return id, true
}

// fail maps domain errors to status codes. Unexpected errors are logged and hidden.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, payment.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, payment.ErrNotFound):
		http.Error(w, "transaction not found", http.StatusNotFound)
	case errors.Is(err, payment.ErrInvalidState), errors.Is(err, payment.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("payment request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *Handler) write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}

	return "invalid request: " + strings.Join(msgs, ", ")
}
