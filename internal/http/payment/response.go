package payment

import (
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/payments/internal/money"
	"github.com/MrJamesThe3rd/payments/internal/payment"
)

type transactionResponse struct {
	ID             uuid.UUID         `json:"id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Amount         string            `json:"amount"`
	Currency       string            `json:"currency"`
	Status         payment.Status    `json:"status"`
	ExternalID     *string           `json:"external_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func toResponse(tx *payment.Transaction) transactionResponse {
	return transactionResponse{
		ID:             tx.ID,
		IdempotencyKey: tx.IdempotencyKey,
		Amount:         tx.Amount.Amount.StringFixed(money.Scale(tx.Amount.Currency)),
		Currency:       tx.Amount.Currency,
		Status:         tx.Status,
		ExternalID:     tx.ExternalID,
		Metadata:       tx.Metadata,
		CreatedAt:      tx.CreatedAt,
		UpdatedAt:      tx.UpdatedAt,
	}
}

func toResponseList(txs []*payment.Transaction) []transactionResponse {
	resp := make([]transactionResponse, len(txs))
	for i, tx := range txs {
		resp[i] = toResponse(tx)
	}

	return resp
}
