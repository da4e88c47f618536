package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionLog is one payment attempt against a property or an event.
type TransactionLog struct {
	ID                   uuid.UUID        `json:"id" db:"id"`
	Gateway              string           `json:"gateway" db:"gateway"`
	ExternalOrderID      *string          `json:"externalOrderId,omitempty" db:"external_order_id"`
	BaseAmount           decimal.Decimal  `json:"baseAmount" db:"base_amount"`
	TaxPercent           decimal.Decimal  `json:"taxPercent" db:"tax_percent"`
	TaxAmount            decimal.Decimal  `json:"taxAmount" db:"tax_amount"`
	TotalAmount          decimal.Decimal  `json:"totalAmount" db:"total_amount"`
	AmountMinor          int64            `json:"amountMinor" db:"amount_minor"`
	Currency             string           `json:"currency" db:"currency"`
	OwnerUserID          string           `json:"ownerUserId" db:"owner_user_id"`
	PropertyID           *uuid.UUID       `json:"propertyId,omitempty" db:"property_id"`
	EventID              *uuid.UUID       `json:"eventId,omitempty" db:"event_id"`
	Status               string           `json:"status" db:"status"`
	FailureReason        *string          `json:"failureReason,omitempty" db:"failure_reason"`
	MaterializationError *string          `json:"materializationError,omitempty" db:"materialization_error"`
	Metadata             PurchaseSnapshot `json:"metadata" db:"metadata"`
	CreatedAt            time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt            time.Time        `json:"updatedAt" db:"updated_at"`
}

const (
	GatewayCard     = "card"
	GatewayRegional = "regional"
)

const (
	TxStatusPending = "pending"
	TxStatusPaid    = "paid"
	TxStatusFailed  = "failed"
)

// IsTerminal reports whether the row has left pending.
func (t *TransactionLog) IsTerminal() bool {
	return t.Status == TxStatusPaid || t.Status == TxStatusFailed
}

// TargetID is the property or event id the payment was opened for.
func (t *TransactionLog) TargetID() string {
	switch {
	case t.PropertyID != nil:
		return t.PropertyID.String()
	case t.EventID != nil:
		return t.EventID.String()
	}
	return ""
}
