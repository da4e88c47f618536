package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Wallet struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	UserID      string          `json:"userId" db:"user_id"`
	Role        string          `json:"role" db:"role"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`
	HoldBalance decimal.Decimal `json:"holdBalance" db:"hold_balance"`
	Commission  decimal.Decimal `json:"commission" db:"commission"`
	Currency    string          `json:"currency" db:"currency"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at"`
}

const (
	WalletRoleGuest = "guest"
	WalletRoleHost  = "host"
)

// WalletTransaction is the append-only audit row written before every
// balance movement.
type WalletTransaction struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	WalletID        uuid.UUID       `json:"walletId" db:"wallet_id"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	Field           string          `json:"field" db:"field"`
	Direction       string          `json:"direction" db:"direction"`
	TransactionType string          `json:"transactionType" db:"transaction_type"`
	Status          string          `json:"status" db:"status"`
	BookingID       *uuid.UUID      `json:"bookingId,omitempty" db:"booking_id"`
	BookingType     *string         `json:"bookingType,omitempty" db:"booking_type"`
	Metadata        Metadata        `json:"metadata,omitempty" db:"metadata"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
}

// Balance fields a movement can target.
const (
	FieldBalance       = "balance"
	FieldHoldBalance   = "hold_balance"
	FieldHoldToBalance = "hold_to_balance"
)

const (
	DirectionCredit = "credit"
	DirectionDebit  = "debit"
)

// Wallet transaction types.
const (
	WalletTxBookingHold = "booking_hold"
	WalletTxRefund      = "refund"
	WalletTxCompletion  = "completion"
)

const WalletTxStatusCompleted = "completed"

const (
	BookingTypeProperty = "property"
	BookingTypeEvent    = "event"
)
