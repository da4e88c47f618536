package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Booking is a materialized property reservation.
type Booking struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	BookingSeq       *int64          `json:"-" db:"booking_seq"`
	BookingCode      *string         `json:"bookingCode,omitempty" db:"booking_code"`
	PropertyID       uuid.UUID       `json:"propertyId" db:"property_id"`
	GuestID          string          `json:"guestId" db:"guest_id"`
	HostID           string          `json:"hostId" db:"host_id"`
	TransactionLogID uuid.UUID       `json:"transactionLogId" db:"transaction_log_id"`
	CheckIn          time.Time       `json:"checkIn" db:"check_in"`
	CheckOut         time.Time       `json:"checkOut" db:"check_out"`
	Nights           int             `json:"nights" db:"nights"`
	Adults           int             `json:"adults" db:"adults"`
	Children         int             `json:"children" db:"children"`
	Infants          int             `json:"infants" db:"infants"`
	BaseAmount       decimal.Decimal `json:"baseAmount" db:"base_amount"`
	DiscountAmount   decimal.Decimal `json:"discountAmount" db:"discount_amount"`
	ExtrasAmount     decimal.Decimal `json:"extrasAmount" db:"extras_amount"`
	PreTaxAmount     decimal.Decimal `json:"preTaxAmount" db:"pre_tax_amount"`
	TaxAmount        decimal.Decimal `json:"taxAmount" db:"tax_amount"`
	FinalAmount      decimal.Decimal `json:"finalAmount" db:"final_amount"`
	Currency         string          `json:"currency" db:"currency"`
	Status           string          `json:"status" db:"status"`
	Cancellation     *Cancellation   `json:"cancellation,omitempty"`
	CreatedAt        time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time       `json:"updatedAt" db:"updated_at"`
}

// Cancellation is written once when a booking is cancelled.
type Cancellation struct {
	CancelledBy       string          `json:"cancelledBy" db:"cancelled_by"`
	CancelledByRole   string          `json:"cancelledByRole" db:"cancelled_by_role"`
	Reason            string          `json:"reason" db:"cancellation_reason"`
	CancelledAt       time.Time       `json:"cancelledAt" db:"cancelled_at"`
	DaysBeforeCheckIn int             `json:"daysBeforeCheckIn" db:"days_before_checkin"`
	PenaltyPercent    int             `json:"penaltyPercent" db:"penalty_percent"`
	PenaltyAmount     decimal.Decimal `json:"penaltyAmount" db:"penalty_amount"`
	RefundAmount      decimal.Decimal `json:"refundAmount" db:"refund_amount"`
}

// Booking and BookingEvent share one status vocabulary.
const (
	BookingStatusPending   = "pending"
	BookingStatusConfirmed = "confirmed"
	BookingStatusCompleted = "completed"
	BookingStatusCancelled = "cancelled"
)

// BookingEvent is a materialized event attendance. Its payment columns are
// the snapshot the host payout is computed from.
type BookingEvent struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	BookingCode      string          `json:"bookingCode" db:"booking_code"`
	EventID          uuid.UUID       `json:"eventId" db:"event_id"`
	GuestID          string          `json:"guestId" db:"guest_id"`
	HostID           string          `json:"hostId" db:"host_id"`
	TransactionLogID uuid.UUID       `json:"transactionLogId" db:"transaction_log_id"`
	Tickets          int             `json:"tickets" db:"tickets"`
	BaseAmount       decimal.Decimal `json:"baseAmount" db:"base_amount"`
	TaxPercent       decimal.Decimal `json:"taxPercent" db:"tax_percent"`
	TaxAmount        decimal.Decimal `json:"taxAmount" db:"tax_amount"`
	TotalAmount      decimal.Decimal `json:"totalAmount" db:"total_amount"`
	Currency         string          `json:"currency" db:"currency"`
	Status           string          `json:"status" db:"status"`
	CreatedAt        time.Time       `json:"createdAt" db:"created_at"`
}
