package audit

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Event is one audit record. Amount is the decimal string of the money moved.
type Event struct {
	Timestamp        time.Time
	EventType        string
	TransactionLogID string
	BookingID        string
	WalletID         string
	Amount           string
	Status           string
	Details          map[string]string
}

func (e Event) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddTime("timestamp", e.Timestamp)
	enc.AddString("event_type", e.EventType)
	if e.TransactionLogID != "" {
		enc.AddString("transaction_log_id", e.TransactionLogID)
	}
	if e.BookingID != "" {
		enc.AddString("booking_id", e.BookingID)
	}
	if e.WalletID != "" {
		enc.AddString("wallet_id", e.WalletID)
	}
	if e.Amount != "" {
		enc.AddString("amount", e.Amount)
	}
	enc.AddString("status", e.Status)
	if len(e.Details) > 0 {
		return enc.AddObject("details", zapcore.ObjectMarshalerFunc(func(inner zapcore.ObjectEncoder) error {
			for k, v := range e.Details {
				inner.AddString(k, v)
			}
			return nil
		}))
	}
	return nil
}

type Logger struct {
	z *zap.Logger
}

func NewLogger(z *zap.Logger) *Logger {
	return &Logger{z: z.Named("audit")}
}

// LogMovement records a wallet balance movement.
func (a *Logger) LogMovement(walletID, bookingID, txType, field, amount, status string) {
	a.log(Event{
		EventType: "WALLET_MOVEMENT",
		WalletID:  walletID,
		BookingID: bookingID,
		Amount:    amount,
		Status:    status,
		Details: map[string]string{
			"transaction_type": txType,
			"field":            field,
		},
	})
}

// LogTransition records a transaction log status change.
func (a *Logger) LogTransition(transactionLogID, from, to, reason string) {
	details := map[string]string{"from": from, "to": to}
	if reason != "" {
		details["reason"] = reason
	}
	a.log(Event{
		EventType:        "TRANSACTION_TRANSITION",
		TransactionLogID: transactionLogID,
		Status:           "SUCCESS",
		Details:          details,
	})
}

func (a *Logger) LogMaterialization(transactionLogID, bookingID, kind, code string) {
	a.log(Event{
		EventType:        "BOOKING_MATERIALIZED",
		TransactionLogID: transactionLogID,
		BookingID:        bookingID,
		Status:           "SUCCESS",
		Details:          map[string]string{"kind": kind, "booking_code": code},
	})
}

// LogConflict records a paid transaction that could not be booked and needs
// a manual refund.
func (a *Logger) LogConflict(transactionLogID, amount, reason string) {
	a.log(Event{
		EventType:        "MATERIALIZATION_CONFLICT",
		TransactionLogID: transactionLogID,
		Amount:           amount,
		Status:           "MANUAL_REFUND_REQUIRED",
		Details:          map[string]string{"reason": reason},
	})
}

func (a *Logger) LogCancellation(bookingID, actorRole, penalty, refund string) {
	a.log(Event{
		EventType: "BOOKING_CANCELLED",
		BookingID: bookingID,
		Amount:    refund,
		Status:    "SUCCESS",
		Details:   map[string]string{"actor_role": actorRole, "penalty_amount": penalty},
	})
}

func (a *Logger) LogError(transactionLogID, bookingID string, err error) {
	a.log(Event{
		EventType:        "ERROR",
		TransactionLogID: transactionLogID,
		BookingID:        bookingID,
		Status:           "FAILED",
		Details:          map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	event.Timestamp = time.Now().UTC()
	a.z.Info("AUDIT", zap.Object("audit", event))
}
