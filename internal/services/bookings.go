package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/staybook/backend/internal/models"
)

const bookingColumns = `id, booking_code, property_id, guest_id, host_id, transaction_log_id, check_in, check_out,
	nights, adults, children, infants, base_amount, discount_amount, extras_amount, pre_tax_amount, tax_amount,
	final_amount, currency, status, cancelled_by, cancelled_by_role, cancellation_reason, cancelled_at,
	days_before_checkin, penalty_percent, penalty_amount, refund_amount, created_at, updated_at`

const bookingEventColumns = `id, booking_code, event_id, guest_id, host_id, transaction_log_id, tickets,
	base_amount, tax_percent, tax_amount, total_amount, currency, status, created_at`

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b          models.Booking
		cancelBy   sql.NullString
		cancelRole sql.NullString
		reason     sql.NullString
		cancelAt   sql.NullTime
		daysBefore sql.NullInt64
		penaltyPct sql.NullInt64
		penalty    decimal.NullDecimal
		refund     decimal.NullDecimal
	)
	err := row.Scan(
		&b.ID, &b.BookingCode, &b.PropertyID, &b.GuestID, &b.HostID, &b.TransactionLogID, &b.CheckIn, &b.CheckOut,
		&b.Nights, &b.Adults, &b.Children, &b.Infants, &b.BaseAmount, &b.DiscountAmount, &b.ExtrasAmount,
		&b.PreTaxAmount, &b.TaxAmount, &b.FinalAmount, &b.Currency, &b.Status,
		&cancelBy, &cancelRole, &reason, &cancelAt, &daysBefore, &penaltyPct, &penalty, &refund,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if cancelAt.Valid {
		b.Cancellation = &models.Cancellation{
			CancelledBy:       cancelBy.String,
			CancelledByRole:   cancelRole.String,
			Reason:            reason.String,
			CancelledAt:       cancelAt.Time,
			DaysBeforeCheckIn: int(daysBefore.Int64),
			PenaltyPercent:    int(penaltyPct.Int64),
			PenaltyAmount:     penalty.Decimal,
			RefundAmount:      refund.Decimal,
		}
	}
	return &b, nil
}

func scanBookingEvent(row rowScanner) (*models.BookingEvent, error) {
	var e models.BookingEvent
	err := row.Scan(&e.ID, &e.BookingCode, &e.EventID, &e.GuestID, &e.HostID, &e.TransactionLogID, &e.Tickets,
		&e.BaseAmount, &e.TaxPercent, &e.TaxAmount, &e.TotalAmount, &e.Currency, &e.Status, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func getBooking(ctx context.Context, q dbtx, id uuid.UUID, forUpdate bool) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	b, err := scanBooking(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "booking", ID: id.String()}
	}
	return b, err
}

// findBookingByTransaction returns nil, nil when nothing has materialized yet.
func findBookingByTransaction(ctx context.Context, q dbtx, transactionLogID uuid.UUID) (*models.Booking, error) {
	b, err := scanBooking(q.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE transaction_log_id = $1`, transactionLogID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func findBookingEventByTransaction(ctx context.Context, q dbtx, transactionLogID uuid.UUID) (*models.BookingEvent, error) {
	e, err := scanBookingEvent(q.QueryRowContext(ctx,
		`SELECT `+bookingEventColumns+` FROM booking_events WHERE transaction_log_id = $1`, transactionLogID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}
