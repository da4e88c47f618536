package services

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/staybook/backend/internal/audit"
	"github.com/staybook/backend/internal/events"
	"github.com/staybook/backend/internal/metrics"
	mW "github.com/staybook/backend/internal/middleware"
	"github.com/staybook/backend/internal/models"
	"go.uber.org/zap"
)

type CancelResult struct {
	Booking *models.Booking    `json:"booking"`
	Quote   *CancellationQuote `json:"quote"`
	// RefundPending is set when the booking was cancelled but a wallet
	// movement failed; the audit trail shows which one.
	RefundPending bool `json:"refundPending,omitempty"`
}

type CancellationService struct {
	db        *sql.DB
	wallets   *WalletService
	publisher events.Publisher
	audit     *audit.Logger
	logger    *zap.Logger
	validator *ValidationHelper
	loc       *time.Location
	now       func() time.Time
}

func NewCancellationService(
	db *sql.DB,
	wallets *WalletService,
	publisher events.Publisher,
	auditLogger *audit.Logger,
	logger *zap.Logger,
	loc *time.Location,
) *CancellationService {
	return &CancellationService{
		db:        db,
		wallets:   wallets,
		publisher: publisher,
		audit:     auditLogger,
		logger:    logger,
		validator: NewValidationHelper(),
		loc:       loc,
		now:       time.Now,
	}
}

func actorRole(b *models.Booking, actorID string) (string, error) {
	switch actorID {
	case b.GuestID:
		return models.WalletRoleGuest, nil
	case b.HostID:
		return models.WalletRoleHost, nil
	}
	// Strangers learn nothing about the booking.
	return "", &NotFoundError{Entity: "booking", ID: b.ID.String()}
}

func (s *CancellationService) quote(b *models.Booking, role string, now time.Time) (*CancellationQuote, error) {
	if b.Status != models.BookingStatusConfirmed {
		return nil, &StateConflictError{Entity: "booking", ID: b.ID.String(), State: b.Status, Reason: "only confirmed bookings can be cancelled"}
	}

	y, m, d := b.CheckIn.Date()
	checkIn := time.Date(y, m, d, 0, 0, 0, 0, s.loc)
	return ComputeCancellation(b.FinalAmount, DaysBeforeCheckIn(checkIn, now), role == models.WalletRoleHost)
}

// Quote prices a cancellation without changing anything.
func (s *CancellationService) Quote(ctx context.Context, bookingID uuid.UUID, actorID string) (*CancellationQuote, error) {
	b, err := getBooking(ctx, s.db, bookingID, false)
	if err != nil {
		return nil, err
	}
	role, err := actorRole(b, actorID)
	if err != nil {
		return nil, err
	}
	return s.quote(b, role, s.now())
}

// Cancel cancels a confirmed booking, frees its calendar nights and then
// refunds the guest from the host's held funds. The two wallet movements are
// separate writes; a failure between them is logged and audited.
func (s *CancellationService) Cancel(ctx context.Context, bookingID uuid.UUID, actorID, reason string) (*CancelResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	b, err := getBooking(ctx, tx, bookingID, true)
	if err != nil {
		return nil, err
	}
	role, err := actorRole(b, actorID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	q, err := s.quote(b, role, now)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE bookings SET status = 'cancelled', cancelled_by = $1, cancelled_by_role = $2,
			cancellation_reason = $3, cancelled_at = $4, days_before_checkin = $5, penalty_percent = $6,
			penalty_amount = $7, refund_amount = $8, updated_at = $4
		WHERE id = $9 AND status = 'confirmed'`,
		actorID, role, reason, now, q.DaysBeforeCheckIn, q.PenaltyPercent, q.PenaltyAmount, q.RefundAmount, b.ID)
	if err != nil {
		return nil, fmt.Errorf("cancel booking: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return nil, &StateConflictError{Entity: "booking", ID: b.ID.String(), State: b.Status, Reason: "changed concurrently"}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE property_calendar SET status = 'available', booking_id = NULL, updated_at = $1
		WHERE booking_id = $2`, now, b.ID); err != nil {
		return nil, fmt.Errorf("release calendar: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit cancellation: %w", err)
	}

	b.Status = models.BookingStatusCancelled
	b.UpdatedAt = now
	b.Cancellation = &models.Cancellation{
		CancelledBy:       actorID,
		CancelledByRole:   role,
		Reason:            reason,
		CancelledAt:       now,
		DaysBeforeCheckIn: q.DaysBeforeCheckIn,
		PenaltyPercent:    q.PenaltyPercent,
		PenaltyAmount:     q.PenaltyAmount,
		RefundAmount:      q.RefundAmount,
	}

	result := &CancelResult{Booking: b, Quote: q}
	if q.RefundAmount.IsPositive() {
		result.RefundPending = !s.settleRefund(ctx, b, q)
	}

	s.audit.LogCancellation(b.ID.String(), role, q.PenaltyAmount.String(), q.RefundAmount.String())
	metrics.Cancellations.WithLabelValues(role).Inc()
	s.logger.Info("booking cancelled",
		zap.String("booking_id", b.ID.String()),
		zap.String("cancelled_by_role", role),
		zap.Int("penalty_percent", q.PenaltyPercent),
		zap.String("refund_amount", q.RefundAmount.String()))

	if err := s.publisher.PublishJSON(ctx, events.BookingCancelled, map[string]any{
		"booking_id":      b.ID,
		"booking_code":    b.BookingCode,
		"guest_id":        b.GuestID,
		"host_id":         b.HostID,
		"cancelled_by":    role,
		"penalty_percent": q.PenaltyPercent,
		"penalty_amount":  q.PenaltyAmount,
		"refund_amount":   q.RefundAmount,
		"currency":        b.Currency,
	}); err != nil {
		s.logger.Warn("publish booking cancelled failed", zap.String("booking_id", b.ID.String()), zap.Error(err))
	}
	return result, nil
}

// settleRefund credits the guest balance, then removes the same amount from
// the host's hold. It reports whether both movements were applied.
func (s *CancellationService) settleRefund(ctx context.Context, b *models.Booking, q *CancellationQuote) bool {
	meta := models.Metadata{"penalty_percent": q.PenaltyPercent, "penalty_amount": q.PenaltyAmount.String()}

	guest, err := s.wallets.GetOrCreate(ctx, b.GuestID, models.WalletRoleGuest)
	if err == nil {
		_, err = s.wallets.Credit(ctx, Movement{
			WalletID:    guest.ID,
			Amount:      q.RefundAmount,
			Field:       models.FieldBalance,
			Type:        models.WalletTxRefund,
			BookingID:   &b.ID,
			BookingType: models.BookingTypeProperty,
			Metadata:    meta,
		})
	}
	if err != nil {
		s.refundFailed(b, "guest refund credit", err)
		return false
	}

	host, err := s.wallets.GetOrCreate(ctx, b.HostID, models.WalletRoleHost)
	if err == nil {
		_, err = s.wallets.Debit(ctx, Movement{
			WalletID:    host.ID,
			Amount:      q.RefundAmount,
			Field:       models.FieldHoldBalance,
			Type:        models.WalletTxRefund,
			BookingID:   &b.ID,
			BookingType: models.BookingTypeProperty,
			Metadata:    meta,
		})
	}
	if err != nil {
		s.refundFailed(b, "host hold debit", err)
		return false
	}
	return true
}

func (s *CancellationService) refundFailed(b *models.Booking, step string, err error) {
	s.audit.LogError(b.TransactionLogID.String(), b.ID.String(), fmt.Errorf("%s: %w", step, err))
	s.logger.Error("cancellation refund movement failed",
		zap.String("booking_id", b.ID.String()),
		zap.String("step", step),
		zap.Error(err))
}

// QuoteCancellation previews the penalty and refund for the caller
// @Summary Quote a cancellation
// @Description Computes the penalty and refund that cancelling now would apply, without cancelling
// @Tags bookings
// @Produce json
// @Security BearerAuth
// @Param bookingId path string true "Booking ID"
// @Success 200 {object} CancellationQuote
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /bookings/{bookingId}/cancellation-quote [get]
func (s *CancellationService) QuoteCancellation(w http.ResponseWriter, r *http.Request) {
	userID, ok := mW.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	bookingID, err := uuid.Parse(chi.URLParam(r, "bookingId"))
	if err != nil {
		SendErrorResponse(w, "Invalid booking id", http.StatusBadRequest, nil)
		return
	}

	q, err := s.Quote(r.Context(), bookingID, userID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// CancelBooking cancels a confirmed booking
// @Summary Cancel a booking
// @Description Cancels a confirmed booking as its guest or host, releasing the dates and refunding per the cancellation policy
// @Tags bookings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param bookingId path string true "Booking ID"
// @Param request body object{reason=string} true "Cancellation request"
// @Success 200 {object} CancelResult
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /bookings/{bookingId}/cancel [post]
func (s *CancellationService) CancelBooking(w http.ResponseWriter, r *http.Request) {
	userID, ok := mW.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	bookingID, err := uuid.Parse(chi.URLParam(r, "bookingId"))
	if err != nil {
		SendErrorResponse(w, "Invalid booking id", http.StatusBadRequest, nil)
		return
	}

	var req struct {
		Reason string `json:"reason" validate:"required,max=500"`
	}
	if !s.validator.decodeRequest(w, r, &req) {
		return
	}

	result, err := s.Cancel(r.Context(), bookingID, userID, req.Reason)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
