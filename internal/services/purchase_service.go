package services

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/staybook/backend/internal/config"
	"github.com/staybook/backend/internal/gateway"
	"github.com/staybook/backend/internal/metrics"
	mW "github.com/staybook/backend/internal/middleware"
	"github.com/staybook/backend/internal/models"
	"go.uber.org/zap"
)

const (
	AwaitConfirmed  = "confirmed"
	AwaitProcessing = "processing"
	AwaitPending    = "pending"
	AwaitFailed     = "failed"
)

type OpenPurchaseRequest struct {
	Gateway    string `json:"gateway" validate:"required,oneof=card regional"`
	Kind       string `json:"kind" validate:"required,oneof=property event"`
	PropertyID string `json:"propertyId,omitempty" validate:"required_if=Kind property"`
	CheckIn    string `json:"checkIn,omitempty" validate:"required_if=Kind property"`
	CheckOut   string `json:"checkOut,omitempty" validate:"required_if=Kind property"`
	Adults     int    `json:"adults,omitempty" validate:"min=0,max=50"`
	Children   int    `json:"children,omitempty" validate:"min=0,max=50"`
	Infants    int    `json:"infants,omitempty" validate:"min=0,max=50"`
	EventID    string `json:"eventId,omitempty" validate:"required_if=Kind event"`
	Tickets    int    `json:"tickets,omitempty" validate:"min=0,max=100"`
}

type OpenPurchaseResult struct {
	TransactionLogID uuid.UUID       `json:"transactionLogId"`
	AmountMinor      int64           `json:"amountMinor"`
	Currency         string          `json:"currency"`
	Intent           *gateway.Intent `json:"intent"`
}

type AwaitResult struct {
	Status       string               `json:"status"`
	Booking      *models.Booking      `json:"booking,omitempty"`
	BookingEvent *models.BookingEvent `json:"bookingEvent,omitempty"`
	Reason       string               `json:"reason,omitempty"`
}

// PurchaseService prices a purchase, opens its transaction log and hands the
// client a gateway intent. It never creates bookings.
type PurchaseService struct {
	db           *sql.DB
	ledger       *TransactionLedger
	gateways     *gateway.Registry
	availability *AvailabilityChecker
	notifier     BookingNotifier
	validator    *ValidationHelper
	logger       *zap.Logger
	cfg          config.BookingConfig
	now          func() time.Time
}

func NewPurchaseService(
	db *sql.DB,
	ledger *TransactionLedger,
	gateways *gateway.Registry,
	availability *AvailabilityChecker,
	notifier BookingNotifier,
	logger *zap.Logger,
	cfg config.BookingConfig,
) *PurchaseService {
	return &PurchaseService{
		db:           db,
		ledger:       ledger,
		gateways:     gateways,
		availability: availability,
		notifier:     notifier,
		validator:    NewValidationHelper(),
		logger:       logger,
		cfg:          cfg,
		now:          time.Now,
	}
}

func (s *PurchaseService) OpenPurchase(ctx context.Context, ownerID string, req OpenPurchaseRequest) (*OpenPurchaseResult, error) {
	if err := s.validator.ValidateStruct(&req); err != nil {
		return nil, err
	}
	provider, err := gateway.ParseProvider(req.Gateway)
	if err != nil {
		return nil, err
	}
	gw, err := s.gateways.Get(provider)
	if err != nil {
		return nil, err
	}

	var snap models.PurchaseSnapshot
	if req.Kind == models.SnapshotKindProperty {
		snap, err = s.propertySnapshot(ctx, ownerID, req)
	} else {
		snap, err = s.eventSnapshot(ctx, ownerID, req)
	}
	if err != nil {
		return nil, err
	}

	t, err := s.ledger.Open(ctx, PurchaseIntent{Gateway: string(provider), OwnerUserID: ownerID, Snapshot: snap})
	if err != nil {
		return nil, err
	}

	intent, err := gw.CreateIntent(ctx, gateway.IntentRequest{
		TransactionLogID: t.ID.String(),
		TargetID:         t.TargetID(),
		AmountMinor:      t.AmountMinor,
		Currency:         t.Currency,
	})
	if err != nil {
		// A timeout or 5xx may still have created the intent upstream, so the
		// row stays pending for the reconciliation sweep.
		if intentRefused(err) {
			if _, markErr := s.ledger.MarkFailed(ctx, t.ID, err.Error()); markErr != nil {
				s.logger.Error("mark failed after gateway error", zap.String("transaction_log_id", t.ID.String()), zap.Error(markErr))
			}
		}
		s.logger.Warn("gateway intent failed",
			zap.String("transaction_log_id", t.ID.String()),
			zap.String("gateway", string(provider)),
			zap.Bool("marked_failed", intentRefused(err)),
			zap.Error(err))
		return nil, err
	}

	if err := s.ledger.AttachExternalOrder(ctx, t.ID, intent.ProviderOrderID); err != nil {
		return nil, err
	}

	s.logger.Info("purchase opened",
		zap.String("transaction_log_id", t.ID.String()),
		zap.String("gateway", string(provider)),
		zap.String("external_order_id", intent.ProviderOrderID),
		zap.Int64("amount_minor", t.AmountMinor))

	return &OpenPurchaseResult{
		TransactionLogID: t.ID,
		AmountMinor:      t.AmountMinor,
		Currency:         t.Currency,
		Intent:           intent,
	}, nil
}

func (s *PurchaseService) today() time.Time {
	y, m, d := s.now().In(s.cfg.Location()).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *PurchaseService) propertySnapshot(ctx context.Context, ownerID string, req OpenPurchaseRequest) (models.PurchaseSnapshot, error) {
	propertyID, err := uuid.Parse(req.PropertyID)
	if err != nil {
		return models.PurchaseSnapshot{}, &ValidationError{Field: "propertyId", Reason: "must be a UUID"}
	}
	checkIn, err := parseDate("checkIn", req.CheckIn)
	if err != nil {
		return models.PurchaseSnapshot{}, err
	}
	checkOut, err := parseDate("checkOut", req.CheckOut)
	if err != nil {
		return models.PurchaseSnapshot{}, err
	}
	if checkIn.Before(s.today()) {
		return models.PurchaseSnapshot{}, &ValidationError{Field: "checkIn", Reason: "must not be in the past"}
	}
	if req.Adults < 1 {
		return models.PurchaseSnapshot{}, &ValidationError{Field: "adults", Reason: "at least one adult is required"}
	}

	p, err := getProperty(ctx, s.db, propertyID)
	if err != nil {
		return models.PurchaseSnapshot{}, err
	}
	if p.Status != models.PropertyStatusActive {
		return models.PurchaseSnapshot{}, &StateConflictError{Entity: "property", ID: p.ID.String(), State: p.Status, Reason: "not bookable"}
	}
	if p.HostID == ownerID {
		return models.PurchaseSnapshot{}, &ValidationError{Field: "propertyId", Reason: "hosts cannot book their own property"}
	}
	// infants do not count toward capacity
	if guests := req.Adults + req.Children; p.MaxGuests > 0 && guests > p.MaxGuests {
		return models.PurchaseSnapshot{}, &ValidationError{Field: "adults", Reason: "exceeds maximum guests for this property"}
	}

	if err := s.availability.Check(ctx, p.ID, checkIn, checkOut); err != nil {
		return models.PurchaseSnapshot{}, err
	}

	currency := p.Currency
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}

	return models.NewPropertySnapshot(models.PropertyBookingSnapshot{
		PropertyID: p.ID,
		HostID:     p.HostID,
		GuestID:    ownerID,
		CheckIn:    checkIn,
		CheckOut:   checkOut,
		Adults:     req.Adults,
		Children:   req.Children,
		Infants:    req.Infants,
		Currency:   currency,
		Pricing:    PriceProperty(p, nightsBetween(checkIn, checkOut)),
	}), nil
}

func (s *PurchaseService) eventSnapshot(ctx context.Context, ownerID string, req OpenPurchaseRequest) (models.PurchaseSnapshot, error) {
	eventID, err := uuid.Parse(req.EventID)
	if err != nil {
		return models.PurchaseSnapshot{}, &ValidationError{Field: "eventId", Reason: "must be a UUID"}
	}
	if req.Tickets < 1 {
		return models.PurchaseSnapshot{}, &ValidationError{Field: "tickets", Reason: "at least one ticket is required"}
	}

	e, err := getEvent(ctx, s.db, eventID)
	if err != nil {
		return models.PurchaseSnapshot{}, err
	}
	if e.Status != models.EventStatusUpcoming {
		return models.PurchaseSnapshot{}, &StateConflictError{Entity: "event", ID: e.ID.String(), State: e.Status, Reason: "not on sale"}
	}
	if e.HostID == ownerID {
		return models.PurchaseSnapshot{}, &ValidationError{Field: "eventId", Reason: "hosts cannot buy tickets to their own event"}
	}
	if endsAt, err := e.EndsAt(s.cfg.Location()); err == nil && !endsAt.After(s.now()) {
		return models.PurchaseSnapshot{}, &StateConflictError{Entity: "event", ID: e.ID.String(), State: "ended", Reason: "not on sale"}
	}

	if e.Capacity > 0 {
		sold, err := ticketsSold(ctx, s.db, e.ID)
		if err != nil {
			return models.PurchaseSnapshot{}, err
		}
		if sold+req.Tickets > e.Capacity {
			return models.PurchaseSnapshot{}, &ValidationError{Field: "tickets", Reason: "not enough tickets remaining"}
		}
	}

	currency := e.Currency
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}

	return models.NewEventSnapshot(models.EventBookingSnapshot{
		EventID:  e.ID,
		HostID:   e.HostID,
		GuestID:  ownerID,
		Tickets:  req.Tickets,
		Currency: currency,
		Pricing:  PriceEvent(e, req.Tickets),
	}), nil
}

// AwaitBooking waits, bounded by AwaitTimeout, for the booking a paid
// transaction materializes into. Running out of time is not an error; the
// caller gets "processing" and may retry.
func (s *PurchaseService) AwaitBooking(ctx context.Context, transactionLogID uuid.UUID, ownerID string) (*AwaitResult, error) {
	wake, unsubscribe, err := s.notifier.Subscribe(ctx, transactionLogID)
	if err != nil {
		s.logger.Warn("await subscribe failed, polling only", zap.String("transaction_log_id", transactionLogID.String()), zap.Error(err))
		wake, unsubscribe = nil, func() {}
	}
	defer unsubscribe()

	result, err := s.checkBooking(ctx, transactionLogID, ownerID)
	if err != nil || result != nil {
		return s.observe(result), err
	}

	ticker := time.NewTicker(s.cfg.AwaitInterval)
	defer ticker.Stop()
	timeout := time.NewTimer(s.cfg.AwaitTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.observe(&AwaitResult{Status: AwaitProcessing}), nil
		case <-timeout.C:
			return s.observe(&AwaitResult{Status: AwaitProcessing}), nil
		case <-wake:
		case <-ticker.C:
		}

		result, err := s.checkBooking(ctx, transactionLogID, ownerID)
		if err != nil || result != nil {
			return s.observe(result), err
		}
	}
}

func (s *PurchaseService) observe(r *AwaitResult) *AwaitResult {
	if r != nil {
		metrics.AwaitBooking.WithLabelValues(r.Status).Inc()
	}
	return r
}

// checkBooking returns nil, nil while a paid transaction has no booking yet.
func (s *PurchaseService) checkBooking(ctx context.Context, id uuid.UUID, ownerID string) (*AwaitResult, error) {
	t, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.OwnerUserID != ownerID {
		return nil, &NotFoundError{Entity: "transaction", ID: id.String()}
	}

	switch t.Status {
	case models.TxStatusPending:
		return &AwaitResult{Status: AwaitPending}, nil
	case models.TxStatusFailed:
		reason := "payment failed"
		if t.FailureReason != nil {
			reason = *t.FailureReason
		}
		return &AwaitResult{Status: AwaitFailed, Reason: reason}, nil
	}

	if t.PropertyID != nil {
		b, err := findBookingByTransaction(ctx, s.db, id)
		if err != nil || b != nil {
			return bookingResult(b), err
		}
	} else {
		e, err := findBookingEventByTransaction(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if e != nil {
			return &AwaitResult{Status: AwaitConfirmed, BookingEvent: e}, nil
		}
	}

	if t.MaterializationError != nil {
		return &AwaitResult{Status: AwaitFailed, Reason: "payment received but booking could not be completed; a refund will be issued"}, nil
	}
	return nil, nil
}

func bookingResult(b *models.Booking) *AwaitResult {
	if b == nil {
		return nil
	}
	return &AwaitResult{Status: AwaitConfirmed, Booking: b}
}

// CreatePurchase opens a purchase for the caller
// @Summary Open a purchase
// @Description Prices a stay or ticket purchase, records a pending transaction log and returns the gateway handle the client completes payment with
// @Tags purchases
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body OpenPurchaseRequest true "Purchase request"
// @Success 201 {object} OpenPurchaseResult
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /purchases [post]
func (s *PurchaseService) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := mW.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req OpenPurchaseRequest
	if !s.validator.decodeRequest(w, r, &req) {
		return
	}

	result, err := s.OpenPurchase(r.Context(), userID, req)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// GetPurchaseBooking waits briefly for the booking behind a purchase
// @Summary Await booking
// @Description Returns the booking once the payment has been reconciled, or status processing if it is not ready yet
// @Tags purchases
// @Produce json
// @Security BearerAuth
// @Param transactionLogId path string true "Transaction log ID"
// @Success 200 {object} AwaitResult
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /purchases/{transactionLogId}/booking [get]
func (s *PurchaseService) GetPurchaseBooking(w http.ResponseWriter, r *http.Request) {
	userID, ok := mW.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "transactionLogId"))
	if err != nil {
		SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
		return
	}

	result, err := s.AwaitBooking(r.Context(), id, userID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// intentRefused reports whether the gateway definitely did not create an
// intent: it was never called, or it answered with a client error.
func intentRefused(err error) bool {
	var cfgErr *gateway.ConfigurationError
	if errors.As(err, &cfgErr) {
		return true
	}
	var rej *gateway.RejectionError
	return errors.As(err, &rej) && rej.IsClientError()
}
