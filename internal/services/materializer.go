package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/staybook/backend/internal/audit"
	"github.com/staybook/backend/internal/database"
	"github.com/staybook/backend/internal/events"
	"github.com/staybook/backend/internal/metrics"
	"github.com/staybook/backend/internal/models"
	"go.uber.org/zap"
)

const eventCodePrefix = "EV-"

// MaterializeResult describes the booking a paid transaction maps to.
// Created is false when the booking already existed.
type MaterializeResult struct {
	Kind        string    `json:"kind"`
	BookingID   uuid.UUID `json:"bookingId"`
	BookingCode string    `json:"bookingCode,omitempty"`
	Created     bool      `json:"created"`
}

type MaterializerConfig struct {
	CodePrefix string
	CodeWidth  int
}

// Materializer turns paid transaction logs into bookings, at most once per
// transaction log.
type Materializer struct {
	db           *sql.DB
	ledger       *TransactionLedger
	counters     *CounterService
	wallets      *WalletService
	availability *AvailabilityChecker
	publisher    events.Publisher
	notifier     BookingNotifier
	audit        *audit.Logger
	logger       *zap.Logger
	cfg          MaterializerConfig
}

func NewMaterializer(
	db *sql.DB,
	ledger *TransactionLedger,
	counters *CounterService,
	wallets *WalletService,
	availability *AvailabilityChecker,
	publisher events.Publisher,
	notifier BookingNotifier,
	auditLogger *audit.Logger,
	logger *zap.Logger,
	cfg MaterializerConfig,
) *Materializer {
	return &Materializer{
		db:           db,
		ledger:       ledger,
		counters:     counters,
		wallets:      wallets,
		availability: availability,
		publisher:    publisher,
		notifier:     notifier,
		audit:        auditLogger,
		logger:       logger,
		cfg:          cfg,
	}
}

func (m *Materializer) Materialize(ctx context.Context, t *models.TransactionLog) (*MaterializeResult, error) {
	if t.Status != models.TxStatusPaid {
		return nil, &StateConflictError{Entity: "transaction", ID: t.ID.String(), State: t.Status, Reason: "only paid transactions materialize"}
	}

	snap := t.Metadata
	if err := snap.Validate(); err != nil {
		m.flag(ctx, t, err.Error())
		metrics.BookingsMaterialized.WithLabelValues("unknown", "invalid_snapshot").Inc()
		return nil, fmt.Errorf("transaction %s: %w", t.ID, err)
	}

	switch snap.Kind {
	case models.SnapshotKindProperty:
		return m.materializeProperty(ctx, t, snap.Property)
	default:
		return m.materializeEvent(ctx, t, snap.Event)
	}
}

func (m *Materializer) materializeProperty(ctx context.Context, t *models.TransactionLog, snap *models.PropertyBookingSnapshot) (*MaterializeResult, error) {
	existing, err := findBookingByTransaction(ctx, m.db, t.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup booking: %w", err)
	}
	if existing != nil {
		return m.existingProperty(ctx, existing), nil
	}

	if err := m.availability.Check(ctx, snap.PropertyID, snap.CheckIn, snap.CheckOut); err != nil {
		var conflict *AvailabilityConflictError
		if errors.As(err, &conflict) {
			return nil, m.conflict(ctx, t, models.SnapshotKindProperty, conflict.Dates, "dates no longer available")
		}
		return nil, err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	nights := nightsBetween(snap.CheckIn, snap.CheckOut)
	now := time.Now().UTC()
	p := snap.Pricing

	var bookingID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		INSERT INTO bookings (id, property_id, guest_id, host_id, transaction_log_id, check_in, check_out, nights,
			adults, children, infants, base_amount, discount_amount, extras_amount, pre_tax_amount, tax_amount,
			final_amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $20)
		ON CONFLICT (transaction_log_id) DO NOTHING
		RETURNING id`,
		uuid.New(), snap.PropertyID, snap.GuestID, snap.HostID, t.ID, snap.CheckIn, snap.CheckOut, nights,
		snap.Adults, snap.Children, snap.Infants, p.BaseAmount, p.DiscountAmount, p.ExtrasAmount, p.PreTaxAmount,
		p.TaxAmount, p.FinalAmount, snap.Currency, models.BookingStatusConfirmed, now,
	).Scan(&bookingID)
	if errors.Is(err, sql.ErrNoRows) {
		// a concurrent delivery inserted first
		tx.Rollback()
		existing, err := findBookingByTransaction(ctx, m.db, t.ID)
		if err != nil || existing == nil {
			return nil, fmt.Errorf("load concurrent booking: %w", err)
		}
		return m.existingProperty(ctx, existing), nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert booking: %w", err)
	}

	// Only available (or absent) dates can be claimed; the unique
	// (property_id, date) key serializes competing claims.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO property_calendar (property_id, date, status, booking_id, created_at, updated_at)
		SELECT $1, d::date, 'booked', $2, $3, $3
		FROM generate_series($4::date, $5::date, interval '1 day') AS d
		ON CONFLICT (property_id, date) DO UPDATE
		SET status = 'booked', booking_id = EXCLUDED.booking_id, updated_at = EXCLUDED.updated_at
		WHERE property_calendar.status = 'available'`,
		snap.PropertyID, bookingID, now, snap.CheckIn, snap.CheckOut.AddDate(0, 0, -1))
	if err != nil {
		return nil, fmt.Errorf("claim calendar: %w", err)
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if int(claimed) != nights {
		tx.Rollback()
		dates, lookupErr := m.availability.unavailableDates(ctx, m.db, snap.PropertyID, snap.CheckIn, snap.CheckOut)
		if lookupErr != nil {
			m.logger.Warn("conflict date lookup failed", zap.Error(lookupErr))
		}
		return nil, m.conflict(ctx, t, models.SnapshotKindProperty, dates, "calendar claim lost to another booking")
	}

	hold, err := m.creditHostHold(ctx, tx, snap.HostID, bookingID, models.BookingTypeProperty, Movement{Amount: p.FinalAmount})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit booking: %w", err)
	}
	m.wallets.recordMovement(hold, models.DirectionCredit)

	code, err := m.AssignCode(ctx, bookingID)
	if err != nil {
		// left for the reconciliation sweep to backfill
		m.logger.Warn("booking code assignment failed",
			zap.String("booking_id", bookingID.String()), zap.Error(err))
	}

	result := &MaterializeResult{Kind: models.SnapshotKindProperty, BookingID: bookingID, BookingCode: code, Created: true}
	m.afterMaterialized(ctx, t, result, snap.GuestID, snap.HostID)
	return result, nil
}

func (m *Materializer) existingProperty(ctx context.Context, b *models.Booking) *MaterializeResult {
	result := &MaterializeResult{Kind: models.SnapshotKindProperty, BookingID: b.ID}
	if b.BookingCode != nil {
		result.BookingCode = *b.BookingCode
		return result
	}

	code, err := m.AssignCode(ctx, b.ID)
	if err != nil {
		m.logger.Warn("booking code backfill failed", zap.String("booking_id", b.ID.String()), zap.Error(err))
	}
	result.BookingCode = code
	return result
}

// AssignCode allocates the next counter value and writes the formatted code
// if the booking has none yet.
func (m *Materializer) AssignCode(ctx context.Context, bookingID uuid.UUID) (string, error) {
	seq, err := m.counters.Next(ctx, bookingCounter)
	if err != nil {
		return "", err
	}
	code := FormatCode(m.cfg.CodePrefix, m.cfg.CodeWidth, seq)

	res, err := m.db.ExecContext(ctx, `
		UPDATE bookings SET booking_seq = $1, booking_code = $2, updated_at = $3
		WHERE id = $4 AND booking_code IS NULL`,
		seq, code, time.Now().UTC(), bookingID)
	if database.IsPQCode(err, database.UniqueViolation) {
		// counter behind existing codes, e.g. after a restore
		return "", &StateConflictError{Entity: "booking", ID: bookingID.String(), State: "uncoded", Reason: "code " + code + " already taken"}
	}
	if err != nil {
		return "", fmt.Errorf("write booking code: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// already coded by a concurrent caller; the counter value is skipped
		var current sql.NullString
		if err := m.db.QueryRowContext(ctx, `SELECT booking_code FROM bookings WHERE id = $1`, bookingID).Scan(&current); err != nil {
			return "", err
		}
		return current.String, nil
	}
	return code, nil
}

func (m *Materializer) materializeEvent(ctx context.Context, t *models.TransactionLog, snap *models.EventBookingSnapshot) (*MaterializeResult, error) {
	existing, err := findBookingEventByTransaction(ctx, m.db, t.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup booking event: %w", err)
	}
	if existing != nil {
		return &MaterializeResult{Kind: models.SnapshotKindEvent, BookingID: existing.ID, BookingCode: existing.BookingCode}, nil
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var (
		capacity int
		status   string
	)
	err = tx.QueryRowContext(ctx, `SELECT capacity, status FROM events WHERE id = $1 FOR UPDATE`, snap.EventID).Scan(&capacity, &status)
	if errors.Is(err, sql.ErrNoRows) {
		tx.Rollback()
		return nil, m.conflict(ctx, t, models.SnapshotKindEvent, nil, "event no longer exists")
	}
	if err != nil {
		return nil, fmt.Errorf("lock event: %w", err)
	}
	if status != models.EventStatusUpcoming {
		tx.Rollback()
		return nil, m.conflict(ctx, t, models.SnapshotKindEvent, nil, "event is "+status)
	}

	if capacity > 0 {
		sold, err := ticketsSold(ctx, tx, snap.EventID)
		if err != nil {
			return nil, fmt.Errorf("count tickets: %w", err)
		}
		if sold+snap.Tickets > capacity {
			tx.Rollback()
			return nil, m.conflict(ctx, t, models.SnapshotKindEvent, nil, "event sold out")
		}
	}

	p := snap.Pricing
	code := eventCodePrefix + ulid.Make().String()

	var bookingID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		INSERT INTO booking_events (id, booking_code, event_id, guest_id, host_id, transaction_log_id, tickets,
			base_amount, tax_percent, tax_amount, total_amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		ON CONFLICT (transaction_log_id) DO NOTHING
		RETURNING id`,
		uuid.New(), code, snap.EventID, snap.GuestID, snap.HostID, t.ID, snap.Tickets,
		p.BaseAmount, p.TaxPercent, p.TaxAmount, p.TotalAmount, snap.Currency, models.BookingStatusConfirmed, time.Now().UTC(),
	).Scan(&bookingID)
	if errors.Is(err, sql.ErrNoRows) {
		tx.Rollback()
		existing, err := findBookingEventByTransaction(ctx, m.db, t.ID)
		if err != nil || existing == nil {
			return nil, fmt.Errorf("load concurrent booking event: %w", err)
		}
		return &MaterializeResult{Kind: models.SnapshotKindEvent, BookingID: existing.ID, BookingCode: existing.BookingCode}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert booking event: %w", err)
	}

	hold, err := m.creditHostHold(ctx, tx, snap.HostID, bookingID, models.BookingTypeEvent, Movement{Amount: p.BaseAmount})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit booking event: %w", err)
	}
	m.wallets.recordMovement(hold, models.DirectionCredit)

	result := &MaterializeResult{Kind: models.SnapshotKindEvent, BookingID: bookingID, BookingCode: code, Created: true}
	m.afterMaterialized(ctx, t, result, snap.GuestID, snap.HostID)
	return result, nil
}

// creditHostHold books the host's share into hold_balance on tx.
func (m *Materializer) creditHostHold(ctx context.Context, tx *sql.Tx, hostID string, bookingID uuid.UUID, bookingType string, mv Movement) (Movement, error) {
	wallet, err := m.wallets.getOrCreate(ctx, tx, hostID, models.WalletRoleHost)
	if err != nil {
		return mv, fmt.Errorf("host wallet: %w", err)
	}

	mv.WalletID = wallet.ID
	mv.Field = models.FieldHoldBalance
	mv.Type = models.WalletTxBookingHold
	mv.BookingID = &bookingID
	mv.BookingType = bookingType

	if _, err := m.wallets.apply(ctx, tx, mv, models.DirectionCredit); err != nil {
		return mv, fmt.Errorf("credit host hold: %w", err)
	}
	return mv, nil
}

func (m *Materializer) afterMaterialized(ctx context.Context, t *models.TransactionLog, r *MaterializeResult, guestID, hostID string) {
	m.audit.LogMaterialization(t.ID.String(), r.BookingID.String(), r.Kind, r.BookingCode)
	metrics.BookingsMaterialized.WithLabelValues(r.Kind, "created").Inc()

	m.logger.Info("booking materialized",
		zap.String("transaction_log_id", t.ID.String()),
		zap.String("booking_id", r.BookingID.String()),
		zap.String("booking_code", r.BookingCode),
		zap.String("kind", r.Kind))

	if err := m.publisher.PublishJSON(ctx, events.BookingConfirmed, map[string]any{
		"booking_id":         r.BookingID,
		"booking_code":       r.BookingCode,
		"kind":               r.Kind,
		"transaction_log_id": t.ID,
		"guest_id":           guestID,
		"host_id":            hostID,
		"amount":             t.TotalAmount,
		"currency":           t.Currency,
	}); err != nil {
		m.logger.Warn("publish booking confirmed failed", zap.String("booking_id", r.BookingID.String()), zap.Error(err))
	}

	if err := m.notifier.Notify(ctx, t.ID); err != nil {
		m.logger.Warn("notify awaiters failed", zap.String("transaction_log_id", t.ID.String()), zap.Error(err))
	}
}

// conflict flags a paid transaction that cannot be booked so an operator
// refunds it. The flag also keeps the reconciliation sweep off the row.
func (m *Materializer) conflict(ctx context.Context, t *models.TransactionLog, kind string, dates []time.Time, reason string) error {
	cerr := &MaterializationConflictError{TransactionLogID: t.ID.String(), Dates: dates, Reason: reason}

	m.flag(ctx, t, cerr.Error())
	m.audit.LogConflict(t.ID.String(), t.TotalAmount.String(), cerr.Error())
	metrics.BookingsMaterialized.WithLabelValues(kind, "conflict").Inc()

	m.logger.Error("paid transaction could not be materialized",
		zap.String("transaction_log_id", t.ID.String()),
		zap.String("gateway", t.Gateway),
		zap.String("amount", t.TotalAmount.String()),
		zap.String("reason", reason))

	if err := m.publisher.PublishJSON(ctx, events.BookingMaterializationConflict, map[string]any{
		"transaction_log_id": t.ID,
		"owner_user_id":      t.OwnerUserID,
		"gateway":            t.Gateway,
		"external_order_id":  t.ExternalOrderID,
		"amount":             t.TotalAmount,
		"currency":           t.Currency,
		"dates":              formatDates(dates),
		"reason":             reason,
	}); err != nil {
		m.logger.Warn("publish materialization conflict failed", zap.Error(err))
	}
	return cerr
}

// FlagLatePayment records a capture that arrived after the transaction was
// already failed. Money moved with no booking behind it, so it is treated as
// a conflict for manual refund.
func (m *Materializer) FlagLatePayment(ctx context.Context, t *models.TransactionLog, paymentID string) error {
	kind := t.Metadata.Kind
	if kind == "" {
		kind = "unknown"
	}
	return m.conflict(ctx, t, kind, nil, fmt.Sprintf("payment %s captured after transaction failed", paymentID))
}

func (m *Materializer) flag(ctx context.Context, t *models.TransactionLog, msg string) {
	if err := m.ledger.FlagMaterializationError(ctx, t.ID, msg); err != nil {
		m.logger.Error("flag materialization error failed", zap.String("transaction_log_id", t.ID.String()), zap.Error(err))
	}
}
