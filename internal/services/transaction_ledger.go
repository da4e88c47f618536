package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/staybook/backend/internal/audit"
	"github.com/staybook/backend/internal/gateway"
	"github.com/staybook/backend/internal/models"
	"go.uber.org/zap"
)

const txLogColumns = `id, gateway, external_order_id, base_amount, tax_percent, tax_amount, total_amount,
	amount_minor, currency, owner_user_id, property_id, event_id, status, failure_reason,
	materialization_error, metadata, created_at, updated_at`

// PurchaseIntent is a priced, identity-checked request to pay for a target.
type PurchaseIntent struct {
	Gateway     string
	OwnerUserID string
	Snapshot    models.PurchaseSnapshot
}

// TransactionLedger owns the pending→paid/failed lifecycle of transaction logs.
type TransactionLedger struct {
	db     *sql.DB
	audit  *audit.Logger
	logger *zap.Logger
}

func NewTransactionLedger(db *sql.DB, auditLogger *audit.Logger, logger *zap.Logger) *TransactionLedger {
	return &TransactionLedger{db: db, audit: auditLogger, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransactionLog(row rowScanner) (*models.TransactionLog, error) {
	t, metadata, err := scanTransactionLogRaw(row)
	if err != nil {
		return nil, err
	}
	if err := t.Metadata.Scan(metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", t.ID, err)
	}
	return t, nil
}

// scanTransactionLogRaw leaves metadata undecoded so a batch reader can set a
// bad row aside instead of failing the whole query.
func scanTransactionLogRaw(row rowScanner) (*models.TransactionLog, []byte, error) {
	var t models.TransactionLog
	var metadata []byte
	err := row.Scan(
		&t.ID, &t.Gateway, &t.ExternalOrderID, &t.BaseAmount, &t.TaxPercent, &t.TaxAmount, &t.TotalAmount,
		&t.AmountMinor, &t.Currency, &t.OwnerUserID, &t.PropertyID, &t.EventID, &t.Status, &t.FailureReason,
		&t.MaterializationError, &metadata, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, nil, err
	}
	return &t, metadata, nil
}

// Open persists a pending transaction log. The snapshot is the only pricing
// source materialization will use.
func (l *TransactionLedger) Open(ctx context.Context, intent PurchaseIntent) (*models.TransactionLog, error) {
	provider, err := gateway.ParseProvider(intent.Gateway)
	if err != nil {
		return nil, err
	}
	if err := intent.Snapshot.Validate(); err != nil {
		return nil, &ValidationError{Field: "target", Reason: err.Error()}
	}

	now := time.Now().UTC()
	t := &models.TransactionLog{
		ID:          uuid.New(),
		Gateway:     string(provider),
		OwnerUserID: intent.OwnerUserID,
		Status:      models.TxStatusPending,
		Metadata:    intent.Snapshot,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	switch snap := intent.Snapshot; snap.Kind {
	case models.SnapshotKindProperty:
		p := snap.Property
		if p.GuestID != intent.OwnerUserID {
			return nil, &ValidationError{Field: "target", Reason: "snapshot guest does not match purchaser"}
		}
		t.PropertyID = &p.PropertyID
		t.BaseAmount = p.Pricing.PreTaxAmount
		t.TaxPercent = p.Pricing.TaxPercent
		t.TaxAmount = p.Pricing.TaxAmount
		t.TotalAmount = p.Pricing.FinalAmount
		t.Currency = p.Currency
	case models.SnapshotKindEvent:
		e := snap.Event
		if e.GuestID != intent.OwnerUserID {
			return nil, &ValidationError{Field: "target", Reason: "snapshot guest does not match purchaser"}
		}
		t.EventID = &e.EventID
		t.BaseAmount = e.Pricing.BaseAmount
		t.TaxPercent = e.Pricing.TaxPercent
		t.TaxAmount = e.Pricing.TaxAmount
		t.TotalAmount = e.Pricing.TotalAmount
		t.Currency = e.Currency
	}
	t.AmountMinor = ToMinorUnits(t.TotalAmount)

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO transaction_logs (id, gateway, base_amount, tax_percent, tax_amount, total_amount,
			amount_minor, currency, owner_user_id, property_id, event_id, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`,
		t.ID, t.Gateway, t.BaseAmount, t.TaxPercent, t.TaxAmount, t.TotalAmount,
		t.AmountMinor, t.Currency, t.OwnerUserID, t.PropertyID, t.EventID, t.Status, t.Metadata, now)
	if err != nil {
		return nil, fmt.Errorf("insert transaction log: %w", err)
	}

	l.logger.Info("transaction log opened",
		zap.String("transaction_log_id", t.ID.String()),
		zap.String("gateway", t.Gateway),
		zap.Int64("amount_minor", t.AmountMinor))
	return t, nil
}

// AttachExternalOrder stores the provider order id. Repeating it is harmless.
func (l *TransactionLedger) AttachExternalOrder(ctx context.Context, id uuid.UUID, externalOrderID string) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE transaction_logs SET external_order_id = $1, updated_at = $2 WHERE id = $3`,
		externalOrderID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("attach external order: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{Entity: "transaction", ID: id.String()}
	}
	return nil
}

// MarkPaid moves a pending row to paid. It reports false, without error,
// when the row was already terminal.
func (l *TransactionLedger) MarkPaid(ctx context.Context, id uuid.UUID) (bool, error) {
	return l.transition(ctx, id, models.TxStatusPaid, "")
}

func (l *TransactionLedger) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	return l.transition(ctx, id, models.TxStatusFailed, reason)
}

func (l *TransactionLedger) transition(ctx context.Context, id uuid.UUID, to, reason string) (bool, error) {
	var failure *string
	if reason != "" {
		failure = &reason
	}

	res, err := l.db.ExecContext(ctx, `
		UPDATE transaction_logs SET status = $1, failure_reason = COALESCE($2, failure_reason), updated_at = $3
		WHERE id = $4 AND status = 'pending'`,
		to, failure, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("mark transaction %s: %w", to, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	l.audit.LogTransition(id.String(), models.TxStatusPending, to, reason)
	return true, nil
}

func (l *TransactionLedger) Get(ctx context.Context, id uuid.UUID) (*models.TransactionLog, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+txLogColumns+` FROM transaction_logs WHERE id = $1`, id)
	t, err := scanTransactionLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "transaction", ID: id.String()}
	}
	return t, err
}

func (l *TransactionLedger) GetByExternalOrder(ctx context.Context, provider gateway.Provider, externalOrderID string) (*models.TransactionLog, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+txLogColumns+` FROM transaction_logs WHERE gateway = $1 AND external_order_id = $2`,
		string(provider), externalOrderID)
	t, err := scanTransactionLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "transaction", ID: externalOrderID}
	}
	return t, err
}

// FlagMaterializationError marks a paid row as needing manual handling so the
// reconciliation sweep leaves it alone.
func (l *TransactionLedger) FlagMaterializationError(ctx context.Context, id uuid.UUID, msg string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE transaction_logs SET materialization_error = $1, updated_at = $2 WHERE id = $3`,
		msg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("flag materialization error: %w", err)
	}
	return nil
}

// UnreadableTransaction is a row whose stored snapshot could not be decoded.
type UnreadableTransaction struct {
	ID  uuid.UUID
	Err error
}

// ListPaidUnmaterialized returns paid rows with no booking that were last
// touched before olderThan and are not flagged. Rows whose snapshot does not
// decode are flagged and returned separately.
func (l *TransactionLedger) ListPaidUnmaterialized(ctx context.Context, olderThan time.Time, limit int) ([]*models.TransactionLog, []UnreadableTransaction, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT `+txLogColumns+` FROM transaction_logs
		WHERE status = 'paid' AND materialization_error IS NULL AND updated_at < $1
		AND NOT EXISTS (SELECT 1 FROM bookings WHERE bookings.transaction_log_id = transaction_logs.id)
		AND NOT EXISTS (SELECT 1 FROM booking_events WHERE booking_events.transaction_log_id = transaction_logs.id)
		ORDER BY updated_at
		LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("list paid unmaterialized: %w", err)
	}

	var (
		out        []*models.TransactionLog
		unreadable []UnreadableTransaction
	)
	for rows.Next() {
		t, metadata, err := scanTransactionLogRaw(rows)
		if err != nil {
			rows.Close()
			return nil, nil, err
		}
		if err := t.Metadata.Scan(metadata); err != nil {
			unreadable = append(unreadable, UnreadableTransaction{ID: t.ID, Err: fmt.Errorf("decode metadata: %w", err)})
			continue
		}
		out = append(out, t)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, nil, err
	}

	for _, u := range unreadable {
		if flagErr := l.FlagMaterializationError(ctx, u.ID, u.Err.Error()); flagErr != nil {
			l.logger.Error("flag unreadable transaction failed", zap.String("transaction_log_id", u.ID.String()), zap.Error(flagErr))
		}
	}
	return out, unreadable, nil
}
