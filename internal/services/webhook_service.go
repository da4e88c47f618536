package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/staybook/backend/internal/gateway"
	"github.com/staybook/backend/internal/metrics"
	"github.com/staybook/backend/internal/models"
	"go.uber.org/zap"
)

type ReconcileResult struct {
	TransactionLogID     string     `json:"transactionLogId,omitempty"`
	Status               string     `json:"status"`
	Replay               bool       `json:"replay"`
	Materialized         bool       `json:"materialized"`
	BookingID            *uuid.UUID `json:"bookingId,omitempty"`
	MaterializationError string     `json:"materializationError,omitempty"`
}

// WebhookService applies verified gateway callbacks to the transaction ledger.
// Redeliveries are harmless: only the first delivery moves a row out of
// pending, and materialization is keyed on the transaction log.
type WebhookService struct {
	ledger       *TransactionLedger
	materializer *Materializer
	logger       *zap.Logger
}

func NewWebhookService(ledger *TransactionLedger, materializer *Materializer, logger *zap.Logger) *WebhookService {
	return &WebhookService{ledger: ledger, materializer: materializer, logger: logger}
}

func (s *WebhookService) Reconcile(ctx context.Context, ev *gateway.WebhookEvent) (*ReconcileResult, error) {
	result, err := s.reconcile(ctx, ev)

	outcome := string(ev.Outcome)
	switch {
	case err != nil:
		outcome = "error"
	case result.Replay:
		outcome = "replay"
	case result.Status == string(gateway.OutcomeIgnored):
		outcome = "ignored"
	}
	metrics.WebhookEvents.WithLabelValues(string(ev.Provider), outcome).Inc()
	return result, err
}

func (s *WebhookService) reconcile(ctx context.Context, ev *gateway.WebhookEvent) (*ReconcileResult, error) {
	if ev.Outcome == gateway.OutcomeIgnored {
		return &ReconcileResult{Status: string(gateway.OutcomeIgnored)}, nil
	}

	t, err := s.resolve(ctx, ev)
	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		// Not ours (or not yet attached); acknowledge so the provider stops retrying.
		s.logger.Warn("webhook for unknown order",
			zap.String("gateway", string(ev.Provider)),
			zap.String("external_order_id", ev.ExternalOrderID),
			zap.String("event_type", ev.Type))
		return &ReconcileResult{Status: string(gateway.OutcomeIgnored)}, nil
	}
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{TransactionLogID: t.ID.String(), Status: t.Status}
	// A capture on a failed row took money with nothing booked; flag it once.
	if t.Status == models.TxStatusFailed && ev.Outcome == gateway.OutcomeSucceeded && t.MaterializationError == nil {
		if err := matchAmount(t, ev); err != nil {
			s.logger.Warn("late capture amount mismatch",
				zap.String("transaction_log_id", t.ID.String()), zap.Error(err))
		}
		cerr := s.materializer.FlagLatePayment(ctx, t, ev.PaymentID)
		result.MaterializationError = cerr.Error()
		return result, nil
	}
	if t.IsTerminal() {
		result.Replay = true
		s.logger.Info("webhook replay",
			zap.String("transaction_log_id", t.ID.String()),
			zap.String("status", t.Status),
			zap.String("event_type", ev.Type))
		return result, nil
	}

	if ev.Outcome == gateway.OutcomeFailed {
		return s.fail(ctx, t, ev, result)
	}

	if err := matchAmount(t, ev); err != nil {
		s.logger.Error("webhook amount mismatch",
			zap.String("transaction_log_id", t.ID.String()),
			zap.Int64("expected_minor", t.AmountMinor),
			zap.Int64("received_minor", ev.AmountMinor),
			zap.String("currency", ev.Currency))
		return nil, err
	}

	transitioned, err := s.ledger.MarkPaid(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if !transitioned {
		// another delivery won the race
		result.Replay = true
		result.Status = models.TxStatusPaid
		return result, nil
	}

	t.Status = models.TxStatusPaid
	result.Status = models.TxStatusPaid
	s.logger.Info("transaction paid",
		zap.String("transaction_log_id", t.ID.String()),
		zap.String("gateway", t.Gateway),
		zap.String("payment_id", ev.PaymentID))

	booked, err := s.materializer.Materialize(ctx, t)
	if err != nil {
		// The payment stands; the reconciliation sweep or an operator takes over.
		s.logger.Error("materialization failed after payment",
			zap.String("transaction_log_id", t.ID.String()), zap.Error(err))
		result.MaterializationError = err.Error()
		return result, nil
	}

	result.Materialized = booked.Created
	bookingID := booked.BookingID
	result.BookingID = &bookingID
	return result, nil
}

func (s *WebhookService) resolve(ctx context.Context, ev *gateway.WebhookEvent) (*models.TransactionLog, error) {
	var notFound *NotFoundError
	if ev.ExternalOrderID != "" {
		t, err := s.ledger.GetByExternalOrder(ctx, ev.Provider, ev.ExternalOrderID)
		if err == nil || !errors.As(err, &notFound) {
			return t, err
		}
	}

	// The intent may not have been attached yet when the callback arrives.
	if ev.TransactionLogID != "" {
		id, err := uuid.Parse(ev.TransactionLogID)
		if err != nil {
			return nil, &NotFoundError{Entity: "transaction", ID: ev.TransactionLogID}
		}
		t, err := s.ledger.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if t.Gateway != string(ev.Provider) {
			return nil, &NotFoundError{Entity: "transaction", ID: ev.TransactionLogID}
		}
		return t, nil
	}
	return nil, &NotFoundError{Entity: "transaction", ID: ev.ExternalOrderID}
}

func (s *WebhookService) fail(ctx context.Context, t *models.TransactionLog, ev *gateway.WebhookEvent, result *ReconcileResult) (*ReconcileResult, error) {
	reason := ev.FailureReason
	if reason == "" {
		reason = ev.Type
	}

	transitioned, err := s.ledger.MarkFailed(ctx, t.ID, reason)
	if err != nil {
		return nil, err
	}
	if !transitioned {
		result.Replay = true
		return result, nil
	}

	result.Status = models.TxStatusFailed
	s.logger.Info("transaction failed",
		zap.String("transaction_log_id", t.ID.String()),
		zap.String("gateway", t.Gateway),
		zap.String("reason", reason))
	return result, nil
}

func matchAmount(t *models.TransactionLog, ev *gateway.WebhookEvent) error {
	if ev.AmountMinor != t.AmountMinor {
		return fmt.Errorf("%w: expected %d, got %d", ErrAmountMismatch, t.AmountMinor, ev.AmountMinor)
	}
	if ev.Currency != "" && !strings.EqualFold(ev.Currency, t.Currency) {
		return fmt.Errorf("%w: expected %s, got %s", ErrAmountMismatch, t.Currency, ev.Currency)
	}
	return nil
}
