package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/staybook/backend/internal/metrics"
	"go.uber.org/zap"
)

const SweepReconcileName = "reconcile"

// ReconciliationSweeper retries materialization for paid transactions whose
// webhook handling stopped after MarkPaid, and backfills booking codes left
// unassigned by a crash between commit and code write.
type ReconciliationSweeper struct {
	db           *sql.DB
	ledger       *TransactionLedger
	materializer *Materializer
	logger       *zap.Logger
	staleAfter   time.Duration
	batchSize    int
	now          func() time.Time
}

func NewReconciliationSweeper(db *sql.DB, ledger *TransactionLedger, materializer *Materializer, logger *zap.Logger, staleAfter time.Duration, batchSize int) *ReconciliationSweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ReconciliationSweeper{
		db:           db,
		ledger:       ledger,
		materializer: materializer,
		logger:       logger,
		staleAfter:   staleAfter,
		batchSize:    batchSize,
		now:          time.Now,
	}
}

func (s *ReconciliationSweeper) Run(ctx context.Context) (*SweepReport, error) {
	start := time.Now()
	report := &SweepReport{Sweep: SweepReconcileName}
	defer func() {
		metrics.SweepDuration.WithLabelValues(report.Sweep).Observe(time.Since(start).Seconds())
		metrics.SweepRows.WithLabelValues(report.Sweep, "completed").Add(float64(report.Completed))
		metrics.SweepRows.WithLabelValues(report.Sweep, "failed").Add(float64(len(report.Failures)))
	}()

	stale, unreadable, err := s.ledger.ListPaidUnmaterialized(ctx, s.now().UTC().Add(-s.staleAfter), s.batchSize)
	if err != nil {
		return report, err
	}
	report.Selected = len(stale) + len(unreadable)
	for _, u := range unreadable {
		report.fail(u.ID.String(), u.Err)
	}

	for _, t := range stale {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result, err := s.materializer.Materialize(ctx, t)
		if err != nil {
			report.fail(t.ID.String(), err)
			continue
		}
		report.Completed++
		s.logger.Info("reconciled paid transaction",
			zap.String("transaction_log_id", t.ID.String()),
			zap.String("booking_id", result.BookingID.String()),
			zap.Bool("created", result.Created))
	}

	uncoded, err := s.uncodedBookings(ctx)
	if err != nil {
		return report, err
	}
	report.Selected += len(uncoded)
	for _, id := range uncoded {
		if _, err := s.materializer.AssignCode(ctx, id); err != nil {
			report.fail(id.String(), err)
			continue
		}
		report.Settled++
	}

	if len(report.Failures) > 0 {
		s.logger.Warn("reconciliation sweep had failures", zap.Int("failed", len(report.Failures)), zap.Error(report.Err()))
	}
	return report, nil
}

func (s *ReconciliationSweeper) uncodedBookings(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM bookings WHERE booking_code IS NULL AND created_at < $1
		ORDER BY created_at LIMIT $2`, s.now().UTC().Add(-s.staleAfter), s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("select uncoded bookings: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
