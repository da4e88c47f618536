package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/staybook/backend/internal/events"
	"github.com/staybook/backend/internal/metrics"
	"github.com/staybook/backend/internal/models"
	"go.uber.org/zap"
)

const (
	SweepEventsName     = "events"
	SweepPropertiesName = "properties"
)

type SweepFailure struct {
	ID  string
	Err error
}

// SweepReport summarises one sweep run. Completed counts rows flipped by
// this run, Settled those whose host payout was also released.
type SweepReport struct {
	Sweep     string
	Selected  int
	Completed int
	Settled   int
	Failures  []SweepFailure
}

func (r *SweepReport) fail(id string, err error) {
	r.Failures = append(r.Failures, SweepFailure{ID: id, Err: err})
}

// Err joins the per-row failures, or returns nil.
func (r *SweepReport) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("%s: %w", f.ID, f.Err))
	}
	return errors.Join(errs...)
}

// CompletionSweeper settles finished events and stays: each row is flipped
// and its host payout released from hold in one DB transaction, so a row
// whose payout fails stays eligible for the next run.
type CompletionSweeper struct {
	db        *sql.DB
	wallets   *WalletService
	publisher events.Publisher
	logger    *zap.Logger
	loc       *time.Location
}

func NewCompletionSweeper(db *sql.DB, wallets *WalletService, publisher events.Publisher, logger *zap.Logger, loc *time.Location) *CompletionSweeper {
	return &CompletionSweeper{db: db, wallets: wallets, publisher: publisher, logger: logger, loc: loc}
}

func localDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *CompletionSweeper) SweepEvents(ctx context.Context, now time.Time) (*SweepReport, error) {
	start := time.Now()
	report := &SweepReport{Sweep: SweepEventsName}
	defer s.finish(report, start)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE status = 'upcoming' AND end_date <= $1
		ORDER BY end_date`, localDate(now, s.loc))
	if err != nil {
		return report, fmt.Errorf("select ended events: %w", err)
	}

	var ended []*models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return report, err
		}
		endsAt, err := e.EndsAt(s.loc)
		if err != nil {
			report.fail(e.ID.String(), fmt.Errorf("parse end time: %w", err))
			continue
		}
		if !endsAt.After(now) {
			ended = append(ended, e)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return report, err
	}

	report.Selected = len(ended)
	for _, e := range ended {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		flipped, payout, err := s.completeEvent(ctx, e)
		if err != nil {
			report.fail(e.ID.String(), err)
			s.logger.Error("event completion failed", zap.String("event_id", e.ID.String()), zap.Error(err))
			continue
		}
		if !flipped {
			continue
		}
		report.Completed++
		report.Settled++
		s.publishCompleted(ctx, models.BookingTypeEvent, e.ID, e.HostID, payout)
	}
	return report, nil
}

func (s *CompletionSweeper) completeEvent(ctx context.Context, e *models.Event) (bool, decimal.Decimal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, decimal.Zero, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE events SET status = 'completed', updated_at = $1 WHERE id = $2 AND status = 'upcoming'`, now, e.ID)
	if err != nil {
		return false, decimal.Zero, fmt.Errorf("complete event: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, decimal.Zero, err
	}

	rows, err := tx.QueryContext(ctx, `
		UPDATE booking_events SET status = 'completed', updated_at = $1
		WHERE event_id = $2 AND status = 'confirmed'
		RETURNING base_amount`, now, e.ID)
	if err != nil {
		return false, decimal.Zero, fmt.Errorf("complete event bookings: %w", err)
	}
	payout := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			rows.Close()
			return false, decimal.Zero, err
		}
		payout = payout.Add(amount)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, decimal.Zero, err
	}

	var mv *Movement
	if payout.IsPositive() {
		mv, err = s.releaseInTx(ctx, tx, e.HostID, Movement{
			Amount:      payout,
			BookingType: models.BookingTypeEvent,
			Metadata:    models.Metadata{"event_id": e.ID.String()},
		})
		if err != nil {
			return false, decimal.Zero, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, decimal.Zero, fmt.Errorf("commit event completion: %w", err)
	}
	if mv != nil {
		s.wallets.recordMovement(*mv, models.DirectionCredit)
	}
	return true, payout, nil
}

type completedStay struct {
	id          uuid.UUID
	hostID      string
	finalAmount decimal.Decimal
	taxAmount   decimal.Decimal
}

// SweepProperties completes confirmed stays whose check-out date has arrived
// and releases final amount less tax to the host.
func (s *CompletionSweeper) SweepProperties(ctx context.Context, now time.Time) (*SweepReport, error) {
	start := time.Now()
	report := &SweepReport{Sweep: SweepPropertiesName}
	defer s.finish(report, start)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, host_id, final_amount, tax_amount FROM bookings
		WHERE status = 'confirmed' AND check_out <= $1
		ORDER BY check_out`, localDate(now, s.loc))
	if err != nil {
		return report, fmt.Errorf("select ended stays: %w", err)
	}

	var stays []completedStay
	for rows.Next() {
		var c completedStay
		if err := rows.Scan(&c.id, &c.hostID, &c.finalAmount, &c.taxAmount); err != nil {
			rows.Close()
			return report, err
		}
		stays = append(stays, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return report, err
	}

	report.Selected = len(stays)
	for _, c := range stays {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		payout := c.finalAmount.Sub(c.taxAmount)
		flipped, err := s.completeStay(ctx, c, payout)
		if err != nil {
			report.fail(c.id.String(), err)
			s.logger.Error("stay completion failed", zap.String("booking_id", c.id.String()), zap.Error(err))
			continue
		}
		if !flipped {
			continue
		}
		report.Completed++
		report.Settled++
		s.publishCompleted(ctx, models.BookingTypeProperty, c.id, c.hostID, payout)
	}
	return report, nil
}

func (s *CompletionSweeper) completeStay(ctx context.Context, c completedStay, payout decimal.Decimal) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE bookings SET status = 'completed', updated_at = $1 WHERE id = $2 AND status = 'confirmed'`,
		time.Now().UTC(), c.id)
	if err != nil {
		return false, fmt.Errorf("complete booking: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}

	var mv *Movement
	if payout.IsPositive() {
		bookingID := c.id
		mv, err = s.releaseInTx(ctx, tx, c.hostID, Movement{
			Amount:      payout,
			BookingID:   &bookingID,
			BookingType: models.BookingTypeProperty,
		})
		if err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit stay completion: %w", err)
	}
	if mv != nil {
		s.wallets.recordMovement(*mv, models.DirectionCredit)
	}
	return true, nil
}

func (s *CompletionSweeper) releaseInTx(ctx context.Context, tx *sql.Tx, hostID string, mv Movement) (*Movement, error) {
	host, err := s.wallets.getOrCreate(ctx, tx, hostID, models.WalletRoleHost)
	if err != nil {
		return nil, fmt.Errorf("host wallet: %w", err)
	}
	mv.WalletID = host.ID
	mv.Field = models.FieldHoldToBalance
	mv.Type = models.WalletTxCompletion
	if _, err := s.wallets.apply(ctx, tx, mv, models.DirectionCredit); err != nil {
		return nil, fmt.Errorf("release host hold: %w", err)
	}
	return &mv, nil
}

func (s *CompletionSweeper) publishCompleted(ctx context.Context, kind string, id uuid.UUID, hostID string, payout decimal.Decimal) {
	if err := s.publisher.PublishJSON(ctx, events.BookingCompleted, map[string]any{
		"kind":    kind,
		"id":      id,
		"host_id": hostID,
		"payout":  payout,
	}); err != nil {
		s.logger.Warn("publish booking completed failed", zap.String("id", id.String()), zap.Error(err))
	}
}

func (s *CompletionSweeper) finish(r *SweepReport, start time.Time) {
	metrics.SweepDuration.WithLabelValues(r.Sweep).Observe(time.Since(start).Seconds())
	metrics.SweepRows.WithLabelValues(r.Sweep, "completed").Add(float64(r.Completed))
	metrics.SweepRows.WithLabelValues(r.Sweep, "failed").Add(float64(len(r.Failures)))

	s.logger.Info("completion sweep finished",
		zap.String("sweep", r.Sweep),
		zap.Int("selected", r.Selected),
		zap.Int("completed", r.Completed),
		zap.Int("settled", r.Settled),
		zap.Int("failed", len(r.Failures)))
}
