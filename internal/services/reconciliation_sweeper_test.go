package services

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/staybook/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReconciliationSweeper_Run(t *testing.T) {
	now := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)

	newSweeper := func(t *testing.T) (*ReconciliationSweeper, sqlmock.Sqlmock) {
		f := newMaterializerFixture(t)
		s := NewReconciliationSweeper(f.db, f.m.ledger, f.m, zap.NewNop(), 2*time.Minute, 0)
		s.now = func() time.Time { return now }
		return s, f.sql
	}

	t.Run("retries stale paid rows and backfills codes", func(t *testing.T) {
		s, sqlMock := newSweeper(t)
		assert.Equal(t, 100, s.batchSize)

		tl := paidLog(propertySnapshotFixture("guest-1"), models.TxStatusPaid)
		code := "BK00003"
		existing := &models.Booking{ID: uuid.New(), BookingCode: &code, TransactionLogID: tl.ID, Status: models.BookingStatusConfirmed}
		uncoded := uuid.New()

		sqlMock.ExpectQuery("SELECT (.+) FROM transaction_logs WHERE status = 'paid'").
			WithArgs(now.Add(-2*time.Minute), 100).
			WillReturnRows(txLogRows(tl))
		sqlMock.ExpectQuery("SELECT (.+) FROM bookings WHERE transaction_log_id").
			WithArgs(tl.ID).
			WillReturnRows(bookingRows(existing))
		sqlMock.ExpectQuery("SELECT id FROM bookings WHERE booking_code IS NULL").
			WithArgs(now.Add(-2*time.Minute), 100).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uncoded.String()))
		sqlMock.ExpectQuery("INSERT INTO counters").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(4))
		sqlMock.ExpectExec("UPDATE bookings SET booking_seq").
			WithArgs(int64(4), "BK00004", sqlmock.AnyArg(), uncoded).
			WillReturnResult(sqlmock.NewResult(0, 1))

		report, err := s.Run(ctx())
		require.NoError(t, err)
		assert.Equal(t, 2, report.Selected)
		assert.Equal(t, 1, report.Completed)
		assert.Equal(t, 1, report.Settled)
		assert.Empty(t, report.Failures)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("row failures are collected", func(t *testing.T) {
		s, sqlMock := newSweeper(t)
		tl := paidLog(propertySnapshotFixture("guest-1"), models.TxStatusPaid)

		sqlMock.ExpectQuery("SELECT (.+) FROM transaction_logs WHERE status = 'paid'").WillReturnRows(txLogRows(tl))
		sqlMock.ExpectQuery("SELECT (.+) FROM bookings WHERE transaction_log_id").WillReturnError(errors.New("timeout"))
		sqlMock.ExpectQuery("SELECT id FROM bookings WHERE booking_code IS NULL").WillReturnRows(sqlmock.NewRows([]string{"id"}))

		report, err := s.Run(ctx())
		require.NoError(t, err)
		require.Len(t, report.Failures, 1)
		assert.Equal(t, tl.ID.String(), report.Failures[0].ID)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("unreadable snapshot is reported and the rest proceed", func(t *testing.T) {
		s, sqlMock := newSweeper(t)
		bad := paidLog(eventSnapshotFixture("guest-2"), models.TxStatusPaid)
		tl := paidLog(propertySnapshotFixture("guest-1"), models.TxStatusPaid)
		code := "BK00005"
		existing := &models.Booking{ID: uuid.New(), BookingCode: &code, TransactionLogID: tl.ID, Status: models.BookingStatusConfirmed}

		rows := sqlmock.NewRows(txLogColumnNames)
		addTxLogRow(rows, bad, []byte(`not json`))
		sqlMock.ExpectQuery("SELECT (.+) FROM transaction_logs WHERE status = 'paid'").
			WillReturnRows(addTxLogRow(rows, tl, mustMarshal(t, tl.Metadata)))
		sqlMock.ExpectExec("UPDATE transaction_logs SET materialization_error").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), bad.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		sqlMock.ExpectQuery("SELECT (.+) FROM bookings WHERE transaction_log_id").
			WithArgs(tl.ID).
			WillReturnRows(bookingRows(existing))
		sqlMock.ExpectQuery("SELECT id FROM bookings WHERE booking_code IS NULL").WillReturnRows(sqlmock.NewRows([]string{"id"}))

		report, err := s.Run(ctx())
		require.NoError(t, err)
		assert.Equal(t, 2, report.Selected)
		assert.Equal(t, 1, report.Completed)
		require.Len(t, report.Failures, 1)
		assert.Equal(t, bad.ID.String(), report.Failures[0].ID)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("listing failure aborts", func(t *testing.T) {
		s, sqlMock := newSweeper(t)
		sqlMock.ExpectQuery("SELECT (.+) FROM transaction_logs").WillReturnError(errors.New("db down"))

		_, err := s.Run(ctx())
		assert.Error(t, err)
	})
}
