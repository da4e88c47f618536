package services

import (
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/staybook/backend/internal/events"
	"github.com/staybook/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type materializerFixture struct {
	m         *Materializer
	db        *sql.DB
	sql       sqlmock.Sqlmock
	publisher *MockPublisher
	notifier  *fakeNotifier
}

func newMaterializerFixture(t *testing.T) *materializerFixture {
	db, sqlMock := newMockDB(t)
	publisher := &MockPublisher{}
	notifier := newFakeNotifier()
	logger := zap.NewNop()

	m := NewMaterializer(
		db,
		NewTransactionLedger(db, testAudit(), logger),
		NewCounterService(db),
		NewWalletService(db, testAudit(), logger, "INR"),
		NewAvailabilityChecker(db),
		publisher,
		notifier,
		testAudit(),
		logger,
		MaterializerConfig{CodePrefix: "BK", CodeWidth: 5},
	)
	return &materializerFixture{m: m, db: db, sql: sqlMock, publisher: publisher, notifier: notifier}
}

func (f *materializerFixture) expectHostHold(hostID string, walletID uuid.UUID) {
	f.sql.ExpectExec("INSERT INTO wallets").
		WithArgs(sqlmock.AnyArg(), hostID, models.WalletRoleHost, "INR", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.sql.ExpectQuery("SELECT (.+) FROM wallets WHERE user_id").
		WithArgs(hostID, models.WalletRoleHost).
		WillReturnRows(walletRow(walletID, hostID, models.WalletRoleHost, "0", "0"))
	f.sql.ExpectExec("INSERT INTO wallet_transactions").
		WithArgs(sqlmock.AnyArg(), walletID, sqlmock.AnyArg(), models.FieldHoldBalance, models.DirectionCredit,
			models.WalletTxBookingHold, models.WalletTxStatusCompleted, sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.sql.ExpectQuery("UPDATE wallets SET hold_balance = GREATEST\\(0, hold_balance \\+ \\$1\\)").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), walletID).
		WillReturnRows(walletRow(walletID, hostID, models.WalletRoleHost, "0", "10640"))
}

func TestMaterializer_Property(t *testing.T) {
	t.Run("claims every night, credits host hold and assigns the code", func(t *testing.T) {
		f := newMaterializerFixture(t)
		tl := paidLog(propertySnapshotFixture("guest-1"), models.TxStatusPaid)
		snap := tl.Metadata.Property
		bookingID := uuid.New()

		f.sql.ExpectQuery("SELECT (.+) FROM bookings WHERE transaction_log_id").
			WithArgs(tl.ID).
			WillReturnRows(sqlmock.NewRows(bookingColumnNames))
		f.sql.ExpectQuery("SELECT date FROM property_calendar").
			WithArgs(snap.PropertyID, snap.CheckIn, snap.CheckOut).
			WillReturnRows(sqlmock.NewRows([]string{"date"}))
		f.sql.ExpectBegin()
		f.sql.ExpectQuery("INSERT INTO bookings").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(bookingID.String()))
		f.sql.ExpectExec("INSERT INTO property_calendar").
			WithArgs(snap.PropertyID, bookingID, sqlmock.AnyArg(), date("2030-06-01"), date("2030-06-03")).
			WillReturnResult(sqlmock.NewResult(0, 3))
		f.expectHostHold("host-1", uuid.New())
		f.sql.ExpectCommit()
		f.sql.ExpectQuery("INSERT INTO counters").
			WithArgs("property_booking").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(1))
		f.sql.ExpectExec("UPDATE bookings SET booking_seq").
			WithArgs(int64(1), "BK00001", sqlmock.AnyArg(), bookingID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		f.publisher.On("PublishJSON", events.BookingConfirmed, mock.Anything).Return(nil).Once()

		result, err := f.m.Materialize(ctx(), tl)
		require.NoError(t, err)
		assert.True(t, result.Created)
		assert.Equal(t, bookingID, result.BookingID)
		assert.Equal(t, "BK00001", result.BookingCode)
		assert.Equal(t, 1, f.notifier.count())
		assert.NoError(t, f.sql.ExpectationsWereMet())
		f.publisher.AssertExpectations(t)
	})

	t.Run("replay returns the existing booking", func(t *testing.T) {
		f := newMaterializerFixture(t)
		tl := paidLog(propertySnapshotFixture("guest-1"), models.TxStatusPaid)
		code := "BK00042"
		existing := &models.Booking{
			ID: uuid.New(), BookingCode: &code, PropertyID: *tl.PropertyID, GuestID: "guest-1", HostID: "host-1",
			TransactionLogID: tl.ID, CheckIn: date("2030-06-01"), CheckOut: date("2030-06-04"), Nights: 3,
			Status: models.BookingStatusConfirmed, FinalAmount: dec("10640"),
		}

		f.sql.ExpectQuery("SELECT (.+) FROM bookings WHERE transaction_log_id").
			WithArgs(tl.ID).
			WillReturnRows(bookingRows(existing))

		result, err := f.m.Materialize(ctx(), tl)
		require.NoError(t, err)
		assert.False(t, result.Created)
		assert.Equal(t, existing.ID, result.BookingID)
		assert.Equal(t, code, result.BookingCode)
		assert.Zero(t, f.notifier.count())
		assert.NoError(t, f.sql.ExpectationsWereMet())
	})

	t.Run("losing the insert race yields the winner's booking", func(t *testing.T) {
		f := newMaterializerFixture(t)
		tl := paidLog(propertySnapshotFixture("guest-1"), models.TxStatusPaid)
		code := "BK00007"
		winner := &models.Booking{ID: uuid.New(), BookingCode: &code, TransactionLogID: tl.ID, Status: models.BookingStatusConfirmed}

		f.sql.ExpectQuery("SELECT (.+) FROM bookings WHERE transaction_log_id").
			WillReturnRows(sqlmock.NewRows(bookingColumnNames))
		f.sql.ExpectQuery("SELECT date FROM property_calendar").
			WillReturnRows(sqlmock.NewRows([]string{"date"}))
		f.sql.ExpectBegin()
		f.sql.ExpectQuery("INSERT INTO bookings").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		f.sql.ExpectRollback()
		f.sql.ExpectQuery("SELECT (.+) FROM bookings WHERE transaction_log_id").
			WillReturnRows(bookingRows(winner))

		result, err := f.m.Materialize(ctx(), tl)
		require.NoError(t, err)
		assert.False(t, result.Created)
		assert.Equal(t, winner.ID, result.BookingID)
		assert.NoError(t, f.sql.ExpectationsWereMet())
	})

	t.Run("calendar claim shortfall is a flagged conflict", func(t *testing.T) {
		f := newMaterializerFixture(t)
		tl := paidLog(propertySnapshotFixture("guest-1"), models.TxStatusPaid)

		f.sql.ExpectQuery("SELECT (.+) FROM bookings WHERE transaction_log_id").
			WillReturnRows(sqlmock.NewRows(bookingColumnNames))
		f.sql.ExpectQuery("SELECT date FROM property_calendar").
			WillReturnRows(sqlmock.NewRows([]string{"date"}))
		f.sql.ExpectBegin()
		f.sql.ExpectQuery("INSERT INTO bookings").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))
		f.sql.ExpectExec("INSERT INTO property_calendar").
			WillReturnResult(sqlmock.NewResult(0, 2))
		f.sql.ExpectRollback()
		f.sql.ExpectQuery("SELECT date FROM property_calendar").
			WillReturnRows(sqlmock.NewRows([]string{"date"}).AddRow(date("2030-06-02")))
		f.sql.ExpectExec("UPDATE transaction_logs SET materialization_error").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), tl.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		f.publisher.On("PublishJSON", events.BookingMaterializationConflict, mock.Anything).Return(nil).Once()

		_, err := f.m.Materialize(ctx(), tl)

		var conflict *MaterializationConflictError
		require.True(t, errors.As(err, &conflict))
		require.Len(t, conflict.Dates, 1)
		assert.Equal(t, "2030-06-02", conflict.Dates[0].Format(dateLayout))
		assert.Zero(t, f.notifier.count())
		assert.NoError(t, f.sql.ExpectationsWereMet())
		f.publisher.AssertExpectations(t)
	})

	t.Run("advisory re-check conflict never opens a transaction", func(t *testing.T) {
		f := newMaterializerFixture(t)
		tl := paidLog(propertySnapshotFixture("guest-1"), models.TxStatusPaid)

		f.sql.ExpectQuery("SELECT (.+) FROM bookings WHERE transaction_log_id").
			WillReturnRows(sqlmock.NewRows(bookingColumnNames))
		f.sql.ExpectQuery("SELECT date FROM property_calendar").
			WillReturnRows(sqlmock.NewRows([]string{"date"}).AddRow(date("2030-06-03")))
		f.sql.ExpectExec("UPDATE transaction_logs SET materialization_error").
			WillReturnResult(sqlmock.NewResult(0, 1))

		f.publisher.On("PublishJSON", events.BookingMaterializationConflict, mock.Anything).Return(nil).Once()

		_, err := f.m.Materialize(ctx(), tl)
		var conflict *MaterializationConflictError
		assert.True(t, errors.As(err, &conflict))
		assert.NoError(t, f.sql.ExpectationsWereMet())
	})
}

func TestMaterializer_Event(t *testing.T) {
	t.Run("books tickets with a ULID code and holds the base amount", func(t *testing.T) {
		f := newMaterializerFixture(t)
		tl := paidLog(eventSnapshotFixture("guest-1"), models.TxStatusPaid)
		bookingID := uuid.New()

		f.sql.ExpectQuery("SELECT (.+) FROM booking_events WHERE transaction_log_id").
			WithArgs(tl.ID).
			WillReturnRows(sqlmock.NewRows(bookingEventColumnNames))
		f.sql.ExpectBegin()
		f.sql.ExpectQuery("SELECT capacity, status FROM events WHERE id = \\$1 FOR UPDATE").
			WithArgs(*tl.EventID).
			WillReturnRows(sqlmock.NewRows([]string{"capacity", "status"}).AddRow(100, models.EventStatusUpcoming))
		f.sql.ExpectQuery("SELECT COALESCE").
			WithArgs(*tl.EventID).
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(98))
		f.sql.ExpectQuery("INSERT INTO booking_events").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(bookingID.String()))
		f.expectHostHold("host-2", uuid.New())
		f.sql.ExpectCommit()

		f.publisher.On("PublishJSON", events.BookingConfirmed, mock.Anything).Return(nil).Once()

		result, err := f.m.Materialize(ctx(), tl)
		require.NoError(t, err)
		assert.True(t, result.Created)
		assert.True(t, strings.HasPrefix(result.BookingCode, "EV-"))
		assert.Len(t, result.BookingCode, len("EV-")+26)
		assert.Equal(t, 1, f.notifier.count())
		assert.NoError(t, f.sql.ExpectationsWereMet())
	})

	t.Run("sold out event is a flagged conflict", func(t *testing.T) {
		f := newMaterializerFixture(t)
		tl := paidLog(eventSnapshotFixture("guest-1"), models.TxStatusPaid)

		f.sql.ExpectQuery("SELECT (.+) FROM booking_events WHERE transaction_log_id").
			WillReturnRows(sqlmock.NewRows(bookingEventColumnNames))
		f.sql.ExpectBegin()
		f.sql.ExpectQuery("SELECT capacity, status FROM events").
			WillReturnRows(sqlmock.NewRows([]string{"capacity", "status"}).AddRow(100, models.EventStatusUpcoming))
		f.sql.ExpectQuery("SELECT COALESCE").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(99))
		f.sql.ExpectRollback()
		f.sql.ExpectExec("UPDATE transaction_logs SET materialization_error").
			WillReturnResult(sqlmock.NewResult(0, 1))

		f.publisher.On("PublishJSON", events.BookingMaterializationConflict, mock.Anything).Return(nil).Once()

		_, err := f.m.Materialize(ctx(), tl)
		var conflict *MaterializationConflictError
		assert.True(t, errors.As(err, &conflict))
		assert.NoError(t, f.sql.ExpectationsWereMet())
	})

	t.Run("replay returns the existing ticket booking", func(t *testing.T) {
		f := newMaterializerFixture(t)
		tl := paidLog(eventSnapshotFixture("guest-1"), models.TxStatusPaid)
		existing := &models.BookingEvent{
			ID: uuid.New(), BookingCode: "EV-01J0000000000000000000000", EventID: *tl.EventID, GuestID: "guest-1",
			HostID: "host-2", TransactionLogID: tl.ID, Tickets: 2, Status: models.BookingStatusConfirmed, CreatedAt: time.Now(),
		}

		f.sql.ExpectQuery("SELECT (.+) FROM booking_events WHERE transaction_log_id").
			WillReturnRows(bookingEventRows(existing))

		result, err := f.m.Materialize(ctx(), tl)
		require.NoError(t, err)
		assert.False(t, result.Created)
		assert.Equal(t, existing.BookingCode, result.BookingCode)
	})
}

func TestMaterializer_Rejections(t *testing.T) {
	t.Run("only paid transactions", func(t *testing.T) {
		f := newMaterializerFixture(t)
		_, err := f.m.Materialize(ctx(), paidLog(propertySnapshotFixture("guest-1"), models.TxStatusPending))
		var sc *StateConflictError
		assert.True(t, errors.As(err, &sc))
	})

	t.Run("unsupported snapshot is flagged", func(t *testing.T) {
		f := newMaterializerFixture(t)
		tl := paidLog(propertySnapshotFixture("guest-1"), models.TxStatusPaid)
		tl.Metadata.Version = 99

		f.sql.ExpectExec("UPDATE transaction_logs SET materialization_error").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), tl.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := f.m.Materialize(ctx(), tl)
		assert.ErrorIs(t, err, models.ErrUnsupportedSnapshot)
		assert.NoError(t, f.sql.ExpectationsWereMet())
	})
}

func TestMaterializer_AssignCode(t *testing.T) {
	f := newMaterializerFixture(t)
	bookingID := uuid.New()

	f.sql.ExpectQuery("INSERT INTO counters").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(12))
	f.sql.ExpectExec("UPDATE bookings SET booking_seq").
		WithArgs(int64(12), "BK00012", sqlmock.AnyArg(), bookingID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	f.sql.ExpectQuery("SELECT booking_code FROM bookings").
		WithArgs(bookingID).
		WillReturnRows(sqlmock.NewRows([]string{"booking_code"}).AddRow("BK00011"))

	code, err := f.m.AssignCode(ctx(), bookingID)
	require.NoError(t, err)
	assert.Equal(t, "BK00011", code)
	assert.NoError(t, f.sql.ExpectationsWereMet())
}

func TestMaterializer_AssignCodeTaken(t *testing.T) {
	f := newMaterializerFixture(t)
	bookingID := uuid.New()

	f.sql.ExpectQuery("INSERT INTO counters").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(3))
	f.sql.ExpectExec("UPDATE bookings SET booking_seq").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := f.m.AssignCode(ctx(), bookingID)
	var sc *StateConflictError
	assert.True(t, errors.As(err, &sc))
}
