package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/staybook/backend/internal/audit"
	"github.com/staybook/backend/internal/gateway"
	"github.com/staybook/backend/internal/models"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func ctx() context.Context {
	return context.Background()
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func testAudit() *audit.Logger {
	return audit.NewLogger(zap.NewNop())
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishJSON(_ context.Context, key string, v any) error {
	args := m.Called(key, v)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	return nil
}

// fakeNotifier records notifications. Subscribe hands out wake, which tests
// may pre-signal.
type fakeNotifier struct {
	mu       sync.Mutex
	notified []uuid.UUID
	wake     chan struct{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{wake: make(chan struct{}, 1)}
}

func (n *fakeNotifier) Notify(_ context.Context, id uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, id)
	return nil
}

func (n *fakeNotifier) Subscribe(_ context.Context, _ uuid.UUID) (<-chan struct{}, func(), error) {
	return n.wake, func() {}, nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notified)
}

type MockGateway struct {
	mock.Mock
	provider gateway.Provider
}

func (m *MockGateway) Name() gateway.Provider {
	return m.provider
}

func (m *MockGateway) CreateIntent(_ context.Context, req gateway.IntentRequest) (*gateway.Intent, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Intent), args.Error(1)
}

func (m *MockGateway) ParseWebhook(body []byte, header http.Header) (*gateway.WebhookEvent, error) {
	args := m.Called(body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.WebhookEvent), args.Error(1)
}

var txLogColumnNames = []string{
	"id", "gateway", "external_order_id", "base_amount", "tax_percent", "tax_amount", "total_amount",
	"amount_minor", "currency", "owner_user_id", "property_id", "event_id", "status", "failure_reason",
	"materialization_error", "metadata", "created_at", "updated_at",
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func txLogRows(logs ...*models.TransactionLog) *sqlmock.Rows {
	rows := sqlmock.NewRows(txLogColumnNames)
	for _, t := range logs {
		meta, err := json.Marshal(t.Metadata)
		if err != nil {
			panic(err)
		}
		addTxLogRow(rows, t, meta)
	}
	return rows
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func addTxLogRow(rows *sqlmock.Rows, t *models.TransactionLog, meta []byte) *sqlmock.Rows {
	return rows.AddRow(t.ID.String(), t.Gateway, nullableString(t.ExternalOrderID), t.BaseAmount.String(),
		t.TaxPercent.String(), t.TaxAmount.String(), t.TotalAmount.String(), t.AmountMinor, t.Currency,
		t.OwnerUserID, nullableUUID(t.PropertyID), nullableUUID(t.EventID), t.Status,
		nullableString(t.FailureReason), nullableString(t.MaterializationError), meta, t.CreatedAt, t.UpdatedAt)
}

var bookingColumnNames = []string{
	"id", "booking_code", "property_id", "guest_id", "host_id", "transaction_log_id", "check_in", "check_out",
	"nights", "adults", "children", "infants", "base_amount", "discount_amount", "extras_amount", "pre_tax_amount",
	"tax_amount", "final_amount", "currency", "status", "cancelled_by", "cancelled_by_role", "cancellation_reason",
	"cancelled_at", "days_before_checkin", "penalty_percent", "penalty_amount", "refund_amount", "created_at", "updated_at",
}

func bookingRows(bookings ...*models.Booking) *sqlmock.Rows {
	rows := sqlmock.NewRows(bookingColumnNames)
	for _, b := range bookings {
		rows.AddRow(b.ID.String(), nullableString(b.BookingCode), b.PropertyID.String(), b.GuestID, b.HostID,
			b.TransactionLogID.String(), b.CheckIn, b.CheckOut, b.Nights, b.Adults, b.Children, b.Infants,
			b.BaseAmount.String(), b.DiscountAmount.String(), b.ExtrasAmount.String(), b.PreTaxAmount.String(),
			b.TaxAmount.String(), b.FinalAmount.String(), b.Currency, b.Status,
			nil, nil, nil, nil, nil, nil, nil, nil, b.CreatedAt, b.UpdatedAt)
	}
	return rows
}

var bookingEventColumnNames = []string{
	"id", "booking_code", "event_id", "guest_id", "host_id", "transaction_log_id", "tickets",
	"base_amount", "tax_percent", "tax_amount", "total_amount", "currency", "status", "created_at",
}

func bookingEventRows(events ...*models.BookingEvent) *sqlmock.Rows {
	rows := sqlmock.NewRows(bookingEventColumnNames)
	for _, e := range events {
		rows.AddRow(e.ID.String(), e.BookingCode, e.EventID.String(), e.GuestID, e.HostID, e.TransactionLogID.String(),
			e.Tickets, e.BaseAmount.String(), e.TaxPercent.String(), e.TaxAmount.String(), e.TotalAmount.String(),
			e.Currency, e.Status, e.CreatedAt)
	}
	return rows
}

var walletColumnNames = []string{
	"id", "user_id", "role", "balance", "hold_balance", "commission", "currency", "created_at", "updated_at",
}

func walletRow(id uuid.UUID, userID, role, balance, hold string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(walletColumnNames).AddRow(id.String(), userID, role, balance, hold, "0", "INR", now, now)
}

// Fixtures

func propertySnapshotFixture(guestID string) models.PurchaseSnapshot {
	return models.NewPropertySnapshot(models.PropertyBookingSnapshot{
		PropertyID: uuid.New(),
		HostID:     "host-1",
		GuestID:    guestID,
		CheckIn:    date("2030-06-01"),
		CheckOut:   date("2030-06-04"),
		Adults:     2,
		Currency:   "INR",
		Pricing: models.PropertyPriceBreakdown{
			NightlyRate:  dec("3000"),
			Nights:       3,
			BaseAmount:   dec("9000"),
			ExtrasAmount: dec("500"),
			PreTaxAmount: dec("9500"),
			TaxPercent:   dec("12"),
			TaxAmount:    dec("1140"),
			FinalAmount:  dec("10640"),
		},
	})
}

func eventSnapshotFixture(guestID string) models.PurchaseSnapshot {
	return models.NewEventSnapshot(models.EventBookingSnapshot{
		EventID:  uuid.New(),
		HostID:   "host-2",
		GuestID:  guestID,
		Tickets:  2,
		Currency: "INR",
		Pricing: models.EventPriceBreakdown{
			TicketPrice: dec("750"),
			Tickets:     2,
			BaseAmount:  dec("1500"),
			TaxPercent:  dec("18"),
			TaxAmount:   dec("270"),
			TotalAmount: dec("1770"),
		},
	})
}

// paidLog builds a transaction log as the ledger would have stored it.
func paidLog(snap models.PurchaseSnapshot, status string) *models.TransactionLog {
	now := time.Now().UTC()
	order := "pi_test_123"
	t := &models.TransactionLog{
		ID:              uuid.New(),
		Gateway:         string(gateway.ProviderCard),
		ExternalOrderID: &order,
		Currency:        "INR",
		Status:          status,
		Metadata:        snap,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if snap.Property != nil {
		t.OwnerUserID = snap.Property.GuestID
		t.PropertyID = &snap.Property.PropertyID
		t.BaseAmount = snap.Property.Pricing.PreTaxAmount
		t.TaxPercent = snap.Property.Pricing.TaxPercent
		t.TaxAmount = snap.Property.Pricing.TaxAmount
		t.TotalAmount = snap.Property.Pricing.FinalAmount
	} else {
		t.OwnerUserID = snap.Event.GuestID
		t.EventID = &snap.Event.EventID
		t.BaseAmount = snap.Event.Pricing.BaseAmount
		t.TaxPercent = snap.Event.Pricing.TaxPercent
		t.TaxAmount = snap.Event.Pricing.TaxAmount
		t.TotalAmount = snap.Event.Pricing.TotalAmount
	}
	t.AmountMinor = ToMinorUnits(t.TotalAmount)
	return t
}
