package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/staybook/backend/internal/gateway"
	mW "github.com/staybook/backend/internal/middleware"
	"github.com/staybook/backend/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Name() gateway.Provider { return gateway.ProviderCard }

func (m *MockGateway) CreateIntent(_ context.Context, req gateway.IntentRequest) (*gateway.Intent, error) {
	args := m.Called(req)
	return nil, args.Error(1)
}

func (m *MockGateway) ParseWebhook(body []byte, _ http.Header) (*gateway.WebhookEvent, error) {
	args := m.Called(body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.WebhookEvent), args.Error(1)
}

type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) Reconcile(_ context.Context, ev *gateway.WebhookEvent) (*services.ReconcileResult, error) {
	args := m.Called(ev)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ReconcileResult), args.Error(1)
}

type MockCheckInService struct {
	mock.Mock
}

func (m *MockCheckInService) GenerateCheckInQR(_ context.Context, bookingID uuid.UUID, userID string) (*services.CheckInQR, error) {
	args := m.Called(bookingID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CheckInQR), args.Error(1)
}

func (m *MockCheckInService) RedeemCheckIn(_ context.Context, token, hostID string) (*services.CheckInPass, error) {
	args := m.Called(token, hostID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CheckInPass), args.Error(1)
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func webhookRequest(provider, body string) *http.Request {
	return withURLParam(httptest.NewRequest(http.MethodPost, "/webhooks/"+provider, strings.NewReader(body)), "provider", provider)
}

func TestWebhookHandler(t *testing.T) {
	body := `{"type":"payment_intent.succeeded"}`

	t.Run("verified event is reconciled", func(t *testing.T) {
		gw := &MockGateway{}
		rec := &MockReconciler{}
		h := NewWebhookHandler(gateway.NewRegistry(gw), rec, zap.NewNop())

		ev := &gateway.WebhookEvent{Provider: gateway.ProviderCard, Type: "payment_intent.succeeded", Outcome: gateway.OutcomeSucceeded}
		gw.On("ParseWebhook", []byte(body)).Return(ev, nil)
		rec.On("Reconcile", ev).Return(&services.ReconcileResult{Status: "paid", Materialized: true}, nil)

		rr := httptest.NewRecorder()
		h.HandleWebhook(rr, webhookRequest("card", body))

		assert.Equal(t, http.StatusOK, rr.Code)
		var got services.ReconcileResult
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.True(t, got.Materialized)
		gw.AssertExpectations(t)
		rec.AssertExpectations(t)
	})

	t.Run("bad signature", func(t *testing.T) {
		gw := &MockGateway{}
		rec := &MockReconciler{}
		h := NewWebhookHandler(gateway.NewRegistry(gw), rec, zap.NewNop())
		gw.On("ParseWebhook", mock.Anything).Return(nil, gateway.ErrInvalidSignature)

		rr := httptest.NewRecorder()
		h.HandleWebhook(rr, webhookRequest("card", body))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		rec.AssertNotCalled(t, "Reconcile", mock.Anything)
	})

	t.Run("unconfigured provider", func(t *testing.T) {
		h := NewWebhookHandler(gateway.NewRegistry(&MockGateway{}), &MockReconciler{}, zap.NewNop())

		rr := httptest.NewRecorder()
		h.HandleWebhook(rr, webhookRequest("regional", body))
		assert.Equal(t, http.StatusNotFound, rr.Code)

		rr = httptest.NewRecorder()
		h.HandleWebhook(rr, webhookRequest("paypal", body))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("amount mismatch is a client error", func(t *testing.T) {
		gw := &MockGateway{}
		rec := &MockReconciler{}
		h := NewWebhookHandler(gateway.NewRegistry(gw), rec, zap.NewNop())

		ev := &gateway.WebhookEvent{Provider: gateway.ProviderCard, Outcome: gateway.OutcomeSucceeded}
		gw.On("ParseWebhook", mock.Anything).Return(ev, nil)
		rec.On("Reconcile", ev).Return(nil, services.ErrAmountMismatch)

		rr := httptest.NewRecorder()
		h.HandleWebhook(rr, webhookRequest("card", body))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		h := NewWebhookHandler(gateway.NewRegistry(&MockGateway{}), &MockReconciler{}, zap.NewNop())

		rr := httptest.NewRecorder()
		h.HandleWebhook(rr, webhookRequest("card", strings.Repeat("x", maxWebhookBytes+1)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	})
}

func TestBookingQRHandler_GenerateCheckInQR(t *testing.T) {
	bookingID := uuid.New()
	image := []byte{0x89, 'P', 'N', 'G'}
	qr := &services.CheckInQR{Token: "tok", ExpiresAt: time.Now().Add(15 * time.Minute), Image: image}

	request := func(accept string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/bookings/"+bookingID.String()+"/qr", nil)
		if accept != "" {
			r.Header.Set("Accept", accept)
		}
		r = r.WithContext(mW.WithUserID(r.Context(), "guest-1"))
		return withURLParam(r, "bookingId", bookingID.String())
	}

	t.Run("png by default", func(t *testing.T) {
		svc := &MockCheckInService{}
		svc.On("GenerateCheckInQR", bookingID, "guest-1").Return(qr, nil)

		rr := httptest.NewRecorder()
		NewBookingQRHandler(svc).GenerateCheckInQR(rr, request(""))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
		assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
		assert.True(t, bytes.Equal(image, rr.Body.Bytes()))
	})

	t.Run("json when asked", func(t *testing.T) {
		svc := &MockCheckInService{}
		svc.On("GenerateCheckInQR", bookingID, "guest-1").Return(qr, nil)

		rr := httptest.NewRecorder()
		NewBookingQRHandler(svc).GenerateCheckInQR(rr, request("application/json"))

		var got checkInQRResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Equal(t, "tok", got.Token)
		assert.Equal(t, base64.StdEncoding.EncodeToString(image), got.QRImage)
	})

	t.Run("redis down", func(t *testing.T) {
		svc := &MockCheckInService{}
		svc.On("GenerateCheckInQR", bookingID, "guest-1").Return(nil, services.ErrCheckInUnavailable)

		rr := httptest.NewRecorder()
		NewBookingQRHandler(svc).GenerateCheckInQR(rr, request(""))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("bad booking id", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/bookings/nope/qr", nil)
		r = withURLParam(r.WithContext(mW.WithUserID(r.Context(), "guest-1")), "bookingId", "nope")

		rr := httptest.NewRecorder()
		NewBookingQRHandler(&MockCheckInService{}).GenerateCheckInQR(rr, r)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestBookingQRHandler_RedeemCheckIn(t *testing.T) {
	request := func(body string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/bookings/check-in", strings.NewReader(body))
		return r.WithContext(mW.WithUserID(r.Context(), "host-1"))
	}

	t.Run("host redeems", func(t *testing.T) {
		svc := &MockCheckInService{}
		pass := &services.CheckInPass{BookingID: uuid.New(), BookingCode: "BK00001", HostID: "host-1"}
		svc.On("RedeemCheckIn", "tok", "host-1").Return(pass, nil)

		rr := httptest.NewRecorder()
		NewBookingQRHandler(svc).RedeemCheckIn(rr, request(`{"token":"tok"}`))

		assert.Equal(t, http.StatusOK, rr.Code)
		var got services.CheckInPass
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Equal(t, "BK00001", got.BookingCode)
	})

	t.Run("expired token", func(t *testing.T) {
		svc := &MockCheckInService{}
		svc.On("RedeemCheckIn", "tok", "host-1").Return(nil, &services.ValidationError{Field: "token", Reason: "invalid or expired check-in code"})

		rr := httptest.NewRecorder()
		NewBookingQRHandler(svc).RedeemCheckIn(rr, request(`{"token":"tok"}`))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		NewBookingQRHandler(&MockCheckInService{}).RedeemCheckIn(rr, request(`{}`))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("anonymous", func(t *testing.T) {
		rr := httptest.NewRecorder()
		NewBookingQRHandler(&MockCheckInService{}).RedeemCheckIn(rr, httptest.NewRequest(http.MethodPost, "/bookings/check-in", strings.NewReader(`{"token":"tok"}`)))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

}
