package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mW "github.com/staybook/backend/internal/middleware"
	"github.com/staybook/backend/internal/services"
)

type checkInService interface {
	GenerateCheckInQR(ctx context.Context, bookingID uuid.UUID, userID string) (*services.CheckInQR, error)
	RedeemCheckIn(ctx context.Context, token, hostID string) (*services.CheckInPass, error)
}

type BookingQRHandler struct {
	service   checkInService
	validator *services.ValidationHelper
}

func NewBookingQRHandler(service checkInService) *BookingQRHandler {
	return &BookingQRHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

type checkInQRResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	QRImage   string    `json:"qrImage"`
}

// GenerateCheckInQR issues a check-in QR code for a booking
// @Summary Check-in QR code
// @Description Issues a single-use check-in token for the caller's confirmed stay. Returns a PNG unless the client accepts JSON, in which case the image is base64 encoded.
// @Tags bookings
// @Produce png
// @Produce json
// @Security BearerAuth
// @Param bookingId path string true "Booking ID"
// @Success 200 {object} checkInQRResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /bookings/{bookingId}/qr [get]
func (h *BookingQRHandler) GenerateCheckInQR(w http.ResponseWriter, r *http.Request) {
	userID, ok := mW.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	bookingID, err := uuid.Parse(chi.URLParam(r, "bookingId"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid booking id", http.StatusBadRequest, nil)
		return
	}

	qr, err := h.service.GenerateCheckInQR(r.Context(), bookingID, userID)
	if err != nil {
		services.WriteServiceError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(checkInQRResponse{
			Token:     qr.Token,
			ExpiresAt: qr.ExpiresAt,
			QRImage:   base64.StdEncoding.EncodeToString(qr.Image),
		})
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Checkin-Expires-At", qr.ExpiresAt.UTC().Format(time.RFC3339))
	w.WriteHeader(http.StatusOK)
	w.Write(qr.Image)
}

// RedeemCheckIn redeems a scanned check-in token
// @Summary Redeem check-in
// @Description Consumes a guest's check-in token. Only the host of the booking may redeem it, and only once.
// @Tags bookings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{token=string} true "Scanned token"
// @Success 200 {object} services.CheckInPass
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /bookings/check-in [post]
func (h *BookingQRHandler) RedeemCheckIn(w http.ResponseWriter, r *http.Request) {
	hostID, ok := mW.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Token string `json:"token" validate:"required,max=64"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	pass, err := h.service.RedeemCheckIn(r.Context(), req.Token, hostID)
	if err != nil {
		services.WriteServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pass)
}
