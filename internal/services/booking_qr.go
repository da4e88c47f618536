package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"github.com/staybook/backend/internal/models"
)

const checkInTokenTTL = 15 * time.Minute

// ErrCheckInUnavailable means one-time check-in tokens cannot be issued or
// redeemed because Redis is not connected.
var ErrCheckInUnavailable = errors.New("check-in verification unavailable")

// CheckInPass is what a host's scanner learns from a redeemed token.
type CheckInPass struct {
	BookingID   uuid.UUID `json:"bookingId"`
	BookingCode string    `json:"bookingCode"`
	GuestID     string    `json:"guestId"`
	HostID      string    `json:"hostId"`
	CheckIn     string    `json:"checkIn"`
	CheckOut    string    `json:"checkOut"`
	IssuedAt    int64     `json:"issuedAt"`
}

type CheckInQR struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Image     []byte    `json:"-"`
}

type BookingQRService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewBookingQRService(db *sql.DB, rdb *redis.Client) *BookingQRService {
	return &BookingQRService{db: db, redis: rdb}
}

// GenerateCheckInQR issues a single-use token for the guest's confirmed
// booking and renders it as a PNG QR code.
func (s *BookingQRService) GenerateCheckInQR(ctx context.Context, bookingID uuid.UUID, userID string) (*CheckInQR, error) {
	if s.redis == nil {
		return nil, ErrCheckInUnavailable
	}

	b, err := getBooking(ctx, s.db, bookingID, false)
	if err != nil {
		return nil, err
	}
	if b.GuestID != userID {
		return nil, &NotFoundError{Entity: "booking", ID: bookingID.String()}
	}
	if b.Status != models.BookingStatusConfirmed || b.BookingCode == nil {
		return nil, &StateConflictError{Entity: "booking", ID: bookingID.String(), State: b.Status, Reason: "no check-in pass available"}
	}

	pass := CheckInPass{
		BookingID:   b.ID,
		BookingCode: *b.BookingCode,
		GuestID:     b.GuestID,
		HostID:      b.HostID,
		CheckIn:     b.CheckIn.Format(dateLayout),
		CheckOut:    b.CheckOut.Format(dateLayout),
		IssuedAt:    time.Now().Unix(),
	}
	data, err := json.Marshal(pass)
	if err != nil {
		return nil, err
	}

	token, err := generateNonce()
	if err != nil {
		return nil, err
	}
	if err := s.redis.Set(ctx, checkInKey(token), data, checkInTokenTTL).Err(); err != nil {
		return nil, fmt.Errorf("store check-in token: %w", err)
	}

	qr, err := qrcode.New(token, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return nil, err
	}

	return &CheckInQR{Token: token, ExpiresAt: time.Now().Add(checkInTokenTTL), Image: buf.Bytes()}, nil
}

// RedeemCheckIn consumes a token. Only the booking's host may redeem it.
func (s *BookingQRService) RedeemCheckIn(ctx context.Context, token, hostID string) (*CheckInPass, error) {
	if s.redis == nil {
		return nil, ErrCheckInUnavailable
	}

	data, err := s.redis.Get(ctx, checkInKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &ValidationError{Field: "token", Reason: "invalid or expired check-in code"}
	}
	if err != nil {
		return nil, err
	}

	var pass CheckInPass
	if err := json.Unmarshal(data, &pass); err != nil {
		return nil, err
	}
	if pass.HostID != hostID {
		return nil, &ValidationError{Field: "token", Reason: "invalid or expired check-in code"}
	}

	deleted, err := s.redis.Del(ctx, checkInKey(token)).Result()
	if err != nil {
		return nil, err
	}
	if deleted == 0 {
		// redeemed concurrently
		return nil, &ValidationError{Field: "token", Reason: "invalid or expired check-in code"}
	}
	return &pass, nil
}

func checkInKey(token string) string {
	return "checkin:" + token
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
