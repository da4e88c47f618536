package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Property is a bookable stay. Only the fields the settlement pipeline
// reads are mapped.
type Property struct {
	ID                    uuid.UUID       `json:"id" db:"id"`
	HostID                string          `json:"hostId" db:"host_id"`
	Title                 string          `json:"title" db:"title"`
	PricePerNight         decimal.Decimal `json:"pricePerNight" db:"price_per_night"`
	CleaningFee           decimal.Decimal `json:"cleaningFee" db:"cleaning_fee"`
	WeeklyDiscountPercent decimal.Decimal `json:"weeklyDiscountPercent" db:"weekly_discount_percent"`
	TaxPercent            decimal.Decimal `json:"taxPercent" db:"tax_percent"`
	MaxGuests             int             `json:"maxGuests" db:"max_guests"`
	Currency              string          `json:"currency" db:"currency"`
	Status                string          `json:"status" db:"status"`
}

const (
	PropertyStatusActive   = "active"
	PropertyStatusInactive = "inactive"
)

// Event is a ticketed listing with a fixed end date and time.
type Event struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	HostID      string          `json:"hostId" db:"host_id"`
	Title       string          `json:"title" db:"title"`
	TicketPrice decimal.Decimal `json:"ticketPrice" db:"ticket_price"`
	TaxPercent  decimal.Decimal `json:"taxPercent" db:"tax_percent"`
	Capacity    int             `json:"capacity" db:"capacity"`
	Currency    string          `json:"currency" db:"currency"`
	StartDate   time.Time       `json:"startDate" db:"start_date"`
	StartTime   string          `json:"startTime" db:"start_time"`
	EndDate     time.Time       `json:"endDate" db:"end_date"`
	EndTime     string          `json:"endTime" db:"end_time"`
	Status      string          `json:"status" db:"status"`
}

const (
	EventStatusUpcoming  = "upcoming"
	EventStatusCompleted = "completed"
	EventStatusCancelled = "cancelled"
)

// EndsAt resolves the event's end date and "HH:MM" end time in loc.
func (e *Event) EndsAt(loc *time.Location) (time.Time, error) {
	clock, err := time.Parse("15:04", e.EndTime)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := e.EndDate.Date()
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), 0, 0, loc), nil
}

// Calendar day states.
const (
	CalendarAvailable = "available"
	CalendarBlocked   = "blocked"
	CalendarBooked    = "booked"
)

type CalendarDay struct {
	PropertyID uuid.UUID  `json:"propertyId" db:"property_id"`
	Date       time.Time  `json:"date" db:"date"`
	Status     string     `json:"status" db:"status"`
	BookingID  *uuid.UUID `json:"bookingId,omitempty" db:"booking_id"`
}
