package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrUnsupportedSnapshot is returned for snapshots of an unknown kind or version.
var ErrUnsupportedSnapshot = errors.New("unsupported purchase snapshot")

const SnapshotVersion = 1

const (
	SnapshotKindProperty = "property"
	SnapshotKindEvent    = "event"
)

// PropertyPriceBreakdown is the frozen pricing of a stay.
type PropertyPriceBreakdown struct {
	NightlyRate    decimal.Decimal `json:"nightlyRate"`
	Nights         int             `json:"nights"`
	BaseAmount     decimal.Decimal `json:"baseAmount"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	ExtrasAmount   decimal.Decimal `json:"extrasAmount"`
	PreTaxAmount   decimal.Decimal `json:"preTaxAmount"`
	TaxPercent     decimal.Decimal `json:"taxPercent"`
	TaxAmount      decimal.Decimal `json:"taxAmount"`
	FinalAmount    decimal.Decimal `json:"finalAmount"`
}

// EventPriceBreakdown is the frozen pricing of a ticket purchase.
type EventPriceBreakdown struct {
	TicketPrice decimal.Decimal `json:"ticketPrice"`
	Tickets     int             `json:"tickets"`
	BaseAmount  decimal.Decimal `json:"baseAmount"`
	TaxPercent  decimal.Decimal `json:"taxPercent"`
	TaxAmount   decimal.Decimal `json:"taxAmount"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

type PropertyBookingSnapshot struct {
	PropertyID uuid.UUID              `json:"propertyId"`
	HostID     string                 `json:"hostId"`
	GuestID    string                 `json:"guestId"`
	CheckIn    time.Time              `json:"checkIn"`
	CheckOut   time.Time              `json:"checkOut"`
	Adults     int                    `json:"adults"`
	Children   int                    `json:"children"`
	Infants    int                    `json:"infants"`
	Currency   string                 `json:"currency"`
	Pricing    PropertyPriceBreakdown `json:"pricing"`
}

type EventBookingSnapshot struct {
	EventID  uuid.UUID           `json:"eventId"`
	HostID   string              `json:"hostId"`
	GuestID  string              `json:"guestId"`
	Tickets  int                 `json:"tickets"`
	Currency string              `json:"currency"`
	Pricing  EventPriceBreakdown `json:"pricing"`
}

// PurchaseSnapshot is the booking intent captured on the transaction log
// before payment. Exactly one of Property or Event is set, matching Kind.
type PurchaseSnapshot struct {
	Kind     string                   `json:"kind"`
	Version  int                      `json:"version"`
	Property *PropertyBookingSnapshot `json:"property,omitempty"`
	Event    *EventBookingSnapshot    `json:"event,omitempty"`
}

func NewPropertySnapshot(s PropertyBookingSnapshot) PurchaseSnapshot {
	return PurchaseSnapshot{Kind: SnapshotKindProperty, Version: SnapshotVersion, Property: &s}
}

func NewEventSnapshot(s EventBookingSnapshot) PurchaseSnapshot {
	return PurchaseSnapshot{Kind: SnapshotKindEvent, Version: SnapshotVersion, Event: &s}
}

// Validate checks kind, version and the fields materialization depends on.
func (s *PurchaseSnapshot) Validate() error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("%w: version %d", ErrUnsupportedSnapshot, s.Version)
	}

	switch s.Kind {
	case SnapshotKindProperty:
		p := s.Property
		if p == nil || s.Event != nil {
			return fmt.Errorf("%w: property snapshot missing", ErrUnsupportedSnapshot)
		}
		if p.PropertyID == uuid.Nil || p.HostID == "" || p.GuestID == "" {
			return fmt.Errorf("%w: property snapshot identity incomplete", ErrUnsupportedSnapshot)
		}
		if !p.CheckOut.After(p.CheckIn) || p.Pricing.Nights <= 0 {
			return fmt.Errorf("%w: property snapshot date range invalid", ErrUnsupportedSnapshot)
		}
		if !p.Pricing.FinalAmount.IsPositive() {
			return fmt.Errorf("%w: property snapshot amount invalid", ErrUnsupportedSnapshot)
		}
	case SnapshotKindEvent:
		e := s.Event
		if e == nil || s.Property != nil {
			return fmt.Errorf("%w: event snapshot missing", ErrUnsupportedSnapshot)
		}
		if e.EventID == uuid.Nil || e.HostID == "" || e.GuestID == "" || e.Tickets <= 0 {
			return fmt.Errorf("%w: event snapshot identity incomplete", ErrUnsupportedSnapshot)
		}
		if !e.Pricing.TotalAmount.IsPositive() {
			return fmt.Errorf("%w: event snapshot amount invalid", ErrUnsupportedSnapshot)
		}
	default:
		return fmt.Errorf("%w: kind %q", ErrUnsupportedSnapshot, s.Kind)
	}
	return nil
}

// Value implements driver.Valuer for PurchaseSnapshot
func (s PurchaseSnapshot) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for PurchaseSnapshot. It only decodes; call
// Validate before acting on the result.
func (s *PurchaseSnapshot) Scan(value any) error {
	if value == nil {
		*s = PurchaseSnapshot{}
		return nil
	}

	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, s)
}
