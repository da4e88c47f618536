package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/staybook/backend/internal/models"
)

const propertyColumns = `id, host_id, title, price_per_night, cleaning_fee, weekly_discount_percent, tax_percent,
	max_guests, currency, status`

const eventColumns = `id, host_id, title, ticket_price, tax_percent, capacity, currency,
	start_date, start_time, end_date, end_time, status`

func getProperty(ctx context.Context, q dbtx, id uuid.UUID) (*models.Property, error) {
	var p models.Property
	err := q.QueryRowContext(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = $1`, id).Scan(
		&p.ID, &p.HostID, &p.Title, &p.PricePerNight, &p.CleaningFee, &p.WeeklyDiscountPercent, &p.TaxPercent,
		&p.MaxGuests, &p.Currency, &p.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "property", ID: id.String()}
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var e models.Event
	if err := row.Scan(&e.ID, &e.HostID, &e.Title, &e.TicketPrice, &e.TaxPercent, &e.Capacity, &e.Currency,
		&e.StartDate, &e.StartTime, &e.EndDate, &e.EndTime, &e.Status); err != nil {
		return nil, err
	}
	return &e, nil
}

func getEvent(ctx context.Context, q dbtx, id uuid.UUID) (*models.Event, error) {
	e, err := scanEvent(q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "event", ID: id.String()}
	}
	return e, err
}

// ticketsSold counts tickets on confirmed event bookings.
func ticketsSold(ctx context.Context, q dbtx, eventID uuid.UUID) (int, error) {
	var sold int
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(tickets), 0) FROM booking_events WHERE event_id = $1 AND status = 'confirmed'`,
		eventID).Scan(&sold)
	return sold, err
}
