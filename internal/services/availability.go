package services

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// AvailabilityChecker answers whether every night in a stay is bookable.
// The answer is advisory; only the calendar claim in the materializer is
// authoritative.
type AvailabilityChecker struct {
	db *sql.DB
}

func NewAvailabilityChecker(db *sql.DB) *AvailabilityChecker {
	return &AvailabilityChecker{db: db}
}

// Check covers nights from checkIn up to, not including, checkOut.
func (c *AvailabilityChecker) Check(ctx context.Context, propertyID uuid.UUID, checkIn, checkOut time.Time) error {
	if !checkOut.After(checkIn) {
		return &ValidationError{Field: "checkOut", Reason: "must be after checkIn"}
	}

	dates, err := c.unavailableDates(ctx, c.db, propertyID, checkIn, checkOut)
	if err != nil {
		return err
	}
	if len(dates) > 0 {
		return &AvailabilityConflictError{PropertyID: propertyID.String(), Dates: dates}
	}
	return nil
}

func (c *AvailabilityChecker) unavailableDates(ctx context.Context, q queryer, propertyID uuid.UUID, checkIn, checkOut time.Time) ([]time.Time, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT date FROM property_calendar
		WHERE property_id = $1 AND date >= $2 AND date < $3
		AND status IN ('blocked', 'booked')
		ORDER BY date`,
		propertyID, checkIn, checkOut)
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// nightsBetween counts calendar nights; both ends are dates at midnight.
func nightsBetween(checkIn, checkOut time.Time) int {
	return int(checkOut.Sub(checkIn).Hours() / 24)
}

func parseDate(field, value string) (time.Time, error) {
	d, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, &ValidationError{Field: field, Reason: "must be a YYYY-MM-DD date"}
	}
	return d, nil
}

// CheckAvailability reports whether a property can be booked for a stay
// @Summary Check property availability
// @Description Check every night between checkIn and checkOut (exclusive) against the property calendar
// @Tags availability
// @Produce json
// @Param propertyId path string true "Property ID"
// @Param checkIn query string true "Check-in date (YYYY-MM-DD)"
// @Param checkOut query string true "Check-out date (YYYY-MM-DD)"
// @Success 200 {object} object{available=bool,nights=int}
// @Failure 400 {object} ErrorResponse
// @Router /properties/{propertyId}/availability [get]
func (c *AvailabilityChecker) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	propertyID, err := uuid.Parse(chi.URLParam(r, "propertyId"))
	if err != nil {
		SendErrorResponse(w, "Invalid property id", http.StatusBadRequest, nil)
		return
	}

	checkIn, err := parseDate("checkIn", r.URL.Query().Get("checkIn"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	checkOut, err := parseDate("checkOut", r.URL.Query().Get("checkOut"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	if err := c.Check(r.Context(), propertyID, checkIn, checkOut); err != nil {
		WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"available": true,
		"nights":    nightsBetween(checkIn, checkOut),
	})
}
