package services

import (
	"context"
	"database/sql"
	"fmt"
)

const bookingCounter = "property_booking"

// CounterService hands out gap-tolerant sequence numbers from the counters
// table, one row per named counter.
type CounterService struct {
	db *sql.DB
}

func NewCounterService(db *sql.DB) *CounterService {
	return &CounterService{db: db}
}

func (s *CounterService) Next(ctx context.Context, name string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO counters (name, value) VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
		RETURNING value`, name).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", name, err)
	}
	return value, nil
}

// FormatCode renders a sequence as prefix plus a zero-padded number, e.g. BK00001.
func FormatCode(prefix string, width int, seq int64) string {
	return fmt.Sprintf("%s%0*d", prefix, width, seq)
}
