package services

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// CancellationQuote is the outcome of the cancellation policy for one booking
// at one instant. Quote and Cancel compute it the same way.
type CancellationQuote struct {
	DaysBeforeCheckIn int             `json:"daysBeforeCheckIn"`
	PenaltyPercent    int             `json:"penaltyPercent"`
	PenaltyAmount     decimal.Decimal `json:"penaltyAmount"`
	RefundAmount      decimal.Decimal `json:"refundAmount"`
	FinalAmount       decimal.Decimal `json:"finalAmount"`
	HostInitiated     bool            `json:"hostInitiated"`
}

type penaltyTier struct {
	maxDays int
	percent int
}

// Evaluated in order; days above the last tier carry no penalty.
var penaltyTiers = []penaltyTier{
	{maxDays: 1, percent: 80},
	{maxDays: 7, percent: 50},
	{maxDays: 15, percent: 25},
	{maxDays: 30, percent: 10},
}

// DaysBeforeCheckIn rounds the remaining time up to whole days.
func DaysBeforeCheckIn(checkIn, now time.Time) int {
	return int(math.Ceil(checkIn.Sub(now).Hours() / 24))
}

// PenaltyPercentFor returns the guest penalty tier, rejecting stays that have
// already started.
func PenaltyPercentFor(days int) (int, error) {
	if days <= 0 {
		return 0, &ValidationError{Field: "checkIn", Reason: "booking has already started and can no longer be cancelled"}
	}
	for _, tier := range penaltyTiers {
		if days <= tier.maxDays {
			return tier.percent, nil
		}
	}
	return 0, nil
}

// ComputeCancellation splits finalAmount into a whole-unit penalty and the
// refund, so the two always add back up to finalAmount. Host-initiated
// cancellations refund in full.
func ComputeCancellation(finalAmount decimal.Decimal, days int, hostInitiated bool) (*CancellationQuote, error) {
	percent, err := PenaltyPercentFor(days)
	if err != nil {
		return nil, err
	}
	if hostInitiated {
		percent = 0
	}

	penalty := finalAmount.Mul(decimal.NewFromInt(int64(percent))).Div(hundred).Round(0)
	return &CancellationQuote{
		DaysBeforeCheckIn: days,
		PenaltyPercent:    percent,
		PenaltyAmount:     penalty,
		RefundAmount:      finalAmount.Sub(penalty),
		FinalAmount:       finalAmount,
		HostInitiated:     hostInitiated,
	}, nil
}
