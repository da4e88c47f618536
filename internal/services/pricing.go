package services

import (
	"github.com/shopspring/decimal"
	"github.com/staybook/backend/internal/models"
)

const weeklyDiscountNights = 7

var hundred = decimal.NewFromInt(100)

// percentOf returns amount × percent / 100 rounded half-up to two places.
func percentOf(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).Div(hundred).Round(2)
}

// ToMinorUnits converts a major-unit amount to the smallest currency unit,
// rounding half-up.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func PriceProperty(p *models.Property, nights int) models.PropertyPriceBreakdown {
	base := p.PricePerNight.Mul(decimal.NewFromInt(int64(nights)))

	discount := decimal.Zero
	if nights >= weeklyDiscountNights && p.WeeklyDiscountPercent.IsPositive() {
		discount = percentOf(base, p.WeeklyDiscountPercent)
	}

	extras := p.CleaningFee
	preTax := base.Sub(discount).Add(extras)
	tax := percentOf(preTax, p.TaxPercent)

	return models.PropertyPriceBreakdown{
		NightlyRate:    p.PricePerNight,
		Nights:         nights,
		BaseAmount:     base,
		DiscountAmount: discount,
		ExtrasAmount:   extras,
		PreTaxAmount:   preTax,
		TaxPercent:     p.TaxPercent,
		TaxAmount:      tax,
		FinalAmount:    preTax.Add(tax),
	}
}

func PriceEvent(e *models.Event, tickets int) models.EventPriceBreakdown {
	base := e.TicketPrice.Mul(decimal.NewFromInt(int64(tickets)))
	tax := percentOf(base, e.TaxPercent)

	return models.EventPriceBreakdown{
		TicketPrice: e.TicketPrice,
		Tickets:     tickets,
		BaseAmount:  base,
		TaxPercent:  e.TaxPercent,
		TaxAmount:   tax,
		TotalAmount: base.Add(tax),
	}
}
