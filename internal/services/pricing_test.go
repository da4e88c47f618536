package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/staybook/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1000000), ToMinorUnits(dec("10000")))
	assert.Equal(t, int64(1050050), ToMinorUnits(dec("10500.50")))
	assert.Equal(t, int64(101), ToMinorUnits(dec("1.005")))
	assert.Equal(t, int64(100), ToMinorUnits(dec("1.0049")))
}

func TestPriceProperty(t *testing.T) {
	p := &models.Property{
		PricePerNight:         dec("2500"),
		CleaningFee:           dec("500"),
		WeeklyDiscountPercent: dec("10"),
		TaxPercent:            dec("12"),
	}

	t.Run("short stay has no discount", func(t *testing.T) {
		b := PriceProperty(p, 3)
		assert.True(t, b.BaseAmount.Equal(dec("7500")))
		assert.True(t, b.DiscountAmount.IsZero())
		assert.True(t, b.PreTaxAmount.Equal(dec("8000")))
		assert.True(t, b.TaxAmount.Equal(dec("960")))
		assert.True(t, b.FinalAmount.Equal(dec("8960")))
	})

	t.Run("weekly discount from seven nights", func(t *testing.T) {
		b := PriceProperty(p, 7)
		assert.True(t, b.BaseAmount.Equal(dec("17500")))
		assert.True(t, b.DiscountAmount.Equal(dec("1750")))
		assert.True(t, b.PreTaxAmount.Equal(dec("16250")))
		assert.True(t, b.TaxAmount.Equal(dec("1950")))
		assert.True(t, b.FinalAmount.Equal(dec("18200")))
	})

	t.Run("tax rounds half up", func(t *testing.T) {
		odd := &models.Property{PricePerNight: dec("99.99"), TaxPercent: dec("18")}
		b := PriceProperty(odd, 1)
		// 99.99 * 0.18 = 17.9982
		assert.True(t, b.TaxAmount.Equal(dec("18.00")))
		assert.True(t, b.FinalAmount.Equal(dec("117.99")))
	})
}

func TestPriceEvent(t *testing.T) {
	e := &models.Event{TicketPrice: dec("750"), TaxPercent: dec("18")}

	b := PriceEvent(e, 2)
	assert.True(t, b.BaseAmount.Equal(dec("1500")))
	assert.True(t, b.TaxAmount.Equal(dec("270")))
	assert.True(t, b.TotalAmount.Equal(dec("1770")))
	assert.Equal(t, 2, b.Tickets)
}
