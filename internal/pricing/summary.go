package pricing

// LineTotals holds the before/after totals of one cart line.
type LineTotals struct {
	Before Money
	After  Money
}

// Summary aggregates computed pricing components.
type Summary struct {
	Subtotal Money
	Total    Money
	Discount Money
	// Tax is a flat-rate display estimate and is not part of Total.
	Tax Money
}

// Summarize calculates cart totals from line totals.
func Summarize(lines []LineTotals, taxBps int) Summary {
	var subtotal, total Money
	for _, l := range lines {
		subtotal += l.Before
		total += l.After
	}
	var tax Money
	if taxBps > 0 && total > 0 {
		tax = (total * Money(taxBps)) / 10000
	}
	return Summary{
		Subtotal: subtotal,
		Total:    total,
		Discount: subtotal - total,
		Tax:      tax,
	}
}
