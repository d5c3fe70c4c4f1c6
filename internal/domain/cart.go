package domain

import (
	"fmt"
	"math"
)

// MaxLineQuantity caps a single cart line.
const MaxLineQuantity = 999999

// CheckoutItem is what a client submits: a product reference and a quantity.
// Prices are never taken from the client.
type CheckoutItem struct {
	ProductID ProductID `json:"id"`
	Quantity  int64     `json:"quantity"`
}

// CartLine is a priced line ready for checkout. Lines with the same product
// are kept as separate lines.
type CartLine struct {
	ProductID           string `json:"productId" validate:"required"`
	Name                string `json:"name"`
	Quantity            int64  `json:"quantity" validate:"gte=1,lte=999999"`
	UnitPriceMinorUnits int64  `json:"unitPriceMinorUnits" validate:"gte=0"`
}

// LineTotal returns quantity × unit price in minor units, failing with a
// ValidationError instead of wrapping around.
func (l CartLine) LineTotal() (int64, error) {
	if l.Quantity < 0 || l.UnitPriceMinorUnits < 0 {
		return 0, Invalid("total", "line amounts must not be negative")
	}
	if l.Quantity != 0 && l.UnitPriceMinorUnits > math.MaxInt64/l.Quantity {
		return 0, Invalid("total", fmt.Sprintf("line for product %s is too large", l.ProductID))
	}
	return l.Quantity * l.UnitPriceMinorUnits, nil
}

// TotalMinorUnits sums every line without merging duplicates.
func TotalMinorUnits(lines []CartLine) (int64, error) {
	var total int64
	for _, l := range lines {
		lt, err := l.LineTotal()
		if err != nil {
			return 0, err
		}
		if total > math.MaxInt64-lt {
			return 0, Invalid("total", "order total is too large")
		}
		total += lt
	}
	return total, nil
}
