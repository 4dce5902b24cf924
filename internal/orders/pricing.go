package orders

import (
	"errors"
	"fmt"
	"math"
)

// ShippingPolicy charges a flat fee below the free-shipping threshold.
type ShippingPolicy struct {
	FlatFee       int64
	FreeThreshold int64 // zero disables free shipping
}

// Fee returns the shipping fee for subtotal.
func (p ShippingPolicy) Fee(subtotal int64) int64 {
	if p.FreeThreshold > 0 && subtotal >= p.FreeThreshold {
		return 0
	}
	return p.FlatFee
}

// Totals is the priced breakdown of an order.
type Totals struct {
	Subtotal       int64
	ShippingFee    int64
	DiscountAmount int64
	Total          int64
}

// ErrInvalidTotals is returned for negative inputs or a discount above subtotal+shipping.
var ErrInvalidTotals = errors.New("invalid order totals")

// ComputeTotals derives total = subtotal + shippingFee - discountAmount.
func ComputeTotals(subtotal, shippingFee, discountAmount int64) (Totals, error) {
	if subtotal < 0 || shippingFee < 0 || discountAmount < 0 {
		return Totals{}, fmt.Errorf("%w: negative component", ErrInvalidTotals)
	}
	gross := subtotal + shippingFee
	if gross < subtotal {
		return Totals{}, fmt.Errorf("%w: overflow", ErrInvalidTotals)
	}
	if discountAmount > gross {
		return Totals{}, fmt.Errorf("%w: discount %d exceeds %d", ErrInvalidTotals, discountAmount, gross)
	}
	return Totals{
		Subtotal:       subtotal,
		ShippingFee:    shippingFee,
		DiscountAmount: discountAmount,
		Total:          gross - discountAmount,
	}, nil
}

// LineSubtotal sums quantity*price over lines, failing on overflow.
func LineSubtotal(items []Item) (int64, error) {
	var sum int64
	for _, it := range items {
		if it.Quantity <= 0 || it.PriceAtTime < 0 {
			return 0, fmt.Errorf("%w: line %s", ErrInvalidTotals, it.ProductID)
		}
		if it.PriceAtTime > 0 && int64(it.Quantity) > math.MaxInt64/it.PriceAtTime {
			return 0, fmt.Errorf("%w: overflow", ErrInvalidTotals)
		}
		line := int64(it.Quantity) * it.PriceAtTime
		if sum > math.MaxInt64-line {
			return 0, fmt.Errorf("%w: overflow", ErrInvalidTotals)
		}
		sum += line
	}
	return sum, nil
}
