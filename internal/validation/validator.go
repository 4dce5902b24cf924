package validation

import (
	"fmt"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with the custom tags and struct-level rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// notblank rejects strings that are empty after trimming
	_ = v.RegisterValidation("notblank", func(fl validatorv10.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})

	// a product may appear several times (the writer merges them) but only at one price
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

// createOrderStructValidation rejects carts listing the same product and variant at
// different unit prices.
func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	seen := make(map[[2]string]int64, len(req.Items))
	for _, it := range req.Items {
		key := [2]string{strings.TrimSpace(it.ProductID), strings.TrimSpace(it.Variant)}
		if price, ok := seen[key]; ok && price != it.UnitPrice {
			sl.ReportError(req.Items, "items", "Items", "consistent_prices",
				fmt.Sprintf("%s listed at %d and %d", key[0], price, it.UnitPrice))
			return
		}
		seen[key] = it.UnitPrice
	}
}
