package validation

// Address is the shipping address submitted at checkout.
type Address struct {
	FullName    string `json:"fullName" validate:"notblank,max=255"`
	Phone       string `json:"phone" validate:"notblank,max=32"`
	Email       string `json:"email" validate:"notblank,email,max=255"`
	AddressLine string `json:"addressLine" validate:"notblank,max=512"`
	Province    string `json:"province" validate:"notblank,max=128"`
	District    string `json:"district" validate:"notblank,max=128"`
	Ward        string `json:"ward,omitempty" validate:"max=128"`
	Note        string `json:"note,omitempty" validate:"max=512"`
}

// Item represents a single cart line.
type Item struct {
	ProductID string `json:"productId" validate:"notblank,max=64"`
	Quantity  int    `json:"quantity" validate:"min=1"`  // must be >= 1
	UnitPrice int64  `json:"unitPrice" validate:"gte=0"` // price snapshot, VND
	Variant   string `json:"variant,omitempty" validate:"max=128"`
}

// CreateOrderRequest is the payload for POST /orders
type CreateOrderRequest struct {
	Items           []Item  `json:"items" validate:"min=1,max=50,dive"`
	ShippingAddress Address `json:"shippingAddress"`
	DiscountCode    string  `json:"discountCode,omitempty" validate:"max=64"`
	// ExpectedTotal is the total shown to the shopper; the server recomputes it.
	ExpectedTotal *int64 `json:"expectedTotal,omitempty" validate:"omitempty,gte=0"`
}

// CreatePaymentRequest is the payload for POST /payments/create
type CreatePaymentRequest struct {
	OrderCode string `json:"orderCode" validate:"notblank,max=32"`
}

// SetQuantityRequest is the payload for PATCH /cart/items/:productId. Zero removes the line.
type SetQuantityRequest struct {
	Quantity int `json:"quantity" validate:"min=0"`
}

// MergeCartRequest is the payload for POST /cart/merge
type MergeCartRequest struct {
	Items []Item `json:"items" validate:"max=50,dive"`
}
