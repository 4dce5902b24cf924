package orders

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Order statuses
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusPaid       = "PAID"
	StatusCancelled  = "CANCELLED"
	StatusFailed     = "FAILED"
)

// IsTerminal reports whether no further status transition is allowed from status.
func IsTerminal(status string) bool {
	switch status {
	case StatusPaid, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// NonTerminalStatuses are the states a payment-driven transition may start from.
var NonTerminalStatuses = []string{StatusPending, StatusProcessing}

// Order is the order header.
type Order struct {
	ID                      string     `json:"id" dynamodbav:"order_id"`
	OrderCode               string     `json:"orderCode" dynamodbav:"order_code"` // PK
	UserID                  string     `json:"userId" dynamodbav:"user_id"`
	Status                  string     `json:"status" dynamodbav:"status"`
	Subtotal                int64      `json:"subtotal" dynamodbav:"subtotal"`
	DiscountAmount          int64      `json:"discountAmount" dynamodbav:"discount_amount"`
	ShippingFee             int64      `json:"shippingFee" dynamodbav:"shipping_fee"`
	Total                   int64      `json:"total" dynamodbav:"total"`
	ShippingAddressID       string     `json:"shippingAddressId" dynamodbav:"shipping_address_id"`
	ShippingAddressSnapshot string     `json:"shippingAddressSnapshot" dynamodbav:"shipping_address_snapshot"`
	DiscountCodeID          string     `json:"discountCodeId,omitempty" dynamodbav:"discount_code_id,omitempty"`
	PaymentLinkID           string     `json:"paymentLinkId,omitempty" dynamodbav:"payment_link_id,omitempty"`
	PaidAt                  *time.Time `json:"paidAt,omitempty" dynamodbav:"paid_at,omitempty"`
	CreatedAt               time.Time  `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt               time.Time  `json:"updatedAt" dynamodbav:"updated_at"`
}

// Item is an immutable order line. PriceAtTime freezes the unit price at order time.
type Item struct {
	OrderID     string `json:"orderId" dynamodbav:"order_id"` // PK
	Line        int    `json:"line" dynamodbav:"line"`        // SK
	ProductID   string `json:"productId" dynamodbav:"product_id"`
	Variant     string `json:"variant,omitempty" dynamodbav:"variant,omitempty"`
	Quantity    int    `json:"quantity" dynamodbav:"quantity"`
	PriceAtTime int64  `json:"priceAtTime" dynamodbav:"price_at_time"`
}

// ShippingAddress is a user-owned delivery address.
type ShippingAddress struct {
	FullName    string `json:"fullName" dynamodbav:"full_name"`
	Phone       string `json:"phone" dynamodbav:"phone"`
	Email       string `json:"email" dynamodbav:"email"`
	AddressLine string `json:"addressLine" dynamodbav:"address_line"`
	Province    string `json:"province" dynamodbav:"province"`
	District    string `json:"district" dynamodbav:"district"`
	Ward        string `json:"ward,omitempty" dynamodbav:"ward,omitempty"`
	Note        string `json:"note,omitempty" dynamodbav:"note,omitempty"`
}

// Complete reports whether every required field is non-blank.
func (a ShippingAddress) Complete() bool {
	for _, v := range []string{a.FullName, a.Phone, a.Email, a.AddressLine, a.Province, a.District} {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

// Tuple is the identity used to de-duplicate addresses per user.
func (a ShippingAddress) Tuple() [5]string {
	return [5]string{
		strings.TrimSpace(a.FullName),
		strings.TrimSpace(a.Phone),
		strings.TrimSpace(a.AddressLine),
		strings.TrimSpace(a.Province),
		strings.TrimSpace(a.District),
	}
}

// Key hashes the identity tuple so equal addresses share one key.
func (a ShippingAddress) Key() string {
	t := a.Tuple()
	sum := sha256.Sum256([]byte(strings.Join(t[:], "\x1f")))
	return hex.EncodeToString(sum[:])
}

// Snapshot renders the address as the JSON stored on the order.
func (a ShippingAddress) Snapshot() (string, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// StatusUpdate describes a payment-driven transition.
type StatusUpdate struct {
	Status        string
	PaymentLinkID string
	PaidAt        *time.Time
	UpdatedAt     time.Time
}

var (
	// ErrNotFound is returned when no order matches.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateOrderCode is returned when the order code is already taken.
	ErrDuplicateOrderCode = errors.New("order code already exists")
	// ErrItemsPersist marks a failed write attributed to an order line.
	ErrItemsPersist = errors.New("order items persist failed")
	// ErrTooManyItems is returned when an order exceeds the store's line limit.
	ErrTooManyItems = errors.New("too many order lines")
)

// Repository is the persistence contract consumed by the writer and reconciler.
type Repository interface {
	// FindOrCreateAddress returns the id of the user's address with the same tuple,
	// creating it when none exists.
	FindOrCreateAddress(ctx context.Context, userID string, addr ShippingAddress) (string, error)
	// CreateOrder writes the header and all items atomically.
	CreateOrder(ctx context.Context, order *Order, items []Item) error
	// FindByCode returns ErrNotFound when absent.
	FindByCode(ctx context.Context, orderCode string) (*Order, error)
	// ListItems returns the order lines in line order.
	ListItems(ctx context.Context, orderID string) ([]Item, error)
	// ConditionalUpdateStatus applies upd only while the current status is non-terminal.
	// matched reports whether this call changed the row; the returned order is the
	// post-update row when matched. A matched update is committed even when err is set.
	ConditionalUpdateStatus(ctx context.Context, orderCode string, upd StatusUpdate) (matched bool, order *Order, err error)
	// CountPaidWithDiscount counts the user's PAID orders referencing discountID.
	CountPaidWithDiscount(ctx context.Context, userID, discountID string) (int64, error)
}
