package sqlstore

import (
	"time"

	"github.com/imrishuroy/storefront-checkout/internal/cart"
	"github.com/imrishuroy/storefront-checkout/internal/discount"
	"github.com/imrishuroy/storefront-checkout/internal/idempotency"
	"github.com/imrishuroy/storefront-checkout/internal/orders"
)

type addressRow struct {
	ID          string `gorm:"column:id;type:varchar(36);primaryKey"`
	UserID      string `gorm:"column:user_id;type:varchar(64);uniqueIndex:idx_address_identity,priority:1"`
	AddressKey  string `gorm:"column:address_key;type:char(64);uniqueIndex:idx_address_identity,priority:2"`
	FullName    string `gorm:"column:full_name;type:varchar(255)"`
	Phone       string `gorm:"column:phone;type:varchar(32)"`
	Email       string `gorm:"column:email;type:varchar(255)"`
	AddressLine string `gorm:"column:address_line;type:varchar(512)"`
	Province    string `gorm:"column:province;type:varchar(128)"`
	District    string `gorm:"column:district;type:varchar(128)"`
	Ward        string `gorm:"column:ward;type:varchar(128)"`
	Note        string `gorm:"column:note;type:varchar(512)"`
	CreatedAt   time.Time
}

func (addressRow) TableName() string { return "shipping_addresses" }

func newAddressRow(id, userID string, a orders.ShippingAddress, now time.Time) addressRow {
	return addressRow{
		ID:          id,
		UserID:      userID,
		AddressKey:  a.Key(),
		FullName:    a.FullName,
		Phone:       a.Phone,
		Email:       a.Email,
		AddressLine: a.AddressLine,
		Province:    a.Province,
		District:    a.District,
		Ward:        a.Ward,
		Note:        a.Note,
		CreatedAt:   now,
	}
}

type orderRow struct {
	ID                      string  `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderCode               string  `gorm:"column:order_code;type:varchar(32);uniqueIndex"`
	UserID                  string  `gorm:"column:user_id;type:varchar(64);index:idx_orders_user_discount,priority:1"`
	Status                  string  `gorm:"column:status;type:varchar(16);index"`
	Subtotal                int64   `gorm:"column:subtotal"`
	DiscountAmount          int64   `gorm:"column:discount_amount"`
	ShippingFee             int64   `gorm:"column:shipping_fee"`
	Total                   int64   `gorm:"column:total"`
	ShippingAddressID       string  `gorm:"column:shipping_address_id;type:varchar(36)"`
	ShippingAddressSnapshot string  `gorm:"column:shipping_address_snapshot;type:text"`
	DiscountCodeID          *string `gorm:"column:discount_code_id;type:varchar(36);index:idx_orders_user_discount,priority:2"`
	PaymentLinkID           string  `gorm:"column:payment_link_id;type:varchar(64)"`
	PaidAt                  *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (orderRow) TableName() string { return "orders" }

func newOrderRow(o *orders.Order) orderRow {
	row := orderRow{
		ID:                      o.ID,
		OrderCode:               o.OrderCode,
		UserID:                  o.UserID,
		Status:                  o.Status,
		Subtotal:                o.Subtotal,
		DiscountAmount:          o.DiscountAmount,
		ShippingFee:             o.ShippingFee,
		Total:                   o.Total,
		ShippingAddressID:       o.ShippingAddressID,
		ShippingAddressSnapshot: o.ShippingAddressSnapshot,
		PaymentLinkID:           o.PaymentLinkID,
		PaidAt:                  o.PaidAt,
		CreatedAt:               o.CreatedAt,
		UpdatedAt:               o.UpdatedAt,
	}
	if o.DiscountCodeID != "" {
		id := o.DiscountCodeID
		row.DiscountCodeID = &id
	}
	return row
}

func (r orderRow) toOrder() *orders.Order {
	o := &orders.Order{
		ID:                      r.ID,
		OrderCode:               r.OrderCode,
		UserID:                  r.UserID,
		Status:                  r.Status,
		Subtotal:                r.Subtotal,
		DiscountAmount:          r.DiscountAmount,
		ShippingFee:             r.ShippingFee,
		Total:                   r.Total,
		ShippingAddressID:       r.ShippingAddressID,
		ShippingAddressSnapshot: r.ShippingAddressSnapshot,
		PaymentLinkID:           r.PaymentLinkID,
		PaidAt:                  r.PaidAt,
		CreatedAt:               r.CreatedAt,
		UpdatedAt:               r.UpdatedAt,
	}
	if r.DiscountCodeID != nil {
		o.DiscountCodeID = *r.DiscountCodeID
	}
	return o
}

type orderItemRow struct {
	OrderID     string `gorm:"column:order_id;type:varchar(36);primaryKey"`
	Line        int    `gorm:"column:line;primaryKey;autoIncrement:false"`
	ProductID   string `gorm:"column:product_id;type:varchar(64)"`
	Variant     string `gorm:"column:variant;type:varchar(128)"`
	Quantity    int    `gorm:"column:quantity"`
	PriceAtTime int64  `gorm:"column:price_at_time"`
}

func (orderItemRow) TableName() string { return "order_items" }

type discountRow struct {
	ID             string `gorm:"column:id;type:varchar(36);primaryKey"`
	Code           string `gorm:"column:code;type:varchar(64);uniqueIndex"`
	Kind           string `gorm:"column:kind;type:varchar(16)"`
	PercentOff     *int64 `gorm:"column:percent_off"`
	AmountOff      *int64 `gorm:"column:amount_off"`
	StartAt        time.Time
	EndAt          *time.Time
	Enabled        bool   `gorm:"column:enabled"`
	MaxUses        *int64 `gorm:"column:max_uses"`
	UsesCount      int64  `gorm:"column:uses_count;not null;default:0"`
	PerUserLimit   int64  `gorm:"column:per_user_limit"`
	MinOrderAmount int64  `gorm:"column:min_order_amount"`
	UpdatedAt      time.Time
}

func (discountRow) TableName() string { return "discount_codes" }

func newDiscountRow(c discount.Code) discountRow {
	return discountRow{
		ID:             c.ID,
		Code:           discount.Normalize(c.Code),
		Kind:           string(c.Kind),
		PercentOff:     c.PercentOff,
		AmountOff:      c.AmountOff,
		StartAt:        c.StartAt,
		EndAt:          c.EndAt,
		Enabled:        c.Enabled,
		MaxUses:        c.MaxUses,
		UsesCount:      c.UsesCount,
		PerUserLimit:   c.PerUserLimit,
		MinOrderAmount: c.MinOrderAmount,
	}
}

func (r discountRow) toCode() *discount.Code {
	return &discount.Code{
		ID:             r.ID,
		Code:           r.Code,
		Kind:           discount.Kind(r.Kind),
		PercentOff:     r.PercentOff,
		AmountOff:      r.AmountOff,
		StartAt:        r.StartAt,
		EndAt:          r.EndAt,
		Enabled:        r.Enabled,
		MaxUses:        r.MaxUses,
		UsesCount:      r.UsesCount,
		PerUserLimit:   r.PerUserLimit,
		MinOrderAmount: r.MinOrderAmount,
	}
}

type cartRow struct {
	UserID    string `gorm:"column:user_id;type:varchar(64);primaryKey"`
	ProductID string `gorm:"column:product_id;type:varchar(64);primaryKey"`
	Quantity  int    `gorm:"column:quantity"`
	UnitPrice int64  `gorm:"column:unit_price"`
	Variant   string `gorm:"column:variant;type:varchar(128)"`
	UpdatedAt time.Time
}

func (cartRow) TableName() string { return "cart_items" }

func (r cartRow) toItem() cart.Item {
	return cart.Item{ProductID: r.ProductID, Quantity: r.Quantity, UnitPrice: r.UnitPrice, Variant: r.Variant}
}

type productRow struct {
	ID     string `gorm:"column:id;type:varchar(64);primaryKey"`
	Name   string `gorm:"column:name;type:varchar(255)"`
	Price  int64  `gorm:"column:price"`
	Active bool   `gorm:"column:active"`
}

func (productRow) TableName() string { return "products" }

type idempotencyRow struct {
	Key            string `gorm:"column:idempotency_key;type:varchar(191);primaryKey"`
	Fingerprint    string `gorm:"column:fingerprint;type:char(64)"`
	Status         string `gorm:"column:status;type:varchar(16)"`
	ResponseBody   string `gorm:"column:response_body;type:mediumtext"`
	ResponseStatus int    `gorm:"column:response_status"`
	Note           string `gorm:"column:note;type:varchar(512)"`
	ExpiresAt      int64  `gorm:"column:expires_at;index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (idempotencyRow) TableName() string { return "idempotency_keys" }

func (r idempotencyRow) toRecord() *idempotency.Record {
	return &idempotency.Record{
		IdempotencyKey: r.Key,
		Fingerprint:    r.Fingerprint,
		Status:         r.Status,
		ResponseBody:   r.ResponseBody,
		ResponseStatus: r.ResponseStatus,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		ExpiresAt:      r.ExpiresAt,
		Note:           r.Note,
	}
}

func allModels() []any {
	return []any{
		&addressRow{}, &orderRow{}, &orderItemRow{}, &discountRow{},
		&cartRow{}, &productRow{}, &idempotencyRow{},
	}
}
