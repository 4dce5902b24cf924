package sqlstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/imrishuroy/storefront-checkout/internal/cart"
	"github.com/imrishuroy/storefront-checkout/internal/discount"
	"github.com/imrishuroy/storefront-checkout/internal/orders"
)

// dryRun returns a handle that renders SQL without a server.
func dryRun(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "checkout:secret@tcp(127.0.0.1:3306)/checkout?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true, SkipDefaultTransaction: true})
	require.NoError(t, err)
	return db
}

func TestStatusUpdateIsGuarded(t *testing.T) {
	paidAt := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	stmt := statusUpdate(dryRun(t), "ORD1", orders.StatusUpdate{
		Status:        orders.StatusPaid,
		PaymentLinkID: "pl_1",
		PaidAt:        &paidAt,
		UpdatedAt:     paidAt,
	}).Statement

	sql := stmt.SQL.String()
	assert.Contains(t, sql, "UPDATE `orders` SET")
	assert.Contains(t, sql, "`status`=?")
	assert.Contains(t, sql, "`paid_at`=?")
	assert.Contains(t, sql, "`payment_link_id`=?")
	assert.Contains(t, sql, "WHERE order_code = ? AND status IN (?,?)")
	assert.Contains(t, stmt.Vars, orders.StatusPending)
	assert.Contains(t, stmt.Vars, orders.StatusProcessing)
}

func TestStatusUpdateOmitsUnsetFields(t *testing.T) {
	sql := statusUpdate(dryRun(t), "ORD1", orders.StatusUpdate{Status: orders.StatusFailed, UpdatedAt: time.Now()}).
		Statement.SQL.String()
	assert.NotContains(t, sql, "paid_at")
	assert.NotContains(t, sql, "payment_link_id")
}

func TestIncrementUsageIsAtomic(t *testing.T) {
	stmt := incrementUsage(dryRun(t), "d1", time.Now()).Statement
	sql := stmt.SQL.String()
	assert.Contains(t, sql, "UPDATE `discount_codes` SET")
	assert.Contains(t, sql, "`uses_count`=uses_count + ?")
	assert.Contains(t, sql, "WHERE id = ?")
}

func TestUpsertCartLineSumsQuantity(t *testing.T) {
	sql := upsertCartLine(dryRun(t), "u1", cart.Item{ProductID: "p1", Quantity: 2, UnitPrice: 1000}, time.Now()).
		Statement.SQL.String()
	assert.Contains(t, sql, "INSERT INTO `cart_items`")
	assert.Contains(t, sql, "ON DUPLICATE KEY UPDATE")
	assert.Contains(t, sql, "`quantity`=quantity + ?")
	assert.NotContains(t, sql, "`unit_price`=")
}

func TestCountPaidWithDiscountFilters(t *testing.T) {
	var n int64
	sql := paidWithDiscount(dryRun(t), "u1", "d1").Count(&n).Statement.SQL.String()
	assert.Contains(t, sql, "SELECT count(*) FROM `orders`")
	assert.Contains(t, sql, "user_id = ? AND discount_code_id = ? AND status = ?")
}

func TestOrderRowRoundTrip(t *testing.T) {
	paid := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	in := &orders.Order{
		ID: "o1", OrderCode: "ORD1", UserID: "u1", Status: orders.StatusPaid,
		Subtotal: 250000, ShippingFee: 20000, DiscountAmount: 25000, Total: 245000,
		ShippingAddressID: "a1", ShippingAddressSnapshot: `{"fullName":"A"}`,
		DiscountCodeID: "d1", PaymentLinkID: "pl", PaidAt: &paid,
	}
	require.Equal(t, in, newOrderRow(in).toOrder())

	in.DiscountCodeID = ""
	row := newOrderRow(in)
	require.Nil(t, row.DiscountCodeID)
	require.Empty(t, row.toOrder().DiscountCodeID)
}

func TestDiscountRowNormalisesCode(t *testing.T) {
	pct := int64(10)
	row := newDiscountRow(discount.Code{ID: "d1", Code: " summer10 ", Kind: discount.KindPercent, PercentOff: &pct, Enabled: true})
	require.Equal(t, "SUMMER10", row.Code)
	c := row.toCode()
	require.Equal(t, discount.KindPercent, c.Kind)
	require.Equal(t, int64(10), *c.PercentOff)
}

func TestAddressRowUsesIdentityKey(t *testing.T) {
	a := orders.ShippingAddress{FullName: "A", Phone: "1", AddressLine: "L", Province: "P", District: "D", Note: "x"}
	b := a
	b.FullName = " A "
	b.Note = "other"
	now := time.Now()
	require.Equal(t, newAddressRow("1", "u", a, now).AddressKey, newAddressRow("2", "u", b, now).AddressKey)
}

func TestMigrateCoversEveryModel(t *testing.T) {
	db := dryRun(t)
	for _, m := range allModels() {
		stmt := db.Session(&gorm.Session{NewDB: true}).Statement
		require.NoError(t, stmt.Parse(m))
		require.NotEmpty(t, stmt.Schema.PrimaryFields, stmt.Schema.Table)
	}
}
