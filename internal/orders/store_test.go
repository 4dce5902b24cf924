package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-checkout/internal/aws/dynamotest"
)

var testTables = Tables{Orders: "orders", Items: "order_items", Addresses: "addresses"}

func newFake() *dynamotest.Fake {
	return dynamotest.New(
		dynamotest.Table{Name: "orders", PK: "order_code", Indexes: map[string]dynamotest.Index{UserIndex: {PK: "user_id"}}},
		dynamotest.Table{Name: "order_items", PK: "order_id", SK: "line"},
		dynamotest.Table{Name: "addresses", PK: "user_id", SK: "address_key"},
	)
}

func sampleOrder(code string) (*Order, []Item) {
	o := &Order{
		ID:        "order-" + code,
		OrderCode: code,
		UserID:    "u1",
		Status:    StatusPending,
		Subtotal:  250000,
		Total:     270000,
	}
	items := []Item{
		{OrderID: o.ID, Line: 1, ProductID: "p1", Quantity: 1, PriceAtTime: 100000},
		{OrderID: o.ID, Line: 2, ProductID: "p2", Quantity: 1, PriceAtTime: 150000},
	}
	return o, items
}

var sampleAddress = ShippingAddress{
	FullName: "Nguyen Van A", Phone: "0900000000", Email: "a@example.com",
	AddressLine: "1 Le Loi", Province: "HCM", District: "1",
}

func TestStore_FindOrCreateAddress_Dedupes(t *testing.T) {
	ctx := context.Background()
	fake := newFake()
	s := NewStore(fake, testTables)

	id1, err := s.FindOrCreateAddress(ctx, "u1", sampleAddress)
	require.NoError(t, err)

	padded := sampleAddress
	padded.FullName = "  Nguyen Van A "
	padded.Note = "ring twice"
	id2, err := s.FindOrCreateAddress(ctx, "u1", padded)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	other, err := s.FindOrCreateAddress(ctx, "u2", sampleAddress)
	require.NoError(t, err)
	require.NotEqual(t, id1, other)
	require.Len(t, fake.Rows("addresses"), 2)
}

func TestStore_FindOrCreateAddress_Concurrent(t *testing.T) {
	ctx := context.Background()
	fake := newFake()
	s := NewStore(fake, testTables)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.FindOrCreateAddress(ctx, "u1", sampleAddress)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
	require.Len(t, fake.Rows("addresses"), 1)
}

func TestStore_CreateOrder_AndRead(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newFake(), testTables)
	o, items := sampleOrder("ORD1")

	require.NoError(t, s.CreateOrder(ctx, o, items))

	got, err := s.FindByCode(ctx, "ORD1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	require.Equal(t, int64(270000), got.Total)

	lines, err := s.ListItems(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, "p1", lines[0].ProductID)
	require.Equal(t, "p2", lines[1].ProductID)

	_, err = s.FindByCode(ctx, "ORD404")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CreateOrder_DuplicateCode(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newFake(), testTables)
	o, items := sampleOrder("ORD1")
	require.NoError(t, s.CreateOrder(ctx, o, items))

	dup, dupItems := sampleOrder("ORD1")
	dup.ID = "other"
	err := s.CreateOrder(ctx, dup, dupItems)
	require.ErrorIs(t, err, ErrDuplicateOrderCode)
}

func TestStore_CreateOrder_ItemFailureLeavesNoHeader(t *testing.T) {
	ctx := context.Background()
	fake := newFake()
	fake.Hook = func(op, table string, item dynamotest.Item) error {
		if table != "order_items" {
			return nil
		}
		if line, ok := item["line"].(*types.AttributeValueMemberN); ok && line.Value == "2" {
			return errors.New("item write rejected")
		}
		return nil
	}
	s := NewStore(fake, testTables)
	o, items := sampleOrder("ORD1")

	err := s.CreateOrder(ctx, o, items)
	require.ErrorIs(t, err, ErrItemsPersist)
	require.Empty(t, fake.Rows("orders"))
	require.Empty(t, fake.Rows("order_items"))
}

func TestStore_ConditionalUpdateStatus(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newFake(), testTables)
	o, items := sampleOrder("ORD1")
	require.NoError(t, s.CreateOrder(ctx, o, items))

	paidAt := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	matched, got, err := s.ConditionalUpdateStatus(ctx, "ORD1", StatusUpdate{Status: StatusPaid, PaidAt: &paidAt, UpdatedAt: paidAt})
	require.NoError(t, err)
	require.True(t, matched)
	require.Equal(t, StatusPaid, got.Status)
	require.NotNil(t, got.PaidAt)
	require.True(t, paidAt.Equal(*got.PaidAt))

	later := paidAt.Add(time.Hour)
	matched, _, err = s.ConditionalUpdateStatus(ctx, "ORD1", StatusUpdate{Status: StatusCancelled, UpdatedAt: later})
	require.NoError(t, err)
	require.False(t, matched)

	stored, err := s.FindByCode(ctx, "ORD1")
	require.NoError(t, err)
	require.Equal(t, StatusPaid, stored.Status)
	require.True(t, paidAt.Equal(*stored.PaidAt))

	matched, _, err = s.ConditionalUpdateStatus(ctx, "ORD404", StatusUpdate{Status: StatusPaid})
	require.NoError(t, err)
	require.False(t, matched)
}

func TestStore_ConditionalUpdateStatus_UndecodableRowStillMatched(t *testing.T) {
	ctx := context.Background()
	fake := newFake()
	s := NewStore(fake, testTables)
	fake.Seed("orders", dynamotest.Item{
		"order_code":       &types.AttributeValueMemberS{Value: "ORD1"},
		"order_id":         &types.AttributeValueMemberS{Value: "o1"},
		"user_id":          &types.AttributeValueMemberS{Value: "u1"},
		"status":           &types.AttributeValueMemberS{Value: StatusPending},
		"total":            &types.AttributeValueMemberN{Value: "245000"},
		"discount_code_id": &types.AttributeValueMemberS{Value: "d1"},
		"created_at":       &types.AttributeValueMemberS{Value: "not-a-time"},
	})

	matched, got, err := s.ConditionalUpdateStatus(ctx, "ORD1", StatusUpdate{Status: StatusPaid, UpdatedAt: time.Now()})
	require.NoError(t, err)
	require.True(t, matched)
	require.Equal(t, "o1", got.ID)
	require.Equal(t, "d1", got.DiscountCodeID)
	require.Equal(t, int64(245000), got.Total)
	require.Equal(t, StatusPaid, got.Status)
}

func TestStore_CountPaidWithDiscount(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newFake(), testTables)

	for i, status := range []string{StatusPaid, StatusPending, StatusPaid} {
		o, items := sampleOrder("ORD" + string(rune('1'+i)))
		o.ID = o.OrderCode
		o.DiscountCodeID = "d1"
		o.Status = status
		require.NoError(t, s.CreateOrder(ctx, o, items))
	}
	other, items := sampleOrder("ORD9")
	other.Status = StatusPaid
	require.NoError(t, s.CreateOrder(ctx, other, items))

	n, err := s.CountPaidWithDiscount(ctx, "u1", "d1")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	n, err = s.CountPaidWithDiscount(ctx, "u2", "d1")
	require.NoError(t, err)
	require.Zero(t, n)
}
