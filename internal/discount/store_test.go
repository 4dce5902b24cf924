package discount

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-checkout/internal/aws/dynamotest"
)

func newDiscountStore() (*Store, *dynamotest.Fake) {
	fake := dynamotest.New(dynamotest.Table{
		Name:    "discount_codes",
		PK:      "id",
		Indexes: map[string]dynamotest.Index{CodeIndex: {PK: "code"}},
	})
	return NewStore(fake, "discount_codes"), fake
}

func TestStore_SaveAndFindCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	s, _ := newDiscountStore()
	pct := int64(10)
	require.NoError(t, s.Save(ctx, &Code{
		ID: "d1", Code: "summer10", Kind: KindPercent, PercentOff: &pct,
		StartAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Enabled: true,
	}))

	got, err := s.FindByCode(ctx, "  Summer10 ")
	require.NoError(t, err)
	require.Equal(t, "d1", got.ID)
	require.Equal(t, "SUMMER10", got.Code)
	require.Equal(t, int64(10), *got.PercentOff)

	_, err = s.FindByCode(ctx, "WINTER")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SaveRejectsBadShape(t *testing.T) {
	s, _ := newDiscountStore()
	amt := int64(5000)
	err := s.Save(context.Background(), &Code{ID: "d1", Code: "X", Kind: KindPercent, AmountOff: &amt})
	require.Error(t, err)
}

func TestStore_IncrementUsageConcurrent(t *testing.T) {
	ctx := context.Background()
	s, _ := newDiscountStore()
	amt := int64(5000)
	require.NoError(t, s.Save(ctx, &Code{ID: "d1", Code: "FLAT", Kind: KindFixed, AmountOff: &amt, Enabled: true}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.IncrementUsage(ctx, "d1")
		}()
	}
	wg.Wait()

	got, err := s.FindByCode(ctx, "flat")
	require.NoError(t, err)
	require.Equal(t, int64(20), got.UsesCount)

	require.ErrorIs(t, s.IncrementUsage(ctx, "missing"), ErrNotFound)
}
