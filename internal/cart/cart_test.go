package cart

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-checkout/internal/apperr"
	"github.com/imrishuroy/storefront-checkout/internal/aws/dynamotest"
)

func newCartService() (*Service, *Store) {
	fake := dynamotest.New(dynamotest.Table{Name: "carts", PK: "user_id", SK: "product_id"})
	store := NewStore(fake, "carts")
	return NewService(store, nil), store
}

func find(items []Item, productID string) (Item, bool) {
	for _, it := range items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return Item{}, false
}

func TestService_MergeSumsQuantities(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCartService()

	_, err := svc.AddItem(ctx, "u1", Item{ProductID: "p1", Quantity: 1, UnitPrice: 100000})
	require.NoError(t, err)

	merged, err := svc.Merge(ctx, "u1", []Item{
		{ProductID: "p1", Quantity: 2, UnitPrice: 100000},
		{ProductID: "p2", Quantity: 1, UnitPrice: 150000},
		{ProductID: "p2", Quantity: 1, UnitPrice: 150000},
	})
	require.NoError(t, err)
	require.Len(t, merged, 2)

	p1, _ := find(merged, "p1")
	require.Equal(t, 3, p1.Quantity)
	p2, _ := find(merged, "p2")
	require.Equal(t, 2, p2.Quantity)
}

func TestService_ConcurrentAddsDoNotLoseIncrements(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCartService()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.AddItem(ctx, "u1", Item{ProductID: "p1", Quantity: 1, UnitPrice: 100000})
		}()
	}
	wg.Wait()

	items, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 10, items[0].Quantity)
}

func TestService_SetQuantityAndRemove(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCartService()
	_, err := svc.AddItem(ctx, "u1", Item{ProductID: "p1", Quantity: 1, UnitPrice: 100000})
	require.NoError(t, err)

	require.NoError(t, svc.SetQuantity(ctx, "u1", "p1", 4))
	items, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 4, items[0].Quantity)

	err = svc.SetQuantity(ctx, "u1", "missing", 2)
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	require.NoError(t, svc.SetQuantity(ctx, "u1", "p1", 0))
	items, err = svc.Get(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestService_RejectsInvalidItem(t *testing.T) {
	svc, _ := newCartService()
	_, err := svc.AddItem(context.Background(), "u1", Item{ProductID: "p1", Quantity: 0})
	require.Equal(t, apperr.CodeInvalidItem, apperr.CodeOf(err))
}

func TestLocal_PersistsAndReloads(t *testing.T) {
	p := FilePersister{Path: filepath.Join(t.TempDir(), "cart", "guest.json")}
	l, err := NewLocal(p)
	require.NoError(t, err)
	require.Empty(t, l.Items())

	require.NoError(t, l.Add(Item{ProductID: "p1", Quantity: 1, UnitPrice: 100000}))
	require.NoError(t, l.Add(Item{ProductID: "p1", Quantity: 2, UnitPrice: 100000}))
	require.NoError(t, l.SetQuantity("p1", 5))
	require.ErrorIs(t, l.SetQuantity("p9", 1), ErrItemNotFound)

	again, err := NewLocal(p)
	require.NoError(t, err)
	require.Equal(t, []Item{{ProductID: "p1", Quantity: 5, UnitPrice: 100000}}, again.Items())
}

type fakeRemote struct {
	mu       sync.Mutex
	svc      *Service
	failNext error
	merges   int
}

func (f *fakeRemote) Merge(ctx context.Context, userID string, items []Item) ([]Item, error) {
	f.mu.Lock()
	f.merges++
	err := f.failNext
	f.failNext = nil
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.svc.Merge(ctx, userID, items)
}

func (f *fakeRemote) AddItem(ctx context.Context, userID string, item Item) (Item, error) {
	return f.svc.AddItem(ctx, userID, item)
}

func (f *fakeRemote) SetQuantity(ctx context.Context, userID, productID string, quantity int) error {
	return f.svc.SetQuantity(ctx, userID, productID, quantity)
}

func (f *fakeRemote) RemoveItem(ctx context.Context, userID, productID string) error {
	return f.svc.RemoveItem(ctx, userID, productID)
}

func TestSession_LoginMergesOncePerSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCartService()
	remote := &fakeRemote{svc: svc}
	guest, err := NewLocal(FilePersister{Path: filepath.Join(t.TempDir(), "guest.json")})
	require.NoError(t, err)
	require.NoError(t, guest.Add(Item{ProductID: "p1", Quantity: 2, UnitPrice: 100000}))

	syncer := NewSyncer(SyncerConfig{BaseBackoff: time.Millisecond}, nil)
	defer syncer.Close()
	s := NewSession(guest, remote, syncer, nil)

	require.NoError(t, s.Login(ctx, "sess-1", "u1"))
	require.NoError(t, s.Login(ctx, "sess-1", "u1"))
	require.Equal(t, 1, remote.merges)
	require.Equal(t, []Item{{ProductID: "p1", Quantity: 2, UnitPrice: 100000}}, s.Items())
	require.Empty(t, guest.Items())

	require.NoError(t, s.Logout())
	require.Empty(t, s.Items())
	require.Equal(t, "", s.UserID())
}

func TestSession_MergeFailureKeepsGuestCart(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCartService()
	remote := &fakeRemote{svc: svc, failNext: errors.New("network down")}
	guest, err := NewLocal(nil)
	require.NoError(t, err)
	require.NoError(t, guest.Add(Item{ProductID: "p1", Quantity: 1, UnitPrice: 100000}))

	syncer := NewSyncer(SyncerConfig{BaseBackoff: time.Millisecond}, nil)
	defer syncer.Close()
	s := NewSession(guest, remote, syncer, nil)

	require.Error(t, s.Login(ctx, "sess-1", "u1"))
	require.Equal(t, []Item{{ProductID: "p1", Quantity: 1, UnitPrice: 100000}}, s.Items())

	require.NoError(t, s.Login(ctx, "sess-1", "u1"))
	require.Equal(t, 2, remote.merges)
}

func TestSession_SignedInChangesReachServer(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCartService()
	guest, err := NewLocal(nil)
	require.NoError(t, err)
	syncer := NewSyncer(SyncerConfig{BaseBackoff: time.Millisecond}, nil)
	s := NewSession(guest, &fakeRemote{svc: svc}, syncer, nil)

	require.NoError(t, s.Login(ctx, "sess-1", "u1"))
	require.NoError(t, s.Add(Item{ProductID: "p1", Quantity: 1, UnitPrice: 100000}))
	require.NoError(t, s.Add(Item{ProductID: "p2", Quantity: 1, UnitPrice: 50000}))
	require.NoError(t, s.SetQuantity("p1", 3))
	require.NoError(t, s.Remove("p2"))
	syncer.Close()

	server, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []Item{{ProductID: "p1", Quantity: 3, UnitPrice: 100000}}, server)
}

func TestSyncer_RetriesThenGivesUp(t *testing.T) {
	s := NewSyncer(SyncerConfig{MaxAttempts: 3, BaseBackoff: time.Millisecond}, nil)
	var calls int32
	require.True(t, s.Enqueue("flaky", func(context.Context) error {
		if atomic.AddInt32(&calls, 1) < 2 {
			return errors.New("transient")
		}
		return nil
	}))
	var failing int32
	require.True(t, s.Enqueue("broken", func(context.Context) error {
		atomic.AddInt32(&failing, 1)
		return errors.New("permanent")
	}))
	s.Close()

	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.Equal(t, int32(3), atomic.LoadInt32(&failing))
	require.False(t, s.Enqueue("late", func(context.Context) error { return nil }))
}

func TestSession_PartialMergeFailureDoesNotDoubleCount(t *testing.T) {
	ctx := context.Background()
	fake := dynamotest.New(dynamotest.Table{Name: "carts", PK: "user_id", SK: "product_id"})
	var failed atomic.Bool
	fake.Hook = func(op, table string, item dynamotest.Item) error {
		if op != "TransactUpdate" {
			return nil
		}
		if pid, ok := item["product_id"].(*types.AttributeValueMemberS); ok && pid.Value == "p2" && failed.CompareAndSwap(false, true) {
			return errors.New("throttled")
		}
		return nil
	}
	svc := NewService(NewStore(fake, "carts"), nil)

	guest, err := NewLocal(nil)
	require.NoError(t, err)
	require.NoError(t, guest.Add(Item{ProductID: "p1", Quantity: 1, UnitPrice: 100000}))
	require.NoError(t, guest.Add(Item{ProductID: "p2", Quantity: 1, UnitPrice: 50000}))

	syncer := NewSyncer(SyncerConfig{BaseBackoff: time.Millisecond}, nil)
	defer syncer.Close()
	s := NewSession(guest, &fakeRemote{svc: svc}, syncer, nil)

	err = s.Login(ctx, "sess-1", "u1")
	require.Equal(t, apperr.CodeCartPersistFailed, apperr.CodeOf(err))
	server, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, server)

	require.NoError(t, s.Login(ctx, "sess-1", "u1"))
	server, err = svc.Get(ctx, "u1")
	require.NoError(t, err)
	require.ElementsMatch(t, []Item{
		{ProductID: "p1", Quantity: 1, UnitPrice: 100000},
		{ProductID: "p2", Quantity: 1, UnitPrice: 50000},
	}, server)
	require.Equal(t, 2, fake.Calls["TransactWriteItems"])
}

type gatedRemote struct {
	*fakeRemote
	started chan struct{}
	release chan struct{}
}

func (g *gatedRemote) Merge(ctx context.Context, userID string, items []Item) ([]Item, error) {
	close(g.started)
	<-g.release
	return g.fakeRemote.Merge(ctx, userID, items)
}

func TestSession_EditsDoNotWaitForMerge(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCartService()
	remote := &gatedRemote{fakeRemote: &fakeRemote{svc: svc}, started: make(chan struct{}), release: make(chan struct{})}
	guest, err := NewLocal(nil)
	require.NoError(t, err)
	require.NoError(t, guest.Add(Item{ProductID: "p1", Quantity: 1, UnitPrice: 100000}))

	syncer := NewSyncer(SyncerConfig{BaseBackoff: time.Millisecond}, nil)
	s := NewSession(guest, remote, syncer, nil)

	loginErr := make(chan error, 1)
	go func() { loginErr <- s.Login(ctx, "sess-1", "u1") }()
	<-remote.started

	added := make(chan error, 1)
	go func() { added <- s.Add(Item{ProductID: "p2", Quantity: 1, UnitPrice: 50000}) }()
	select {
	case err := <-added:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Add blocked while the merge was in flight")
	}

	close(remote.release)
	require.NoError(t, <-loginErr)
	require.ElementsMatch(t, []Item{
		{ProductID: "p1", Quantity: 1, UnitPrice: 100000},
		{ProductID: "p2", Quantity: 1, UnitPrice: 50000},
	}, s.Items())
	require.Empty(t, guest.Items())

	syncer.Close()
	server, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	require.ElementsMatch(t, []Item{
		{ProductID: "p1", Quantity: 1, UnitPrice: 100000},
		{ProductID: "p2", Quantity: 1, UnitPrice: 50000},
	}, server)
}
