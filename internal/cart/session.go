package cart

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-checkout/internal/logging"
)

// Remote is the authenticated server cart. *Service satisfies it; an HTTP client for the
// cart routes can too.
type Remote interface {
	Merge(ctx context.Context, userID string, items []Item) ([]Item, error)
	AddItem(ctx context.Context, userID string, item Item) (Item, error)
	SetQuantity(ctx context.Context, userID, productID string, quantity int) error
	RemoveItem(ctx context.Context, userID, productID string) error
}

// Session is the client-side view of a cart across a login. While signed out it edits the
// persisted guest cart; once signed in it mirrors the server cart in memory and pushes each
// change to the server through the Syncer.
type Session struct {
	guest  *Local
	remote Remote
	syncer *Syncer
	logger *zap.Logger

	login  sync.Mutex // serialises Login; edits never take it
	mu     sync.Mutex
	userID string
	active *Local
	view   *Local          // server mirror from the last merge
	merged map[string]bool // session ids that already merged
}

// NewSession builds a signed-out session over the guest cart.
func NewSession(guest *Local, remote Remote, syncer *Syncer, logger *zap.Logger) *Session {
	return &Session{
		guest:  guest,
		remote: remote,
		syncer: syncer,
		logger: logging.OrNop(logger),
		active: guest,
		merged: map[string]bool{},
	}
}

// Items returns the lines currently shown to the user.
func (s *Session) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active.Items()
}

// UserID returns the signed-in user, or the empty string.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Login merges the guest cart into the user's server cart once per sessionID and switches
// to the server view. The merge runs without holding the session lock, so edits stay
// responsive; edits made meanwhile go to the guest cart and additions are carried into the
// server view afterwards. When the merge fails the guest cart stays in place and a later
// Login for the same session retries.
func (s *Session) Login(ctx context.Context, sessionID, userID string) error {
	s.login.Lock()
	defer s.login.Unlock()

	log := logging.FromContext(ctx, s.logger).With(zap.String("user_id", userID), zap.String("session_id", sessionID))

	s.mu.Lock()
	if s.merged[sessionID] {
		s.userID = userID
		if s.view != nil {
			s.active = s.view
		}
		s.mu.Unlock()
		return nil
	}
	snapshot := s.guest.Items()
	s.mu.Unlock()

	server, err := s.remote.Merge(ctx, userID, snapshot)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		log.Error("cart merge failed, keeping guest cart", zap.Error(err))
		s.active = s.guest
		return err
	}
	s.merged[sessionID] = true
	s.userID = userID

	view, _ := NewLocal(nil)
	_ = view.Replace(server)
	for _, it := range addedSince(snapshot, s.guest.Items()) {
		_ = view.Add(it)
		s.enqueueAdd(userID, it)
	}
	s.view = view
	s.active = view

	// The merged lines now live on the server.
	if err := s.guest.Clear(); err != nil {
		log.Warn("clear guest cart after merge", zap.Error(err))
	}
	return nil
}

// addedSince returns the quantity each line gained between before and after.
func addedSince(before, after []Item) []Item {
	had := make(map[string]int, len(before))
	for _, it := range before {
		had[it.ProductID] = it.Quantity
	}
	var out []Item
	for _, it := range after {
		if delta := it.Quantity - had[it.ProductID]; delta > 0 {
			it.Quantity = delta
			out = append(out, it)
		}
	}
	return out
}

// Logout drops the server view and shows the persisted guest cart again.
func (s *Session) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = ""
	s.active = s.guest
	return s.guest.Reload()
}

// Add updates the visible cart and, when signed in, schedules the server write.
func (s *Session) Add(item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.active.Add(item); err != nil {
		return err
	}
	if s.userID != "" {
		s.enqueueAdd(s.userID, item)
	}
	return nil
}

func (s *Session) enqueueAdd(userID string, item Item) {
	s.syncer.Enqueue("add "+item.ProductID, func(ctx context.Context) error {
		_, err := s.remote.AddItem(ctx, userID, item)
		return err
	})
}

// SetQuantity updates the visible cart and, when signed in, schedules the server write.
func (s *Session) SetQuantity(productID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.active.SetQuantity(productID, quantity); err != nil {
		return err
	}
	if userID := s.userID; userID != "" {
		s.syncer.Enqueue("set "+productID, func(ctx context.Context) error {
			return s.remote.SetQuantity(ctx, userID, productID, quantity)
		})
	}
	return nil
}

// Remove updates the visible cart and, when signed in, schedules the server write.
func (s *Session) Remove(productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.active.Remove(productID); err != nil {
		return err
	}
	if userID := s.userID; userID != "" {
		s.syncer.Enqueue("remove "+productID, func(ctx context.Context) error {
			return s.remote.RemoveItem(ctx, userID, productID)
		})
	}
	return nil
}
