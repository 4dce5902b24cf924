package cart

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Persister loads and saves a guest cart between runs.
type Persister interface {
	Load() ([]Item, error)
	Save(items []Item) error
}

// FilePersister keeps the guest cart as a JSON file.
type FilePersister struct {
	Path string
}

// Load returns an empty cart when the file does not exist yet.
func (p FilePersister) Load() ([]Item, error) {
	b, err := os.ReadFile(p.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cart file: %w", err)
	}
	var items []Item
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("decode cart file: %w", err)
	}
	return items, nil
}

// Save writes through a temp file and rename so a crash never leaves a torn file.
func (p FilePersister) Save(items []Item) error {
	if items == nil {
		items = []Item{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("create cart dir: %w", err)
	}
	tmp := p.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write cart file: %w", err)
	}
	return os.Rename(tmp, p.Path)
}

// Local is an in-process cart. When a Persister is attached every mutation is saved.
type Local struct {
	mu        sync.Mutex
	items     []Item
	persister Persister
}

// NewLocal returns a Local loaded from p. p may be nil for a memory-only cart.
func NewLocal(p Persister) (*Local, error) {
	l := &Local{persister: p}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload replaces the in-memory lines with the persisted ones.
func (l *Local) Reload() error {
	if l.persister == nil {
		return nil
	}
	items, err := l.persister.Load()
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.items = mergeLines(items)
	l.mu.Unlock()
	return nil
}

// Items returns a copy of the lines.
func (l *Local) Items() []Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Item, len(l.items))
	copy(out, l.items)
	return out
}

// Add sums into an existing line for the same product or appends a new one.
func (l *Local) Add(item Item) error {
	if err := item.Valid(); err != nil {
		return err
	}
	return l.mutate(func(items []Item) []Item {
		return mergeLines(append(items, item))
	})
}

// SetQuantity overwrites a line's quantity; zero removes it.
func (l *Local) SetQuantity(productID string, quantity int) error {
	if quantity < 0 {
		return ErrInvalidItem
	}
	if quantity == 0 {
		return l.Remove(productID)
	}
	found := false
	err := l.mutate(func(items []Item) []Item {
		for i := range items {
			if items[i].ProductID == productID {
				items[i].Quantity = quantity
				found = true
			}
		}
		return items
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrItemNotFound
	}
	return nil
}

// Remove drops a line.
func (l *Local) Remove(productID string) error {
	return l.mutate(func(items []Item) []Item {
		out := items[:0]
		for _, it := range items {
			if it.ProductID != productID {
				out = append(out, it)
			}
		}
		return out
	})
}

// Clear empties the cart.
func (l *Local) Clear() error {
	return l.Replace(nil)
}

// Replace swaps in a new set of lines.
func (l *Local) Replace(items []Item) error {
	cp := make([]Item, len(items))
	copy(cp, items)
	return l.mutate(func([]Item) []Item { return mergeLines(cp) })
}

func (l *Local) mutate(fn func([]Item) []Item) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = fn(l.items)
	if l.persister == nil {
		return nil
	}
	return l.persister.Save(l.items)
}
