package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/noah-isme/cart-pricing/internal/catalog"
	"github.com/noah-isme/cart-pricing/internal/lock"
	"github.com/noah-isme/cart-pricing/internal/pricing"
)

// memStore is an in-memory Store. A transaction works on a copy of the state
// that replaces the committed state only when fn succeeds.
type memStore struct {
	mu       sync.Mutex
	st       memState
	failSave bool
}

type memState struct {
	carts    map[string]Cart
	items    map[string][]Item
	children map[string][]ComboChild
	seq      int64
}

func newMemStore() *memStore {
	return &memStore{st: memState{
		carts:    map[string]Cart{},
		items:    map[string][]Item{},
		children: map[string][]ComboChild{},
	}}
}

func (s memState) clone() memState {
	out := memState{
		carts:    make(map[string]Cart, len(s.carts)),
		items:    make(map[string][]Item, len(s.items)),
		children: make(map[string][]ComboChild, len(s.children)),
		seq:      s.seq,
	}
	for k, v := range s.carts {
		out.carts[k] = v
	}
	for k, v := range s.items {
		out.items[k] = append([]Item(nil), v...)
	}
	for k, v := range s.children {
		out.children[k] = append([]ComboChild(nil), v...)
	}
	return out
}

// InTx gives fn a snapshot and commits it wholesale, last writer wins. It
// provides no isolation of its own, so lost updates show up unless the
// service serialises the cart.
func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	tx := &memTx{st: m.st.clone(), failSave: m.failSave}
	m.mu.Unlock()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.mu.Lock()
	m.st = tx.st
	m.mu.Unlock()
	return nil
}

func (m *memStore) cartOf(uid string) (Cart, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.st.carts[uid]
	return c, ok
}

func (m *memStore) storedItems(uid string) []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.st.carts[uid]
	if !ok {
		return nil
	}
	return append([]Item(nil), m.st.items[c.ID]...)
}

type memTx struct {
	st       memState
	failSave bool
}

func (t *memTx) LockCart(_ context.Context, userID string) (Cart, error) {
	c, ok := t.st.carts[userID]
	if !ok {
		c = Cart{ID: "cart-" + userID, UserID: userID}
		t.st.carts[userID] = c
	}
	return c, nil
}

func (t *memTx) Items(_ context.Context, cartID string) ([]Item, error) {
	stored := t.st.items[cartID]
	out := make([]Item, len(stored))
	copy(out, stored)
	for i := range out {
		if out[i].ComboID != nil {
			out[i].Children = append([]ComboChild(nil), t.st.children[*out[i].ComboID]...)
		}
	}
	return out, nil
}

func (t *memTx) InsertItem(_ context.Context, item *Item) error {
	t.st.seq++
	item.Position = t.st.seq
	stored := *item
	stored.Children = nil
	t.st.items[item.CartID] = append(t.st.items[item.CartID], stored)
	return nil
}

func (t *memTx) InsertComboChildren(_ context.Context, children []ComboChild) error {
	for _, c := range children {
		t.st.children[c.ComboID] = append(t.st.children[c.ComboID], c)
	}
	return nil
}

func (t *memTx) UpdateItems(_ context.Context, items []Item) error {
	for _, it := range items {
		lines := t.st.items[it.CartID]
		found := false
		for i := range lines {
			if lines[i].ID == it.ID {
				pos := lines[i].Position
				lines[i] = it
				lines[i].Position = pos
				lines[i].Children = nil
				found = true
			}
		}
		if !found {
			return fmt.Errorf("update unknown item %s", it.ID)
		}
	}
	return nil
}

func (t *memTx) DeleteItem(_ context.Context, cartID, itemID string) (bool, error) {
	lines := t.st.items[cartID]
	for i := range lines {
		if lines[i].ID == itemID {
			if lines[i].ComboID != nil {
				delete(t.st.children, *lines[i].ComboID)
			}
			t.st.items[cartID] = append(lines[:i:i], lines[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) SaveSummary(_ context.Context, cartID string, summary Summary, modified bool) error {
	if t.failSave {
		return errors.New("disk full")
	}
	for uid, c := range t.st.carts {
		if c.ID == cartID {
			c.Summary = summary
			c.Modified = modified
			t.st.carts[uid] = c
			return nil
		}
	}
	return ErrCartNotFound
}

// fakeCatalog serves catalog records from maps and counts lookups.
type fakeCatalog struct {
	mu         sync.Mutex
	products   map[string]catalog.Product
	variations map[string]catalog.Variation
	flash      map[string]catalog.FlashSale
	offers     map[string]pricing.Offer
	flashErr   error
	offerErr   error
	lookups    int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		products:   map[string]catalog.Product{},
		variations: map[string]catalog.Variation{},
		flash:      map[string]catalog.FlashSale{},
		offers:     map[string]pricing.Offer{},
	}
}

func (f *fakeCatalog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

func (f *fakeCatalog) Product(_ context.Context, id string) (catalog.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	p, ok := f.products[id]
	if !ok {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return p, nil
}

func (f *fakeCatalog) Variation(_ context.Context, id string) (catalog.Variation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	v, ok := f.variations[id]
	if !ok {
		return catalog.Variation{}, catalog.ErrNotFound
	}
	return v, nil
}

func (f *fakeCatalog) ActiveFlashSale(_ context.Context, productID string, now time.Time) (catalog.FlashSale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.flashErr != nil {
		return catalog.FlashSale{}, f.flashErr
	}
	fs, ok := f.flash[productID]
	if !ok || now.Before(fs.StartsAt) || !now.Before(fs.EndsAt) {
		return catalog.FlashSale{}, catalog.ErrNotFound
	}
	return fs, nil
}

func (f *fakeCatalog) ActiveOffer(_ context.Context, offerID string, _ time.Time) (pricing.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.offerErr != nil {
		return pricing.Offer{}, f.offerErr
	}
	o, ok := f.offers[offerID]
	if !ok {
		return pricing.Offer{}, catalog.ErrNotFound
	}
	return o, nil
}

// countingLocker records lock keys and the highest number of concurrent
// holders per key.
type countingLocker struct {
	local lock.Local

	mu        sync.Mutex
	keys      []string
	active    map[string]int
	maxActive int
}

func (c *countingLocker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	return c.local.WithLock(ctx, key, ttl, func(ctx context.Context) error {
		c.mu.Lock()
		if c.active == nil {
			c.active = map[string]int{}
		}
		c.keys = append(c.keys, key)
		c.active[key]++
		if c.active[key] > c.maxActive {
			c.maxActive = c.active[key]
		}
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			c.active[key]--
			c.mu.Unlock()
		}()
		return fn(ctx)
	})
}

func (c *countingLocker) snapshot() ([]string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.keys...), c.maxActive
}

type scheduled struct {
	uid string
	at  time.Time
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []scheduled
}

func (f *fakeScheduler) ScheduleReprice(_ context.Context, uid string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scheduled{uid: uid, at: at})
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sequentialIDs() func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}
