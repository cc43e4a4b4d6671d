// Package cache holds the client's view of active orders. Every writer
// (user actions, refresh, realtime pushes) goes through its methods, which are
// serialized by one mutex and never perform I/O.
package cache

import (
	"sync"
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
)

type Cache struct {
	mu       sync.Mutex
	list     []orders.Order
	subs     map[int]chan []orders.Order
	nextSub  int
	lastTemp int64
	now      func() time.Time
}

func New() *Cache {
	return &Cache{subs: make(map[int]chan []orders.Order), now: time.Now}
}

// Snapshot returns a copy of the current list, newest first.
func (c *Cache) Snapshot() []orders.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Cache) Get(id int64) (orders.Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexOf(id); i >= 0 {
		return clone(c.list[i]), true
	}
	return orders.Order{}, false
}

// ReplaceAll installs a full refresh. The server list is authoritative for
// every server-backed record. Client-only records stay in front unless the
// server already knows them by client ref.
func (c *Cache) ReplaceAll(list []orders.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()

	known := make(map[string]bool, len(list))
	for _, o := range list {
		if o.ClientRef != "" {
			known[o.ClientRef] = true
		}
	}
	next := make([]orders.Order, 0, len(list)+len(c.list))
	for _, o := range c.list {
		if o.Local() && !known[o.ClientRef] {
			next = append(next, o)
		}
	}
	for _, o := range list {
		o = clone(o)
		o.Items = orders.BridgeItems(o.Status, o.Items)
		next = append(next, o)
	}
	c.list = next
	c.notifyLocked()
}

// Upsert merges a partial order. Unknown ids are prepended, except that a
// server record whose client ref matches a client-only record takes over
// that record's slot. Patches are applied as they arrive, whatever their
// timestamp; the record keeps the latest UpdatedAt it has seen.
func (c *Cache) Upsert(p orders.Patch) orders.Order {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(p.ID)
	if i < 0 && p.ClientRef != nil && *p.ClientRef != "" {
		i = c.indexOfLocalRef(*p.ClientRef)
	}
	if i < 0 {
		o := p.Order()
		c.list = append([]orders.Order{o}, c.list...)
		c.notifyLocked()
		return clone(o)
	}

	cur := c.list[i]
	next := p.Apply(cur)
	if next.UpdatedAt.Before(cur.UpdatedAt) {
		next.UpdatedAt = cur.UpdatedAt
	}
	c.list[i] = next
	c.notifyLocked()
	return clone(c.list[i])
}

// ApplyOptimistic shows o immediately. A record with the same id is replaced
// in place; otherwise o is prepended.
func (c *Cache) ApplyOptimistic(o orders.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()

	o = clone(o)
	o.Items = orders.BridgeItems(o.Status, o.Items)
	if i := c.indexOf(o.ID); i >= 0 {
		c.list[i] = o
	} else {
		c.list = append([]orders.Order{o}, c.list...)
	}
	c.notifyLocked()
}

// Reconcile swaps the client-only record tempID for the server's order at the
// same position. If a push already inserted the server order elsewhere, that
// copy is folded in and removed, keeping whichever is newer. Without the temp
// record it behaves like Upsert.
func (c *Cache) Reconcile(tempID int64, server orders.Order) orders.Order {
	c.mu.Lock()
	ti := c.indexOf(tempID)
	if ti < 0 || tempID >= 0 {
		c.mu.Unlock()
		return c.Upsert(orders.PatchFrom(server))
	}
	defer c.mu.Unlock()

	result := clone(server)
	result.Items = orders.BridgeItems(result.Status, result.Items)
	if si := c.indexOf(server.ID); si >= 0 {
		if c.list[si].UpdatedAt.After(server.UpdatedAt) {
			result = c.list[si]
		}
		c.list[ti] = result
		c.list = append(c.list[:si], c.list[si+1:]...)
	} else {
		c.list[ti] = result
	}
	c.notifyLocked()
	return clone(result)
}

// Discard drops a client-only record, e.g. after the server rejected it.
// Server-backed records are never removed.
func (c *Cache) Discard(tempID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tempID >= 0 {
		return false
	}
	i := c.indexOf(tempID)
	if i < 0 {
		return false
	}
	c.list = append(c.list[:i], c.list[i+1:]...)
	c.notifyLocked()
	return true
}

// NextTempID returns a fresh negative id. Ids are derived from the clock so
// they do not collide with ones persisted by an earlier run.
func (c *Cache) NextTempID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := -c.now().UnixMicro()
	if c.lastTemp != 0 && id >= c.lastTemp {
		id = c.lastTemp - 1
	}
	c.lastTemp = id
	return id
}

// Subscribe returns a stream of snapshots taken after each mutation. A slow
// reader only sees the latest one. Snapshots are shared between subscribers
// and must not be modified.
func (c *Cache) Subscribe() (<-chan []orders.Order, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan []orders.Order, 1)
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
			close(ch)
		})
	}
}

func (c *Cache) notifyLocked() {
	if len(c.subs) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (c *Cache) snapshotLocked() []orders.Order {
	out := make([]orders.Order, len(c.list))
	for i, o := range c.list {
		out[i] = clone(o)
	}
	return out
}

func (c *Cache) indexOf(id int64) int {
	if id == 0 {
		return -1
	}
	for i := range c.list {
		if c.list[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Cache) indexOfLocalRef(ref string) int {
	for i := range c.list {
		if c.list[i].Local() && c.list[i].ClientRef == ref {
			return i
		}
	}
	return -1
}

func clone(o orders.Order) orders.Order {
	if o.Items != nil {
		o.Items = append([]orders.OrderItem(nil), o.Items...)
	}
	if o.PaidAt != nil {
		t := *o.PaidAt
		o.PaidAt = &t
	}
	return o
}
