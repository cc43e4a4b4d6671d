// Package syncer decides how order reads and writes reach the backend: direct
// when online, through the durable outbox when not, with realtime pushes and
// periodic refreshes folded into the cache.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/apiclient"
	"github.com/ariefcatur/go-restaurant-orders/internal/cache"
	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/ariefcatur/go-restaurant-orders/internal/outbox"
	"github.com/ariefcatur/go-restaurant-orders/internal/telemetry"
	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"
)

var (
	ErrOffline   = errors.New("syncer: backend unreachable")
	ErrNotSynced = errors.New("syncer: order not yet accepted by the server")
	ErrUnknown   = errors.New("syncer: order not in cache")
)

// API is satisfied by *apiclient.Client.
type API interface {
	ListOrders(ctx context.Context, tenantID int64) ([]orders.Order, error)
	CreateOrder(ctx context.Context, in orders.NewOrder) (orders.Order, error)
	UpdateOrder(ctx context.Context, o orders.Order) (orders.Order, error)
	UpdateStatus(ctx context.Context, id int64, status orders.Status) (orders.Order, error)
	Pay(ctx context.Context, id int64, in orders.PaymentInput) (orders.Order, error)
	VerifyPayment(ctx context.Context, id int64) (orders.Order, error)
}

// Outbox is satisfied by *outbox.Queue.
type Outbox interface {
	Enqueue(ctx context.Context, e outbox.Entry) (outbox.Entry, error)
	List(ctx context.Context) ([]outbox.Entry, error)
	Delete(ctx context.Context, seq int64) error
	MarkFailed(ctx context.Context, seq int64, cause error) (int, error)
	DeadLetter(ctx context.Context, seq int64, reason string) error
	Len(ctx context.Context) (int, error)
}

// Monitor is satisfied by *connectivity.Monitor.
type Monitor interface {
	Online() bool
	Set(online bool)
	Subscribe() (<-chan bool, func())
}

// Channel is satisfied by *realtime.Channel.
type Channel interface {
	Subscribe(topic string) (<-chan orders.Patch, func())
}

type Deps struct {
	API     API
	Cache   *cache.Cache
	Outbox  Outbox
	Monitor Monitor
	Channel Channel // optional
	Logger  *slog.Logger
}

type Options struct {
	TenantID        int64
	RefreshInterval time.Duration
	// MaxAttempts is how many rejections a queued write survives before it
	// is dead-lettered.
	MaxAttempts int
}

type Coordinator struct {
	api     API
	cache   *cache.Cache
	outbox  Outbox
	monitor Monitor
	channel Channel
	logger  *slog.Logger
	opts    Options

	draining int32
	rerun    int32
	kick     chan struct{}
	now      func() time.Time

	mu        sync.Mutex
	onCreated []func(context.Context, orders.Order)
}

func New(d Deps, opts Options) *Coordinator {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Coordinator{
		api:     d.API,
		cache:   d.Cache,
		outbox:  d.Outbox,
		monitor: d.Monitor,
		channel: d.Channel,
		logger:  d.Logger,
		opts:    opts,
		kick:    make(chan struct{}, 1),
		now:     time.Now,
	}
}

// OnCreated registers fn for every order the server confirms as created,
// whether submitted directly or drained from the outbox.
func (c *Coordinator) OnCreated(fn func(ctx context.Context, o orders.Order)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCreated = append(c.onCreated, fn)
}

// Run restores queued orders, refreshes, and then keeps the cache in sync
// until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.Restore(ctx); err != nil {
		return err
	}
	_ = c.Refresh(ctx)

	online, stopOnline := c.monitor.Subscribe()
	defer stopOnline()

	var pushes <-chan orders.Patch
	if c.channel != nil && c.opts.TenantID > 0 {
		ch, unsubscribe := c.channel.Subscribe(orders.RealtimeTopic(c.opts.TenantID))
		defer unsubscribe()
		pushes = ch
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	drain := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Drain(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("outbox drain stopped", telemetry.LabelError.L(err))
			}
		}()
	}
	if c.monitor.Online() {
		drain()
	}

	ticker := time.NewTicker(c.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = c.Refresh(ctx)
			// retries writes held back by a server error while still online
			if c.monitor.Online() {
				if n, err := c.outbox.Len(ctx); err == nil && n > 0 {
					drain()
				}
			}
		case up, ok := <-online:
			if !ok {
				online = nil
				continue
			}
			if up {
				drain()
				_ = c.Refresh(ctx)
			}
		case <-c.kick:
			if c.monitor.Online() {
				drain()
			}
		case p, ok := <-pushes:
			if !ok {
				pushes = nil
				continue
			}
			c.cache.Upsert(p)
			metrics.IncrCounter(telemetry.MetricSyncPushAppliedCount, 1)
		}
	}
}

// Restore shows every queued create as a synthetic order, so a restart does
// not hide orders that are still waiting for the server.
func (c *Coordinator) Restore(ctx context.Context) error {
	entries, err := c.outbox.List(ctx)
	if err != nil {
		return fmt.Errorf("restore outbox: %w", err)
	}
	for _, e := range entries {
		if e.Kind != outbox.KindCreate {
			continue
		}
		var n orders.NewOrder
		if err := json.Unmarshal(e.Payload, &n); err != nil {
			continue
		}
		c.cache.ApplyOptimistic(queued(n, e.TempID, e.CreatedAt))
	}
	return nil
}

// Refresh replaces the cache with the server list. On failure the cache is
// left as it was.
func (c *Coordinator) Refresh(ctx context.Context) error {
	list, err := c.api.ListOrders(ctx, c.opts.TenantID)
	if err != nil {
		c.fail(err)
		metrics.IncrCounter(telemetry.MetricSyncRefreshErrorCount, 1)
		c.logger.Warn("refresh failed, keeping cached orders", telemetry.LabelError.L(err))
		return err
	}
	c.cache.ReplaceAll(list)
	metrics.IncrCounter(telemetry.MetricSyncRefreshCount, 1)
	return nil
}

// Submit creates an order. Online it is written directly and the optimistic
// record reconciled; offline, or after a transient failure, it is queued and a
// QUEUED order is returned. Rejections are returned to the caller.
func (c *Coordinator) Submit(ctx context.Context, n orders.NewOrder) (orders.Order, error) {
	if n.ClientRef == "" {
		n.ClientRef = uuid.NewString()
	}
	n.TotalCents = orders.ComputeTotal(n.Items, n.DeliveryFeeCents)
	if err := n.Validate(); err != nil {
		return orders.Order{}, err
	}
	tempID := c.cache.NextTempID()

	// anything already queued must reach the server first
	pending, err := c.outbox.Len(ctx)
	if err != nil {
		return orders.Order{}, err
	}
	if !c.monitor.Online() || pending > 0 {
		o, err := c.enqueue(ctx, n, tempID)
		if err == nil && c.monitor.Online() {
			c.Kick()
		}
		return o, err
	}

	c.cache.ApplyOptimistic(n.Pending(tempID, c.now()))
	created, err := c.api.CreateOrder(ctx, n)
	switch {
	case err == nil:
		c.cache.Reconcile(tempID, created)
		metrics.IncrCounter(telemetry.MetricSyncSubmitDirectCount, 1)
		c.created(ctx, created)
		return created, nil
	case apiclient.IsTransient(err):
		c.fail(err)
		c.logger.Info("create failed, queueing", telemetry.LabelTempID.L(tempID), telemetry.LabelError.L(err))
		return c.enqueue(ctx, n, tempID)
	default:
		c.cache.Discard(tempID)
		metrics.IncrCounter(telemetry.MetricSyncSubmitRejectedCount, 1)
		return orders.Order{}, err
	}
}

func (c *Coordinator) enqueue(ctx context.Context, n orders.NewOrder, tempID int64) (orders.Order, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return orders.Order{}, err
	}
	e, err := c.outbox.Enqueue(ctx, outbox.Entry{
		Kind:      outbox.KindCreate,
		TempID:    tempID,
		ClientRef: n.ClientRef,
		Payload:   payload,
		CreatedAt: c.now(),
	})
	if err != nil {
		c.cache.Discard(tempID)
		return orders.Order{}, fmt.Errorf("queue order: %w", err)
	}
	if e.TempID != tempID {
		// already queued under an earlier id
		c.cache.Discard(tempID)
	}
	o := queued(n, e.TempID, e.CreatedAt)
	c.cache.ApplyOptimistic(o)
	metrics.IncrCounter(telemetry.MetricSyncSubmitQueuedCount, 1)
	return o, nil
}

// Kick asks Run to drain the outbox.
func (c *Coordinator) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Drain replays the outbox in order. It stops at the first transient failure
// or rejection so later entries never overtake earlier ones; an entry rejected
// MaxAttempts times is dead-lettered and the drain moves past it. Only one
// drain runs at a time; a call made while another is running makes that one
// pass over the outbox again before it returns.
func (c *Coordinator) Drain(ctx context.Context) (int, error) {
	drained := 0
	for {
		atomic.StoreInt32(&c.rerun, 1)
		if !atomic.CompareAndSwapInt32(&c.draining, 0, 1) {
			return drained, nil
		}
		atomic.StoreInt32(&c.rerun, 0)
		n, err := c.drainAll(ctx)
		drained += n
		atomic.StoreInt32(&c.draining, 0)
		if err != nil || atomic.LoadInt32(&c.rerun) == 0 {
			return drained, err
		}
	}
}

// drainAll replays entries until the outbox is empty or a replay stops it.
func (c *Coordinator) drainAll(ctx context.Context) (int, error) {
	drained := 0
	for {
		entries, err := c.outbox.List(ctx)
		if err != nil || len(entries) == 0 {
			return drained, err
		}
		n, err := c.drainEntries(ctx, entries)
		drained += n
		if err != nil {
			return drained, err
		}
	}
}

func (c *Coordinator) drainEntries(ctx context.Context, entries []outbox.Entry) (int, error) {
	drained := 0
	for _, e := range entries {
		if !c.monitor.Online() {
			return drained, ErrOffline
		}
		log := c.logger.With(telemetry.LabelSeq.L(e.Seq), telemetry.LabelKind.L(e.Kind))

		result, err := c.replay(ctx, e)
		if errors.Is(err, errUndecodable) {
			log.Warn("dead-lettering undecodable entry", telemetry.LabelError.L(err))
			if err := c.outbox.DeadLetter(ctx, e.Seq, err.Error()); err != nil {
				return drained, err
			}
			c.cache.Discard(e.TempID)
			continue
		}
		if err != nil && apiclient.IsTransient(err) {
			c.fail(err)
			return drained, err
		}
		if err != nil {
			stop, derr := c.rejected(ctx, log, e, err)
			if derr != nil {
				return drained, derr
			}
			if stop {
				return drained, err
			}
			continue
		}

		// deleted only after the server accepted it; a crash before this
		// line replays the entry, which the client ref de-duplicates
		if err := c.outbox.Delete(ctx, e.Seq); err != nil {
			return drained, err
		}
		if e.Kind == outbox.KindCreate {
			c.cache.Reconcile(e.TempID, result)
			c.created(ctx, result)
		} else {
			c.cache.Upsert(orders.PatchFrom(result))
		}
		drained++
		metrics.IncrCounter(telemetry.MetricOutboxDrainedCount, 1)
		log.Info("queued write accepted", telemetry.LabelOrderID.L(result.ID))
	}
	return drained, nil
}


var errUndecodable = errors.New("undecodable payload")

func (c *Coordinator) replay(ctx context.Context, e outbox.Entry) (orders.Order, error) {
	switch e.Kind {
	case outbox.KindCreate:
		var n orders.NewOrder
		if err := json.Unmarshal(e.Payload, &n); err != nil {
			return orders.Order{}, fmt.Errorf("%w: %v", errUndecodable, err)
		}
		return c.api.CreateOrder(ctx, n)
	case outbox.KindUpdate:
		var o orders.Order
		if err := json.Unmarshal(e.Payload, &o); err != nil || o.ID <= 0 {
			return orders.Order{}, fmt.Errorf("%w: %v", errUndecodable, err)
		}
		return c.api.UpdateOrder(ctx, o)
	}
	return orders.Order{}, fmt.Errorf("%w: kind %q", errUndecodable, e.Kind)
}

// rejected records a rejection and reports whether the drain must stop.
func (c *Coordinator) rejected(ctx context.Context, log *slog.Logger, e outbox.Entry, cause error) (bool, error) {
	metrics.IncrCounter(telemetry.MetricOutboxRejectedCount, 1)
	attempts, err := c.outbox.MarkFailed(ctx, e.Seq, cause)
	if err != nil {
		return true, err
	}
	if attempts < c.opts.MaxAttempts {
		log.Warn("queued write rejected, keeping it", slog.Int("attempts", attempts), telemetry.LabelError.L(cause))
		return true, nil
	}
	log.Error("queued write rejected too often, dead-lettering", slog.Int("attempts", attempts), telemetry.LabelError.L(cause))
	if err := c.outbox.DeadLetter(ctx, e.Seq, cause.Error()); err != nil {
		return true, err
	}
	if e.Kind == outbox.KindCreate {
		c.cache.Discard(e.TempID)
	}
	return false, nil
}

// Update sends a full order update, queueing it when the backend is not
// reachable.
func (c *Coordinator) Update(ctx context.Context, o orders.Order) (orders.Order, error) {
	if o.Local() {
		return orders.Order{}, ErrNotSynced
	}
	if c.monitor.Online() {
		updated, err := c.api.UpdateOrder(ctx, o)
		if err == nil {
			return c.cache.Upsert(orders.PatchFrom(updated)), nil
		}
		if !apiclient.IsTransient(err) {
			return orders.Order{}, err
		}
		c.fail(err)
	}

	payload, err := json.Marshal(o)
	if err != nil {
		return orders.Order{}, err
	}
	ref := o.ClientRef
	if ref == "" {
		ref = uuid.NewString()
	}
	if _, err := c.outbox.Enqueue(ctx, outbox.Entry{
		Kind:      outbox.KindUpdate,
		OrderID:   o.ID,
		ClientRef: ref,
		Payload:   payload,
		CreatedAt: c.now(),
	}); err != nil {
		return orders.Order{}, fmt.Errorf("queue update: %w", err)
	}
	c.cache.ApplyOptimistic(o)
	return o, nil
}

// UpdateStatus is never queued: replaying a stale transition is unsafe.
func (c *Coordinator) UpdateStatus(ctx context.Context, id int64, status orders.Status) (orders.Order, error) {
	if !c.monitor.Online() {
		return orders.Order{}, ErrOffline
	}
	o, err := c.api.UpdateStatus(ctx, id, status)
	if err != nil {
		c.fail(err)
		return orders.Order{}, err
	}
	return c.cache.Upsert(orders.PatchFrom(o)), nil
}

// Cancel shows CANCELLED immediately and restores the previous status if the
// server refuses.
func (c *Coordinator) Cancel(ctx context.Context, id int64) (orders.Order, error) {
	if !c.monitor.Online() {
		return orders.Order{}, ErrOffline
	}
	prev, ok := c.cache.Get(id)
	if !ok {
		return orders.Order{}, ErrUnknown
	}
	if prev.Local() {
		return orders.Order{}, ErrNotSynced
	}
	c.cache.Upsert(orders.StatusPatch(id, orders.StatusCancelled))

	o, err := c.api.UpdateStatus(ctx, id, orders.StatusCancelled)
	if err != nil {
		c.fail(err)
		c.cache.Upsert(orders.StatusPatch(id, prev.Status))
		return orders.Order{}, err
	}
	return c.cache.Upsert(orders.PatchFrom(o)), nil
}

func (c *Coordinator) Pay(ctx context.Context, id int64, in orders.PaymentInput) (orders.Order, error) {
	if err := in.Validate(); err != nil {
		return orders.Order{}, err
	}
	if !c.monitor.Online() {
		return orders.Order{}, ErrOffline
	}
	o, err := c.api.Pay(ctx, id, in)
	if err != nil {
		c.fail(err)
		return orders.Order{}, err
	}
	return c.cache.Upsert(orders.PatchFrom(o)), nil
}

func (c *Coordinator) VerifyPayment(ctx context.Context, id int64) (orders.Order, error) {
	if !c.monitor.Online() {
		return orders.Order{}, ErrOffline
	}
	o, err := c.api.VerifyPayment(ctx, id)
	if err != nil {
		c.fail(err)
		return orders.Order{}, err
	}
	return c.cache.Upsert(orders.PatchFrom(o)), nil
}

func (c *Coordinator) created(ctx context.Context, o orders.Order) {
	c.mu.Lock()
	hooks := append([]func(context.Context, orders.Order){}, c.onCreated...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx, o)
	}
}

// fail marks the backend offline when err is a transport failure rather than
// a server response.
func (c *Coordinator) fail(err error) {
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) || !apiclient.IsTransient(err) || errors.Is(err, orders.ErrMalformed) {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	c.monitor.Set(false)
}

func queued(n orders.NewOrder, tempID int64, at time.Time) orders.Order {
	o := n.Pending(tempID, at)
	o.Status = orders.StatusQueued
	return o
}
