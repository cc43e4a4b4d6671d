// Package realtime subscribes to order pushes from the realtime service.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/ariefcatur/go-restaurant-orders/internal/telemetry"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-metrics"
)

const listenerBuffer = 64

// WebsocketURL turns the realtime service base URL into its SockJS raw
// websocket endpoint.
func WebsocketURL(base string) string {
	u := strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/realtime/websocket"
}

type Options struct {
	// Backoff is the fixed wait between connection attempts.
	Backoff time.Duration
	Dialer  *websocket.Dialer
	Logger  *slog.Logger
}

type frame struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type control struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// Channel multiplexes any number of listeners over one connection. It dials
// on the first Subscribe and keeps reconnecting until Close.
type Channel struct {
	url  string
	opts Options

	mu        sync.Mutex
	listeners map[string]map[int]chan orders.Patch
	nextID    int
	conn      *websocket.Conn
	started   bool
	closed    bool

	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(url string, opts Options) *Channel {
	if opts.Backoff <= 0 {
		opts.Backoff = 3 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		url:       url,
		opts:      opts,
		listeners: make(map[string]map[int]chan orders.Patch),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Subscribe registers a listener for topic and returns its stream and a
// cancel func. Before the connection is up the subscription is held and sent
// once connected. The topic is unsubscribed on the wire when its last
// listener cancels.
func (c *Channel) Subscribe(topic string) (<-chan orders.Patch, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan orders.Patch, listenerBuffer)
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextID
	c.nextID++
	set, ok := c.listeners[topic]
	if !ok {
		set = make(map[int]chan orders.Patch)
		c.listeners[topic] = set
		if c.conn != nil {
			c.sendLocked(c.conn, control{Action: "subscribe", Topic: topic})
		}
	}
	set[id] = ch

	if !c.started {
		c.started = true
		go c.run()
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() { c.unsubscribe(topic, id) })
	}
}

func (c *Channel) unsubscribe(topic string, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.listeners[topic]
	if !ok {
		return
	}
	ch, ok := set[id]
	if !ok {
		return
	}
	delete(set, id)
	close(ch)
	if len(set) == 0 {
		delete(c.listeners, topic)
		if c.conn != nil {
			c.sendLocked(c.conn, control{Action: "unsubscribe", Topic: topic})
		}
	}
}

// Close drops the connection and ends every subscription.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	started := c.started
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()

	c.cancel()
	if started {
		<-c.done
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, set := range c.listeners {
		for _, ch := range set {
			close(ch)
		}
		delete(c.listeners, topic)
	}
}

func (c *Channel) run() {
	defer close(c.done)
	log := c.opts.Logger
	for {
		conn, _, err := c.opts.Dialer.DialContext(c.ctx, c.url, nil)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			log.Warn("realtime dial failed", telemetry.LabelError.L(err))
			if !c.sleep() {
				return
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		for topic := range c.listeners {
			c.sendLocked(conn, control{Action: "subscribe", Topic: topic})
		}
		c.mu.Unlock()
		metrics.IncrCounter(telemetry.MetricRealtimeConnectCount, 1)
		log.Info("realtime connected")

		err = c.read(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()

		if c.ctx.Err() != nil {
			return
		}
		log.Warn("realtime connection lost", telemetry.LabelError.L(err))
		if !c.sleep() {
			return
		}
	}
}

func (c *Channel) read(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(data)
	}
}

// dispatch decodes one inbound frame. Bad frames are dropped and never end
// the connection.
func (c *Channel) dispatch(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil || f.Topic == "" {
		c.drop("undecodable frame", err)
		return
	}
	p, err := orders.DecodeWire(f.Payload)
	if err != nil {
		c.drop("malformed order payload", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.listeners[f.Topic] {
		select {
		case ch <- p:
		default:
			c.opts.Logger.Warn("realtime listener full, dropping update",
				telemetry.LabelTopic.L(f.Topic), telemetry.LabelOrderID.L(p.ID))
			metrics.IncrCounter(telemetry.MetricRealtimeDropCount, 1)
		}
	}
}

func (c *Channel) drop(msg string, err error) {
	c.opts.Logger.Warn(msg, telemetry.LabelError.L(err))
	metrics.IncrCounter(telemetry.MetricRealtimeDropCount, 1)
}

// sendLocked writes a control frame. Failures surface through the read loop.
func (c *Channel) sendLocked(conn *websocket.Conn, msg control) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		c.opts.Logger.Warn("realtime send failed", telemetry.LabelTopic.L(msg.Topic), telemetry.LabelError.L(err))
	}
}

func (c *Channel) sleep() bool {
	t := time.NewTimer(c.opts.Backoff)
	defer t.Stop()
	select {
	case <-c.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
