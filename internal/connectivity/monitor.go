// Package connectivity tracks whether the order backend is reachable.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/telemetry"
	"github.com/hashicorp/go-metrics"
)

// Probe returns nil when the backend is reachable.
type Probe func(ctx context.Context) error

// HTTPProbe checks GET {baseURL}/healthz. Any response below 500 counts as
// reachable.
func HTTPProbe(client *http.Client, baseURL string) Probe {
	url := strings.TrimRight(baseURL, "/") + "/healthz"
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("healthz: %s", resp.Status)
		}
		return nil
	}
}

// Monitor holds the current reachability and fans out transitions. It starts
// offline until the first probe or Set.
type Monitor struct {
	probe    Probe
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	nextID int
}

func New(probe Probe, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{probe: probe, interval: interval, logger: logger, subs: make(map[int]chan bool)}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe returns a stream of state changes. A slow reader only sees the
// latest state. The returned func stops the stream.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}

// Set forces the state, e.g. when a request fails with a network error.
// Subscribers are notified only on change.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return
	}
	m.online = online
	m.logger.Info("connectivity changed", telemetry.LabelOnline.L(online))
	metrics.IncrCounterWithLabels(telemetry.MetricConnectivityChanges, 1,
		[]metrics.Label{telemetry.LabelOnline.M(fmt.Sprint(online))})
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
}

// Check runs the probe once and records the result.
func (m *Monitor) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()
	err := m.probe(ctx)
	if err != nil && ctx.Err() == nil {
		m.logger.Debug("probe failed", telemetry.LabelError.L(err))
	}
	m.Set(err == nil)
	return err == nil
}

// Run probes immediately and then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
