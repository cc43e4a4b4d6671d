// Package guest keeps the single guest ordering session of a terminal and
// links repeat checkouts to the guest's open order.
package guest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/telemetry"
)

// DefaultTTL bounds how long a stored session may be reused.
const DefaultTTL = 3 * time.Hour

const slotKey = "guest.session"

// Session is the capability to append to an order created without login.
type Session struct {
	OrderID  int64     `json:"orderId"`
	Secret   string    `json:"secret"`
	IssuedAt time.Time `json:"issuedAt"`
}

// KV is satisfied by *localdb.DB.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

type Store struct {
	kv     KV
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewStore(kv KV, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, ttl: ttl, now: time.Now, logger: logger}
}

// Save replaces the stored session.
func (s *Store) Save(ctx context.Context, sess Session) error {
	if sess.IssuedAt.IsZero() {
		sess.IssuedAt = s.now()
	}
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, slotKey, b)
}

// Load returns the stored session. An expired or unreadable session is
// cleared and reported as absent.
func (s *Store) Load(ctx context.Context) (Session, bool, error) {
	b, ok, err := s.kv.Get(ctx, slotKey)
	if err != nil || !ok {
		return Session{}, false, err
	}
	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil || sess.OrderID == 0 || sess.Secret == "" {
		s.logger.Warn("clearing unreadable guest session", telemetry.LabelError.L(err))
		return Session{}, false, s.Clear(ctx)
	}
	if !s.valid(sess) {
		s.logger.Info("guest session expired", telemetry.LabelOrderID.L(sess.OrderID))
		return Session{}, false, s.Clear(ctx)
	}
	return sess, true, nil
}

func (s *Store) Clear(ctx context.Context) error {
	return s.kv.Delete(ctx, slotKey)
}

func (s *Store) valid(sess Session) bool {
	return s.now().Sub(sess.IssuedAt) < s.ttl
}
