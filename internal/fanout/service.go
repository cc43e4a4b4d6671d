package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	kafkax "github.com/ariefcatur/go-restaurant-orders/internal/kafka"
	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
)

const supportedVersion = "1"

// Frame is what realtime subscribers receive.
type Frame struct {
	Topic     string          `json:"topic"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type Broadcaster interface {
	Broadcast(topic string, payload []byte) int
}

type Deduper interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
}

type Service struct {
	Hub   Broadcaster
	Dedup Deduper
}

// HandleOrderEvent is installed as the consumer handler for order.events.
func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	if v := kafkax.Header(m, "x-event-version"); v != "" && v != supportedVersion {
		log.Printf("fanout: skip event version %s offset=%d", v, m.Offset)
		return nil
	}
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// poison message: log and let the offset advance
		log.Printf("fanout: drop undecodable event offset=%d: %v", m.Offset, err)
		return nil
	}
	if env.TenantID <= 0 || len(env.Payload) == 0 {
		log.Printf("fanout: drop event %s without tenant/payload", env.EventID)
		return nil
	}

	if env.EventType == orders.EventOrderStatusChanged {
		p, err := kafkax.UnwrapPayload[orders.StatusChangedPayload](env.Payload)
		if err != nil || p.OrderID == 0 {
			log.Printf("fanout: drop status event %s without order id", env.EventID)
			return nil
		}
	}

	if s.Dedup != nil && env.EventID != "" {
		first, err := s.Dedup.FirstSeen(ctx, env.EventID)
		if err != nil {
			return fmt.Errorf("dedup %s: %w", env.EventID, err)
		}
		if !first {
			return nil
		}
	}

	topic := orders.RealtimeTopic(env.TenantID)
	frame, err := json.Marshal(Frame{
		Topic:     topic,
		Type:      env.EventType,
		Payload:   env.Payload,
		CreatedAt: env.OccurredAt,
	})
	if err != nil {
		return err
	}
	s.Hub.Broadcast(topic, frame)
	return nil
}
