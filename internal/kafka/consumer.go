package kafka

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler must return nil only when the message was processed and its offset
// may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r       *kafka.Reader
	workers int
}

func NewConsumer(brokers []string, group, topic string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers}
}

// Start fetches messages and dispatches them to workers keyed by partition so a
// single order's events are handled in order.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				c.handle(ctx, h, m)
			}
		}(lanes[i])
	}
	defer func() {
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
	}()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		select {
		case lanes[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) {
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			break
		}
		log.Printf("kafka handler topic=%s partition=%d offset=%d attempt=%d: %v", m.Topic, m.Partition, m.Offset, attempt, err)
		if attempt >= 3 {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond * time.Duration(attempt)):
		}
	}
	if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		log.Printf("kafka commit offset=%d: %v", m.Offset, err)
	}
}
