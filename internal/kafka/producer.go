package kafka

import (
	"context"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
}

func NewProducer(brokers []string, topic string, buf int) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start runs the writer loop until ctx is done or Close is called; pending
// messages are flushed before the writer closes.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		defer func() {
			if err := p.w.Close(); err != nil {
				log.Printf("kafka writer close: %v", err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				for {
					select {
					case m, ok := <-p.inbox:
						if !ok {
							return
						}
						p.write(m)
					default:
						return
					}
				}
			case m, ok := <-p.inbox:
				if !ok {
					return
				}
				p.write(m)
			}
		}
	}()
}

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		log.Printf("kafka publish topic=%s key=%s: %v", p.w.Topic, m.Key, err)
	}
}

func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) {
	p.inbox <- kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
}

// Close the inbox so the loop flushes what is left and exits.
func (p *Producer) Close() { close(p.inbox) }

// WaitClosed blocks until the loop is done.
func (p *Producer) WaitClosed() { <-p.closeCh }
