package httpx

import (
	"log"
	"net/http"

	"github.com/ariefcatur/go-restaurant-orders/internal/hub"
	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

// NewRealtimeHandler serves SockJS sessions at /realtime. Clients send
// {"action":"subscribe","topic":"restaurant/7"} frames and receive every
// broadcast for the topics they hold. buffer bounds each session's backlog.
func NewRealtimeHandler(h *hub.Hub, buffer int) http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := hub.NewClient(uuid.NewString(), buffer)
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				if err := session.Send(string(msg)); err != nil {
					return
				}
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				log.Printf("realtime: ignore frame from %s", client.ID)
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.Unsubscribe(client, parsed.Topic)
			} else {
				h.Subscribe(client, parsed.Topic)
			}
		}
	})
}
