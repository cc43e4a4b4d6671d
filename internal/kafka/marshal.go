package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// UnwrapPayload decodes an event payload into T.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}

// Header returns the value of header key, or "".
func Header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
