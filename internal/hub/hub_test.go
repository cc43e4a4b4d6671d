package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastOnlyReachesTopicSubscribers(t *testing.T) {
	h := New()
	a := NewClient("a", 4)
	b := NewClient("b", 4)
	h.Register(a)
	h.Register(b)
	h.Subscribe(a, "restaurant/1")
	h.Subscribe(b, "restaurant/2")

	sent := h.Broadcast("restaurant/1", []byte("x"))
	assert.Equal(t, 1, sent)
	require.Len(t, a.Send, 1)
	assert.Empty(t, b.Send)

	h.Unsubscribe(a, "restaurant/1")
	assert.Equal(t, 0, h.Broadcast("restaurant/1", []byte("y")))
}

func TestBroadcastDropsForSlowClient(t *testing.T) {
	h := New()
	c := NewClient("slow", 1)
	h.Register(c)
	h.Subscribe(c, "restaurant/1")

	assert.Equal(t, 1, h.Broadcast("restaurant/1", []byte("1")))
	assert.Equal(t, 0, h.Broadcast("restaurant/1", []byte("2")))
}

func TestUnregisterIsIdempotent(t *testing.T) {
	h := New()
	c := NewClient("c", 1)
	h.Register(c)
	h.Unregister(c)
	h.Unregister(c)
	assert.Equal(t, 0, h.Len())
}

func TestParseSubscribe(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{`{"action":"subscribe","topic":"restaurant/42"}`, true},
		{`{"action":"unsubscribe","topic":"restaurant/42"}`, true},
		{`{"action":"subscribe","topic":"restaurant/"}`, false},
		{`{"action":"subscribe","topic":"kitchen/42"}`, false},
		{`{"action":"subscribe","topic":"restaurant/4a"}`, false},
		{`{"action":"publish","topic":"restaurant/42"}`, false},
		{`not json`, false},
	}
	for _, tc := range cases {
		_, ok := ParseSubscribe([]byte(tc.in))
		assert.Equal(t, tc.ok, ok, tc.in)
	}
}
