package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus() *Bus {
	return New(Options{MessageTimeout: time.Hour})
}

func TestSendReceive(t *testing.T) {
	b := newTestBus()
	defer b.Shutdown()
	b.Register("a", RegisterOptions{MaxSize: 10})
	b.Register("b", RegisterOptions{MaxSize: 10})

	err := b.Send(context.Background(), AgentMessage{SenderID: "a", ReceiverID: "b", Type: TypeRequest, Content: "hi"})
	require.NoError(t, err)

	msg, ok, err := b.Receive(context.Background(), "b", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hi", msg.Content)
	assert.NotEmpty(t, msg.CorrelationID)
}

func TestSendUnknownReceiver(t *testing.T) {
	b := newTestBus()
	defer b.Shutdown()
	err := b.Send(context.Background(), AgentMessage{SenderID: "a", ReceiverID: "ghost", Type: TypeRequest})
	assert.Error(t, err)
}

func TestBroadcastExcludesSenderAndExcludeList(t *testing.T) {
	// S6: Register A, B, C. A broadcasts. B and C each get exactly one copy; A gets none.
	b := newTestBus()
	defer b.Shutdown()
	for _, id := range []string{"a", "b", "c"} {
		b.Register(id, RegisterOptions{MaxSize: 10})
	}

	b.Broadcast(context.Background(), AgentMessage{SenderID: "a", Type: TypeNotification, Content: "hello"})

	_, okA, _ := b.Receive(context.Background(), "a", 0)
	assert.False(t, okA)

	msgB, okB, _ := b.Receive(context.Background(), "b", 0)
	require.True(t, okB)
	assert.Equal(t, "hello", msgB.Content)
	_, okB2, _ := b.Receive(context.Background(), "b", 0)
	assert.False(t, okB2, "b should receive exactly one copy")

	msgC, okC, _ := b.Receive(context.Background(), "c", 0)
	require.True(t, okC)
	assert.Equal(t, "hello", msgC.Content)
}

func TestSubscriptionRejectsMessageType(t *testing.T) {
	b := newTestBus()
	defer b.Shutdown()
	b.Register("a", RegisterOptions{MaxSize: 10})
	b.Register("b", RegisterOptions{MaxSize: 10})
	b.Subscribe("b", []MessageType{TypeRequest}, nil)

	err := b.Send(context.Background(), AgentMessage{SenderID: "a", ReceiverID: "b", Type: TypeNotification})
	require.NoError(t, err)

	_, ok, _ := b.Receive(context.Background(), "b", 0)
	assert.False(t, ok, "subscription should reject non-matching type")
}

func TestQueueDropsOldestOnOverflow(t *testing.T) {
	b := newTestBus()
	defer b.Shutdown()
	b.Register("a", RegisterOptions{MaxSize: 2, Policy: OverflowDropOldest})

	for i := 0; i < 3; i++ {
		_ = b.Send(context.Background(), AgentMessage{SenderID: "x", ReceiverID: "a", Type: TypeRequest, Content: string(rune('0' + i))})
	}

	first, ok, _ := b.Receive(context.Background(), "a", 0)
	require.True(t, ok)
	assert.Equal(t, "1", first.Content, "oldest (0) should have been dropped")
}

func TestUnregisterDestroysQueueAndSubscription(t *testing.T) {
	b := newTestBus()
	defer b.Shutdown()
	b.Register("a", RegisterOptions{MaxSize: 10})
	b.Unregister("a")

	err := b.Send(context.Background(), AgentMessage{SenderID: "x", ReceiverID: "a", Type: TypeRequest})
	assert.Error(t, err)
}

func TestStatsTrackSentDeliveredAndBroadcast(t *testing.T) {
	b := newTestBus()
	defer b.Shutdown()
	b.Register("a", RegisterOptions{MaxSize: 10})
	b.Register("b", RegisterOptions{MaxSize: 10})

	_ = b.Send(context.Background(), AgentMessage{SenderID: "a", ReceiverID: "b", Type: TypeRequest})
	b.Broadcast(context.Background(), AgentMessage{SenderID: "a", Type: TypeNotification})

	s := b.Stats()
	assert.EqualValues(t, 1, s.MessagesSent)
	assert.EqualValues(t, 2, s.MessagesDelivered) // direct send + broadcast to b
	assert.EqualValues(t, 1, s.BroadcastCount)
}

func TestHistoryRedactsSecrets(t *testing.T) {
	b := New(Options{HistorySize: 10, SanitizeHistory: true})
	defer b.Shutdown()
	b.Register("a", RegisterOptions{MaxSize: 10})

	_ = b.Send(context.Background(), AgentMessage{SenderID: "x", ReceiverID: "a", Type: TypeRequest, Content: "key sk-abcdefghijklmnop in use"})

	hist := b.History()
	require.Len(t, hist, 1)
	assert.Contains(t, hist[0].Content, "[REDACTED_KEY]")
	assert.NotContains(t, hist[0].Content, "sk-abcdefghijklmnop")
}
