package rewards

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHubDelivery(t *testing.T) {
	hub := NewHub()
	var got []string
	unsub := hub.Subscribe(ContestTopic("c1"), func(topic string) {
		got = append(got, topic)
	})

	hub.Publish(context.Background(), ContestTopic("c1"))
	hub.Publish(context.Background(), ContestTopic("c2"))
	require.Equal(t, []string{"contest/c1"}, got)

	unsub()
	hub.Publish(context.Background(), ContestTopic("c1"))
	require.Len(t, got, 1)
	require.Equal(t, 0, hub.Subscriptions())

	// повторный вызов безопасен
	unsub()
}

func TestHubNoCallbackAfterUnsubscribe(t *testing.T) {
	hub := NewHub()
	var calls atomic.Int64
	var closed atomic.Bool
	var late atomic.Int64

	unsub := hub.Subscribe(ParticipantTopic("c1", "u1"), func(string) {
		if closed.Load() {
			late.Add(1)
		}
		calls.Add(1)
	})

	wg := &sync.WaitGroup{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				hub.Publish(context.Background(), ParticipantTopic("c1", "u1"))
			}
		}()
	}
	unsub()
	closed.Store(true)
	wg.Wait()

	require.Zero(t, late.Load())
	require.Equal(t, 0, hub.Subscriptions())
}
