package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerSubscribePublish(t *testing.T) {
	b := New[string](4)
	sub := b.Subscribe()

	b.Publish("hello")

	select {
	case got := <-sub:
		assert.Equal(t, "hello", got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published value")
	}
}

func TestBrokerFanOut(t *testing.T) {
	tests := []struct {
		name          string
		subscribers   int
		published     []int
		wantPerSubLen int
	}{
		{name: "single subscriber", subscribers: 1, published: []int{1, 2, 3}, wantPerSubLen: 3},
		{name: "three subscribers", subscribers: 3, published: []int{1, 2}, wantPerSubLen: 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := New[int](len(tc.published))
			subs := make([]Subscriber[int], tc.subscribers)
			for i := range subs {
				subs[i] = b.Subscribe()
			}

			for _, v := range tc.published {
				b.Publish(v)
			}

			for _, sub := range subs {
				got := make([]int, 0, tc.wantPerSubLen)
				for len(got) < tc.wantPerSubLen {
					select {
					case v := <-sub:
						got = append(got, v)
					case <-time.After(time.Second):
						t.Fatal("timed out waiting for fan-out delivery")
					}
				}
				assert.Equal(t, tc.published, got)
			}
		})
	}
}

func TestBrokerPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := New[int](1)
	slow := b.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}

	require.Len(t, slow, 1)
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := New[int](1)
	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, ok := <-sub
	assert.False(t, ok, "subscriber channel should be closed after Unsubscribe")
}

func TestBrokerConcurrentSubscribers(t *testing.T) {
	b := New[int](8)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := b.Subscribe()
			defer b.Unsubscribe(sub)
			b.Publish(1)
		}()
	}

	wg.Wait()
	assert.Equal(t, 0, b.SubscriberCount())
}
