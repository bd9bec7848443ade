package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBus(t *testing.T, interval time.Duration) *Bus {
	t.Helper()
	b := New(zap.NewNop(), interval)
	b.Start(context.Background())
	t.Cleanup(b.Stop)
	return b
}

func waitFor(t *testing.T, ch <-chan string, n int) []string {
	t.Helper()
	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case s := <-ch:
			got = append(got, s)
		case <-deadline:
			t.Fatalf("timed out after %d of %d deliveries", len(got), n)
		}
	}
	return got
}

func TestBus_DeliversInSubscriptionOrder(t *testing.T) {
	b := newTestBus(t, time.Hour)
	out := make(chan string, 16)

	b.Subscribe("t", "first", func(ev Event) { out <- "first:" + ev.Payload.(string) })
	b.Subscribe("t", "second", func(ev Event) { out <- "second:" + ev.Payload.(string) })

	b.Publish("t", "a")
	b.Publish("t", "b")

	got := waitFor(t, out, 4)
	assert.Equal(t, []string{"first:a", "second:a", "first:b", "second:b"}, got)
}

func TestBus_DuplicateSubscribeIsNoop(t *testing.T) {
	b := newTestBus(t, time.Hour)
	out := make(chan string, 16)

	h := func(ev Event) { out <- ev.Topic }
	b.Subscribe("t", "h", h)
	b.Subscribe("t", "h", h)
	b.Publish("t", nil)
	b.Publish("t", nil)

	got := waitFor(t, out, 2)
	assert.Equal(t, []string{"t", "t"}, got)
	select {
	case extra := <-out:
		t.Fatalf("unexpected extra delivery %q", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_UnsubscribeAndCatchAll(t *testing.T) {
	b := newTestBus(t, time.Hour)
	out := make(chan string, 16)

	b.Subscribe("t", "h", func(ev Event) { out <- "h" })
	b.SubscribeAll("all", func(ev Event) {
		if ev.Topic != TopicTimer {
			out <- "all:" + ev.Topic
		}
	})
	b.Unsubscribe("t", "h")
	b.Unsubscribe("t", "missing")

	b.Publish("t", nil)
	b.Publish("u", nil)

	got := waitFor(t, out, 2)
	assert.Equal(t, []string{"all:t", "all:u"}, got)

	b.UnsubscribeAll("all")
	b.Subscribe("v", "v", func(ev Event) { out <- "v" })
	b.Publish("u", nil)
	b.Publish("v", nil)
	assert.Equal(t, []string{"v"}, waitFor(t, out, 1))
}

func TestBus_HandlerPanicDoesNotStopDispatch(t *testing.T) {
	b := newTestBus(t, time.Hour)
	out := make(chan string, 4)

	b.Subscribe("t", "boom", func(ev Event) { panic("boom") })
	b.Subscribe("t", "ok", func(ev Event) { out <- "ok" })

	b.Publish("t", nil)
	b.Publish("t", nil)

	assert.Equal(t, []string{"ok", "ok"}, waitFor(t, out, 2))
}

func TestBus_TimerFires(t *testing.T) {
	b := newTestBus(t, 10*time.Millisecond)
	out := make(chan string, 64)
	b.Subscribe(TopicTimer, "tick", func(ev Event) {
		select {
		case out <- ev.Topic:
		default:
		}
	})

	got := waitFor(t, out, 2)
	assert.Equal(t, TopicTimer, got[0])
}

func TestBus_ConcurrentPublishKeepsPerPublisherOrder(t *testing.T) {
	b := newTestBus(t, time.Hour)

	const publishers, perPublisher = 4, 50
	var mu sync.Mutex
	seen := make(map[int][]int)
	done := make(chan struct{})
	total := 0

	b.Subscribe("t", "rec", func(ev Event) {
		p := ev.Payload.([2]int)
		mu.Lock()
		seen[p[0]] = append(seen[p[0]], p[1])
		total++
		if total == publishers*perPublisher {
			close(done)
		}
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				b.Publish("t", [2]int{p, i})
			}
		}(p)
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}

	mu.Lock()
	defer mu.Unlock()
	for p := 0; p < publishers; p++ {
		require.Len(t, seen[p], perPublisher)
		for i, v := range seen[p] {
			assert.Equal(t, i, v)
		}
	}
}

func TestBus_StopIsIdempotent(t *testing.T) {
	b := New(zap.NewNop(), time.Hour)
	b.Start(context.Background())
	b.Start(context.Background())
	b.Stop()
	b.Stop()
}
