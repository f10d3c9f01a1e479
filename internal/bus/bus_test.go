package bus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestInvalidateAllCallsEachSubscriberOnce(t *testing.T) {
	b := New()
	counts := make([]int, 3)
	for i := range counts {
		b.Subscribe(fmt.Sprintf("view-%d", i), func() { counts[i]++ })
	}

	b.InvalidateAll()

	for i, count := range counts {
		if count != 1 {
			t.Fatalf("subscriber %d called %d times, want 1", i, count)
		}
	}
}

func TestUnsubscribeDuringFanOutSkipsRemoved(t *testing.T) {
	b := New()
	var calls []string
	var unsubscribeB func()

	b.Subscribe("a", func() {
		calls = append(calls, "a")
		unsubscribeB()
	})
	unsubscribeB = b.Subscribe("b", func() { calls = append(calls, "b") })
	b.Subscribe("c", func() { calls = append(calls, "c") })

	b.InvalidateAll()

	if fmt.Sprint(calls) != "[a c]" {
		t.Fatalf("unexpected calls %v", calls)
	}
	if b.Len() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.Len())
	}
}

func TestSubscribeDuringFanOutWaitsForNextCall(t *testing.T) {
	b := New()
	late := 0
	b.Subscribe("a", func() {
		b.Subscribe("late", func() { late++ })
	})

	b.InvalidateAll()
	if late != 0 {
		t.Fatalf("late subscriber ran during the fan-out that added it")
	}

	b.InvalidateAll()
	if late != 1 {
		t.Fatalf("expected late subscriber to run once, got %d", late)
	}
}

func TestPanickingSubscriberDoesNotStopOthers(t *testing.T) {
	b := New()
	ran := false
	b.Subscribe("boom", func() { panic("boom") })
	b.Subscribe("ok", func() { ran = true })

	b.InvalidateAll()

	if !ran {
		t.Fatalf("expected second subscriber to run")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	unsubscribe := b.Subscribe("a", func() {})
	b.Subscribe("b", func() {})

	unsubscribe()
	unsubscribe()

	if b.Len() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", b.Len())
	}
}

func TestResubscribeReplacesCallback(t *testing.T) {
	b := New()
	first, second := 0, 0
	unsubscribeFirst := b.Subscribe("a", func() { first++ })
	b.Subscribe("a", func() { second++ })

	b.InvalidateAll()
	unsubscribeFirst()
	b.InvalidateAll()

	if first != 0 || second != 2 {
		t.Fatalf("unexpected counts first=%d second=%d", first, second)
	}
}

func TestConcurrentInvalidateAndSubscribe(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsubscribe := b.Subscribe(fmt.Sprintf("v%d", i), func() {})
			unsubscribe()
		}()
		go func() {
			defer wg.Done()
			b.InvalidateAll()
		}()
	}
	wg.Wait()
	if b.Len() != 0 {
		t.Fatalf("expected no subscribers left, got %d", b.Len())
	}
}

func TestUnsubscribeWaitsForRunningCallback(t *testing.T) {
	b := New()
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	unsubscribe := b.Subscribe("slow", func() {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
	})

	go b.InvalidateAll()
	<-entered

	returned := make(chan struct{})
	go func() {
		unsubscribe()
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatalf("unsubscribe returned while the callback was still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-returned

	b.InvalidateAll()
	if got := calls.Load(); got != 1 {
		t.Fatalf("callback ran %d times, want 1", got)
	}
}

func TestNoCallbackAfterUnsubscribeReturns(t *testing.T) {
	for i := 0; i < 200; i++ {
		b := New()
		var unsubscribed atomic.Bool
		var late atomic.Bool
		unsubscribe := b.Subscribe("v", func() {
			if unsubscribed.Load() {
				late.Store(true)
			}
		})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.InvalidateAll()
		}()
		go func() {
			defer wg.Done()
			unsubscribe()
			unsubscribed.Store(true)
		}()
		wg.Wait()

		if late.Load() {
			t.Fatalf("callback started after unsubscribe returned")
		}
	}
}
