package utils

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestURLSetNoDuplicates(t *testing.T) {
	s := NewURLSet()

	if !s.Add("https://auto.bazos.cz/inzerat/1/") {
		t.Error("first Add should return true")
	}
	if s.Add("https://auto.bazos.cz/inzerat/1/") {
		t.Error("second Add of same URL should return false")
	}
	if s.Size() != 1 {
		t.Errorf("size: got %d, want 1", s.Size())
	}
}

func TestURLSetSeeded(t *testing.T) {
	s := NewURLSet("a", "b", "a")
	if s.Size() != 2 {
		t.Errorf("size: got %d, want 2", s.Size())
	}
	if !s.Contains("b") || s.Contains("c") {
		t.Error("Contains returned wrong membership")
	}
}

func TestURLSetConcurrency(t *testing.T) {
	s := NewURLSet()
	var added int64

	pool := NewWorkerPool(10, 0)
	for i := 0; i < 100; i++ {
		url := "https://www.sauto.cz/detail/1"
		pool.Submit(func() {
			if s.Add(url) {
				atomic.AddInt64(&added, 1)
			}
		})
	}
	pool.Wait()

	if added != 1 {
		t.Errorf("expected exactly 1 successful add, got %d", added)
	}
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(3, 0)

	var running, peak int64
	for i := 0; i < 20; i++ {
		pool.Submit(func() {
			n := atomic.AddInt64(&running, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&running, -1)
		})
	}
	pool.Wait()

	if peak > 3 {
		t.Errorf("peak concurrency %d exceeds pool size 3", peak)
	}
}

func TestWorkerPoolRateLimit(t *testing.T) {
	rateLimit := 50 * time.Millisecond
	pool := NewWorkerPool(1, rateLimit)

	var mu sync.Mutex
	var timestamps []time.Time

	for i := 0; i < 3; i++ {
		pool.Submit(func() {
			mu.Lock()
			timestamps = append(timestamps, time.Now())
			mu.Unlock()
		})
	}
	pool.Wait()

	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i].Sub(timestamps[i-1])
		if gap < rateLimit {
			t.Errorf("gap between job %d and %d: %v < minimum %v", i-1, i, gap, rateLimit)
		}
	}
}
