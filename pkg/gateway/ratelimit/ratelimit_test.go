package ratelimit

import (
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestAcquireLive_EnforcesConcurrency(t *testing.T) {
	l := New(Config{MaxLiveSessions: 1})
	now := time.Now()

	first := l.AcquireLive("p1", now)
	if !first.Allowed || first.Permit == nil {
		t.Fatalf("first allowed=%v permit=%v", first.Allowed, first.Permit)
	}

	second := l.AcquireLive("p1", now)
	if second.Allowed {
		t.Fatalf("second should be denied")
	}

	first.Permit.Release()
	third := l.AcquireLive("p1", now)
	if !third.Allowed {
		t.Fatalf("third should be allowed after release")
	}
}

func TestAcquireLive_PerPrincipal(t *testing.T) {
	l := New(Config{MaxLiveSessions: 1})
	now := time.Now()

	if d := l.AcquireLive("p1", now); !d.Allowed {
		t.Fatal("p1 should be allowed")
	}
	if d := l.AcquireLive("p2", now); !d.Allowed {
		t.Fatal("p2 should not be starved by p1")
	}
}

func TestAcquireRequest_TokenBucket(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 2})
	now := time.Now()

	for i := 0; i < 2; i++ {
		d := l.AcquireRequest("p1", now)
		if !d.Allowed {
			t.Fatalf("request %d denied within burst", i)
		}
		d.Permit.Release()
	}

	d := l.AcquireRequest("p1", now)
	if d.Allowed {
		t.Fatal("third request should exhaust the burst")
	}
	if d.RetryAfter < 1 {
		t.Fatalf("RetryAfter = %d", d.RetryAfter)
	}

	// One second refills one token.
	d = l.AcquireRequest("p1", now.Add(time.Second))
	if !d.Allowed {
		t.Fatal("request after refill should pass")
	}
	d.Permit.Release()
}

func TestAcquireRequest_Unlimited(t *testing.T) {
	l := New(Config{})
	now := time.Now()
	for i := 0; i < 100; i++ {
		d := l.AcquireRequest("p1", now)
		if !d.Allowed {
			t.Fatalf("request %d denied with no limits configured", i)
		}
		d.Permit.Release()
	}
}

func TestPermitReleaseIdempotent(t *testing.T) {
	l := New(Config{MaxConcurrentRequests: 1})
	now := time.Now()

	d := l.AcquireRequest("p1", now)
	if !d.Allowed {
		t.Fatal("first should be allowed")
	}
	d.Permit.Release()
	d.Permit.Release() // must not free a second slot

	a := l.AcquireRequest("p1", now)
	if !a.Allowed {
		t.Fatal("slot should be free after release")
	}
	b := l.AcquireRequest("p1", now)
	if b.Allowed {
		t.Fatal("double release leaked a slot")
	}
	a.Permit.Release()
}

func TestEntryGC(t *testing.T) {
	l := New(Config{MaxEntries: 2, EntryTTL: time.Minute})
	now := time.Now()

	l.AcquireRequest("p1", now)
	l.AcquireRequest("p2", now)
	// Past TTL both entries are stale; inserting a third must not grow the map.
	l.AcquireRequest("p3", now.Add(2*time.Minute))

	l.mu.Lock()
	n := len(l.m)
	l.mu.Unlock()
	if n > 2 {
		t.Fatalf("map grew to %d entries, want <= 2", n)
	}
}

// Exercises concurrent touches against the map GC; run with -race.
func TestConcurrentAcquireAndGC(t *testing.T) {
	l := New(Config{MaxEntries: 2, EntryTTL: time.Millisecond})
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			principal := "p" + strconv.Itoa(i%2)
			for j := 0; j < 200; j++ {
				d := l.AcquireRequest(principal, start.Add(time.Duration(j)*time.Millisecond))
				d.Permit.Release()
			}
		}(i)
	}
	// Force gcLocked to read lastSeen while the acquirers write it.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 200; j++ {
			l.AcquireRequest("churn"+strconv.Itoa(j), start.Add(time.Duration(j)*time.Millisecond))
		}
	}()
	wg.Wait()
}
