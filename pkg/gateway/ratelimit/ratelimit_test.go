package ratelimit

import (
	"testing"
	"time"
)

func TestAcquireRequest_TokenBucketRefills(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 1})
	now := time.Now()

	first := l.AcquireRequest("p1", now)
	if !first.Allowed {
		t.Fatal("first request should be allowed")
	}

	second := l.AcquireRequest("p1", now)
	if second.Allowed {
		t.Fatal("second request should be denied")
	}
	if second.RetryAfter < 1 {
		t.Fatalf("RetryAfter = %d, want >= 1", second.RetryAfter)
	}

	third := l.AcquireRequest("p1", now.Add(time.Second))
	if !third.Allowed {
		t.Fatal("request after refill should be allowed")
	}
}

func TestAcquireRequest_PrincipalsAreIndependent(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 1})
	now := time.Now()

	if dec := l.AcquireRequest("p1", now); !dec.Allowed {
		t.Fatal("p1 should be allowed")
	}
	if dec := l.AcquireRequest("p2", now); !dec.Allowed {
		t.Fatal("p2 should not be charged for p1's token")
	}
}

func TestAcquireRequest_EnforcesConcurrency(t *testing.T) {
	l := New(Config{MaxConcurrentRequests: 1})
	now := time.Now()

	first := l.AcquireRequest("p1", now)
	if !first.Allowed || first.Permit == nil {
		t.Fatalf("first allowed=%v permit=%v", first.Allowed, first.Permit)
	}

	second := l.AcquireRequest("p1", now)
	if second.Allowed {
		t.Fatal("second request should be denied while the first is in flight")
	}

	first.Permit.Release()
	third := l.AcquireRequest("p1", now)
	if !third.Allowed {
		t.Fatal("third request should be allowed after release")
	}
}

func TestAcquireStream_EnforcesConcurrency(t *testing.T) {
	l := New(Config{MaxConcurrentStreams: 1})
	now := time.Now()

	first := l.AcquireStream("p1", now)
	if !first.Allowed || first.Permit == nil {
		t.Fatalf("first allowed=%v permit=%v", first.Allowed, first.Permit)
	}

	second := l.AcquireStream("p1", now)
	if second.Allowed {
		t.Fatal("second stream should be denied")
	}

	first.Permit.Release()
	third := l.AcquireStream("p1", now)
	if !third.Allowed {
		t.Fatal("third stream should be allowed after release")
	}
}

func TestAcquireStream_DoesNotChargeTokens(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 1, MaxConcurrentStreams: 4})
	now := time.Now()

	for i := 0; i < 3; i++ {
		if dec := l.AcquireStream("p1", now); !dec.Allowed {
			t.Fatalf("stream %d should be allowed", i)
		}
	}
	if dec := l.AcquireRequest("p1", now); !dec.Allowed {
		t.Fatal("request should still have its token after streams were admitted")
	}
}

func TestPermit_ReleaseIsIdempotent(t *testing.T) {
	l := New(Config{MaxConcurrentRequests: 1})
	now := time.Now()

	first := l.AcquireRequest("p1", now)
	first.Permit.Release()
	first.Permit.Release()

	// A double release must not free two slots.
	second := l.AcquireRequest("p1", now)
	if !second.Allowed {
		t.Fatal("second request should be allowed after release")
	}
	third := l.AcquireRequest("p1", now)
	if third.Allowed {
		t.Fatal("third request should be denied while the second is in flight")
	}
}

func TestEntryMapStaysBounded(t *testing.T) {
	l := New(Config{MaxEntries: 2, EntryTTL: time.Minute})
	base := time.Now()

	l.AcquireRequest("p1", base)
	l.AcquireRequest("p2", base)
	l.AcquireRequest("p3", base.Add(2*time.Minute))

	l.mu.Lock()
	n := len(l.entries)
	l.mu.Unlock()
	if n > 2 {
		t.Fatalf("entries = %d, want at most 2", n)
	}
}
