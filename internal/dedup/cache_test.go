package dedup

import (
	"testing"
	"time"

	"github.com/odesys/relay/internal/event"
)

func fp(n int) event.Fingerprint { return event.Fingerprint(n + 1) }

func TestMarkSeenAndContains(t *testing.T) {
	c := New(Options{Cap: 10})
	if c.Contains(fp(1)) {
		t.Fatalf("empty cache claims containment")
	}
	c.MarkSeen(fp(1))
	if !c.Contains(fp(1)) {
		t.Fatalf("seen fingerprint not tracked")
	}
	if c.Size() != 1 {
		t.Fatalf("size: got %d want 1", c.Size())
	}
}

func TestMarkSeenKeepsUploadTime(t *testing.T) {
	c := New(Options{Cap: 10})
	c.MarkUploaded(fp(1), 5000)
	c.MarkSeen(fp(1))
	// Still bounded-evictable as an uploaded entry: force eviction and
	// confirm it goes, proving the upload time survived MarkSeen.
	c2 := New(Options{Cap: 1})
	c2.MarkUploaded(fp(1), 5000)
	c2.MarkSeen(fp(1))
	c2.MarkUploaded(fp(2), 6000)
	c2.Cleanup(6000)
	if c2.Contains(fp(1)) {
		t.Fatalf("oldest uploaded entry should have been evicted")
	}
	if !c2.Contains(fp(2)) {
		t.Fatalf("newest uploaded entry should survive")
	}
}

func TestCapBoundEvictsOldestUploaded(t *testing.T) {
	const cap = 50
	c := New(Options{Cap: cap})
	base := int64(1_000_000)
	for i := 0; i < cap+20; i++ {
		c.MarkUploaded(fp(i), base+int64(i))
	}
	if got := c.Size(); got > cap {
		t.Fatalf("size %d exceeds cap %d", got, cap)
	}
	// The newest uploads must survive.
	for i := cap + 10; i < cap+20; i++ {
		if !c.Contains(fp(i)) {
			t.Fatalf("recent upload %d evicted", i)
		}
	}
}

func TestSentinelEntriesSurviveEviction(t *testing.T) {
	c := New(Options{Cap: 5})
	// Five queued-but-not-uploaded fingerprints fill the cache.
	for i := 0; i < 5; i++ {
		c.MarkSeen(fp(i))
	}
	// Uploads push it over cap; only uploaded entries may be evicted.
	for i := 5; i < 9; i++ {
		c.MarkUploaded(fp(i), int64(1000+i))
	}
	c.Cleanup(2000)
	for i := 0; i < 5; i++ {
		if !c.Contains(fp(i)) {
			t.Fatalf("not-yet-uploaded fingerprint %d was evicted", i)
		}
	}
}

func TestAllSentinelsStayAboveCap(t *testing.T) {
	c := New(Options{Cap: 3})
	for i := 0; i < 10; i++ {
		c.MarkSeen(fp(i))
	}
	c.Cleanup(0)
	if got := c.Size(); got != 10 {
		t.Fatalf("queued fingerprints must not be evicted: size %d", got)
	}
}

func TestMaxAgeExpiry(t *testing.T) {
	c := New(Options{Cap: 100, MaxAge: time.Hour})
	now := int64(10_000_000_000)
	c.MarkUploaded(fp(1), now-2*time.Hour.Milliseconds())
	c.MarkUploaded(fp(2), now-time.Minute.Milliseconds())
	c.MarkSeen(fp(3))
	c.Cleanup(now)
	if c.Contains(fp(1)) {
		t.Fatalf("aged-out upload still tracked")
	}
	if !c.Contains(fp(2)) {
		t.Fatalf("fresh upload evicted")
	}
	if !c.Contains(fp(3)) {
		t.Fatalf("sentinel evicted by age pass")
	}
}

func TestEvictByInsertionBulkDrop(t *testing.T) {
	c := New(Options{Cap: 8, Policy: EvictByInsertion})
	for i := 0; i < 9; i++ {
		c.MarkSeen(fp(i))
	}
	c.Cleanup(0)
	// Bulk drop lands at half capacity, oldest insertions first.
	if got := c.Size(); got != 4 {
		t.Fatalf("size after bulk drop: got %d want 4", got)
	}
	for i := 5; i < 9; i++ {
		if !c.Contains(fp(i)) {
			t.Fatalf("newest insertion %d evicted", i)
		}
	}
	for i := 0; i < 5; i++ {
		if c.Contains(fp(i)) {
			t.Fatalf("oldest insertion %d survived bulk drop", i)
		}
	}
}

func TestEvictByInsertionIgnoresSentinelProtection(t *testing.T) {
	c := New(Options{Cap: 4, Policy: EvictByInsertion})
	for i := 0; i < 5; i++ {
		c.MarkSeen(fp(i))
	}
	c.Cleanup(0)
	if c.Contains(fp(0)) {
		t.Fatalf("forwarding cache must evict regardless of upload state")
	}
}

func TestMarkUploadedTriggersCleanup(t *testing.T) {
	c := New(Options{Cap: 3})
	for i := 0; i < 6; i++ {
		c.MarkUploaded(fp(i), int64(1000+i))
	}
	if got := c.Size(); got > 3 {
		t.Fatalf("cache not bounded by MarkUploaded: size %d", got)
	}
}
