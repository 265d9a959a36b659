package discovery

import (
	"testing"
	"time"
)

func TestCandidatesOrdering(t *testing.T) {
	r := newRecord()
	base := time.UnixMilli(1_700_000_000_000)

	r.apply("node-b", "http://b", base, base, false)
	r.apply("node-self", "http://self", base, base, true)
	r.apply("node-a", "http://a", base, base, false)

	c := r.candidates()
	if len(c) != 3 {
		t.Fatalf("got %d candidates", len(c))
	}
	if c[0].PeerID != "node-self" || c[1].PeerID != "node-a" || c[2].PeerID != "node-b" {
		t.Fatalf("tie order = %+v", c)
	}

	r.apply("node-b", "http://b2", base.Add(time.Second), base, false)
	if c := r.candidates(); c[0].PeerID != "node-b" || c[0].URL != "http://b2" {
		t.Fatalf("fresher entry not preferred: %+v", c)
	}
}

func TestApplyIsCompareAndUpdate(t *testing.T) {
	r := newRecord()
	t1 := time.UnixMilli(2000)
	if !r.apply("node-a", "http://a1", t1, t1, false) {
		t.Fatalf("first apply rejected")
	}
	if r.apply("node-a", "http://a1", t1, t1, false) {
		t.Fatalf("equal timestamp applied twice")
	}
	if r.apply("node-a", "http://a0", time.UnixMilli(1000), t1, false) {
		t.Fatalf("older timestamp applied")
	}
	if !r.applied("node-a", time.UnixMilli(1500)) || r.applied("node-a", time.UnixMilli(2500)) {
		t.Fatalf("applied() disagrees with state")
	}
}

func TestWithdrawTombstoneBlocksOlderAnnouncement(t *testing.T) {
	r := newRecord()
	r.apply("node-a", "http://a", time.UnixMilli(1000), time.Now(), false)
	if !r.withdraw("node-a", time.UnixMilli(2000), time.Now()) {
		t.Fatalf("withdraw rejected")
	}
	if r.apply("node-a", "http://a", time.UnixMilli(1500), time.Now(), false) {
		t.Fatalf("delayed announcement resurrected withdrawn entry")
	}
	if len(r.candidates()) != 0 || len(r.snapshot()) != 0 {
		t.Fatalf("withdrawn entry still visible")
	}
	if !r.apply("node-a", "http://a", time.UnixMilli(3000), time.Now(), false) {
		t.Fatalf("newer announcement after withdraw rejected")
	}
}

func TestSweepSuspectsRecoversAndEvicts(t *testing.T) {
	r := newRecord()
	now := time.Unix(1_700_000_000, 0)
	r.apply("node-a", "http://a", now, now, false)
	r.apply("node-self", "http://self", now, now, true)

	heardAt := now
	heard := func(string) time.Time { return heardAt }
	liveness, stale := 10*time.Second, time.Minute

	res := r.sweep(now.Add(11*time.Second), liveness, stale, heard)
	if len(res.suspected) != 1 || res.suspected[0] != "node-a" {
		t.Fatalf("expected node-a suspected, got %+v", res)
	}
	if c := r.candidates(); len(c) != 1 || c[0].PeerID != "node-self" {
		t.Fatalf("suspect still resolvable: %+v", c)
	}

	heardAt = now.Add(12 * time.Second)
	r.sweep(now.Add(13*time.Second), liveness, stale, heard)
	if len(r.candidates()) != 2 {
		t.Fatalf("heartbeat did not restore node-a")
	}

	res = r.sweep(now.Add(2*time.Minute), liveness, stale, heard)
	if len(res.evicted) != 1 {
		t.Fatalf("expected eviction, got %+v", res)
	}
	if s := r.snapshot(); len(s) != 1 || !s[0].Local {
		t.Fatalf("local entry must survive sweeps: %+v", s)
	}
}

func TestMarkFailedClearedByNewAnnouncement(t *testing.T) {
	r := newRecord()
	r.apply("node-a", "http://a", time.UnixMilli(1000), time.Now(), false)
	if !r.markFailed("node-a") || r.markFailed("node-a") {
		t.Fatalf("markFailed should report only the transition")
	}
	if len(r.candidates()) != 0 {
		t.Fatalf("failed entry resolvable")
	}
	r.apply("node-a", "http://a", time.UnixMilli(2000), time.Now(), false)
	if len(r.candidates()) != 1 {
		t.Fatalf("re-announcement did not restore entry")
	}
}
