package alert

import (
	"testing"

	"go.uber.org/zap"

	"github.com/sudorandom/hijackwatch/internal/feed"
)

func newTestEngine(cfg Config) *Engine {
	if cfg.EvaluationInterval == 0 {
		cfg.EvaluationInterval = DefaultConfig().EvaluationInterval
	}
	if cfg.ResetDelay == 0 {
		cfg.ResetDelay = DefaultConfig().ResetDelay
	}
	return New(cfg, zap.NewNop())
}

func TestOnRejectsUnknownEvent(t *testing.T) {
	e := newTestEngine(Config{})
	if err := e.On("bogus", func(Alert) {}); err == nil {
		t.Fatal("expected an error for an unrecognized event name")
	}
}

func TestEvidenceAggregationOrderAndDedup(t *testing.T) {
	e := newTestEngine(Config{})
	ev := feed.HijackEvent{
		Expected: feed.PrefixOrigin{Prefix: "192.0.2.0/24", OriginAS: 64500},
		Altered:  feed.PrefixOrigin{Prefix: "192.0.2.0/24", OriginAS: 64511},
	}

	for _, peer := range []string{"p1", "p1", "p2", "p3"} {
		ev.Peer = peer
		e.OnHijack(ev)
	}

	key := hijackKey{ExpectedPrefix: ev.Expected.Prefix, AlteredPrefix: ev.Altered.Prefix, ExpectedAS: ev.Expected.OriginAS, AlteredAS: ev.Altered.OriginAS}
	inc := e.incidents[key]
	if inc == nil {
		t.Fatal("expected an incident to be created")
	}
	got := inc.peers.snapshot()
	want := []string{"p1", "p2", "p3"}
	if len(got) != len(want) {
		t.Fatalf("expected peers %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected peers %v, got %v", want, got)
		}
	}
}

func TestThresholdGating(t *testing.T) {
	e := newTestEngine(Config{HijackPeerThreshold: 3})
	var fired []Alert
	if err := e.On(EventHijack, func(a Alert) { fired = append(fired, a) }); err != nil {
		t.Fatal(err)
	}

	ev := feed.HijackEvent{
		Expected: feed.PrefixOrigin{Prefix: "192.0.2.0/24", OriginAS: 64500},
		Altered:  feed.PrefixOrigin{Prefix: "192.0.2.0/24", OriginAS: 64511},
	}

	ev.Peer = "p1"
	e.OnHijack(ev)
	ev.Peer = "p2"
	e.OnHijack(ev)
	e.evaluate()
	if len(fired) != 0 {
		t.Fatalf("expected no alert below threshold, got %d", len(fired))
	}

	ev.Peer = "p3"
	e.OnHijack(ev)
	e.evaluate()
	if len(fired) != 1 {
		t.Fatalf("expected exactly one alert once threshold crossed, got %d", len(fired))
	}

	e.evaluate()
	if len(fired) != 1 {
		t.Fatalf("expected the alert to fire only once per incident, got %d", len(fired))
	}
}

func TestWhitelistSuppressesHijackAlert(t *testing.T) {
	e := newTestEngine(Config{
		HijackPeerThreshold: 1,
		Whitelist:           map[uint32]map[string]struct{}{2: {"10.1.0.0/16": {}}},
	})
	var fired []Alert
	if err := e.On(EventHijack, func(a Alert) { fired = append(fired, a) }); err != nil {
		t.Fatal(err)
	}

	ev := feed.HijackEvent{
		Expected: feed.PrefixOrigin{Prefix: "10.0.0.0/8", OriginAS: 1},
		Altered:  feed.PrefixOrigin{Prefix: "10.1.0.0/16", OriginAS: 2},
	}
	for i := 0; i < 100; i++ {
		ev.Peer = string(rune('A' + i%26))
		e.OnHijack(ev)
	}
	e.evaluate()

	if len(fired) != 0 {
		t.Fatalf("expected zero alerts for a whitelisted more-specific, got %d", len(fired))
	}
}

func TestVisibilityFlip(t *testing.T) {
	e := newTestEngine(Config{LowVisibilityPeerThreshold: 1})

	e.OnWithdrawal(feed.WithdrawalEvent{Prefix: "2001:db8::/32", Peer: "A"})
	e.OnAnnouncement(feed.AnnouncementEvent{Prefix: "2001:db8::/32", Peer: "A"})

	rec := e.visible["2001:db8::/32"]
	if rec == nil {
		t.Fatal("expected a visibility record to exist")
	}
	if rec.withdrawn["A"] {
		t.Fatal("peer A's latest event was an announcement; it must not be counted as withdrawn")
	}
	if len(rec.withdrawnPeers()) != 0 {
		t.Fatalf("expected zero withdrawn peers, got %v", rec.withdrawnPeers())
	}
}

func TestHijackMessageMatchesS1(t *testing.T) {
	got := hijackMessage("192.0.2.0/24", 64500, "192.0.2.0/24", 64511, "", []string{"P1"})
	want := "Possible Hijack, it should be 192.0.2.0/24 AS64500 now announced 192.0.2.0/24 AS64511 seen by 1 peers ['P1']"
	if got != want {
		t.Fatalf("hijack message mismatch:\n got:  %s\n want: %s", got, want)
	}
}

func TestDifferenceMessageMatchesS2(t *testing.T) {
	got := differenceMessage("192.0.2.0/24", "192.0.2.128/25")
	want := "The prefix 192.0.2.0/24 it is not configured to be announced with the more specific 192.0.2.128/25"
	if got != want {
		t.Fatalf("difference message mismatch:\n got:  %s\n want: %s", got, want)
	}
}

func TestLowVisibilityMessageMatchesS3(t *testing.T) {
	got := lowVisibilityMessage("2001:db8::/32", []string{"A", "B"})
	want := "The prefix 2001:db8::/32 is not visible anymore from 2 peers ['A','B']"
	if got != want {
		t.Fatalf("low-visibility message mismatch:\n got:  %s\n want: %s", got, want)
	}
}

func TestDispatchIsolatesCallbackPanics(t *testing.T) {
	e := newTestEngine(Config{})
	var secondRan bool
	if err := e.On(EventDifference, func(Alert) { panic("boom") }); err != nil {
		t.Fatal(err)
	}
	if err := e.On(EventDifference, func(Alert) { secondRan = true }); err != nil {
		t.Fatal(err)
	}

	e.OnDifference(feed.DifferenceEvent{ExpectedPrefix: "10.0.0.0/8", AlteredPrefix: "10.1.0.0/16"})

	if !secondRan {
		t.Fatal("a panicking callback must not prevent the next registered callback from running")
	}
}

func TestResetLifecycle(t *testing.T) {
	e := newTestEngine(Config{HijackPeerThreshold: 1})
	ev := feed.HijackEvent{
		Expected: feed.PrefixOrigin{Prefix: "192.0.2.0/24", OriginAS: 64500},
		Altered:  feed.PrefixOrigin{Prefix: "192.0.2.0/24", OriginAS: 64511},
		Peer:     "P1",
	}
	e.OnHijack(ev)
	e.evaluate()

	key := hijackKey{ExpectedPrefix: ev.Expected.Prefix, AlteredPrefix: ev.Altered.Prefix, ExpectedAS: ev.Expected.OriginAS, AlteredAS: ev.Altered.OriginAS}
	if _, ok := e.hijackTriggered[key]; !ok {
		t.Fatal("expected the incident to be in the hijack triggered set after alerting")
	}
	if len(e.resetQueue) != 1 {
		t.Fatalf("expected exactly one reset scheduled, got %d", len(e.resetQueue))
	}

	// Simulate the reset deadline having passed and drain it directly,
	// rather than sleeping the configured reset delay in the test.
	e.resetQueue[0].remove()
	e.resetQueue = nil

	if _, ok := e.incidents[key]; ok {
		t.Fatal("expected the incident to be removed after reset")
	}
	if _, ok := e.hijackTriggered[key]; ok {
		t.Fatal("expected the key to be removed from the triggered set after reset")
	}

	// A subsequent identical event must recreate the incident from scratch.
	e.OnHijack(ev)
	inc := e.incidents[key]
	if inc == nil || inc.peers.len() != 1 {
		t.Fatal("expected the incident to restart peer accumulation at 1")
	}
}
