// Package alert aggregates classified feed events into per-incident
// evidence, applies whitelists, and fires threshold-crossing alerts
// exactly once per incident before expiring them after a cooldown.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sudorandom/hijackwatch/internal/feed"
)

// Event names accepted by Engine.On.
const (
	EventHijack        = "hijack"
	EventLowVisibility = "low-visibility"
	EventDifference    = "difference"
	EventHeartbeat     = "heartbeat"
	EventError         = "error"
)

// Alert is delivered to registered callbacks. Message is always
// populated; PlainMessage is populated only for hijack and
// low-visibility alerts, which have a terse variant alongside the
// verbose one.
type Alert struct {
	Event        string
	Message      string
	PlainMessage string
}

// Callback receives one alert. Engine isolates callbacks from each
// other: a panic in one is recovered and logged, and does not stop
// the remaining callbacks for that event from running.
type Callback func(Alert)

// Config configures threshold and timing behavior. DefaultConfig holds
// the documented defaults; New uses the values it is given as they
// are, and Run requires a positive EvaluationInterval.
type Config struct {
	HijackPeerThreshold        int
	LowVisibilityPeerThreshold int
	EvaluationInterval         time.Duration
	ResetDelay                 time.Duration
	HeartbeatInterval          time.Duration
	// Whitelist maps an altered origin AS to the set of more-specific
	// CIDRs it is permitted to announce without triggering a hijack
	// alert.
	Whitelist map[uint32]map[string]struct{}
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		HijackPeerThreshold:        0,
		LowVisibilityPeerThreshold: 0,
		EvaluationInterval:         10 * time.Second,
		ResetDelay:                 600 * time.Second,
		HeartbeatInterval:          0,
	}
}

type resetEntry struct {
	deadline time.Time
	remove   func()
}

// Engine is the alert aggregator. It implements feed.Sink: a
// feed.Client can deliver events to it directly.
type Engine struct {
	cfg Config
	log *zap.Logger

	mu        sync.Mutex
	incidents map[hijackKey]*hijackIncident
	visible   map[string]*visibilityRecord

	hijackTriggered map[hijackKey]struct{}
	visTriggered    map[string]struct{}
	resetQueue      []resetEntry

	sinks map[string][]Callback
}

var _ feed.Sink = (*Engine)(nil)

// New constructs an Engine ready to receive events. Difference and
// error alerts are dispatched to On-registered sinks as soon as the
// event arrives; hijack, low-visibility and heartbeat alerts fire only
// while Run is running.
func New(cfg Config, log *zap.Logger) *Engine {
	return &Engine{
		cfg:             cfg,
		log:             log,
		incidents:       make(map[hijackKey]*hijackIncident),
		visible:         make(map[string]*visibilityRecord),
		hijackTriggered: make(map[hijackKey]struct{}),
		visTriggered:    make(map[string]struct{}),
		sinks:           make(map[string][]Callback),
	}
}

// On registers callback to run, in registration order, whenever event
// fires. It returns an error for any event name other than the five
// recognized ones.
func (e *Engine) On(event string, callback Callback) error {
	switch event {
	case EventHijack, EventLowVisibility, EventDifference, EventHeartbeat, EventError:
	default:
		return fmt.Errorf("alert: unknown event %q", event)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks[event] = append(e.sinks[event], callback)
	return nil
}

// OnHijack implements feed.Sink.
func (e *Engine) OnHijack(ev feed.HijackEvent) {
	key := hijackKey{
		ExpectedPrefix: ev.Expected.Prefix,
		AlteredPrefix:  ev.Altered.Prefix,
		ExpectedAS:     ev.Expected.OriginAS,
		AlteredAS:      ev.Altered.OriginAS,
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	inc, ok := e.incidents[key]
	if !ok {
		inc = &hijackIncident{key: key, description: ev.Description, peers: newOrderedSet()}
		e.incidents[key] = inc
	}
	inc.peers.add(ev.Peer)
}

// OnDifference implements feed.Sink. Differences are not aggregated;
// they fire immediately.
func (e *Engine) OnDifference(ev feed.DifferenceEvent) {
	msg := differenceMessage(ev.ExpectedPrefix, ev.AlteredPrefix)
	e.dispatch(EventDifference, Alert{Event: EventDifference, Message: msg})
}

// OnWithdrawal implements feed.Sink.
func (e *Engine) OnWithdrawal(ev feed.WithdrawalEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.visible[ev.Prefix]
	if !ok {
		rec = newVisibilityRecord(ev.Prefix)
		e.visible[ev.Prefix] = rec
	}
	rec.set(ev.Peer, true)
}

// OnAnnouncement implements feed.Sink.
func (e *Engine) OnAnnouncement(ev feed.AnnouncementEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.visible[ev.Prefix]
	if !ok {
		rec = newVisibilityRecord(ev.Prefix)
		e.visible[ev.Prefix] = rec
	}
	rec.set(ev.Peer, false)
}

// OnError implements feed.Sink.
func (e *Engine) OnError(ev feed.ErrorEvent) {
	e.dispatch(EventError, Alert{Event: EventError, Message: ev.Raw})
}

// Run drives the periodic evaluation tick, the heartbeat tick, and
// the reset-deadline drain until ctx is canceled. It blocks.
func (e *Engine) Run(ctx context.Context) {
	evalTicker := time.NewTicker(e.cfg.EvaluationInterval)
	defer evalTicker.Stop()

	resetTicker := time.NewTicker(time.Second)
	defer resetTicker.Stop()

	var heartbeatC <-chan time.Time
	if e.cfg.HeartbeatInterval > 0 {
		hbTicker := time.NewTicker(e.cfg.HeartbeatInterval)
		defer hbTicker.Stop()
		heartbeatC = hbTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-evalTicker.C:
			e.evaluate()
		case <-resetTicker.C:
			e.drainResets()
		case <-heartbeatC:
			e.dispatch(EventHeartbeat, Alert{Event: EventHeartbeat, Message: heartbeatMessage})
		}
	}
}

// evaluate checks every aggregate against its threshold, fires alerts
// for newly-crossed thresholds, and schedules a reset for anything
// newly added to a Triggered Set.
func (e *Engine) evaluate() {
	var toFire []Alert
	now := time.Now()

	e.mu.Lock()
	for key, inc := range e.incidents {
		if e.whitelisted(key.AlteredAS, key.AlteredPrefix) {
			continue
		}
		if inc.peers.len() < e.cfg.HijackPeerThreshold {
			continue
		}
		if _, already := e.hijackTriggered[key]; already {
			continue
		}
		peers := inc.peers.snapshot()
		alert := Alert{
			Event:        EventHijack,
			Message:      hijackMessage(key.ExpectedPrefix, key.ExpectedAS, key.AlteredPrefix, key.AlteredAS, inc.description, peers),
			PlainMessage: hijackPlainMessage(key.ExpectedPrefix, key.ExpectedAS, key.AlteredPrefix, key.AlteredAS, inc.description),
		}
		toFire = append(toFire, alert)
		e.hijackTriggered[key] = struct{}{}
		e.scheduleHijackReset(key, now)
	}

	for prefix, rec := range e.visible {
		withdrawn := rec.withdrawnPeers()
		if len(withdrawn) < e.cfg.LowVisibilityPeerThreshold {
			continue
		}
		if _, already := e.visTriggered[prefix]; already {
			continue
		}
		alert := Alert{
			Event:        EventLowVisibility,
			Message:      lowVisibilityMessage(prefix, withdrawn),
			PlainMessage: lowVisibilityPlainMessage(prefix, len(withdrawn)),
		}
		toFire = append(toFire, alert)
		e.visTriggered[prefix] = struct{}{}
		e.scheduleVisibilityReset(prefix, now)
	}
	e.mu.Unlock()

	for _, alert := range toFire {
		e.dispatch(alert.Event, alert)
	}
}

func (e *Engine) whitelisted(originAS uint32, prefix string) bool {
	allowed, ok := e.cfg.Whitelist[originAS]
	if !ok {
		return false
	}
	_, ok = allowed[prefix]
	return ok
}

// scheduleHijackReset and scheduleVisibilityReset must be called with
// e.mu held; they append to the reset queue in deadline order because
// ResetDelay is constant, so triggers always arrive in deadline order.
func (e *Engine) scheduleHijackReset(key hijackKey, triggeredAt time.Time) {
	e.resetQueue = append(e.resetQueue, resetEntry{
		deadline: triggeredAt.Add(e.cfg.ResetDelay),
		remove: func() {
			delete(e.incidents, key)
			delete(e.hijackTriggered, key)
		},
	})
}

func (e *Engine) scheduleVisibilityReset(prefix string, triggeredAt time.Time) {
	e.resetQueue = append(e.resetQueue, resetEntry{
		deadline: triggeredAt.Add(e.cfg.ResetDelay),
		remove: func() {
			delete(e.visible, prefix)
			delete(e.visTriggered, prefix)
		},
	})
}

func (e *Engine) drainResets() {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	i := 0
	for i < len(e.resetQueue) && !e.resetQueue[i].deadline.After(now) {
		e.resetQueue[i].remove()
		i++
	}
	e.resetQueue = e.resetQueue[i:]
}

// dispatch invokes every registered callback for event in registration
// order, isolating each from panics in the others.
func (e *Engine) dispatch(event string, alert Alert) {
	e.mu.Lock()
	callbacks := append([]Callback(nil), e.sinks[event]...)
	e.mu.Unlock()

	for _, cb := range callbacks {
		e.invoke(cb, alert)
	}
}

func (e *Engine) invoke(cb Callback, alert Alert) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("alert sink panicked", zap.Any("panic", r), zap.String("event", alert.Event))
		}
	}()
	cb(alert)
}
