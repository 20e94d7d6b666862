package feed

import (
	"net"

	"go.uber.org/zap"

	"github.com/sudorandom/hijackwatch/internal/watch"
)

// announcement is a single normalized announced prefix unpacked from
// one ris_message frame.
type announcement struct {
	prefix  string
	peer    string
	path    []uint32
	nextHop string
}

// withdrawal is a single normalized withdrawn prefix unpacked from one
// ris_message frame.
type withdrawal struct {
	prefix string
	peer   string
}

// classifier turns normalized items into typed events against a fixed
// watch-list snapshot. It holds no mutable state of its own, so the
// same frame fed twice always yields the same events.
type classifier struct {
	index *watch.Index
	log   *zap.Logger
}

func newClassifier(index *watch.Index, log *zap.Logger) *classifier {
	return &classifier{index: index, log: log}
}

func (c *classifier) classifyWithdrawal(w withdrawal, emit Sink) {
	_, network, err := net.ParseCIDR(w.prefix)
	if err != nil {
		c.log.Debug("dropping withdrawal with unparsable prefix", zap.String("prefix", w.prefix), zap.Error(err))
		return
	}
	if _, ok := c.index.Exact(network); ok {
		emit.OnWithdrawal(WithdrawalEvent{Prefix: network.String(), Peer: w.peer})
		return
	}
	c.log.Debug("dropping withdrawal for unwatched prefix", zap.String("prefix", w.prefix))
}

func (c *classifier) classifyAnnouncement(a announcement, emit Sink) {
	if len(a.path) == 0 {
		c.log.Debug("dropping announcement with empty path", zap.String("prefix", a.prefix))
		return
	}
	_, network, err := net.ParseCIDR(a.prefix)
	if err != nil {
		c.log.Debug("dropping announcement with unparsable prefix", zap.String("prefix", a.prefix), zap.Error(err))
		return
	}

	matched, ok := c.index.MatchAnnouncement(network)
	if !ok {
		return
	}

	origin := a.path[len(a.path)-1]
	alteredPrefix := network.String()

	switch {
	case origin != 0 && origin != matched.OriginAS:
		emit.OnHijack(HijackEvent{
			Expected:    PrefixOrigin{Prefix: matched.CIDR, OriginAS: matched.OriginAS},
			Altered:     PrefixOrigin{Prefix: alteredPrefix, OriginAS: origin},
			Description: matched.Description,
			Peer:        a.peer,
		})
	case alteredPrefix != matched.CIDR:
		emit.OnDifference(DifferenceEvent{
			ExpectedPrefix: matched.CIDR,
			AlteredPrefix:  alteredPrefix,
			OriginAS:       origin,
			Description:    matched.Description,
			Peer:           a.peer,
		})
	default:
		emit.OnAnnouncement(AnnouncementEvent{
			Prefix:  alteredPrefix,
			Peer:    a.peer,
			Path:    a.path,
			NextHop: a.nextHop,
		})
	}
}
