package feed

// PrefixOrigin pairs a prefix with the AS that is announcing it.
type PrefixOrigin struct {
	Prefix   string
	OriginAS uint32
}

// HijackEvent reports an announcement whose origin AS does not match
// the watch-list entry it matched.
type HijackEvent struct {
	Expected    PrefixOrigin
	Altered     PrefixOrigin
	Description string
	Peer        string
}

// DifferenceEvent reports a more-specific announcement by the correct
// origin that the watch-list did not authorize.
type DifferenceEvent struct {
	ExpectedPrefix string
	AlteredPrefix  string
	OriginAS       uint32
	Description    string
	Peer           string
}

// WithdrawalEvent reports a peer withdrawing a watched prefix.
type WithdrawalEvent struct {
	Prefix string
	Peer   string
}

// AnnouncementEvent reports a peer announcing a watched prefix exactly
// as expected, used downstream for visibility tracking.
type AnnouncementEvent struct {
	Prefix  string
	Peer    string
	Path    []uint32
	NextHop string
}

// ErrorEvent carries an upstream ris_error frame verbatim.
type ErrorEvent struct {
	Raw string
}

// Sink receives classified events from a Client. All methods are
// called from the Client's single reader goroutine; implementations
// must not block for long, and must not call back into the Client.
type Sink interface {
	OnHijack(HijackEvent)
	OnDifference(DifferenceEvent)
	OnWithdrawal(WithdrawalEvent)
	OnAnnouncement(AnnouncementEvent)
	OnError(ErrorEvent)
}
