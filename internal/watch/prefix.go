// Package watch holds the operator watch-list: the set of prefixes
// being monitored, and the index used to match observed announcements
// and withdrawals against it.
package watch

import (
	"fmt"
	"net"
	"sort"
)

// Prefix is a watch-list entry, immutable after load.
type Prefix struct {
	Network             *net.IPNet
	CIDR                string
	OriginAS            uint32
	Description         string
	MonitorMoreSpecific bool
}

func (p Prefix) version() int {
	if p.Network.IP.To4() != nil {
		return 4
	}
	return 6
}

// New parses cidr and returns a Prefix. originAS of 0 is a valid
// "no expected origin" value only in the sense that it can never match
// a real AS number (ASNs start at 1), so a watch-list entry should
// always set a real origin.
func New(cidr string, originAS uint32, description string, monitorMoreSpecific bool) (Prefix, error) {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return Prefix{}, fmt.Errorf("watch: invalid prefix %q: %w", cidr, err)
	}
	return Prefix{
		Network:             network,
		CIDR:                network.String(),
		OriginAS:            originAS,
		Description:         description,
		MonitorMoreSpecific: monitorMoreSpecific,
	}, nil
}

// Index is a version-partitioned, longest-prefix-first lookup
// structure over a loaded watch-list. Built once and never mutated
// afterward, so it needs no locking on the read path.
type Index struct {
	v4 []Prefix
	v6 []Prefix
}

// NewIndex builds an Index from a watch-list. Entries are sorted by
// mask length descending within each IP version, so the first match
// encountered while scanning is always the longest (most specific)
// covering prefix.
func NewIndex(prefixes []Prefix) *Index {
	idx := &Index{}
	for _, p := range prefixes {
		switch p.version() {
		case 4:
			idx.v4 = append(idx.v4, p)
		case 6:
			idx.v6 = append(idx.v6, p)
		}
	}
	sortByMaskDesc(idx.v4)
	sortByMaskDesc(idx.v6)
	return idx
}

func sortByMaskDesc(ps []Prefix) {
	sort.SliceStable(ps, func(i, j int) bool {
		oi, _ := ps[i].Network.Mask.Size()
		oj, _ := ps[j].Network.Mask.Size()
		return oi > oj
	})
}

// Snapshot4 returns the IPv4 entries in match order (longest prefix
// first). The returned slice must not be mutated.
func (idx *Index) Snapshot4() []Prefix { return idx.v4 }

// Snapshot6 returns the IPv6 entries in match order (longest prefix
// first). The returned slice must not be mutated.
func (idx *Index) Snapshot6() []Prefix { return idx.v6 }

func (idx *Index) slice(ip net.IP) []Prefix {
	if ip.To4() != nil {
		return idx.v4
	}
	return idx.v6
}

// Exact returns the watch-list entry whose CIDR is exactly network,
// if any.
func (idx *Index) Exact(network *net.IPNet) (Prefix, bool) {
	want := network.String()
	for _, p := range idx.slice(network.IP) {
		if p.CIDR == want {
			return p, true
		}
	}
	return Prefix{}, false
}

// MatchAnnouncement finds the watch-list entry that governs an
// observed announced network: an exact match always wins; otherwise
// the longest watched supernet with MonitorMoreSpecific set. Returns
// false if nothing in the watch-list covers the network.
func (idx *Index) MatchAnnouncement(network *net.IPNet) (Prefix, bool) {
	if p, ok := idx.Exact(network); ok {
		return p, true
	}
	for _, p := range idx.slice(network.IP) {
		if !p.MonitorMoreSpecific {
			continue
		}
		if isStrictSupernet(p.Network, network) {
			return p, true
		}
	}
	return Prefix{}, false
}

func isStrictSupernet(super, sub *net.IPNet) bool {
	superOnes, bits := super.Mask.Size()
	subOnes, subBits := sub.Mask.Size()
	if bits != subBits {
		return false
	}
	if superOnes >= subOnes {
		return false
	}
	return super.Contains(sub.IP)
}
