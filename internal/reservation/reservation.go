// Package reservation holds the immutable Reservation entity and the
// concurrent, multi-key, atomically hot-swappable index over it.
package reservation

import (
	"fmt"
	"net"
	"sync"

	"github.com/shadowisp/resdhcp/internal/option1837"
	"github.com/shadowisp/resdhcp/internal/option82"
)

// Duid is an opaque byte sequence, 1..=130 bytes per RFC 8415 section
// 11.1. Equality is byte-wise, so it is compared via string(Duid) when
// used as a map key.
type Duid []byte

// String renders the DUID as colon-separated hex for logs and events.
func (d Duid) String() string {
	s := ""
	for i, b := range d {
		if i > 0 {
			s += ":"
		}
		s += fmt.Sprintf("%02x", b)
	}
	return s
}

// Reservation is the static, immutable-once-inserted mapping from one
// or more identifying keys to a fixed IPv4 address, IPv6 address, and
// IPv6 delegated prefix.
type Reservation struct {
	IPv4    net.IP
	IPv6NA  net.IP
	IPv6PD  net.IPNet
	Mac     net.HardwareAddr // nil when absent
	Duid    Duid             // nil when absent
	Opt82   option82.Option82
	Opt1837 option1837.Option1837
}

// HasKey reports whether the reservation carries at least one of the
// four identifying keys, the invariant every loaded reservation must
// satisfy.
func (r Reservation) HasKey() bool {
	return len(r.Mac) == 6 || len(r.Duid) > 0 || !r.Opt82.Empty() || !r.Opt1837.Empty()
}

// Index is the concurrent multi-key reservation store: MAC, DUID,
// Option82 tuple, and Option1837 tuple each index into the same set of
// reservations. A single reservation may be indexed under every key it
// carries; inserting the same key twice is last-writer-wins.
type Index struct {
	mu        sync.RWMutex
	byMac     map[string]*Reservation
	byDuid    map[string]*Reservation
	byOpt82   map[option82.Option82]*Reservation
	byOpt1837 map[option1837.Option1837]*Reservation
	count     int
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		byMac:     make(map[string]*Reservation),
		byDuid:    make(map[string]*Reservation),
		byOpt82:   make(map[option82.Option82]*Reservation),
		byOpt1837: make(map[option1837.Option1837]*Reservation),
	}
}

// Insert adds a reservation under every key it carries. Safe for
// concurrent use with lookups and other inserts on disjoint keys.
func (idx *Index) Insert(r *Reservation) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.count++
	if len(r.Mac) == 6 {
		idx.byMac[string(r.Mac)] = r
	}
	if len(r.Duid) > 0 {
		idx.byDuid[string(r.Duid)] = r
	}
	if !r.Opt82.Empty() {
		idx.byOpt82[r.Opt82] = r
	}
	if !r.Opt1837.Empty() {
		idx.byOpt1837[r.Opt1837] = r
	}
}

// LoadSnapshot builds a fresh index containing exactly the given
// reservations. Used by the reload coordinator to construct the
// replacement for the published pointer; it never mutates an index
// already in use by in-flight requests.
func LoadSnapshot(reservations []*Reservation) *Index {
	idx := NewIndex()
	for _, r := range reservations {
		idx.Insert(r)
	}
	return idx
}

// ByMac looks up a reservation by MAC-48 address.
func (idx *Index) ByMac(mac net.HardwareAddr) (*Reservation, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	r, ok := idx.byMac[string(mac)]
	return r, ok
}

// ByDuid looks up a reservation by DUID byte sequence.
func (idx *Index) ByDuid(duid Duid) (*Reservation, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	r, ok := idx.byDuid[string(duid)]
	return r, ok
}

// ByOpt82 looks up a reservation by a normalized Option82 key.
func (idx *Index) ByOpt82(o option82.Option82) (*Reservation, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	r, ok := idx.byOpt82[o]
	return r, ok
}

// ByOpt1837 looks up a reservation by a normalized Option1837 key.
func (idx *Index) ByOpt1837(o option1837.Option1837) (*Reservation, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	r, ok := idx.byOpt1837[o]
	return r, ok
}

// Count returns the number of reservations loaded into the index
// (counting each reservation once, regardless of how many keys it is
// indexed under).
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.count
}
