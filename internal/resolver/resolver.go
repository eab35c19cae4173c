// Package resolver applies the priority ladders that turn a raw v4 or
// v6 request into a matched Reservation, consulting the reservation
// index, the configured extractor pipelines, and the lease cache's
// MAC->Option82 fallback binding.
package resolver

import (
	"net"

	"github.com/shadowisp/resdhcp/internal/leasecache"
	"github.com/shadowisp/resdhcp/internal/macextract"
	"github.com/shadowisp/resdhcp/internal/option1837"
	"github.com/shadowisp/resdhcp/internal/option82"
	"github.com/shadowisp/resdhcp/internal/reservation"
)

// Match names how a reservation was found, so the event pipeline can
// record the method: "mac", "option82:remote_first_12", "duid",
// "option1837:remote_only", "option82:lease_fallback".
type Match string

const (
	MatchMac           Match = "mac"
	MatchDuid          Match = "duid"
	MatchOpt82Prefix         = "option82:"
	MatchOpt1837Prefix       = "option1837:"
	MatchOpt82LeaseFallback Match = "option82:lease_fallback"
)

// V4 resolves a DHCPv4 request: by_mac(chaddr) first, else each
// configured Option82 extractor in order against the relay-supplied
// Option82 tuple.
func V4(idx *reservation.Index, chaddr net.HardwareAddr, raw option82.Option82, extractorNames []string) (*reservation.Reservation, Match, bool) {
	if len(chaddr) == 6 {
		if r, ok := idx.ByMac(chaddr); ok {
			return r, MatchMac, true
		}
	}

	if raw.Empty() {
		return nil, "", false
	}
	for _, name := range extractorNames {
		extractor, ok := option82.Registry[name]
		if !ok {
			continue
		}
		key, ok := extractor(raw)
		if !ok {
			continue
		}
		if r, ok := idx.ByOpt82(key); ok {
			return r, Match(MatchOpt82Prefix + name), true
		}
	}
	return nil, "", false
}

// V6Input carries the raw identifiers a v6 resolve needs: client DUID,
// raw Option18/37 tuple, and the inputs the MAC-extraction ladder
// consumes (an already-decoded RFC 6939 link-layer address, the relay
// peer address, and the raw ClientID/DUID bytes).
type V6Input struct {
	Duid                reservation.Duid
	Option1837          option1837.Option1837
	ClientLinklayerAddr net.HardwareAddr // nil if the option was absent
	PeerAddr            net.IP
}

// V6 resolves a DHCPv6 request: by_duid first, then each configured
// Option18/37 extractor, then each configured MAC extractor in order
// (falling back from by_mac to the lease cache's opt82 binding).
func V6(idx *reservation.Index, cache *leasecache.Cache, in V6Input, opt1837Names []string, macExtractors []macextract.Name) (*reservation.Reservation, Match, bool) {
	if len(in.Duid) > 0 {
		if r, ok := idx.ByDuid(in.Duid); ok {
			return r, MatchDuid, true
		}
	}

	if !in.Option1837.Empty() {
		for _, name := range opt1837Names {
			extractor, ok := option1837.Registry[name]
			if !ok {
				continue
			}
			key, ok := extractor(in.Option1837)
			if !ok {
				continue
			}
			if r, ok := idx.ByOpt1837(key); ok {
				return r, Match(MatchOpt1837Prefix + name), true
			}
		}
	}

	for _, name := range macExtractors {
		mac, ok := extractMac(name, in)
		if !ok {
			continue
		}
		if r, ok := idx.ByMac(mac); ok {
			return r, MatchMac, true
		}
		if cache != nil {
			if opt82, ok := cache.LookupOpt82ByMac(mac); ok {
				if r, ok := idx.ByOpt82(opt82); ok {
					return r, MatchOpt82LeaseFallback, true
				}
			}
		}
	}

	return nil, "", false
}

func extractMac(name macextract.Name, in V6Input) (net.HardwareAddr, bool) {
	switch name {
	case macextract.NameClientLinklayerAddress:
		if in.ClientLinklayerAddr == nil {
			return nil, false
		}
		return macextract.ClientLinklayerAddress(in.ClientLinklayerAddr)
	case macextract.NamePeerAddrEui64:
		if in.PeerAddr == nil {
			return nil, false
		}
		return macextract.PeerAddrEui64(in.PeerAddr)
	case macextract.NameDuid:
		if len(in.Duid) == 0 {
			return nil, false
		}
		return macextract.Duid(in.Duid)
	default:
		return nil, false
	}
}
