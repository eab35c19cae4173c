// Package macextract implements the DHCPv6 client MAC-address extraction
// ladder: RFC 6939 Client Link-Layer Address Option, relay peer-address
// EUI-64 reversal, and DUID-embedded link-layer address. Methods are
// listed roughly in order of reliability; callers try the configured
// subset in the configured order and stop at the first match.
package macextract

import "net"

const (
	duidLLT = 1 // link-layer address plus time
	duidLL  = 3 // link-layer address only

	htypeEthernet = 1 // IANA hardware type for Ethernet
)

// ClientLinklayerAddress validates an already-decoded RFC 6939 Client
// Link-Layer Address Option payload. The caller is responsible for
// reading the option off the relay message's option list (insomniacslk
// decodes it to a concrete type keyed by link-layer type plus address);
// this function only enforces the 6-byte Ethernet MAC length this
// extractor requires.
func ClientLinklayerAddress(addr net.HardwareAddr) (net.HardwareAddr, bool) {
	if len(addr) != 6 {
		return nil, false
	}
	return addr, true
}

// PeerAddrEui64 reverses a relay message's peer address out of its
// EUI-64 modified link-local form, fe80::XXYY:ZZff:feAA:BBCC, back into
// the original MAC XX:YY:ZZ:AA:BB:CC with the universal/local bit
// flipped back. Only applies to link-local addresses carrying the
// ff:fe EUI-64 marker.
func PeerAddrEui64(peer net.IP) (net.HardwareAddr, bool) {
	ip := peer.To16()
	if ip == nil {
		return nil, false
	}
	if ip[0] != 0xfe || ip[1]&0xc0 != 0x80 {
		return nil, false
	}
	if ip[11] != 0xff || ip[12] != 0xfe {
		return nil, false
	}
	mac := net.HardwareAddr{
		ip[8] ^ 0x02,
		ip[9],
		ip[10],
		ip[13],
		ip[14],
		ip[15],
	}
	return mac, true
}

// Duid extracts a MAC address out of a raw DUID byte string when it is
// DUID-LLT (type 1) or DUID-LL (type 3) over an Ethernet hardware type.
// RFC 8415 warns a DUID's embedded link-layer address may no longer
// match the client's current MAC, making this the least reliable
// extractor of the three.
func Duid(raw []byte) (net.HardwareAddr, bool) {
	if len(raw) < 4 {
		return nil, false
	}
	duidType := uint16(raw[0])<<8 | uint16(raw[1])
	htype := uint16(raw[2])<<8 | uint16(raw[3])
	if htype != htypeEthernet {
		return nil, false
	}
	switch duidType {
	case duidLLT:
		if len(raw) < 14 {
			return nil, false
		}
		return net.HardwareAddr(append([]byte(nil), raw[8:14]...)), true
	case duidLL:
		if len(raw) < 10 {
			return nil, false
		}
		return net.HardwareAddr(append([]byte(nil), raw[4:10]...)), true
	default:
		return nil, false
	}
}

// Name identifies an extraction method for logging and analytics,
// matching the names used in reservation config and event records.
type Name string

const (
	NameClientLinklayerAddress Name = "client_linklayer_address"
	NamePeerAddrEui64          Name = "peer_addr_eui64"
	NameDuid                   Name = "duid"
)

// Order lists every known extractor name, most reliable (explicitly
// relay-added) to least reliable (DUID-embedded, which may be stale per
// RFC 8415). Config loading validates mac_extractors against it; the
// resolver attempts the configured list in its own order.
var Order = []Name{NameClientLinklayerAddress, NamePeerAddrEui64, NameDuid}
