// Package option82 holds the DHCPv4 Relay Agent Information Option (RFC
// 3046) subfields and the named, pure extractor functions that rewrite a
// raw relay-reported Option82 into a normalized lookup key.
package option82

import (
	"sort"
	"strings"

	"github.com/shadowisp/resdhcp/internal/macfmt"
)

// Option82 is the circuit-id / remote-id / subscriber-id subfield tuple.
// An empty string means the subfield was absent; equality is structural
// so a zero-value Option82 can be used directly as a map key.
type Option82 struct {
	Circuit    string
	Remote     string
	Subscriber string
}

// Empty reports whether none of the three subfields are set. An Option82
// used as an index key must not be Empty.
func (o Option82) Empty() bool {
	return o.Circuit == "" && o.Remote == "" && o.Subscriber == ""
}

// ExtractorFn is a pure function: normalize one raw Option82 into a
// lookup key, or report that this extractor does not apply.
type ExtractorFn func(Option82) (Option82, bool)

// RemoteOnly projects the Remote-ID subfield only.
func RemoteOnly(o Option82) (Option82, bool) {
	if o.Remote == "" {
		return Option82{}, false
	}
	return Option82{Remote: o.Remote}, true
}

// RemoteOnlyTrim projects Remote-ID with trailing NUL and whitespace
// stripped, for relay agents that pad the subfield.
func RemoteOnlyTrim(o Option82) (Option82, bool) {
	if o.Remote == "" {
		return Option82{}, false
	}
	trimmed := strings.TrimRight(strings.TrimSpace(o.Remote), "\x00")
	trimmed = strings.TrimSpace(trimmed)
	return Option82{Remote: trimmed}, true
}

// CircuitOnly projects the Circuit-ID subfield only.
func CircuitOnly(o Option82) (Option82, bool) {
	if o.Circuit == "" {
		return Option82{}, false
	}
	return Option82{Circuit: o.Circuit}, true
}

// SubscriberOnly projects the Subscriber-ID subfield only.
func SubscriberOnly(o Option82) (Option82, bool) {
	if o.Subscriber == "" {
		return Option82{}, false
	}
	return Option82{Subscriber: o.Subscriber}, true
}

// CircuitAndRemote requires both Circuit-ID and Remote-ID to be present
// and keeps both.
func CircuitAndRemote(o Option82) (Option82, bool) {
	if o.Circuit == "" || o.Remote == "" {
		return Option82{}, false
	}
	return Option82{Circuit: o.Circuit, Remote: o.Remote}, true
}

// RemoteFirst12 reads the first 12 characters of Remote-ID, parses them
// as a bare-hex MAC address, and re-emits the canonical dash form. Some
// relay agents (e.g. Ubiquiti uFiber ONUs) prefix the MAC with other
// circuit information inside a single subfield.
func RemoteFirst12(o Option82) (Option82, bool) {
	if len(o.Remote) < 12 {
		return Option82{}, false
	}
	hw, ok := macfmt.Parse(o.Remote[:12])
	if !ok {
		return Option82{}, false
	}
	return Option82{Remote: macfmt.Dash(hw)}, true
}

// NormalizeRemoteMac parses the entire Remote-ID subfield as a MAC
// address (colon, dash, or bare hex) and re-emits the canonical dash
// form, so reservations need only store one textual form.
func NormalizeRemoteMac(o Option82) (Option82, bool) {
	if o.Remote == "" {
		return Option82{}, false
	}
	hw, ok := macfmt.Parse(o.Remote)
	if !ok {
		return Option82{}, false
	}
	return Option82{Remote: macfmt.Dash(hw)}, true
}

// Registry is the name -> extractor lookup used to resolve
// config-specified extractor names at load time.
var Registry = map[string]ExtractorFn{
	"remote_only":          RemoteOnly,
	"remote_only_trim":     RemoteOnlyTrim,
	"subscriber_only":      SubscriberOnly,
	"circuit_and_remote":   CircuitAndRemote,
	"circuit_only":         CircuitOnly,
	"remote_first_12":      RemoteFirst12,
	"normalize_remote_mac": NormalizeRemoteMac,
}

// Names returns every registered extractor name, sorted, for
// --available-extractors.
func Names() []string {
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
