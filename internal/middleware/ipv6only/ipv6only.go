// Package ipv6only implements RFC 8925: if the client requests the
// IPv6-Only Preferred option, the reply carries it back with the
// configured wait time. DHCPv4-only; there is no DHCPv6 equivalent.
//
// Callers must apply this before any address allocation runs, so a
// compatible client never consumes a pool address it will not use.
package ipv6only

import (
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
)

// Requested reports whether req carries the IPv6-Only Preferred
// option and the feature is enabled.
func Requested(req *dhcpv4.DHCPv4, enabled bool) bool {
	return enabled && req.IsOptionRequested(dhcpv4.OptionIPv6OnlyPreferred)
}

// Apply adds OptIPv6OnlyPreferred to resp carrying wait.
func Apply(resp *dhcpv4.DHCPv4, wait time.Duration) {
	resp.UpdateOption(dhcpv4.OptIPv6OnlyPreferred(wait))
}
