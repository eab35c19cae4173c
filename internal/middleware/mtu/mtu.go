// Package mtu adds the DHCPv4 Interface-MTU option to a reply when the
// client requested it and a value is configured. DHCPv4-only: there is
// no MTU-related DHCPv6 option.
package mtu

import "github.com/insomniacslk/dhcp/dhcpv4"

// Apply adds OptionInterfaceMTU to resp if req requested it and mtu is
// nonzero.
func Apply(req, resp *dhcpv4.DHCPv4, mtu uint16) {
	if mtu == 0 {
		return
	}
	if !req.IsOptionRequested(dhcpv4.OptionInterfaceMTU) {
		return
	}
	resp.UpdateOption(dhcpv4.Option{Code: dhcpv4.OptionInterfaceMTU, Value: dhcpv4.Uint16(mtu)})
}
