// Package staticroute adds the DHCPv4 Classless Static Route option to
// a reply when the client requested it and at least one route is
// configured. DHCPv4-only.
package staticroute

import "github.com/insomniacslk/dhcp/dhcpv4"

// Apply adds OptClasslessStaticRoute to resp if req requested it and
// routes is non-empty.
func Apply(req, resp *dhcpv4.DHCPv4, routes dhcpv4.Routes) {
	if len(routes) == 0 {
		return
	}
	if !req.IsOptionRequested(dhcpv4.OptionClasslessStaticRoute) {
		return
	}
	resp.UpdateOption(dhcpv4.OptClasslessStaticRoute(routes...))
}
