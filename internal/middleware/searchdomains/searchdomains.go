// Package searchdomains adds default DNS search domains to a reply,
// for whichever protocol the client requested them on.
package searchdomains

import (
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/insomniacslk/dhcp/rfc1035label"
)

// Apply4 adds OptDomainSearch to resp if req requested it and domains
// is non-empty.
func Apply4(req, resp *dhcpv4.DHCPv4, domains []string) {
	if len(domains) == 0 {
		return
	}
	if !req.IsOptionRequested(dhcpv4.OptionDNSDomainSearchList) {
		return
	}
	resp.UpdateOption(dhcpv4.OptDomainSearch(&rfc1035label.Labels{Labels: copyDomains(domains)}))
}

// Apply6 adds OptDomainSearchList to resp if req requested it and
// domains is non-empty.
func Apply6(req, resp *dhcpv6.Message, domains []string) {
	if len(domains) == 0 {
		return
	}
	if !req.IsOptionRequested(dhcpv6.OptionDomainSearchList) {
		return
	}
	resp.UpdateOption(dhcpv6.OptDomainSearchList(&rfc1035label.Labels{Labels: copyDomains(domains)}))
}

// copyDomains returns a fresh copy so callers can't mutate the
// configured list through the returned option.
func copyDomains(domains []string) []string {
	copied := make([]string, len(domains))
	copy(copied, domains)
	return copied
}
