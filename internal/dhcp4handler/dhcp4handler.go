// Package dhcp4handler implements the DHCPv4 state machine: a pure
// function from a decoded request to either a reply message or a
// typed reason for staying silent. It consults the reservation
// resolver and records leases but performs no I/O itself.
package dhcp4handler

import (
	"net"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"

	"github.com/shadowisp/resdhcp/internal/config"
	"github.com/shadowisp/resdhcp/internal/leasecache"
	"github.com/shadowisp/resdhcp/internal/middleware/ipv6only"
	"github.com/shadowisp/resdhcp/internal/option82"
	"github.com/shadowisp/resdhcp/internal/reservation"
	"github.com/shadowisp/resdhcp/internal/resolver"
)

// matchIPv6Only marks a reply built for an RFC 8925 IPv6-Only
// Preferred client, which never resolved a reservation.
const matchIPv6Only resolver.Match = "ipv6-only-preferred"

// NoResponseReason is the closed set of per-request non-errors: the
// request is valid protocol traffic but does not warrant a reply.
// Silence is the correct RFC behavior for most of these; the worker
// emits a failure event for observability.
type NoResponseReason string

const (
	ReasonNoValidMac     NoResponseReason = "NoValidMac"
	ReasonNoReservation  NoResponseReason = "NoReservation"
	ReasonNoServerSubnet NoResponseReason = "NoServerSubnet"
	ReasonDiscarded      NoResponseReason = "Discarded"
	ReasonWrongServerId  NoResponseReason = "WrongServerId"
	ReasonNoMessageType  NoResponseReason = "NoMessageType"
)

const (
	addressLeaseTime = 3600 * time.Second
	serverName       = "dhcp.shadowinter.net"
)

// Result carries the resolved reservation and match method alongside
// a successful reply, for the worker to fold into its event.
type Result struct {
	Reply *dhcpv4.DHCPv4
	Match resolver.Match
}

// Handle is the DHCPv4 handler entry point.
func Handle(cfg *config.Config, idx *reservation.Index, cache *leasecache.Cache, req *dhcpv4.DHCPv4) (*Result, NoResponseReason) {
	if req.OpCode != dhcpv4.OpcodeBootRequest {
		return nil, ReasonDiscarded
	}
	mt := req.MessageType()
	if mt == dhcpv4.MessageTypeNone {
		return nil, ReasonNoMessageType
	}

	switch mt {
	case dhcpv4.MessageTypeDiscover:
		return handleDiscover(cfg, idx, req)
	case dhcpv4.MessageTypeRequest:
		return handleRequest(cfg, idx, cache, req)
	default:
		// DECLINE, RELEASE, INFORM, and any server-originated type are
		// explicitly ignored.
		return nil, ReasonDiscarded
	}
}

func rawOption82(req *dhcpv4.DHCPv4) option82.Option82 {
	relay := req.RelayAgentInfo()
	if relay == nil {
		return option82.Option82{}
	}
	return option82.Option82{
		Circuit:    string(relay.Get(dhcpv4.AgentCircuitIDSubOption)),
		Remote:     string(relay.Get(dhcpv4.AgentRemoteIDSubOption)),
		Subscriber: string(relay.Get(dhcpv4.AgentSubscriberIDSubOption)),
	}
}

func findSubnet(cfg *config.Config, ip net.IP) (config.Subnet, bool) {
	for _, s := range cfg.SubnetsV4 {
		if s.Net.Contains(ip) {
			return s, true
		}
	}
	return config.Subnet{}, false
}

func subnetMask(s config.Subnet) net.IPMask {
	if s.HasReplyPrefix {
		return net.CIDRMask(s.ReplyPrefixLen, 32)
	}
	return s.Net.Mask
}

func handleDiscover(cfg *config.Config, idx *reservation.Index, req *dhcpv4.DHCPv4) (*Result, NoResponseReason) {
	if len(req.ClientHWAddr) != 6 {
		return nil, ReasonNoValidMac
	}

	// RFC 8925: answer before any reservation lookup or address
	// allocation, so a compatible client never ties up a reserved
	// lease it does not intend to use.
	if ipv6only.Requested(req, cfg.IPv6OnlyEnabled) {
		reply, err := buildIPv6OnlyReply(cfg, req)
		if err != nil {
			return nil, ReasonDiscarded
		}
		return &Result{Reply: reply, Match: matchIPv6Only}, ""
	}

	raw := rawOption82(req)
	res, match, ok := resolver.V4(idx, req.ClientHWAddr, raw, cfg.Option82Extractors)
	if !ok {
		return nil, ReasonNoReservation
	}

	subnet, ok := findSubnet(cfg, res.IPv4)
	if !ok {
		return nil, ReasonNoServerSubnet
	}

	reply, err := buildReply(cfg, req, res, subnet, dhcpv4.MessageTypeOffer)
	if err != nil {
		return nil, ReasonDiscarded
	}
	return &Result{Reply: reply, Match: match}, ""
}

// requestVariant classifies a REQUEST per the table in the DHCPv4
// handler spec: SELECTING, INIT-REBOOT, RENEW, REBINDING.
type requestVariant int

const (
	variantNone requestVariant = iota
	variantSelecting
	variantInitReboot
	variantRenew
	variantRebinding
)

func classifyRequest(req *dhcpv4.DHCPv4, serverID net.IP) requestVariant {
	sid := req.ServerIdentifier()
	requestedIP := req.RequestedIPAddress()
	hasRequestedIP := requestedIP != nil && !requestedIP.IsUnspecified()
	hasCiaddr := req.ClientIPAddr != nil && !req.ClientIPAddr.IsUnspecified()
	hasGiaddr := req.GatewayIPAddr != nil && !req.GatewayIPAddr.IsUnspecified()

	switch {
	case sid != nil && !hasCiaddr && hasRequestedIP:
		if !sid.Equal(serverID) {
			return variantNone
		}
		return variantSelecting
	case sid == nil && !hasCiaddr && hasRequestedIP:
		return variantInitReboot
	case sid == nil && hasCiaddr && !hasRequestedIP && !hasGiaddr:
		return variantRenew
	case sid == nil && hasCiaddr && !hasRequestedIP && hasGiaddr:
		return variantRebinding
	default:
		return variantNone
	}
}

func handleRequest(cfg *config.Config, idx *reservation.Index, cache *leasecache.Cache, req *dhcpv4.DHCPv4) (*Result, NoResponseReason) {
	variant := classifyRequest(req, cfg.V4ServerID)
	if variant == variantNone {
		sid := req.ServerIdentifier()
		if sid != nil && !sid.Equal(cfg.V4ServerID) {
			return nil, ReasonWrongServerId
		}
		return nil, ReasonDiscarded
	}

	if len(req.ClientHWAddr) != 6 {
		return nil, ReasonNoValidMac
	}

	var requested net.IP
	switch variant {
	case variantSelecting, variantInitReboot:
		requested = req.RequestedIPAddress()
	case variantRenew, variantRebinding:
		requested = req.ClientIPAddr
	}

	raw := rawOption82(req)
	res, match, ok := resolver.V4(idx, req.ClientHWAddr, raw, cfg.Option82Extractors)
	if !ok {
		return nil, ReasonNoReservation
	}

	subnet, ok := findSubnet(cfg, res.IPv4)
	if !ok {
		return nil, ReasonNoServerSubnet
	}

	if requested != nil && requested.Equal(res.IPv4) {
		reply, err := buildReply(cfg, req, res, subnet, dhcpv4.MessageTypeAck)
		if err != nil {
			return nil, ReasonDiscarded
		}
		if isOpt82Match(match) {
			cache.RecordV4(res, req.ClientHWAddr, res.Opt82, true, addressLeaseTime)
		} else {
			cache.RecordV4(res, req.ClientHWAddr, option82.Option82{}, false, addressLeaseTime)
		}
		return &Result{Reply: reply, Match: match}, ""
	}

	reply := buildNak(cfg, req)
	return &Result{Reply: reply, Match: match}, ""
}

func isOpt82Match(m resolver.Match) bool {
	return len(m) >= len(resolver.MatchOpt82Prefix) && string(m)[:len(resolver.MatchOpt82Prefix)] == resolver.MatchOpt82Prefix
}

func buildReply(cfg *config.Config, req *dhcpv4.DHCPv4, res *reservation.Reservation, subnet config.Subnet, mt dhcpv4.MessageType) (*dhcpv4.DHCPv4, error) {
	t1 := addressLeaseTime / 2
	t2 := addressLeaseTime * 7 / 8

	modifiers := []dhcpv4.Modifier{
		dhcpv4.WithMessageType(mt),
		dhcpv4.WithYourIP(res.IPv4),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(cfg.V4ServerID)),
		dhcpv4.WithOption(dhcpv4.OptSubnetMask(subnetMask(subnet))),
		dhcpv4.WithOption(dhcpv4.OptRouter(subnet.Gateway)),
		dhcpv4.WithOption(dhcpv4.OptDNS(cfg.DNSv4...)),
		dhcpv4.WithOption(dhcpv4.OptIPAddressLeaseTime(addressLeaseTime)),
		dhcpv4.WithOption(dhcpv4.OptGeneric(dhcpv4.OptionRenewTimeValue, dhcpv4.Duration(t1).ToBytes())),
		dhcpv4.WithOption(dhcpv4.OptGeneric(dhcpv4.OptionRebindingTimeValue, dhcpv4.Duration(t2).ToBytes())),
	}

	reply, err := dhcpv4.NewReplyFromRequest(req, modifiers...)
	if err != nil {
		return nil, err
	}
	reply.ServerHostName = padServerName(serverName)
	return reply, nil
}

func padServerName(name string) [64]byte {
	var out [64]byte
	copy(out[:], name)
	return out
}

func buildIPv6OnlyReply(cfg *config.Config, req *dhcpv4.DHCPv4) (*dhcpv4.DHCPv4, error) {
	reply, err := dhcpv4.NewReplyFromRequest(req,
		dhcpv4.WithMessageType(dhcpv4.MessageTypeOffer),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(cfg.V4ServerID)),
	)
	if err != nil {
		return nil, err
	}
	reply.YourIPAddr = net.IPv4zero
	ipv6only.Apply(reply, cfg.IPv6OnlyWait)
	return reply, nil
}

func buildNak(cfg *config.Config, req *dhcpv4.DHCPv4) *dhcpv4.DHCPv4 {
	reply, _ := dhcpv4.NewReplyFromRequest(req,
		dhcpv4.WithMessageType(dhcpv4.MessageTypeNak),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(cfg.V4ServerID)),
	)
	reply.YourIPAddr = net.IPv4zero
	if req.GatewayIPAddr != nil && !req.GatewayIPAddr.IsUnspecified() {
		reply.SetBroadcast()
	}
	return reply
}
