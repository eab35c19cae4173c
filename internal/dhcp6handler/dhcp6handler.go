// Package dhcp6handler implements the DHCPv6 state machine over a
// RelayForw/RelayRepl envelope: a pure function from the decoded inner
// message (plus the relay-derived identifiers the worker has already
// pulled out of the RelayMessage) to a reply or a reason to stay
// silent. The worker owns unwrapping RelayMsg and re-wrapping the
// reply in RelayRepl.
package dhcp6handler

import (
	"net"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/insomniacslk/dhcp/iana"

	"github.com/shadowisp/resdhcp/internal/config"
	"github.com/shadowisp/resdhcp/internal/leasecache"
	"github.com/shadowisp/resdhcp/internal/option1837"
	"github.com/shadowisp/resdhcp/internal/reservation"
	"github.com/shadowisp/resdhcp/internal/resolver"
)

type NoResponseReason string

const (
	ReasonNoClientId      NoResponseReason = "NoClientId"
	ReasonServerIdPresent NoResponseReason = "ServerIdPresent"
	ReasonNoServerId      NoResponseReason = "NoServerId"
	ReasonWrongServerId   NoResponseReason = "WrongServerId"
	ReasonNoReservation   NoResponseReason = "NoReservation"
	ReasonDiscarded       NoResponseReason = "Discarded"
)

const (
	validLifetime     = 7200 * time.Second
	preferredLifetime = validLifetime / 2
	t1                = preferredLifetime / 2
	t2                = preferredLifetime * 4 / 5
)

// Result carries the resolved reservation and match method alongside a
// successful reply, for the worker to fold into its event.
type Result struct {
	Reply *dhcpv6.Message
	Match resolver.Match
}

// RelayInfo carries the identifiers the worker extracted from the
// enclosing RelayMessage: the relay's reported peer address (used for
// EUI-64 MAC recovery) and the raw Option 18/37 tuple.
type RelayInfo struct {
	PeerAddr   net.IP
	Option1837 option1837.Option1837
}

// Handle is the DHCPv6 handler entry point.
func Handle(cfg *config.Config, idx *reservation.Index, cache *leasecache.Cache, req *dhcpv6.Message, relay RelayInfo) (*Result, NoResponseReason) {
	switch req.Type() {
	case dhcpv6.MessageTypeSolicit:
		return handleSolicit(cfg, idx, cache, req, relay)
	case dhcpv6.MessageTypeRequest:
		return handleRequest(cfg, idx, cache, req, relay)
	case dhcpv6.MessageTypeRenew:
		return handleRenewRebind(cfg, idx, cache, req, relay, true)
	case dhcpv6.MessageTypeRebind:
		return handleRenewRebind(cfg, idx, cache, req, relay, false)
	default:
		return nil, ReasonDiscarded
	}
}

func resolveReservation(cfg *config.Config, idx *reservation.Index, cache *leasecache.Cache, req *dhcpv6.Message, relay RelayInfo) (*reservation.Reservation, resolver.Match, bool) {
	var duid reservation.Duid
	if cid := req.Options.ClientID(); cid != nil {
		duid = reservation.Duid(cid.ToBytes())
	}

	in := resolver.V6Input{
		Duid:       duid,
		Option1837: relay.Option1837,
		PeerAddr:   relay.PeerAddr,
	}
	if opt := req.GetOneOption(dhcpv6.OptionClientLinkLayerAddr); opt != nil {
		if cll, ok := opt.(*dhcpv6.OptClientLinkLayerAddr); ok {
			in.ClientLinklayerAddr = cll.LinkLayerAddress
		}
	}

	return resolver.V6(idx, cache, in, cfg.Option1837Extractors, cfg.MacExtractors)
}

func recordLease(cache *leasecache.Cache, res *reservation.Reservation, req *dhcpv6.Message) {
	var duid reservation.Duid
	var mac net.HardwareAddr
	if cid := req.Options.ClientID(); cid != nil {
		duid = reservation.Duid(cid.ToBytes())
	}
	if opt := req.GetOneOption(dhcpv6.OptionClientLinkLayerAddr); opt != nil {
		if cll, ok := opt.(*dhcpv6.OptClientLinkLayerAddr); ok {
			mac = cll.LinkLayerAddress
		}
	}
	cache.RecordV6(res, leasecache.LeaseV6{Valid: validLifetime, Duid: duid, Mac: mac})
}

// applyIAs echoes every IA_NA and IA_PD the client sent, resolved
// against res, onto reply.
func applyIAs(reply *dhcpv6.Message, req *dhcpv6.Message, res *reservation.Reservation) {
	for _, reqIANA := range req.Options.IANA() {
		reply.AddOption(&dhcpv6.OptIANA{
			IaId: reqIANA.IaId,
			T1:   t1,
			T2:   t2,
			Options: dhcpv6.IdentityOptions{Options: []dhcpv6.Option{
				&dhcpv6.OptIAAddress{
					IPv6Addr:          res.IPv6NA,
					PreferredLifetime: preferredLifetime,
					ValidLifetime:     validLifetime,
				},
			}},
		})
	}
	for _, reqIAPD := range req.Options.IAPD() {
		reply.AddOption(&dhcpv6.OptIAPD{
			IaId: reqIAPD.IaId,
			T1:   t1,
			T2:   t2,
			Options: dhcpv6.IdentityOptions{Options: []dhcpv6.Option{
				&dhcpv6.OptIAPrefix{
					PreferredLifetime: preferredLifetime,
					ValidLifetime:     validLifetime,
					Prefix:            &res.IPv6PD,
				},
			}},
		})
	}
}

// applyNoBindingIAs echoes every IA_NA and IA_PD the client sent back
// with a StatusCode(NoBinding) inside each IA option and zeroed
// lifetimes, per RFC 8415 §18.4.2 — never a message-level StatusCode.
func applyNoBindingIAs(reply *dhcpv6.Message, req *dhcpv6.Message) {
	const noBindingMsg = "No binding for this IA"

	for _, reqIANA := range req.Options.IANA() {
		opts := []dhcpv6.Option{&dhcpv6.OptStatusCode{StatusCode: iana.StatusNoBinding, StatusMessage: noBindingMsg}}
		if addrs := reqIANA.Options.Addresses(); len(addrs) > 0 {
			opts = append([]dhcpv6.Option{&dhcpv6.OptIAAddress{IPv6Addr: addrs[0].IPv6Addr}}, opts...)
		}
		reply.AddOption(&dhcpv6.OptIANA{IaId: reqIANA.IaId, Options: dhcpv6.IdentityOptions{Options: opts}})
	}
	for _, reqIAPD := range req.Options.IAPD() {
		opts := []dhcpv6.Option{&dhcpv6.OptStatusCode{StatusCode: iana.StatusNoBinding, StatusMessage: noBindingMsg}}
		if prefixes := reqIAPD.Options.Prefixes(); len(prefixes) > 0 {
			opts = append([]dhcpv6.Option{&dhcpv6.OptIAPrefix{Prefix: prefixes[0].Prefix}}, opts...)
		}
		reply.AddOption(&dhcpv6.OptIAPD{IaId: reqIAPD.IaId, Options: dhcpv6.IdentityOptions{Options: opts}})
	}
}

func handleSolicit(cfg *config.Config, idx *reservation.Index, cache *leasecache.Cache, req *dhcpv6.Message, relay RelayInfo) (*Result, NoResponseReason) {
	if req.Options.ClientID() == nil {
		return nil, ReasonNoClientId
	}
	if req.Options.ServerID() != nil {
		return nil, ReasonServerIdPresent
	}

	res, match, ok := resolveReservation(cfg, idx, cache, req, relay)
	if !ok {
		return nil, ReasonNoReservation
	}

	rapidCommit := req.GetOneOption(dhcpv6.OptionRapidCommit) != nil

	var reply *dhcpv6.Message
	var err error
	if rapidCommit {
		reply, err = dhcpv6.NewReplyFromMessage(req)
	} else {
		reply, err = dhcpv6.NewAdvertiseFromSolicit(req)
	}
	if err != nil {
		return nil, ReasonDiscarded
	}

	applyIAs(reply, req, res)
	if rapidCommit {
		reply.AddOption(&dhcpv6.OptRapidCommit{})
	} else {
		reply.AddOption(&dhcpv6.OptPreference{Value: 255})
	}
	reply.AddOption(dhcpv6.OptServerID(cfg.V6ServerID))

	recordLease(cache, res, req)
	return &Result{Reply: reply, Match: match}, ""
}

func handleRequest(cfg *config.Config, idx *reservation.Index, cache *leasecache.Cache, req *dhcpv6.Message, relay RelayInfo) (*Result, NoResponseReason) {
	if req.Options.ClientID() == nil {
		return nil, ReasonNoClientId
	}
	sid := req.Options.ServerID()
	if sid == nil {
		return nil, ReasonNoServerId
	}
	if !sid.Equal(cfg.V6ServerID) {
		return nil, ReasonWrongServerId
	}

	res, match, ok := resolveReservation(cfg, idx, cache, req, relay)
	if !ok {
		return nil, ReasonNoReservation
	}

	reply, err := dhcpv6.NewReplyFromMessage(req)
	if err != nil {
		return nil, ReasonDiscarded
	}
	applyIAs(reply, req, res)
	reply.AddOption(dhcpv6.OptServerID(cfg.V6ServerID))

	recordLease(cache, res, req)
	return &Result{Reply: reply, Match: match}, ""
}

// handleRenewRebind implements both Renew (serverIDRequired=true) and
// Rebind (serverIDRequired=false). Unlike Solicit/Request, it always
// replies — a client in this state must never be left guessing whether
// the server is even reachable.
func handleRenewRebind(cfg *config.Config, idx *reservation.Index, cache *leasecache.Cache, req *dhcpv6.Message, relay RelayInfo, serverIDRequired bool) (*Result, NoResponseReason) {
	if req.Options.ClientID() == nil {
		return nil, ReasonNoClientId
	}
	if sid := req.Options.ServerID(); sid != nil {
		if !sid.Equal(cfg.V6ServerID) {
			return nil, ReasonWrongServerId
		}
	} else if serverIDRequired {
		return nil, ReasonNoServerId
	}

	reply, err := dhcpv6.NewReplyFromMessage(req)
	if err != nil {
		return nil, ReasonDiscarded
	}
	reply.AddOption(dhcpv6.OptServerID(cfg.V6ServerID))

	res, match, ok := resolveReservation(cfg, idx, cache, req, relay)
	if !ok {
		applyNoBindingIAs(reply, req)
		return &Result{Reply: reply, Match: ""}, ""
	}

	applyIAs(reply, req, res)
	recordLease(cache, res, req)
	return &Result{Reply: reply, Match: match}, ""
}
