package dhcp6handler

import (
	"net"
	"testing"

	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/insomniacslk/dhcp/iana"

	"github.com/shadowisp/resdhcp/internal/config"
	"github.com/shadowisp/resdhcp/internal/leasecache"
	"github.com/shadowisp/resdhcp/internal/macextract"
	"github.com/shadowisp/resdhcp/internal/reservation"
)

func mustMac(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	hw, err := net.ParseMAC(s)
	if err != nil {
		t.Fatal(err)
	}
	return hw
}

func testConfig(t *testing.T) *config.Config {
	duid, err := config.ParseDuid("ll 00:11:22:33:44:99")
	if err != nil {
		t.Fatal(err)
	}
	return &config.Config{
		V6ServerID:    duid,
		MacExtractors: []macextract.Name{macextract.NameClientLinklayerAddress},
	}
}

func testIndex(res ...*reservation.Reservation) *reservation.Index {
	idx := reservation.NewIndex()
	for _, r := range res {
		idx.Insert(r)
	}
	return idx
}

func iaid(n uint32) [4]byte {
	return [4]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}

func TestHandle_SolicitWithIaidEchoAndPreference(t *testing.T) {
	cfg := testConfig(t)
	mac := mustMac(t, "00:01:02:03:04:05")
	_, ipv6PD, _ := net.ParseCIDR("2001:db8:100::/56")
	res := &reservation.Reservation{
		IPv6NA: net.ParseIP("2001:db8::1"),
		IPv6PD: *ipv6PD,
		Mac:    mac,
	}
	idx := testIndex(res)
	cache := leasecache.New(nil)

	req, err := dhcpv6.NewMessage()
	if err != nil {
		t.Fatal(err)
	}
	req.MessageType = dhcpv6.MessageTypeSolicit
	req.AddOption(dhcpv6.OptClientID(&dhcpv6.DUIDLLT{HWType: iana.HWTypeEthernet, LinkLayerAddr: mustMac(t, "aa:bb:cc:00:00:01")}))
	req.AddOption(&dhcpv6.OptIANA{IaId: iaid(123)})
	req.AddOption(&dhcpv6.OptIAPD{IaId: iaid(456)})
	req.AddOption(&dhcpv6.OptClientLinkLayerAddr{LinkLayerType: iana.HWTypeEthernet, LinkLayerAddress: mac})

	relay := RelayInfo{PeerAddr: net.ParseIP("fe80::1")}

	res2, reason := Handle(cfg, idx, cache, req, relay)
	if reason != "" {
		t.Fatalf("got reason %q, want none", reason)
	}
	reply := res2.Reply
	if reply.Type() != dhcpv6.MessageTypeAdvertise {
		t.Fatalf("got message type %v, want Advertise", reply.Type())
	}

	gotIANA := reply.Options.OneIANA()
	if gotIANA == nil || gotIANA.IaId != iaid(123) {
		t.Fatalf("got IANA %+v, want IaId 123", gotIANA)
	}
	addrs := gotIANA.Options.Addresses()
	if len(addrs) != 1 || !addrs[0].IPv6Addr.Equal(net.ParseIP("2001:db8::1")) {
		t.Errorf("got IANA addresses %+v", addrs)
	}

	iapds := reply.Options.IAPD()
	if len(iapds) != 1 || iapds[0].IaId != iaid(456) {
		t.Fatalf("got IAPDs %+v, want one with IaId 456", iapds)
	}
	prefixes := iapds[0].Options.Prefixes()
	if len(prefixes) != 1 || prefixes[0].Prefix.String() != "2001:db8:100::/56" {
		t.Errorf("got IAPD prefixes %+v", prefixes)
	}

	if reply.GetOneOption(dhcpv6.OptionPreference) == nil {
		t.Error("expected a Preference option on an Advertise")
	}
	if sid := reply.Options.ServerID(); sid == nil || !sid.Equal(cfg.V6ServerID) {
		t.Errorf("got server id %v, want %v", sid, cfg.V6ServerID)
	}
	if res2.Match != "mac" {
		t.Errorf("got match %q, want mac", res2.Match)
	}
}

func TestHandle_RenewNoBinding(t *testing.T) {
	cfg := testConfig(t)
	idx := testIndex()
	cache := leasecache.New(nil)

	req, err := dhcpv6.NewMessage()
	if err != nil {
		t.Fatal(err)
	}
	req.MessageType = dhcpv6.MessageTypeRenew
	req.AddOption(dhcpv6.OptClientID(&dhcpv6.DUIDLLT{HWType: iana.HWTypeEthernet, LinkLayerAddr: mustMac(t, "de:ad:be:ef:00:01")}))
	req.AddOption(dhcpv6.OptServerID(cfg.V6ServerID))
	req.AddOption(&dhcpv6.OptIANA{
		IaId: iaid(1),
		Options: dhcpv6.IdentityOptions{Options: []dhcpv6.Option{
			&dhcpv6.OptIAAddress{IPv6Addr: net.ParseIP("2001:db8::1234")},
		}},
	})

	res, reason := Handle(cfg, idx, cache, req, RelayInfo{})
	if reason != "" {
		t.Fatalf("got reason %q, want none (Renew always replies)", reason)
	}
	reply := res.Reply
	if reply.Type() != dhcpv6.MessageTypeReply {
		t.Fatalf("got message type %v, want Reply", reply.Type())
	}
	if reply.GetOneOption(dhcpv6.OptionStatusCode) != nil {
		t.Error("expected no message-level StatusCode on a NoBinding Renew reply")
	}

	gotIANA := reply.Options.OneIANA()
	if gotIANA == nil || gotIANA.IaId != iaid(1) {
		t.Fatalf("got IANA %+v, want IaId 1", gotIANA)
	}
	var status *dhcpv6.OptStatusCode
	for _, o := range gotIANA.Options.Options {
		if sc, ok := o.(*dhcpv6.OptStatusCode); ok {
			status = sc
		}
	}
	if status == nil || status.StatusCode != iana.StatusNoBinding {
		t.Errorf("got IANA status %+v, want NoBinding inside the IA option", status)
	}
	addrs := gotIANA.Options.Addresses()
	if len(addrs) != 1 || addrs[0].PreferredLifetime != 0 || addrs[0].ValidLifetime != 0 {
		t.Errorf("got IANA addresses %+v, want zeroed lifetimes", addrs)
	}
}

func TestHandle_RequestWrongServerId(t *testing.T) {
	cfg := testConfig(t)
	idx := testIndex()
	cache := leasecache.New(nil)

	otherDuid, err := config.ParseDuid("ll 99:99:99:99:99:99")
	if err != nil {
		t.Fatal(err)
	}

	req, err := dhcpv6.NewMessage()
	if err != nil {
		t.Fatal(err)
	}
	req.MessageType = dhcpv6.MessageTypeRequest
	req.AddOption(dhcpv6.OptClientID(&dhcpv6.DUIDLLT{HWType: iana.HWTypeEthernet, LinkLayerAddr: mustMac(t, "aa:bb:cc:00:00:01")}))
	req.AddOption(dhcpv6.OptServerID(otherDuid))

	_, reason := Handle(cfg, idx, cache, req, RelayInfo{})
	if reason != ReasonWrongServerId {
		t.Errorf("got reason %q, want WrongServerId", reason)
	}
}

func TestHandle_SolicitNoClientId(t *testing.T) {
	cfg := testConfig(t)
	idx := testIndex()
	cache := leasecache.New(nil)

	req, err := dhcpv6.NewMessage()
	if err != nil {
		t.Fatal(err)
	}
	req.MessageType = dhcpv6.MessageTypeSolicit

	_, reason := Handle(cfg, idx, cache, req, RelayInfo{})
	if reason != ReasonNoClientId {
		t.Errorf("got reason %q, want NoClientId", reason)
	}
}

func TestHandle_RebindNoServerIdRequired(t *testing.T) {
	cfg := testConfig(t)
	mac := mustMac(t, "00:01:02:03:04:05")
	_, ipv6PD, _ := net.ParseCIDR("2001:db8:100::/56")
	res := &reservation.Reservation{IPv6NA: net.ParseIP("2001:db8::1"), IPv6PD: *ipv6PD, Mac: mac}
	idx := testIndex(res)
	cache := leasecache.New(nil)

	req, err := dhcpv6.NewMessage()
	if err != nil {
		t.Fatal(err)
	}
	req.MessageType = dhcpv6.MessageTypeRebind
	req.AddOption(dhcpv6.OptClientID(&dhcpv6.DUIDLLT{HWType: iana.HWTypeEthernet, LinkLayerAddr: mustMac(t, "aa:bb:cc:00:00:02")}))
	req.AddOption(&dhcpv6.OptIANA{IaId: iaid(7)})
	req.AddOption(&dhcpv6.OptClientLinkLayerAddr{LinkLayerType: iana.HWTypeEthernet, LinkLayerAddress: mac})

	res2, reason := Handle(cfg, idx, cache, req, RelayInfo{})
	if reason != "" {
		t.Fatalf("got reason %q, want none", reason)
	}
	if res2.Reply.Type() != dhcpv6.MessageTypeReply {
		t.Errorf("got message type %v, want Reply", res2.Reply.Type())
	}
	if res2.Match != "mac" {
		t.Errorf("got match %q, want mac", res2.Match)
	}
}

func TestHandle_Discarded(t *testing.T) {
	cfg := testConfig(t)
	idx := testIndex()
	cache := leasecache.New(nil)

	req, err := dhcpv6.NewMessage()
	if err != nil {
		t.Fatal(err)
	}
	req.MessageType = dhcpv6.MessageTypeReply

	_, reason := Handle(cfg, idx, cache, req, RelayInfo{})
	if reason != ReasonDiscarded {
		t.Errorf("got reason %q, want Discarded", reason)
	}
}
