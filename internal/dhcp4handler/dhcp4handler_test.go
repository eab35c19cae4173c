package dhcp4handler

import (
	"net"
	"testing"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"

	"github.com/shadowisp/resdhcp/internal/config"
	"github.com/shadowisp/resdhcp/internal/leasecache"
	"github.com/shadowisp/resdhcp/internal/option82"
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

func testConfig() *config.Config {
	_, subnet, _ := net.ParseCIDR("192.168.1.0/24")
	return &config.Config{
		V4ServerID: net.IPv4(10, 0, 0, 1),
		DNSv4:      []net.IP{net.IPv4(8, 8, 8, 8), net.IPv4(8, 8, 4, 4)},
		SubnetsV4: []config.Subnet{
			{Net: subnet, Gateway: net.IPv4(192, 168, 1, 1)},
		},
		Option82Extractors: []string{"remote_only"},
	}
}

func testIndex(res ...*reservation.Reservation) *reservation.Index {
	idx := reservation.NewIndex()
	for _, r := range res {
		idx.Insert(r)
	}
	return idx
}

func TestHandle_DiscoverByMac(t *testing.T) {
	cfg := testConfig()
	mac := mustMac(t, "00:11:22:33:44:55")
	idx := testIndex(&reservation.Reservation{IPv4: net.IPv4(192, 168, 1, 100), Mac: mac})
	cache := leasecache.New(nil)

	req, err := dhcpv4.New(
		dhcpv4.WithHwAddr(mac),
		dhcpv4.WithMessageType(dhcpv4.MessageTypeDiscover),
	)
	if err != nil {
		t.Fatal(err)
	}

	res, reason := Handle(cfg, idx, cache, req)
	if reason != "" {
		t.Fatalf("got reason %q, want none", reason)
	}
	reply := res.Reply
	if reply.MessageType() != dhcpv4.MessageTypeOffer {
		t.Errorf("got message type %v, want Offer", reply.MessageType())
	}
	if !reply.YourIPAddr.Equal(net.IPv4(192, 168, 1, 100)) {
		t.Errorf("got yiaddr %v, want 192.168.1.100", reply.YourIPAddr)
	}
	if mask := reply.SubnetMask(); mask == nil || net.IP(mask).String() != "255.255.255.0" {
		t.Errorf("got subnet mask %v", mask)
	}
	routers := reply.Router()
	if len(routers) != 1 || !routers[0].Equal(net.IPv4(192, 168, 1, 1)) {
		t.Errorf("got routers %v, want [192.168.1.1]", routers)
	}
	if sid := reply.ServerIdentifier(); sid == nil || !sid.Equal(net.IPv4(10, 0, 0, 1)) {
		t.Errorf("got server identifier %v, want 10.0.0.1", sid)
	}
	if lt := reply.IPAddressLeaseTime(0); lt != addressLeaseTime {
		t.Errorf("got lease time %v, want %v", lt, addressLeaseTime)
	}
	if res.Match != "mac" {
		t.Errorf("got match %q, want mac", res.Match)
	}
}

func TestHandle_DiscoverNoReservation(t *testing.T) {
	cfg := testConfig()
	idx := testIndex()
	cache := leasecache.New(nil)

	req, err := dhcpv4.New(
		dhcpv4.WithHwAddr(mustMac(t, "aa:bb:cc:dd:ee:ff")),
		dhcpv4.WithMessageType(dhcpv4.MessageTypeDiscover),
	)
	if err != nil {
		t.Fatal(err)
	}

	_, reason := Handle(cfg, idx, cache, req)
	if reason != ReasonNoReservation {
		t.Errorf("got reason %q, want NoReservation", reason)
	}
}

func TestHandle_DiscoverNoServerSubnet(t *testing.T) {
	cfg := testConfig()
	mac := mustMac(t, "00:11:22:33:44:55")
	idx := testIndex(&reservation.Reservation{IPv4: net.IPv4(10, 1, 1, 1), Mac: mac})
	cache := leasecache.New(nil)

	req, err := dhcpv4.New(
		dhcpv4.WithHwAddr(mac),
		dhcpv4.WithMessageType(dhcpv4.MessageTypeDiscover),
	)
	if err != nil {
		t.Fatal(err)
	}

	_, reason := Handle(cfg, idx, cache, req)
	if reason != ReasonNoServerSubnet {
		t.Errorf("got reason %q, want NoServerSubnet", reason)
	}
}

func TestHandle_RequestOption82FallbackRecordsBinding(t *testing.T) {
	cfg := testConfig()
	r := &reservation.Reservation{IPv4: net.IPv4(192, 168, 1, 200), Opt82: option82.Option82{Remote: "switch1:port1"}}
	idx := testIndex(r)
	cache := leasecache.New(nil)

	unknownMac := mustMac(t, "11:22:33:44:55:66")
	req, err := dhcpv4.New(
		dhcpv4.WithHwAddr(unknownMac),
		dhcpv4.WithMessageType(dhcpv4.MessageTypeRequest),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(cfg.V4ServerID)),
		dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(net.IPv4(192, 168, 1, 200))),
		dhcpv4.WithOption(dhcpv4.OptGeneric(dhcpv4.OptionRelayAgentInformation,
			append(append([]byte{dhcpv4.AgentRemoteIDSubOption, byte(len("switch1:port1"))}, []byte("switch1:port1")...)))),
	)
	if err != nil {
		t.Fatal(err)
	}

	res, reason := Handle(cfg, idx, cache, req)
	if reason != "" {
		t.Fatalf("got reason %q, want none", reason)
	}
	if res.Reply.MessageType() != dhcpv4.MessageTypeAck {
		t.Errorf("got message type %v, want Ack", res.Reply.MessageType())
	}
	if !res.Reply.YourIPAddr.Equal(net.IPv4(192, 168, 1, 200)) {
		t.Errorf("got yiaddr %v, want 192.168.1.200", res.Reply.YourIPAddr)
	}
	if res.Match != "option82:remote_only" {
		t.Errorf("got match %q, want option82:remote_only", res.Match)
	}

	bound, ok := cache.LookupOpt82ByMac(unknownMac)
	if !ok || bound != r.Opt82 {
		t.Errorf("expected a recorded mac->option82 binding, got %+v, %v", bound, ok)
	}
}

func TestHandle_RequestNakWrongRequestedIP(t *testing.T) {
	cfg := testConfig()
	mac := mustMac(t, "00:11:22:33:44:55")
	idx := testIndex(&reservation.Reservation{IPv4: net.IPv4(192, 168, 1, 100), Mac: mac})
	cache := leasecache.New(nil)

	req, err := dhcpv4.New(
		dhcpv4.WithHwAddr(mac),
		dhcpv4.WithMessageType(dhcpv4.MessageTypeRequest),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(cfg.V4ServerID)),
		dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(net.IPv4(192, 168, 1, 250))),
	)
	if err != nil {
		t.Fatal(err)
	}

	res, reason := Handle(cfg, idx, cache, req)
	if reason != "" {
		t.Fatalf("got reason %q, want none (a NAK is a reply, not a silence reason)", reason)
	}
	if res.Reply.MessageType() != dhcpv4.MessageTypeNak {
		t.Errorf("got message type %v, want Nak", res.Reply.MessageType())
	}
	if !res.Reply.YourIPAddr.Equal(net.IPv4zero) {
		t.Errorf("got yiaddr %v, want 0.0.0.0", res.Reply.YourIPAddr)
	}
}

func TestHandle_RequestNakBroadcastWhenRelayed(t *testing.T) {
	cfg := testConfig()
	mac := mustMac(t, "00:11:22:33:44:55")
	idx := testIndex(&reservation.Reservation{IPv4: net.IPv4(192, 168, 1, 100), Mac: mac})
	cache := leasecache.New(nil)

	req, err := dhcpv4.New(
		dhcpv4.WithHwAddr(mac),
		dhcpv4.WithMessageType(dhcpv4.MessageTypeRequest),
		dhcpv4.WithClientIP(net.IPv4(192, 168, 1, 99)),
		dhcpv4.WithGatewayIP(net.IPv4(192, 168, 1, 1)),
	)
	if err != nil {
		t.Fatal(err)
	}
	// The client's ciaddr differs from the address reserved for this mac,
	// so the REBINDING-variant REQUEST resolves to a NAK.
	req.GatewayIPAddr = net.IPv4(192, 168, 1, 1)

	res, reason := Handle(cfg, idx, cache, req)
	if reason != "" {
		t.Fatalf("got reason %q, want none", reason)
	}
	if res.Reply.MessageType() != dhcpv4.MessageTypeNak {
		t.Fatalf("got message type %v, want Nak", res.Reply.MessageType())
	}
	if !res.Reply.IsBroadcast() {
		t.Error("expected the broadcast flag set on a NAK relayed through a gateway")
	}
}

func TestClassifyRequest_Selecting(t *testing.T) {
	serverID := net.IPv4(10, 0, 0, 1)
	req, err := dhcpv4.New(
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(serverID)),
		dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(net.IPv4(192, 168, 1, 100))),
	)
	if err != nil {
		t.Fatal(err)
	}
	if v := classifyRequest(req, serverID); v != variantSelecting {
		t.Errorf("got variant %v, want Selecting", v)
	}
}

func TestClassifyRequest_WrongServerId(t *testing.T) {
	serverID := net.IPv4(10, 0, 0, 1)
	req, err := dhcpv4.New(
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(net.IPv4(10, 0, 0, 2))),
		dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(net.IPv4(192, 168, 1, 100))),
	)
	if err != nil {
		t.Fatal(err)
	}
	if v := classifyRequest(req, serverID); v != variantNone {
		t.Errorf("got variant %v, want None (caller distinguishes WrongServerId)", v)
	}
}

func TestClassifyRequest_InitReboot(t *testing.T) {
	serverID := net.IPv4(10, 0, 0, 1)
	req, err := dhcpv4.New(
		dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(net.IPv4(192, 168, 1, 100))),
	)
	if err != nil {
		t.Fatal(err)
	}
	if v := classifyRequest(req, serverID); v != variantInitReboot {
		t.Errorf("got variant %v, want InitReboot", v)
	}
}

func TestClassifyRequest_Renew(t *testing.T) {
	serverID := net.IPv4(10, 0, 0, 1)
	req, err := dhcpv4.New(
		dhcpv4.WithClientIP(net.IPv4(192, 168, 1, 100)),
	)
	if err != nil {
		t.Fatal(err)
	}
	if v := classifyRequest(req, serverID); v != variantRenew {
		t.Errorf("got variant %v, want Renew", v)
	}
}

func TestClassifyRequest_Rebinding(t *testing.T) {
	serverID := net.IPv4(10, 0, 0, 1)
	req, err := dhcpv4.New(
		dhcpv4.WithClientIP(net.IPv4(192, 168, 1, 100)),
		dhcpv4.WithGatewayIP(net.IPv4(192, 168, 1, 1)),
	)
	if err != nil {
		t.Fatal(err)
	}
	req.GatewayIPAddr = net.IPv4(192, 168, 1, 1)
	if v := classifyRequest(req, serverID); v != variantRebinding {
		t.Errorf("got variant %v, want Rebinding", v)
	}
}

func TestHandle_WrongServerId(t *testing.T) {
	cfg := testConfig()
	mac := mustMac(t, "00:11:22:33:44:55")
	idx := testIndex(&reservation.Reservation{IPv4: net.IPv4(192, 168, 1, 100), Mac: mac})
	cache := leasecache.New(nil)

	req, err := dhcpv4.New(
		dhcpv4.WithHwAddr(mac),
		dhcpv4.WithMessageType(dhcpv4.MessageTypeRequest),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(net.IPv4(10, 0, 0, 9))),
		dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(net.IPv4(192, 168, 1, 100))),
	)
	if err != nil {
		t.Fatal(err)
	}

	_, reason := Handle(cfg, idx, cache, req)
	if reason != ReasonWrongServerId {
		t.Errorf("got reason %q, want WrongServerId", reason)
	}
}

func TestHandle_NoValidMac(t *testing.T) {
	cfg := testConfig()
	idx := testIndex()
	cache := leasecache.New(nil)

	req, err := dhcpv4.New(
		dhcpv4.WithMessageType(dhcpv4.MessageTypeDiscover),
	)
	if err != nil {
		t.Fatal(err)
	}
	req.ClientHWAddr = nil

	_, reason := Handle(cfg, idx, cache, req)
	if reason != ReasonNoValidMac {
		t.Errorf("got reason %q, want NoValidMac", reason)
	}
}

func TestHandle_Discarded_OtherMessageType(t *testing.T) {
	cfg := testConfig()
	idx := testIndex()
	cache := leasecache.New(nil)

	req, err := dhcpv4.New(
		dhcpv4.WithHwAddr(mustMac(t, "00:11:22:33:44:55")),
		dhcpv4.WithMessageType(dhcpv4.MessageTypeRelease),
	)
	if err != nil {
		t.Fatal(err)
	}

	_, reason := Handle(cfg, idx, cache, req)
	if reason != ReasonDiscarded {
		t.Errorf("got reason %q, want Discarded", reason)
	}
}

func TestHandle_NoMessageType(t *testing.T) {
	cfg := testConfig()
	idx := testIndex()
	cache := leasecache.New(nil)

	req, err := dhcpv4.New(
		dhcpv4.WithHwAddr(mustMac(t, "00:11:22:33:44:55")),
	)
	if err != nil {
		t.Fatal(err)
	}

	_, reason := Handle(cfg, idx, cache, req)
	if reason != ReasonNoMessageType {
		t.Errorf("got reason %q, want NoMessageType", reason)
	}
}

func TestHandle_Discover_IPv6OnlyPreferredSkipsAllocation(t *testing.T) {
	cfg := testConfig()
	cfg.IPv6OnlyEnabled = true
	cfg.IPv6OnlyWait = 300 * time.Second
	mac := mustMac(t, "00:11:22:33:44:55")
	idx := testIndex()
	cache := leasecache.New(nil)

	req, err := dhcpv4.New(
		dhcpv4.WithHwAddr(mac),
		dhcpv4.WithMessageType(dhcpv4.MessageTypeDiscover),
		dhcpv4.WithRequestedOptions(dhcpv4.OptionIPv6OnlyPreferred),
	)
	if err != nil {
		t.Fatal(err)
	}

	res, reason := Handle(cfg, idx, cache, req)
	if reason != "" {
		t.Fatalf("got reason %q, want none", reason)
	}
	if !res.Reply.YourIPAddr.Equal(net.IPv4zero) {
		t.Errorf("got yiaddr %s, want 0.0.0.0", res.Reply.YourIPAddr)
	}
	if got := res.Reply.Options.Get(dhcpv4.OptionIPv6OnlyPreferred); got == nil {
		t.Error("expected the IPv6-only preferred option in the reply")
	}
}

func TestHandle_Discover_IPv6OnlyDisabledFallsThroughToAllocation(t *testing.T) {
	cfg := testConfig()
	mac := mustMac(t, "00:11:22:33:44:55")
	idx := testIndex(&reservation.Reservation{IPv4: net.IPv4(192, 168, 1, 100), Mac: mac})
	cache := leasecache.New(nil)

	req, err := dhcpv4.New(
		dhcpv4.WithHwAddr(mac),
		dhcpv4.WithMessageType(dhcpv4.MessageTypeDiscover),
		dhcpv4.WithRequestedOptions(dhcpv4.OptionIPv6OnlyPreferred),
	)
	if err != nil {
		t.Fatal(err)
	}

	res, reason := Handle(cfg, idx, cache, req)
	if reason != "" {
		t.Fatalf("got reason %q, want none", reason)
	}
	if !res.Reply.YourIPAddr.Equal(net.IPv4(192, 168, 1, 100)) {
		t.Errorf("got yiaddr %s, want the reserved address", res.Reply.YourIPAddr)
	}
}
