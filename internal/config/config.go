// Package config loads and validates config.json, ids.json, and
// reservations.json, the three on-disk inputs an external collaborator
// (the CLI, the SIGHUP handler, or the management listener) hands to
// the core as an immutable, hot-swappable Config and Reservations
// snapshot.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/insomniacslk/dhcp/iana"

	"github.com/shadowisp/resdhcp/internal/macextract"
	"github.com/shadowisp/resdhcp/internal/option1837"
	"github.com/shadowisp/resdhcp/internal/option82"
	"github.com/shadowisp/resdhcp/internal/reservation"
)

// Subnet is one configured IPv4 subnet a reservation's address must
// fall within to be usable.
type Subnet struct {
	Net            *net.IPNet
	Gateway        net.IP
	ReplyPrefixLen int  // used only when HasReplyPrefix is set
	HasReplyPrefix bool // false means "use the subnet's own prefix length"
}

// Config is the immutable, hot-swappable server configuration.
type Config struct {
	V4ServerID net.IP
	DNSv4      []net.IP
	SubnetsV4  []Subnet

	V6ServerID dhcpv6.DUID

	Option82Extractors   []string
	Option1837Extractors []string
	MacExtractors        []macextract.Name

	V4BindAddress string
	V6BindAddress string
	EventsAddress string
	MgmtAddress   string
	LogLevel      string

	MTU             uint16
	StaticRoutes    []StaticRoute
	SearchDomains   []string
	IPv6OnlyWait    time.Duration
	IPv6OnlyEnabled bool
}

// StaticRoute is one destination/gateway pair advertised via the
// DHCPv4 Classless Static Route option.
type StaticRoute struct {
	Dest    *net.IPNet
	Gateway net.IP
}

// rawConfig mirrors config.json's on-disk shape.
type rawConfig struct {
	DNSv4                []string    `json:"dns_v4"`
	SubnetsV4            []rawSubnet `json:"subnets_v4"`
	Option82Extractors   []string    `json:"option82_extractors"`
	Option1837Extractors []string    `json:"option1837_extractors"`
	MacExtractors        []string    `json:"mac_extractors"`
	LogLevel             string      `json:"log_level,omitempty"`
	EventsAddress        string      `json:"events_address,omitempty"`
	MgmtAddress          string      `json:"mgmt_address,omitempty"`
	V4BindAddress        string      `json:"v4_bind_address,omitempty"`
	V6BindAddress        string      `json:"v6_bind_address,omitempty"`

	MTU             int      `json:"mtu,omitempty"`
	StaticRoutes    []string `json:"static_routes,omitempty"`
	SearchDomains   []string `json:"search_domains,omitempty"`
	IPv6OnlyWaitSec *int     `json:"ipv6_only_wait_seconds,omitempty"`
}

type rawSubnet struct {
	Net            string `json:"net"`
	Gateway        string `json:"gateway"`
	ReplyPrefixLen *int   `json:"reply_prefix_len,omitempty"`
}

type rawIds struct {
	V4  string `json:"v4"`
	V6  string `json:"v6"`
}

// LoadConfig parses config.json's bytes into a validated Config.
// Unknown extractor names and out-of-range reply_prefix_len values are
// fatal, per the loader being responsible for input validation.
func LoadConfig(data []byte) (*Config, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config.json: %w", err)
	}

	cfg := &Config{
		LogLevel:      raw.LogLevel,
		EventsAddress: raw.EventsAddress,
		MgmtAddress:   raw.MgmtAddress,
		V4BindAddress: defaultString(raw.V4BindAddress, ":67"),
		V6BindAddress: defaultString(raw.V6BindAddress, ":547"),
	}

	for _, s := range raw.DNSv4 {
		ip := net.ParseIP(s)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("dns_v4: %q is not a valid IPv4 address", s)
		}
		cfg.DNSv4 = append(cfg.DNSv4, ip.To4())
	}

	for _, rs := range raw.SubnetsV4 {
		_, ipnet, err := net.ParseCIDR(rs.Net)
		if err != nil {
			return nil, fmt.Errorf("subnets_v4: %w", err)
		}
		gw := net.ParseIP(rs.Gateway)
		if gw == nil || gw.To4() == nil {
			return nil, fmt.Errorf("subnets_v4: gateway %q is not a valid IPv4 address", rs.Gateway)
		}
		sub := Subnet{Net: ipnet, Gateway: gw.To4()}
		if rs.ReplyPrefixLen != nil {
			if *rs.ReplyPrefixLen < 0 || *rs.ReplyPrefixLen > 32 {
				return nil, fmt.Errorf("subnets_v4: reply_prefix_len %d out of range 0..=32", *rs.ReplyPrefixLen)
			}
			sub.ReplyPrefixLen = *rs.ReplyPrefixLen
			sub.HasReplyPrefix = true
		}
		cfg.SubnetsV4 = append(cfg.SubnetsV4, sub)
	}

	for _, name := range raw.Option82Extractors {
		if _, ok := option82.Registry[name]; !ok {
			return nil, fmt.Errorf("option82_extractors: unknown extractor %q", name)
		}
	}
	cfg.Option82Extractors = raw.Option82Extractors

	for _, name := range raw.Option1837Extractors {
		if _, ok := option1837.Registry[name]; !ok {
			return nil, fmt.Errorf("option1837_extractors: unknown extractor %q", name)
		}
	}
	cfg.Option1837Extractors = raw.Option1837Extractors

	macExtractorNames := raw.MacExtractors
	if len(macExtractorNames) == 0 {
		macExtractorNames = []string{string(macextract.NameClientLinklayerAddress)}
	}
	for _, name := range macExtractorNames {
		n := macextract.Name(name)
		if !validMacExtractor(n) {
			return nil, fmt.Errorf("mac_extractors: unknown extractor %q", name)
		}
		cfg.MacExtractors = append(cfg.MacExtractors, n)
	}

	if raw.MTU < 0 || raw.MTU > 65535 {
		return nil, fmt.Errorf("mtu: %d out of range 0..=65535", raw.MTU)
	}
	cfg.MTU = uint16(raw.MTU)

	for _, arg := range raw.StaticRoutes {
		fields := strings.Split(arg, ",")
		if len(fields) != 2 {
			return nil, fmt.Errorf("static_routes: expected a destination/gateway pair, got %q", arg)
		}
		_, dest, err := net.ParseCIDR(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("static_routes: invalid destination %q: %w", fields[0], err)
		}
		gw := net.ParseIP(strings.TrimSpace(fields[1]))
		if gw == nil {
			return nil, fmt.Errorf("static_routes: invalid gateway %q", fields[1])
		}
		cfg.StaticRoutes = append(cfg.StaticRoutes, StaticRoute{Dest: dest, Gateway: gw})
	}

	cfg.SearchDomains = append([]string(nil), raw.SearchDomains...)

	if raw.IPv6OnlyWaitSec != nil {
		if *raw.IPv6OnlyWaitSec < 0 {
			return nil, fmt.Errorf("ipv6_only_wait_seconds: must be non-negative")
		}
		cfg.IPv6OnlyEnabled = true
		cfg.IPv6OnlyWait = time.Duration(*raw.IPv6OnlyWaitSec) * time.Second
	}

	return cfg, nil
}

func validMacExtractor(n macextract.Name) bool {
	for _, valid := range macextract.Order {
		if n == valid {
			return true
		}
	}
	return false
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// LoadIds parses ids.json's bytes into a v4 server identifier and a
// v6 DUID, following the "type value" DUID string grammar: "ll <mac>",
// "llt <mac>", or "uuid <uuid>".
func LoadIds(data []byte) (net.IP, dhcpv6.DUID, error) {
	var raw rawIds
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("parsing ids.json: %w", err)
	}

	v4 := net.ParseIP(raw.V4)
	if v4 == nil || v4.To4() == nil {
		return nil, nil, fmt.Errorf("ids.json: v4: %q is not a valid IPv4 address", raw.V4)
	}

	duid, err := ParseDuid(raw.V6)
	if err != nil {
		return nil, nil, fmt.Errorf("ids.json: v6: %w", err)
	}

	return v4.To4(), duid, nil
}

// ParseDuid parses "ll <mac>", "llt <mac>", or "uuid <uuid>" into a
// dhcpv6.DUID. The link-layer forms are always Ethernet-typed; the
// "uuid" form yields a DUID-UUID.
func ParseDuid(s string) (dhcpv6.DUID, error) {
	split := strings.SplitN(s, " ", 2)
	if len(split) < 2 {
		return nil, fmt.Errorf("need a DUID type and value")
	}
	duidType := strings.ToLower(split[0])
	duidValue := split[1]
	if duidValue == "" {
		return nil, fmt.Errorf("got empty DUID value")
	}

	switch duidType {
	case "ll", "duid-ll", "duid_ll":
		hwaddr, err := net.ParseMAC(duidValue)
		if err != nil {
			return nil, err
		}
		return &dhcpv6.DUIDLL{
			HWType:        iana.HWTypeEthernet,
			LinkLayerAddr: hwaddr,
		}, nil
	case "llt", "duid-llt", "duid_llt":
		hwaddr, err := net.ParseMAC(duidValue)
		if err != nil {
			return nil, err
		}
		return &dhcpv6.DUIDLLT{
			HWType:        iana.HWTypeEthernet,
			Time:          dhcpv6.GetTime(),
			LinkLayerAddr: hwaddr,
		}, nil
	case "uuid":
		parsed, err := uuid.Parse(duidValue)
		if err != nil {
			return nil, err
		}
		return &dhcpv6.DUIDUUID{UUID: parsed}, nil
	default:
		return nil, fmt.Errorf("opaque DUID type %q not supported", duidType)
	}
}

// rawReservation mirrors one entry of reservations.json.
type rawReservation struct {
	IPv4       string           `json:"ipv4"`
	IPv6NA     string           `json:"ipv6_na"`
	IPv6PD     string           `json:"ipv6_pd"`
	Mac        string           `json:"mac,omitempty"`
	Duid       string           `json:"duid,omitempty"`
	Option82   *rawOption82     `json:"option82,omitempty"`
	Option1837 *rawOption1837   `json:"option1837,omitempty"`
}

type rawOption82 struct {
	Circuit    string `json:"circuit,omitempty"`
	Remote     string `json:"remote,omitempty"`
	Subscriber string `json:"subscriber,omitempty"`
}

type rawOption1837 struct {
	Interface        string `json:"interface,omitempty"`
	Remote           string `json:"remote,omitempty"`
	EnterpriseNumber uint32 `json:"enterprise_number,omitempty"`
}

// LoadReservations parses reservations.json's bytes into a slice of
// validated Reservations, each of which must carry at least one key.
func LoadReservations(data []byte) ([]*reservation.Reservation, error) {
	var raw []rawReservation
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing reservations.json: %w", err)
	}

	out := make([]*reservation.Reservation, 0, len(raw))
	for i, rr := range raw {
		r, err := parseReservation(rr)
		if err != nil {
			return nil, fmt.Errorf("reservations.json[%d]: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func parseReservation(rr rawReservation) (*reservation.Reservation, error) {
	r := &reservation.Reservation{}

	if rr.IPv4 != "" {
		ip := net.ParseIP(rr.IPv4)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("ipv4: %q is not a valid IPv4 address", rr.IPv4)
		}
		r.IPv4 = ip.To4()
	}
	if rr.IPv6NA != "" {
		ip := net.ParseIP(rr.IPv6NA)
		if ip == nil || ip.To4() != nil {
			return nil, fmt.Errorf("ipv6_na: %q is not a valid IPv6 address", rr.IPv6NA)
		}
		r.IPv6NA = ip
	}
	if rr.IPv6PD != "" {
		_, ipnet, err := net.ParseCIDR(rr.IPv6PD)
		if err != nil {
			return nil, fmt.Errorf("ipv6_pd: %w", err)
		}
		ones, bits := ipnet.Mask.Size()
		if ones > bits {
			return nil, fmt.Errorf("ipv6_pd: prefix length exceeds %d bits", bits)
		}
		r.IPv6PD = *ipnet
	}
	if rr.Mac != "" {
		hw, err := net.ParseMAC(rr.Mac)
		if err != nil {
			return nil, fmt.Errorf("mac: %w", err)
		}
		r.Mac = hw
	}
	if rr.Duid != "" {
		hw, err := parseHexDuid(rr.Duid)
		if err != nil {
			return nil, fmt.Errorf("duid: %w", err)
		}
		if len(hw) == 0 || len(hw) > 130 {
			return nil, fmt.Errorf("duid: length %d out of bounds 1..=130", len(hw))
		}
		r.Duid = hw
	}
	if rr.Option82 != nil {
		r.Opt82 = option82.Option82{
			Circuit:    rr.Option82.Circuit,
			Remote:     rr.Option82.Remote,
			Subscriber: rr.Option82.Subscriber,
		}
	}
	if rr.Option1837 != nil {
		r.Opt1837 = option1837.Option1837{
			Interface:        rr.Option1837.Interface,
			Remote:           rr.Option1837.Remote,
			EnterpriseNumber: rr.Option1837.EnterpriseNumber,
		}
	}

	if !r.HasKey() {
		return nil, fmt.Errorf("reservation for ipv4 %s has no identifying key", rr.IPv4)
	}
	return r, nil
}

// parseHexDuid parses "aa:bb:..." or "aa-bb-..." hex into raw bytes,
// the same grammar DUID rendering in events and logs uses in reverse.
func parseHexDuid(s string) (reservation.Duid, error) {
	sep := ":"
	if strings.Contains(s, "-") {
		sep = "-"
	}
	parts := strings.Split(s, sep)
	out := make(reservation.Duid, len(parts))
	for i, p := range parts {
		var b int
		if _, err := fmt.Sscanf(p, "%02x", &b); err != nil {
			return nil, fmt.Errorf("invalid hex octet %q", p)
		}
		out[i] = byte(b)
	}
	return out, nil
}
