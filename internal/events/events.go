// Package events defines the DHCP analytics event schema and a
// bounded-channel batching TCP sink: every v4/v6 request outcome is
// encoded as newline-delimited JSON and shipped to a downstream
// collector, tagged "ip_version":"v4"|"v6" so the two streams can share
// one pipe and still be told apart (and correlated by MAC address).
package events

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shadowisp/resdhcp/internal/metrics"
	"github.com/shadowisp/resdhcp/internal/reservation"
)

// DhcpEventV4 mirrors the v4 analytics event, separating what the
// request/relay reported from what the matched reservation held, so a
// downstream query can tell a misconfigured client from a missing
// reservation.
type DhcpEventV4 struct {
	IPVersion   string `json:"ip_version"`
	Timestamp   int64  `json:"timestamp_ms"`
	MessageType string `json:"message_type,omitempty"`
	RelayAddr   string `json:"relay_addr,omitempty"`

	MacAddress         string `json:"mac_address,omitempty"`
	Option82Circuit    string `json:"option82_circuit,omitempty"`
	Option82Remote     string `json:"option82_remote,omitempty"`
	Option82Subscriber string `json:"option82_subscriber,omitempty"`

	ReservationIPv4               string `json:"reservation_ipv4,omitempty"`
	ReservationMac                string `json:"reservation_mac,omitempty"`
	ReservationOption82Circuit    string `json:"reservation_option82_circuit,omitempty"`
	ReservationOption82Remote     string `json:"reservation_option82_remote,omitempty"`
	ReservationOption82Subscriber string `json:"reservation_option82_subscriber,omitempty"`

	Success       bool   `json:"success"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// DhcpEventV6 mirrors the v6 analytics event.
type DhcpEventV6 struct {
	IPVersion     string `json:"ip_version"`
	Timestamp     int64  `json:"timestamp_ms"`
	MessageType   string `json:"message_type,omitempty"`
	Xid           string `json:"xid,omitempty"`
	RelayAddr     string `json:"relay_addr,omitempty"`
	RelayLinkAddr string `json:"relay_link_addr,omitempty"`
	RelayPeerAddr string `json:"relay_peer_addr,omitempty"`

	MacAddress          string `json:"mac_address,omitempty"`
	ClientId            string `json:"client_id,omitempty"`
	Option1837Interface string `json:"option1837_interface,omitempty"`
	Option1837Remote    string `json:"option1837_remote,omitempty"`
	RequestedIPv6NA     string `json:"requested_ipv6_na,omitempty"`
	RequestedIPv6PD     string `json:"requested_ipv6_pd,omitempty"`

	ReservationIPv6NA           string `json:"reservation_ipv6_na,omitempty"`
	ReservationIPv6PD           string `json:"reservation_ipv6_pd,omitempty"`
	ReservationIPv4             string `json:"reservation_ipv4,omitempty"`
	ReservationMac              string `json:"reservation_mac,omitempty"`
	ReservationDuid             string `json:"reservation_duid,omitempty"`
	ReservationOption1837If     string `json:"reservation_option1837_interface,omitempty"`
	ReservationOption1837Remote string `json:"reservation_option1837_remote,omitempty"`

	Success       bool   `json:"success"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// ReservationFieldsV4 copies the subset of a matched v4 reservation an
// event cares about, or the zero value when reservation is nil.
func ReservationFieldsV4(e *DhcpEventV4, r *reservation.Reservation) {
	if r == nil {
		return
	}
	if r.IPv4 != nil {
		e.ReservationIPv4 = r.IPv4.String()
	}
	if r.Mac != nil {
		e.ReservationMac = r.Mac.String()
	}
	e.ReservationOption82Circuit = r.Opt82.Circuit
	e.ReservationOption82Remote = r.Opt82.Remote
	e.ReservationOption82Subscriber = r.Opt82.Subscriber
}

// ReservationFieldsV6 copies the subset of a matched v6 reservation an
// event cares about, or the zero value when reservation is nil.
func ReservationFieldsV6(e *DhcpEventV6, r *reservation.Reservation) {
	if r == nil {
		return
	}
	if r.IPv6NA != nil {
		e.ReservationIPv6NA = r.IPv6NA.String()
	}
	if r.IPv6PD.IP != nil {
		e.ReservationIPv6PD = r.IPv6PD.String()
	}
	if r.IPv4 != nil {
		e.ReservationIPv4 = r.IPv4.String()
	}
	if r.Mac != nil {
		e.ReservationMac = r.Mac.String()
	}
	if len(r.Duid) > 0 {
		e.ReservationDuid = r.Duid.String()
	}
	e.ReservationOption1837If = r.Opt1837.Interface
	e.ReservationOption1837Remote = r.Opt1837.Remote
}

// Sink accepts DhcpEventV4/DhcpEventV6 values and ships them as
// newline-delimited JSON to a TCP collector through a bounded channel;
// a full channel drops the event rather than blocking a worker goroutine.
type Sink struct {
	events chan any
	done   chan struct{}
	log    *zap.Logger
}

// NewSink starts the background writer goroutine. addr may be empty, in
// which case the sink silently discards everything (no collector
// configured).
func NewSink(addr string, queueDepth int, log *zap.Logger) *Sink {
	s := &Sink{
		events: make(chan any, queueDepth),
		done:   make(chan struct{}),
		log:    log,
	}
	go s.run(addr)
	return s
}

// Emit enqueues an event, dropping it (and incrementing a metric) if
// the queue is full.
func (s *Sink) Emit(ipVersion string, e any) {
	select {
	case s.events <- e:
	default:
		metrics.Get().EventsDropped.WithLabelValues(ipVersion).Inc()
		if s.log != nil {
			s.log.Warn("event queue full, dropping event", zap.String("ip_version", ipVersion))
		}
	}
}

// Close stops the background writer and waits for it to exit.
func (s *Sink) Close() {
	close(s.events)
	<-s.done
}

func (s *Sink) run(addr string) {
	defer close(s.done)

	if addr == "" {
		for range s.events {
			// No collector configured: drain and discard.
		}
		return
	}

	var conn net.Conn
	var writer *bufio.Writer
	var mu sync.Mutex

	connect := func() {
		mu.Lock()
		defer mu.Unlock()
		c, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err != nil {
			if s.log != nil {
				s.log.Warn("failed to connect to event collector", zap.String("addr", addr), zap.Error(err))
			}
			return
		}
		conn = c
		writer = bufio.NewWriter(conn)
	}
	connect()

	enc := json.NewEncoder(&lineWriter{sink: s, writer: func() *bufio.Writer { return writer }})
	for e := range s.events {
		mu.Lock()
		ready := writer != nil
		mu.Unlock()
		if !ready {
			connect()
			mu.Lock()
			ready = writer != nil
			mu.Unlock()
			if !ready {
				continue
			}
		}
		mu.Lock()
		if err := enc.Encode(e); err != nil || writer.Flush() != nil {
			if s.log != nil {
				s.log.Warn("failed to write event, will reconnect", zap.Error(err))
			}
			if conn != nil {
				conn.Close()
			}
			writer = nil
			conn = nil
		}
		mu.Unlock()
	}
	if conn != nil {
		conn.Close()
	}
}

// lineWriter adapts the possibly-nil, possibly-changing *bufio.Writer
// behind run's reconnect logic into the stable io.Writer json.Encoder
// wants.
type lineWriter struct {
	sink   *Sink
	writer func() *bufio.Writer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	bw := w.writer()
	if bw == nil {
		return len(p), nil
	}
	return bw.Write(p)
}
