// Package worker hosts the UDP server loops: one per configured v4 and
// v6 bind address, each decoding a wire packet, handing it to the pure
// state-machine handler, and writing back whatever the handler
// returns. Relay envelope unwrap/rewrap and analytics/metrics
// side-effects live here, not in the handlers.
package worker

import (
	"fmt"
	"net"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/server4"
	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/insomniacslk/dhcp/dhcpv6/server6"
	"go.uber.org/zap"

	"github.com/shadowisp/resdhcp/internal/config"
	"github.com/shadowisp/resdhcp/internal/dhcp4handler"
	"github.com/shadowisp/resdhcp/internal/dhcp6handler"
	"github.com/shadowisp/resdhcp/internal/events"
	"github.com/shadowisp/resdhcp/internal/leasecache"
	"github.com/shadowisp/resdhcp/internal/metrics"
	"github.com/shadowisp/resdhcp/internal/middleware/mtu"
	"github.com/shadowisp/resdhcp/internal/middleware/searchdomains"
	"github.com/shadowisp/resdhcp/internal/middleware/staticroute"
	"github.com/shadowisp/resdhcp/internal/reservation"
)

// applyV4Middleware layers the opt-in DHCPv4 options onto a reply
// once the core handler has produced one, matching whatever the
// client's Parameter Request List asked for.
func applyV4Middleware(cfg *config.Config, req, resp *dhcpv4.DHCPv4) {
	mtu.Apply(req, resp, cfg.MTU)
	staticroute.Apply(req, resp, routesOf(cfg.StaticRoutes))
	searchdomains.Apply4(req, resp, cfg.SearchDomains)
}

func routesOf(routes []config.StaticRoute) dhcpv4.Routes {
	if len(routes) == 0 {
		return nil
	}
	out := make(dhcpv4.Routes, 0, len(routes))
	for _, r := range routes {
		out = append(out, &dhcpv4.Route{Dest: r.Dest, Router: r.Gateway})
	}
	return out
}

// Printf-style logger adapter required by server4.WithLogger /
// server6.WithLogger.
type printfLogger struct{ log *zap.Logger }

func (p printfLogger) Printf(format string, v ...interface{}) {
	p.log.Debug(fmt.Sprintf(format, v...))
}

// Deps are the shared, hot-swappable dependencies every worker
// consults per request.
type Deps struct {
	Config *config.Config
	Index  func() *reservation.Index
	Cache  *leasecache.Cache
	Events *events.Sink
	Log    *zap.Logger
}

// V4Worker owns one DHCPv4 UDP listener.
type V4Worker struct {
	deps   Deps
	server *server4.Server
}

// NewV4Worker binds a DHCPv4 server on iface/addr.
func NewV4Worker(iface string, addr *net.UDPAddr, deps Deps) (*V4Worker, error) {
	w := &V4Worker{deps: deps}
	srv, err := server4.NewServer(iface, addr, w.handle,
		server4.WithLogger(printfLogger{deps.Log}))
	if err != nil {
		return nil, fmt.Errorf("binding dhcpv4 listener on %s: %w", addr, err)
	}
	w.server = srv
	return w, nil
}

// Serve blocks, serving requests until Close is called.
func (w *V4Worker) Serve() error { return w.server.Serve() }

// Close stops the listener.
func (w *V4Worker) Close() error { return w.server.Close() }

func (w *V4Worker) handle(conn net.PacketConn, peer net.Addr, req *dhcpv4.DHCPv4) {
	mtLabel := req.MessageType().String()
	metrics.Get().RequestsTotal.WithLabelValues("v4", mtLabel).Inc()

	cfg := w.deps.Config
	idx := w.deps.Index()
	res, reason := dhcp4handler.Handle(cfg, idx, w.deps.Cache, req)

	if res == nil {
		metrics.Get().SilenceTotal.WithLabelValues("v4", string(reason)).Inc()
		w.emitFailure(req, string(reason))
		return
	}

	applyV4Middleware(cfg, req, res.Reply)

	metrics.Get().RepliesTotal.WithLabelValues("v4", mtLabel, string(res.Match)).Inc()
	w.emitSuccess(req, res)

	if _, err := conn.WriteTo(res.Reply.ToBytes(), peer); err != nil && w.deps.Log != nil {
		w.deps.Log.Warn("failed to write dhcpv4 reply", zap.Error(err))
	}
}

func (w *V4Worker) emitFailure(req *dhcpv4.DHCPv4, reason string) {
	if w.deps.Events == nil {
		return
	}
	ev := events.DhcpEventV4{
		IPVersion:     "v4",
		Timestamp:     time.Now().UnixMilli(),
		MessageType:   req.MessageType().String(),
		MacAddress:    req.ClientHWAddr.String(),
		Success:       false,
		FailureReason: reason,
	}
	if req.GatewayIPAddr != nil && !req.GatewayIPAddr.IsUnspecified() {
		ev.RelayAddr = req.GatewayIPAddr.String()
	}
	w.deps.Events.Emit("v4", ev)
}

func (w *V4Worker) emitSuccess(req *dhcpv4.DHCPv4, res *dhcp4handler.Result) {
	if w.deps.Events == nil {
		return
	}
	ev := events.DhcpEventV4{
		IPVersion:   "v4",
		Timestamp:   time.Now().UnixMilli(),
		MessageType: req.MessageType().String(),
		MacAddress:  req.ClientHWAddr.String(),
		Success:     true,
	}
	if req.GatewayIPAddr != nil && !req.GatewayIPAddr.IsUnspecified() {
		ev.RelayAddr = req.GatewayIPAddr.String()
	}
	w.deps.Events.Emit("v4", ev)
}

// V6Worker owns one DHCPv6 UDP listener.
type V6Worker struct {
	deps   Deps
	server *server6.Server
}

// NewV6Worker binds a DHCPv6 server on iface/addr.
func NewV6Worker(iface string, addr *net.UDPAddr, deps Deps) (*V6Worker, error) {
	w := &V6Worker{deps: deps}
	srv, err := server6.NewServer(iface, addr, w.handle,
		server6.WithLogger(printfLogger{deps.Log}))
	if err != nil {
		return nil, fmt.Errorf("binding dhcpv6 listener on %s: %w", addr, err)
	}
	w.server = srv
	return w, nil
}

// Serve blocks, serving requests until Close is called.
func (w *V6Worker) Serve() error { return w.server.Serve() }

// Close stops the listener.
func (w *V6Worker) Close() error { return w.server.Close() }

func (w *V6Worker) handle(conn net.PacketConn, peer net.Addr, m dhcpv6.DHCPv6) {
	if !m.IsRelay() {
		// This server only answers requests forwarded by a relay agent;
		// a direct client message has no RelayForw envelope to echo
		// Interface-ID back through and is silently discarded.
		return
	}

	req, err := m.GetInnerMessage()
	if err != nil {
		if w.deps.Log != nil {
			w.deps.Log.Warn("cannot get inner dhcpv6 message", zap.Error(err))
		}
		return
	}

	mtLabel := req.Type().String()
	metrics.Get().RequestsTotal.WithLabelValues("v6", mtLabel).Inc()

	relay := extractRelayInfo(m)

	cfg := w.deps.Config
	idx := w.deps.Index()
	res, reason := dhcp6handler.Handle(cfg, idx, w.deps.Cache, req, relay)

	if res == nil {
		metrics.Get().SilenceTotal.WithLabelValues("v6", string(reason)).Inc()
		w.emitFailure(req, relay, string(reason))
		return
	}

	searchdomains.Apply6(req, res.Reply, cfg.SearchDomains)

	match := string(res.Match)
	metrics.Get().RepliesTotal.WithLabelValues("v6", mtLabel, match).Inc()
	w.emitSuccess(req, relay, res)

	reply := dhcpv6.DHCPv6(res.Reply)
	if m.IsRelay() {
		relayMsg, ok := m.(*dhcpv6.RelayMessage)
		if !ok {
			if w.deps.Log != nil {
				w.deps.Log.Error("relayed request is not a *dhcpv6.RelayMessage")
			}
			return
		}
		wrapped, err := dhcpv6.NewRelayReplFromRelayForw(relayMsg, res.Reply)
		if err != nil {
			if w.deps.Log != nil {
				w.deps.Log.Error("failed to build relay-repl", zap.Error(err))
			}
			return
		}
		reply = wrapped
	}

	if _, err := conn.WriteTo(reply.ToBytes(), peer); err != nil && w.deps.Log != nil {
		w.deps.Log.Warn("failed to write dhcpv6 reply", zap.Error(err))
	}
}

// extractRelayInfo pulls the peer address and raw Option 18 (Interface-ID)
// / Option 37 (Remote-ID) tuple out of the enclosing RelayMessage, if
// the request arrived relayed (the only topology this server supports).
func extractRelayInfo(m dhcpv6.DHCPv6) dhcp6handler.RelayInfo {
	relayMsg, ok := m.(*dhcpv6.RelayMessage)
	if !ok {
		return dhcp6handler.RelayInfo{}
	}

	info := dhcp6handler.RelayInfo{PeerAddr: relayMsg.PeerAddr}

	if opt := relayMsg.GetOneOption(dhcpv6.OptionInterfaceID); opt != nil {
		if iid, ok := opt.(*dhcpv6.OptInterfaceID); ok {
			info.Option1837.Interface = string(iid.ID)
		}
	}
	if opt := relayMsg.GetOneOption(dhcpv6.OptionRemoteID); opt != nil {
		if rid, ok := opt.(*dhcpv6.OptRemoteID); ok {
			info.Option1837.Remote = string(rid.RemoteID)
			info.Option1837.EnterpriseNumber = rid.EnterpriseNumber
		}
	}
	return info
}

func (w *V6Worker) emitFailure(req *dhcpv6.Message, relay dhcp6handler.RelayInfo, reason string) {
	if w.deps.Events == nil {
		return
	}
	ev := events.DhcpEventV6{
		IPVersion:           "v6",
		Timestamp:           time.Now().UnixMilli(),
		MessageType:         req.Type().String(),
		Xid:                 fmt.Sprintf("%x", req.TransactionID[:]),
		Option1837Interface: relay.Option1837.Interface,
		Option1837Remote:    relay.Option1837.Remote,
		Success:             false,
		FailureReason:       reason,
	}
	if relay.PeerAddr != nil {
		ev.RelayPeerAddr = relay.PeerAddr.String()
	}
	if cid := req.Options.ClientID(); cid != nil {
		ev.ClientId = reservation.Duid(cid.ToBytes()).String()
	}
	w.deps.Events.Emit("v6", ev)
}

func (w *V6Worker) emitSuccess(req *dhcpv6.Message, relay dhcp6handler.RelayInfo, res *dhcp6handler.Result) {
	if w.deps.Events == nil {
		return
	}
	ev := events.DhcpEventV6{
		IPVersion:           "v6",
		Timestamp:           time.Now().UnixMilli(),
		MessageType:         req.Type().String(),
		Xid:                 fmt.Sprintf("%x", req.TransactionID[:]),
		Option1837Interface: relay.Option1837.Interface,
		Option1837Remote:    relay.Option1837.Remote,
		Success:             true,
	}
	if relay.PeerAddr != nil {
		ev.RelayPeerAddr = relay.PeerAddr.String()
	}
	if cid := req.Options.ClientID(); cid != nil {
		ev.ClientId = reservation.Duid(cid.ToBytes()).String()
	}
	w.deps.Events.Emit("v6", ev)
}
