// Package mgmt implements the newline-delimited JSON-over-TCP
// management protocol: "status", "reload", and "replace" commands
// against the running reservation set.
package mgmt

import (
	"bufio"
	"encoding/json"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/shadowisp/resdhcp/internal/config"
	"github.com/shadowisp/resdhcp/internal/reload"
)

const clientTimeout = 5 * time.Second

// Request is one line of input to a management connection, tagged by
// "command".
type Request struct {
	Command      string            `json:"command"`
	Reservations []json.RawMessage `json:"reservations,omitempty"`
}

// Response is the single JSON line written back for every request.
type Response struct {
	Success          bool   `json:"success"`
	Error            string `json:"error,omitempty"`
	Message          string `json:"message,omitempty"`
	ReservationCount *int   `json:"reservation_count,omitempty"`
}

// Server accepts management connections and dispatches them against a
// reload.Coordinator.
type Server struct {
	coordinator *reload.Coordinator
	log         *zap.Logger
}

// NewServer builds a management Server bound to coordinator.
func NewServer(coordinator *reload.Coordinator, log *zap.Logger) *Server {
	return &Server{coordinator: coordinator, log: log}
}

// Serve accepts connections on ln until it is closed or stop fires.
func (s *Server) Serve(ln net.Listener, stop <-chan struct{}) error {
	go func() {
		<-stop
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
				return err
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(clientTimeout))

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil && len(line) == 0 {
		return
	}

	resp := s.handle(line)

	data, err := json.Marshal(resp)
	if err != nil {
		if s.log != nil {
			s.log.Error("failed to marshal management response", zap.Error(err))
		}
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil && s.log != nil {
		s.log.Warn("failed to write management response", zap.Error(err))
	}
}

func (s *Server) handle(line string) Response {
	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return Response{Success: false, Error: "invalid request: " + err.Error()}
	}

	switch req.Command {
	case "status":
		count := s.coordinator.Index().Count()
		return Response{Success: true, Message: "Status OK", ReservationCount: &count}

	case "reload":
		count, err := s.coordinator.ReloadFromDisk("mgmt")
		if err != nil {
			return Response{Success: false, Error: err.Error()}
		}
		return Response{Success: true, Message: messageCount("Reloaded", count), ReservationCount: &count}

	case "replace":
		raw, err := json.Marshal(req.Reservations)
		if err != nil {
			return Response{Success: false, Error: err.Error()}
		}
		reservations, err := config.LoadReservations(raw)
		if err != nil {
			return Response{Success: false, Error: err.Error()}
		}
		if err := s.coordinator.Replace(reservations, raw); err != nil {
			return Response{Success: false, Error: "failed to persist reservations: " + err.Error()}
		}
		count := len(reservations)
		return Response{Success: true, Message: messageCount("Replaced with", count), ReservationCount: &count}

	default:
		return Response{Success: false, Error: "unknown command: " + req.Command}
	}
}

func messageCount(verb string, count int) string {
	if count == 1 {
		return verb + " 1 reservation"
	}
	return verb + " " + strconv.Itoa(count) + " reservations"
}
