// Package transport implements the connection-handling loops that sit in
// front of the dispatcher: plain TCP, TLS-wrapped TCP, and QUIC all decode
// the same framed request/response protocol (spec §4.6, §9 "Dynamic
// polymorphism over transports"); HTTP sits beside them in http.go.
//
// Grounded on the teacher's server.go accept loop (net.Listener.Accept in
// a goroutine, one goroutine per connection that also runs each request,
// context-driven graceful shutdown) adapted from
// a WebSocket/JSON wire to this package's length-prefixed binary frames.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/adred-codev/streambroker/internal/dispatch"
	"github.com/adred-codev/streambroker/internal/metrics"
	"github.com/adred-codev/streambroker/internal/protocol"
	"github.com/adred-codev/streambroker/internal/session"
)

// Sessions is the subset of system.System a transport needs to register
// and tear down client sessions, kept narrow to avoid an import cycle
// with package system.
type Sessions interface {
	AddClient(address, transportName string) *session.Client
	DeleteClient(address string) (*session.Client, bool)
	LeaveAllGroups(client *session.Client)
}

// TCPServer accepts plain or TLS-wrapped TCP connections and runs each
// through a read-dispatch-write loop with a single request in flight at a
// time, per spec §4.6 "Streaming/backpressure".
type TCPServer struct {
	Dispatcher *dispatch.Dispatcher
	Sessions   Sessions
	Log        zerolog.Logger
	TLSConfig  *tls.Config // nil for plain TCP

	listener net.Listener
	wg       sync.WaitGroup
	closing  atomic.Bool
}

// Listen starts accepting connections on addr. It blocks until the
// listener is closed by Shutdown.
func (s *TCPServer) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if s.TLSConfig != nil {
		ln = tls.NewListener(ln, s.TLSConfig)
	}
	s.listener = ln

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			s.Log.Error().Err(err).Msg("tcp accept failed")
			continue
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

// Shutdown stops accepting new connections and waits for in-flight
// connections to notice and exit at their next suspension point (spec §5
// "Cancellation").
func (s *TCPServer) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *TCPServer) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	transportName := "tcp"
	if s.TLSConfig != nil {
		transportName = "tls"
	}
	client := s.Sessions.AddClient(conn.RemoteAddr().String(), transportName)
	metrics.ActiveConnections.Inc()
	defer func() {
		metrics.ActiveConnections.Dec()
		s.Sessions.DeleteClient(conn.RemoteAddr().String())
		s.Sessions.LeaveAllGroups(client)
	}()

	for {
		req, err := protocol.ReadRequest(conn)
		if err != nil {
			return
		}
		resp := s.Dispatcher.Dispatch(client, req)
		if err := protocol.WriteResponse(conn, resp); err != nil {
			return
		}
	}
}
