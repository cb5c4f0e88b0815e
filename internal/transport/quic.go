package transport

import (
	"context"
	"crypto/tls"
	"sync"
	"sync/atomic"

	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"

	"github.com/adred-codev/streambroker/internal/dispatch"
	"github.com/adred-codev/streambroker/internal/metrics"
	"github.com/adred-codev/streambroker/internal/protocol"
)

// QUICServer accepts QUIC connections and serves one framed request and
// response on each stream a connection opens, using the same frame codec
// as TCP, satisfying spec
// §9's "dynamic polymorphism over transports": the dispatcher is unaware
// which frame-sender capability delivered the request.
type QUICServer struct {
	Dispatcher *dispatch.Dispatcher
	Sessions   Sessions
	Log        zerolog.Logger
	TLSConfig  *tls.Config

	listener *quic.Listener
	wg       sync.WaitGroup
	closing  atomic.Bool
}

// Listen starts accepting QUIC connections on addr, blocking until closed.
func (s *QUICServer) Listen(addr string) error {
	ln, err := quic.ListenAddr(addr, s.TLSConfig, nil)
	if err != nil {
		return err
	}
	s.listener = ln

	ctx := context.Background()
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			s.Log.Error().Err(err).Msg("quic accept failed")
			continue
		}
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

// Shutdown stops accepting new connections and waits for in-flight ones to
// drain.
func (s *QUICServer) Shutdown(ctx context.Context) error {
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

func (s *QUICServer) handleConn(ctx context.Context, conn quic.Connection) {
	defer s.wg.Done()

	address := conn.RemoteAddr().String()
	client := s.Sessions.AddClient(address, "quic")
	metrics.ActiveConnections.Inc()
	defer func() {
		metrics.ActiveConnections.Dec()
		s.Sessions.DeleteClient(address)
		s.Sessions.LeaveAllGroups(client)
		conn.CloseWithError(0, "")
	}()

	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		req, err := protocol.ReadRequest(stream)
		if err != nil {
			stream.Close()
			continue
		}
		resp := s.Dispatcher.Dispatch(client, req)
		if err := protocol.WriteResponse(stream, resp); err != nil {
			stream.Close()
			continue
		}
		stream.Close()
	}
}
