// Package quicnet is a connection.Strategy over QUIC. A host listens on one
// UDP address; clients dial the host address configured for its identity.
package quicnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/danmuck/lockstep/internal/connection"
	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog/log"
)

var ErrUnknownHost = errors.New("quicnet: no address for host identity")

type Strategy struct {
	identity   connection.Identity
	listenAddr string
	cfg        Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	handler  connection.Handler
	hosts    map[connection.Identity]string
	listener *quic.Listener
	retry    *dialBackoff
}

// New creates a strategy for identity. listenAddr is only used when the
// peer hosts.
func New(identity connection.Identity, listenAddr string, cfg Config) *Strategy {
	ctx, cancel := context.WithCancel(context.Background())
	return &Strategy{
		identity:   identity,
		listenAddr: listenAddr,
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		hosts:      make(map[connection.Identity]string),
		retry:      newDialBackoff(cfg.Backoff),
	}
}

// AddHost maps a host identity to its UDP address.
func (s *Strategy) AddHost(id connection.Identity, addr string) {
	s.mu.Lock()
	s.hosts[id] = addr
	s.mu.Unlock()
}

func (s *Strategy) Attach(h connection.Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Addr returns the bound listen address, or nil when not listening.
func (s *Strategy) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Strategy) post(fn func(connection.Handler)) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return
	}
	h.Post(func() { fn(h) })
}

func (s *Strategy) quicConfig() *quic.Config {
	return &quic.Config{
		EnableDatagrams:      true,
		KeepAlivePeriod:      s.cfg.KeepAlive,
		HandshakeIdleTimeout: s.cfg.HandshakeTimeout,
		MaxIdleTimeout:       s.cfg.MaxIdleTimeout,
	}
}

func (s *Strategy) StartListeningForClientConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return
	}
	host, _, _ := net.SplitHostPort(s.listenAddr)
	tlsConf, err := SelfSignedTLS([]string{host, "localhost"}, 0)
	if err == nil {
		s.listener, err = quic.ListenAddr(s.listenAddr, tlsConf, s.quicConfig())
	}
	if err != nil {
		log.Error().Msgf("quicnet.Strategy.StartListeningForClientConnections addr=%s err=%v", s.listenAddr, err)
		if h := s.handler; h != nil {
			h.Post(func() { h.HandleConnectionEstablishmentFailed(connection.NoIdentity) })
		}
		return
	}
	log.Info().Msgf("quicnet.Strategy listening identity=%s addr=%s", s.identity, s.listener.Addr())
	s.wg.Add(1)
	go s.acceptLoop(s.listener)
}

// StopListeningForClientConnections closes the listener. Connections it
// accepted are closed with it.
func (s *Strategy) StopListeningForClientConnections() {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
}

func (s *Strategy) acceptLoop(ln *quic.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept(s.ctx)
		if err != nil {
			log.Debug().Msgf("quicnet.Strategy.acceptLoop stopped err=%v", err)
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.accept(conn)
		}()
	}
}

func (s *Strategy) accept(conn *quic.Conn) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		log.Warn().Msgf("quicnet.Strategy.accept remote=%s err=%v", conn.RemoteAddr(), err)
		_ = conn.CloseWithError(1, "no stream")
		return
	}
	_ = stream.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	hello, err := ReadHello(stream, s.cfg.Limits)
	if err != nil {
		log.Warn().Msgf("quicnet.Strategy.accept remote=%s err=%v", conn.RemoteAddr(), err)
		_ = conn.CloseWithError(1, "bad hello")
		return
	}
	ack := HelloAck{Status: AckStatusAccepted, Identity: string(s.identity)}
	if hello.Host != "" && connection.Identity(hello.Host) != s.identity {
		ack.Status, ack.Message = AckStatusRejected, "wrong host"
	}
	if err := WriteHelloAck(stream, ack, s.cfg.Limits); err != nil || ack.Status != AckStatusAccepted {
		log.Warn().Msgf("quicnet.Strategy.accept identity=%s status=%s err=%v", hello.Identity, ack.Status, err)
		_ = conn.CloseWithError(1, "handshake failed")
		return
	}
	_ = stream.SetDeadline(time.Time{})

	s.post(func(h connection.Handler) {
		link := newLink(connection.Identity(hello.Identity), conn, stream, s.cfg.Limits, h)
		link.start()
		h.ReceiveNewActiveNetworkLink(link)
	})
}

// EstablishConnectionToHost dials in the background and reports the
// outcome through the handler.
func (s *Strategy) EstablishConnectionToHost(host connection.Identity) {
	s.mu.Lock()
	addr, ok := s.hosts[host]
	s.mu.Unlock()
	if !ok {
		log.Error().Msgf("quicnet.Strategy.EstablishConnectionToHost host=%s err=%v", host, ErrUnknownHost)
		s.post(func(h connection.Handler) { h.HandleConnectionEstablishmentFailed(connection.NoIdentity) })
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dial(host, addr)
	}()
}

func (s *Strategy) dial(host connection.Identity, addr string) {
	attempts := max(s.cfg.DialAttempts, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, stream, err := s.dialOnce(host, addr)
		if err == nil {
			log.Info().Msgf("quicnet.Strategy.dial connected host=%s addr=%s attempt=%d", host, addr, attempt)
			s.post(func(h connection.Handler) {
				link := newLink(host, conn, stream, s.cfg.Limits, h)
				link.start()
				h.ReceiveNewActiveNetworkLink(link)
			})
			return
		}
		log.Warn().Msgf("quicnet.Strategy.dial host=%s addr=%s attempt=%d/%d err=%v", host, addr, attempt, attempts, err)
		if errors.Is(err, ErrHelloRejected) || attempt == attempts {
			break
		}
		if !s.retry.wait(s.ctx, attempt) {
			return
		}
	}
	s.post(func(h connection.Handler) { h.HandleConnectionEstablishmentFailed(connection.NoIdentity) })
}

func (s *Strategy) dialOnce(host connection.Identity, addr string) (*quic.Conn, *quic.Stream, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	conn, err := quic.DialAddr(ctx, addr, clientTLS(), s.quicConfig())
	if err != nil {
		return nil, nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(1, "no stream")
		return nil, nil, err
	}
	_ = stream.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	if err := WriteHello(stream, Hello{Identity: string(s.identity), Host: string(host)}, s.cfg.Limits); err != nil {
		_ = conn.CloseWithError(1, "hello failed")
		return nil, nil, err
	}
	ack, err := ReadHelloAck(stream, s.cfg.Limits)
	if err == nil && ack.Status != AckStatusAccepted {
		err = fmt.Errorf("%w: %s", ErrHelloRejected, ack.Message)
	}
	if err == nil && connection.Identity(ack.Identity) != host {
		err = fmt.Errorf("%w: answered as %q", ErrInvalidHelloAck, ack.Identity)
	}
	if err != nil {
		_ = conn.CloseWithError(1, "handshake failed")
		return nil, nil, err
	}
	_ = stream.SetDeadline(time.Time{})
	return conn, stream, nil
}

// Close stops listening and background dials.
func (s *Strategy) Close() {
	s.cancel()
	s.StopListeningForClientConnections()
	s.wg.Wait()
}
