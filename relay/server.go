// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package relay

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/marko-gacesa/udprelay/util"
)

// Transport is the datagram socket of the relay. Listen delivers every inbound datagram
// to processFn and sends a non-nil result back to the source. Send must be safe for
// concurrent use, because both relay loops send through it.
type Transport interface {
	Listen(ctx context.Context, processFn func(data []byte, addr net.UDPAddr) []byte) error
	Send(data []byte, addr net.UDPAddr) error
}

// Server relays every chat message to all tracked clients, the sender included,
// and evicts clients that stop answering heartbeats.
type Server struct {
	transport Transport
	registry  *Registry

	heartbeatInterval time.Duration
	staleFactor       float64
	staleTimeout      time.Duration

	beacon beaconEntry

	clock   clock.Clock
	metrics *Metrics
	log     *slog.Logger

	started atomic.Bool
}

type beaconEntry struct {
	announcer Announcer
	port      int
	period    time.Duration
}

func NewServer(transport Transport, opts ...func(*Server)) *Server {
	s := &Server{
		transport:         transport,
		registry:          NewRegistry(),
		heartbeatInterval: DefaultHeartbeatInterval,
		staleFactor:       DefaultStaleFactor,
		clock:             clock.New(),
		log:               slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}

	s.metrics.trackClients(s.registry.Len)

	s.staleTimeout = time.Duration(float64(s.heartbeatInterval) * s.staleFactor)

	return s
}

func WithLogger(log *slog.Logger) func(*Server) {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

func WithClock(c clock.Clock) func(*Server) {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithMetrics(m *Metrics) func(*Server) {
	return func(s *Server) {
		s.metrics = m
	}
}

func WithHeartbeatInterval(interval time.Duration) func(*Server) {
	return func(s *Server) {
		if interval > 0 {
			s.heartbeatInterval = interval
		}
	}
}

func WithStaleFactor(factor float64) func(*Server) {
	return func(s *Server) {
		if factor >= 1 {
			s.staleFactor = factor
		}
	}
}

// WithBeacon makes the server periodically announce port through the announcer.
func WithBeacon(announcer Announcer, port int, period time.Duration) func(*Server) {
	return func(s *Server) {
		if announcer == nil || period <= 0 {
			return
		}

		s.beacon = beaconEntry{
			announcer: announcer,
			port:      port,
			period:    period,
		}
	}
}

// WithConfig applies the timing settings of the configuration.
func WithConfig(cfg Config) func(*Server) {
	return func(s *Server) {
		WithHeartbeatInterval(cfg.HeartbeatInterval)(s)
		WithStaleFactor(cfg.StaleFactor)(s)
	}
}

// Start runs the receive loop and the heartbeat loop until the context is done or
// the transport stops listening. It can be called only once.
func (s *Server) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// the heartbeat loop has nothing to do once no datagram can arrive
		defer cancelFn()
		return s.transport.Listen(ctx, s.handleDatagram)
	})

	g.Go(func() error {
		return s.heartbeatLoop(ctx)
	})

	if s.beacon.announcer != nil {
		g.Go(func() error {
			return s.beaconLoop(ctx)
		})
	}

	s.log.With(
		"heartbeat_interval", s.heartbeatInterval,
		"stale_timeout", s.staleTimeout).Info("relay started")

	err := g.Wait()

	s.log.With("clients", s.registry.Len()).Info("relay stopped")

	return err
}

// Clients returns the addresses currently in the broadcast set.
func (s *Server) Clients() []netip.AddrPort {
	return s.registry.Snapshot()
}

func (s *Server) handleDatagram(data []byte, udpAddr net.UDPAddr) []byte {
	defer util.Recover(s.log)

	addr := AddrFromUDP(udpAddr)
	kind := Classify(data)

	s.metrics.datagram(kind)

	if kind == KindInvalid {
		s.log.With("addr", addr.String(), "size", len(data)).Warn("dropped datagram: payload is not text")
		return nil
	}

	if s.registry.Upsert(addr, s.clock.Now()) {
		s.log.With("addr", addr.String()).Info("client connected")
	}

	switch kind {
	case KindHeartbeat:
		return heartbeatAck
	case KindHeartbeatAck:
		return nil
	}

	// an empty payload is relayed like any other chat message
	s.log.With("addr", addr.String(), "message", string(data)).Debug("received message")

	s.broadcast(data)

	return nil
}

// broadcast makes exactly one send attempt per tracked client. A client to which the
// send fails is evicted after everybody else has been tried.
func (s *Server) broadcast(data []byte) {
	var failed []netip.AddrPort

	for _, addr := range s.registry.Snapshot() {
		s.metrics.broadcastSends.Inc()

		if err := s.transport.Send(data, *net.UDPAddrFromAddrPort(addr)); err != nil {
			s.metrics.sendFailed("broadcast")
			s.log.With("addr", addr.String(), "err", err.Error()).Warn("failed to send message")
			failed = append(failed, addr)
		}
	}

	for _, addr := range failed {
		s.evict(addr, evictSendFailed)
	}
}

func (s *Server) heartbeatLoop(ctx context.Context) error {
	ticker := s.clock.Ticker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep pings every tracked client and evicts those that cannot be reached or
// have been silent for longer than the stale timeout.
func (s *Server) sweep() {
	defer util.Recover(s.log)

	now := s.clock.Now()
	cutoff := now.Add(-s.staleTimeout)

	var failed, idle []netip.AddrPort

	for _, addr := range s.registry.Snapshot() {
		s.metrics.heartbeatsSent.Inc()

		if err := s.transport.Send(heartbeat, *net.UDPAddrFromAddrPort(addr)); err != nil {
			s.metrics.sendFailed("heartbeat")
			s.log.With("addr", addr.String(), "err", err.Error()).Warn("failed to send heartbeat")
			failed = append(failed, addr)
			continue
		}

		if lastSeen, ok := s.registry.LastSeen(addr); ok && lastSeen.Before(cutoff) {
			idle = append(idle, addr)
		}
	}

	for _, addr := range failed {
		s.evict(addr, evictSendFailed)
	}

	for _, addr := range idle {
		if s.registry.RemoveIdle(addr, cutoff) {
			s.evicted(addr, evictStale)
		}
	}
}

func (s *Server) evict(addr netip.AddrPort, reason evictReason) {
	if s.registry.Remove(addr) {
		s.evicted(addr, reason)
	}
}

func (s *Server) evicted(addr netip.AddrPort, reason evictReason) {
	s.metrics.evicted(reason)
	s.log.With("addr", addr.String(), "reason", string(reason)).Info("client evicted")
}
