// Copyright (c) 2023, 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package udp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
)

var _ = interface {
	Bind(addr *net.UDPAddr) error
	LocalAddr() net.UDPAddr
	Listen(ctx context.Context, processFn func(data []byte, addr net.UDPAddr) []byte) error
	Send(data []byte, addr net.UDPAddr) error
	Close() error
}((*Server)(nil))

// ErrNotBound is returned when the server is used before Bind or after it has been closed.
var ErrNotBound = errors.New("udp server: not bound")

const bufferSize = 4 << 10

type Server struct {
	connection  *net.UDPConn
	handleError func(error)
	mx          sync.Mutex
}

func NewServer() *Server {
	return &Server{
		handleError: func(err error) {
			log.Println(err)
		},
	}
}

func (s *Server) SetHandleError(handleError func(error)) {
	if handleError == nil {
		s.handleError = func(err error) {
			log.Println(err)
		}
		return
	}

	s.handleError = handleError
}

// Bind opens the socket. A failure here means the server cannot run at all,
// so the returned error always wraps FailedToStartError.
func (s *Server) Bind(addr *net.UDPAddr) error {
	connection, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("udp server: failed to listen: %w", FailedToStartError{err})
	}

	s.mx.Lock()
	defer s.mx.Unlock()

	if s.connection != nil {
		_ = connection.Close()
		return fmt.Errorf("udp server: already bound to %s", s.connection.LocalAddr())
	}

	s.connection = connection

	return nil
}

func (s *Server) LocalAddr() net.UDPAddr {
	connection := s.getConnection()
	if connection == nil {
		return net.UDPAddr{}
	}

	return *connection.LocalAddr().(*net.UDPAddr)
}

// Listen reads datagrams until the context is done or the socket is closed.
// A non-nil result of processFn is sent back to the datagram's source.
// The data slice passed to processFn is only valid during the call.
func (s *Server) Listen(ctx context.Context, processFn func(data []byte, addr net.UDPAddr) []byte) (err error) {
	connection := s.getConnection()
	if connection == nil {
		return ErrNotBound
	}

	// closing the socket is the only way to interrupt a blocked read
	stop := context.AfterFunc(ctx, func() {
		_ = s.Close()
	})

	defer func() {
		stop()
		errClose := s.Close()
		if errClose != nil && err == nil {
			err = errClose
		}
	}()

	buffer := [bufferSize]byte{}

	for {
		n, clientAddr, err := connection.ReadFromUDP(buffer[:])
		if err != nil {
			if errCtx := ctx.Err(); errCtx != nil {
				return errCtx
			}

			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			s.handleError(fmt.Errorf("udp server: failed to read: %w", err))
			continue
		}

		response := processFn(buffer[:n], *clientAddr)
		if response == nil {
			continue
		}

		if _, err := connection.WriteToUDP(response, clientAddr); err != nil {
			s.handleError(fmt.Errorf("udp server: failed to respond to %s: %w", clientAddr.String(), err))
			continue
		}
	}
}

// Send is safe for concurrent use.
func (s *Server) Send(data []byte, addr net.UDPAddr) error {
	connection := s.getConnection()
	if connection == nil {
		return ErrNotBound
	}

	if _, err := connection.WriteToUDP(data, &addr); err != nil {
		return fmt.Errorf("udp server: failed to send message to %s: %w", addr.String(), err)
	}

	return nil
}

// Close releases the socket. Closing an unbound or already closed server is a no-op.
func (s *Server) Close() error {
	s.mx.Lock()
	connection := s.connection
	s.connection = nil
	s.mx.Unlock()

	if connection == nil {
		return nil
	}

	if err := connection.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("udp server: failed to close listener: %w", err)
	}

	return nil
}

func (s *Server) getConnection() *net.UDPConn {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.connection
}

type FailedToStartError struct {
	inner error
}

func (e FailedToStartError) Error() string { return e.inner.Error() }
func (e FailedToStartError) Unwrap() error { return e.inner }
