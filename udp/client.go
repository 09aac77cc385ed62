// Copyright (c) 2023, 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
)

var _ = interface {
	Connect() error
	LocalAddr() net.UDPAddr
	Listen(ctx context.Context, processFn func(data []byte)) error
	Send(data []byte) error
	Close() error
}((*Client)(nil))

// ErrNotConnected is returned when the client is used before Connect or after it has been closed.
var ErrNotConnected = errors.New("udp client: not connected")

type Client struct {
	serverAddr net.UDPAddr
	localAddr  *net.UDPAddr
	connection *net.UDPConn
	mx         sync.Mutex
}

func NewClientLocalAddr(serverAddr net.UDPAddr, localAddr *net.UDPAddr) *Client {
	return &Client{
		serverAddr: serverAddr,
		localAddr:  localAddr,
	}
}

func NewClient(serverAddr net.UDPAddr) *Client {
	return NewClientLocalAddr(serverAddr, nil)
}

func (c *Client) Connect() error {
	connection, err := net.DialUDP("udp", c.localAddr, &c.serverAddr)
	if err != nil {
		return fmt.Errorf("udp client: failed to dial: %w", err)
	}

	c.mx.Lock()
	c.connection = connection
	c.mx.Unlock()

	return nil
}

func (c *Client) LocalAddr() net.UDPAddr {
	connection := c.getConnection()
	if connection == nil {
		return net.UDPAddr{}
	}

	return *connection.LocalAddr().(*net.UDPAddr)
}

// Listen reads datagrams from the server until the context is done or the connection is closed.
// Connection refused errors (ICMP feedback while the server is not up) are skipped.
func (c *Client) Listen(ctx context.Context, processFn func(data []byte)) (err error) {
	connection := c.getConnection()
	if connection == nil {
		return ErrNotConnected
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.Close()
	})

	defer func() {
		stop()
		errClose := c.Close()
		if errClose != nil && err == nil {
			err = errClose
		}
	}()

	buffer := [bufferSize]byte{}

	for {
		n, err := connection.Read(buffer[:])
		if err != nil {
			if errCtx := ctx.Err(); errCtx != nil {
				return errCtx
			}

			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			if errors.Is(err, syscall.ECONNREFUSED) {
				continue
			}

			return fmt.Errorf("udp client: failed to read udp message: %w", err)
		}

		processFn(buffer[:n])
	}
}

func (c *Client) Send(data []byte) error {
	connection := c.getConnection()
	if connection == nil {
		return ErrNotConnected
	}

	if _, err := connection.Write(data); err != nil {
		return fmt.Errorf("udp client: failed to send message: %w", err)
	}

	return nil
}

func (c *Client) Close() error {
	c.mx.Lock()
	connection := c.connection
	c.connection = nil
	c.mx.Unlock()

	if connection == nil {
		return nil
	}

	if err := connection.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("udp client: failed to close connection: %w", err)
	}

	return nil
}

func (c *Client) getConnection() *net.UDPConn {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.connection
}
