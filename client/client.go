// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package client

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/marko-gacesa/udprelay/relay"
	"github.com/marko-gacesa/udprelay/udp"
	"github.com/marko-gacesa/udprelay/util"
)

// Conn is the client side of the datagram socket, connected to the relay.
type Conn interface {
	Listen(ctx context.Context, processFn func(data []byte)) error
	Send(data []byte) error
}

// Client talks to a relay. It answers the relay's heartbeats so that it stays in the
// broadcast set, and passes every chat line it receives to the message handler.
type Client struct {
	conn      Conn
	onMessage func(line string)
	keepAlive time.Duration
	lastHeard atomic.Int64
	clock     clock.Clock
	log       *slog.Logger
}

func New(conn Conn, onMessage func(line string), opts ...func(*Client)) *Client {
	c := &Client{
		conn:      conn,
		onMessage: onMessage,
		clock:     clock.New(),
		log:       slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.onMessage == nil {
		c.onMessage = func(string) {}
	}

	return c
}

// Dial connects a UDP socket to the relay and wraps it in a Client.
func Dial(serverAddr net.UDPAddr, onMessage func(line string), opts ...func(*Client)) (*Client, error) {
	conn := udp.NewClient(serverAddr)
	if err := conn.Connect(); err != nil {
		return nil, err
	}

	return New(conn, onMessage, opts...), nil
}

func WithLogger(log *slog.Logger) func(*Client) {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

func WithClock(c clock.Clock) func(*Client) {
	return func(cl *Client) {
		if c != nil {
			cl.clock = c
		}
	}
}

// WithKeepAlive makes the client send a heartbeat to the relay every period,
// in addition to answering the relay's heartbeats.
func WithKeepAlive(period time.Duration) func(*Client) {
	return func(c *Client) {
		c.keepAlive = period
	}
}

// FormatChat builds a chat line in the "<name>: <text>" convention.
func FormatChat(name, text string) string {
	return name + ": " + text
}

// Run receives datagrams from the relay until the context is done or the socket is closed.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancelFn()
		return c.conn.Listen(ctx, c.handle)
	})

	if c.keepAlive > 0 {
		g.Go(func() error {
			return c.keepAliveLoop(ctx)
		})
	}

	return g.Wait()
}

func (c *Client) Send(line string) error {
	return c.conn.Send([]byte(line))
}

// Heartbeat sends a liveness check to the relay, which answers it with an ack.
func (c *Client) Heartbeat() error {
	return c.conn.Send([]byte(relay.PayloadHeartbeat))
}

// LastHeard returns when a datagram was last received from the relay.
// It is the zero time if nothing has been received yet.
func (c *Client) LastHeard() time.Time {
	nanos := c.lastHeard.Load()
	if nanos == 0 {
		return time.Time{}
	}

	return time.Unix(0, nanos)
}

func (c *Client) handle(data []byte) {
	defer util.Recover(c.log)

	c.lastHeard.Store(c.clock.Now().UnixNano())

	switch relay.Classify(data) {
	case relay.KindHeartbeat:
		if err := c.conn.Send([]byte(relay.PayloadHeartbeatAck)); err != nil {
			c.log.With("err", err.Error()).Warn("failed to acknowledge heartbeat")
		}

	case relay.KindHeartbeatAck, relay.KindEmpty:

	case relay.KindInvalid:
		c.log.With("size", len(data)).Warn("dropped datagram: payload is not text")

	default:
		c.onMessage(string(data))
	}
}

func (c *Client) keepAliveLoop(ctx context.Context) error {
	ticker := c.clock.Ticker(c.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if err := c.Heartbeat(); err != nil {
				c.log.With("err", err.Error()).Warn("failed to send heartbeat")
			}
		}
	}
}
