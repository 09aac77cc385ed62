// Copyright (c) 2025, 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package udp

import (
	"context"
	"errors"
	"net"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

var loopback = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}

func TestServerEcho(t *testing.T) {
	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	srv := NewServer()
	if err := srv.Bind(loopback); err != nil {
		t.Fatalf("failed to bind: %s", err.Error())
	}

	var mx sync.Mutex
	var got []string

	done := make(chan error)
	go func() {
		done <- srv.Listen(ctx, func(data []byte, addr net.UDPAddr) []byte {
			mx.Lock()
			got = append(got, string(data))
			mx.Unlock()
			return []byte(strings.ToUpper(string(data)))
		})
	}()

	cli := NewClient(srv.LocalAddr())
	if err := cli.Connect(); err != nil {
		t.Fatalf("failed to connect: %s", err.Error())
	}

	responses := make(chan string, 4)
	go func() {
		_ = cli.Listen(ctx, func(data []byte) {
			responses <- string(data)
		})
	}()

	for _, msg := range []string{"data1", "data2"} {
		if err := cli.Send([]byte(msg)); err != nil {
			t.Errorf("failed to send %s: %s", msg, err.Error())
		}

		select {
		case resp := <-responses:
			if want := strings.ToUpper(msg); resp != want {
				t.Errorf("expected %q, got %q", want, resp)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("no response to %s", msg)
		}
	}

	cancelFn()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}

	mx.Lock()
	defer mx.Unlock()
	if expected := []string{"data1", "data2"}; !slices.Equal(expected, got) {
		t.Errorf("expected %v, got %v", expected, got)
	}
}

func TestServerSendToClient(t *testing.T) {
	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	srv := NewServer()
	if err := srv.Bind(loopback); err != nil {
		t.Fatalf("failed to bind: %s", err.Error())
	}
	defer srv.Close()

	cli := NewClient(srv.LocalAddr())
	if err := cli.Connect(); err != nil {
		t.Fatalf("failed to connect: %s", err.Error())
	}

	received := make(chan string, 1)
	go func() {
		_ = cli.Listen(ctx, func(data []byte) {
			received <- string(data)
		})
	}()

	if err := srv.Send([]byte("heartbeat"), cli.LocalAddr()); err != nil {
		t.Fatalf("failed to send: %s", err.Error())
	}

	select {
	case msg := <-received:
		if msg != "heartbeat" {
			t.Errorf("expected heartbeat, got %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("client did not receive the datagram")
	}
}

func TestServerBindFailure(t *testing.T) {
	first := NewServer()
	if err := first.Bind(loopback); err != nil {
		t.Fatalf("failed to bind: %s", err.Error())
	}
	defer first.Close()

	addr := first.LocalAddr()

	second := NewServer()
	err := second.Bind(&addr)

	var errStart FailedToStartError
	if !errors.As(err, &errStart) {
		t.Errorf("expected FailedToStartError, got: %v [%T]", err, err)
	}
}

func TestServerNotBound(t *testing.T) {
	srv := NewServer()

	if err := srv.Send([]byte("x"), net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}); !errors.Is(err, ErrNotBound) {
		t.Errorf("expected ErrNotBound from Send, got: %v", err)
	}

	err := srv.Listen(context.Background(), func([]byte, net.UDPAddr) []byte { return nil })
	if !errors.Is(err, ErrNotBound) {
		t.Errorf("expected ErrNotBound from Listen, got: %v", err)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("closing an unbound server must be a no-op, got: %v", err)
	}
}

func TestServerCloseStopsListen(t *testing.T) {
	srv := NewServer()
	if err := srv.Bind(loopback); err != nil {
		t.Fatalf("failed to bind: %s", err.Error())
	}

	done := make(chan error)
	go func() {
		done <- srv.Listen(context.Background(), func([]byte, net.UDPAddr) []byte { return nil })
	}()

	time.Sleep(10 * time.Millisecond)

	if err := srv.Close(); err != nil {
		t.Errorf("failed to close: %s", err.Error())
	}

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, ErrNotBound) {
			t.Errorf("expected clean exit, got: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listen did not return after close")
	}

	if err := srv.Send([]byte("x"), net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}); !errors.Is(err, ErrNotBound) {
		t.Errorf("expected ErrNotBound after close, got: %v", err)
	}
}
