// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marko-gacesa/udprelay/relay"
	"github.com/marko-gacesa/udprelay/udp"
)

type syncBuffer struct {
	mx  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.String()
}

func TestRunChat(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	udpServer := udp.NewServer()
	require.NoError(t, udpServer.Bind(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}))

	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	srv := relay.NewServer(udpServer, relay.WithLogger(log))
	go func() {
		_ = srv.Start(ctx)
	}()

	inR, inW := io.Pipe()
	out := &syncBuffer{}

	serverAddr := udpServer.LocalAddr()

	done := make(chan error)
	go func() {
		done <- run(ctx, options{
			server: serverAddr.String(),
			name:   "Alice",
		}, inR, out, log)
	}()

	require.Eventually(t, func() bool {
		return len(srv.Clients()) == 1
	}, 5*time.Second, time.Millisecond)

	_, err := io.WriteString(inW, "hello\n\n")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return out.String() == "Alice: hello\n"
	}, 5*time.Second, time.Millisecond)

	// end of input ends the chat
	require.NoError(t, inW.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("chat did not end with the input")
	}
}

func TestResolveServer(t *testing.T) {
	addr, err := resolveServer(context.Background(), options{server: "127.0.0.1:5000"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5000", addr.String())

	_, err = resolveServer(context.Background(), options{server: "no-port"})
	assert.Error(t, err)

	_, err = resolveServer(context.Background(), options{discover: "not a group"})
	assert.Error(t, err)
}

func TestStampLine(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.Local)
	assert.Equal(t, "2026-03-04 05:06:07 - Alice: hello", stampLine(at, "Alice: hello"))
}
