// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package relay

import (
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addrA = netip.MustParseAddrPort("127.0.0.1:40001")
	addrB = netip.MustParseAddrPort("127.0.0.1:40002")
	addrC = netip.MustParseAddrPort("[::1]:40003")
)

func TestRegistry_Upsert(t *testing.T) {
	r := NewRegistry()
	t0 := time.Unix(1000, 0)

	require.True(t, r.Upsert(addrA, t0), "first datagram must register the client")
	require.False(t, r.Upsert(addrA, t0.Add(time.Second)), "second datagram must only refresh")
	require.Equal(t, 1, r.Len())

	lastSeen, ok := r.LastSeen(addrA)
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Second), lastSeen)
}

func TestRegistry_LastSeenAlwaysAdvances(t *testing.T) {
	r := NewRegistry()
	t0 := time.Unix(1000, 0)

	r.Upsert(addrA, t0)

	prev, _ := r.LastSeen(addrA)
	for _, now := range []time.Time{t0, t0, t0.Add(-time.Second), t0.Add(time.Millisecond)} {
		r.Upsert(addrA, now)
		got, _ := r.LastSeen(addrA)
		assert.True(t, got.After(prev), "lastSeen must strictly increase: prev=%v got=%v", prev, got)
		prev = got
	}
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry()
	now := time.Unix(1000, 0)

	r.Upsert(addrA, now)
	r.Upsert(addrB, now)

	assert.True(t, r.Remove(addrA))
	assert.Equal(t, []netip.AddrPort{addrB}, r.Snapshot())

	// removing an absent address leaves the registry unchanged
	assert.False(t, r.Remove(addrA))
	assert.False(t, r.Remove(addrC))
	assert.Equal(t, []netip.AddrPort{addrB}, r.Snapshot())

	_, ok := r.LastSeen(addrA)
	assert.False(t, ok)
}

func TestRegistry_RemoveIdle(t *testing.T) {
	r := NewRegistry()
	t0 := time.Unix(1000, 0)

	r.Upsert(addrA, t0)
	r.Upsert(addrB, t0.Add(2*time.Second))

	cutoff := t0.Add(time.Second)

	assert.False(t, r.RemoveIdle(addrB, cutoff), "heard from after cutoff")
	assert.True(t, r.RemoveIdle(addrA, cutoff))
	assert.False(t, r.RemoveIdle(addrA, cutoff), "already removed")
	assert.False(t, r.RemoveIdle(addrB, t0.Add(2*time.Second)), "lastSeen equal to cutoff is not idle")

	assert.Equal(t, []netip.AddrPort{addrB}, r.Snapshot())
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry()
	now := time.Unix(1000, 0)

	r.Upsert(addrC, now)
	r.Upsert(addrB, now)
	r.Upsert(addrA, now)

	snapshot := r.Snapshot()
	require.Equal(t, []netip.AddrPort{addrA, addrB, addrC}, snapshot)

	// the snapshot is a copy, not a view
	r.Remove(addrB)
	r.Upsert(netip.MustParseAddrPort("10.0.0.1:1"), now)
	assert.Equal(t, []netip.AddrPort{addrA, addrB, addrC}, snapshot)
	assert.Empty(t, NewRegistry().Snapshot())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	now := time.Unix(1000, 0)

	const workers = 8
	const iterations = 500

	wg := sync.WaitGroup{}
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), uint16(41000+w))
			for i := range iterations {
				r.Upsert(addr, now.Add(time.Duration(i)))
				_ = r.Snapshot()
				if i%10 == 0 {
					r.Remove(addr)
				}
			}
			r.Upsert(addr, now)
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, r.Len())
}

func TestAddrFromUDP(t *testing.T) {
	mapped := net.UDPAddr{IP: net.ParseIP("::ffff:127.0.0.1"), Port: 40001}
	plain := net.UDPAddr{IP: net.IPv4(127, 0, 0, 1).To4(), Port: 40001}

	assert.Equal(t, addrA, AddrFromUDP(mapped))
	assert.Equal(t, addrA, AddrFromUDP(plain))
	assert.Equal(t, addrC, AddrFromUDP(net.UDPAddr{IP: net.IPv6loopback, Port: 40003}))
}
