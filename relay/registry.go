// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package relay

import (
	"maps"
	"net"
	"net/netip"
	"slices"
	"sync"
	"time"
)

// Registry tracks the clients eligible for broadcast, keyed by address, together with
// the time each was last heard from. It is safe for concurrent use.
type Registry struct {
	mx      sync.Mutex
	clients map[netip.AddrPort]time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[netip.AddrPort]time.Time),
	}
}

// Upsert registers the address or refreshes its last seen time. It reports whether
// the address was not tracked before. The last seen time of a tracked address always
// advances, even if the clock reading does not.
func (r *Registry) Upsert(addr netip.AddrPort, now time.Time) bool {
	r.mx.Lock()
	defer r.mx.Unlock()

	prev, ok := r.clients[addr]
	if ok && !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}

	r.clients[addr] = now

	return !ok
}

// Remove forgets the address. It reports whether the address was tracked.
func (r *Registry) Remove(addr netip.AddrPort) bool {
	r.mx.Lock()
	defer r.mx.Unlock()

	if _, ok := r.clients[addr]; !ok {
		return false
	}

	delete(r.clients, addr)

	return true
}

// RemoveIdle forgets the address only if it has not been heard from since cutoff.
// A client that sent something after cutoff keeps its record.
func (r *Registry) RemoveIdle(addr netip.AddrPort, cutoff time.Time) bool {
	r.mx.Lock()
	defer r.mx.Unlock()

	lastSeen, ok := r.clients[addr]
	if !ok || !lastSeen.Before(cutoff) {
		return false
	}

	delete(r.clients, addr)

	return true
}

// Snapshot returns a copy of the tracked addresses in a stable order.
func (r *Registry) Snapshot() []netip.AddrPort {
	r.mx.Lock()
	defer r.mx.Unlock()

	return slices.SortedFunc(maps.Keys(r.clients), netip.AddrPort.Compare)
}

func (r *Registry) LastSeen(addr netip.AddrPort) (time.Time, bool) {
	r.mx.Lock()
	defer r.mx.Unlock()

	lastSeen, ok := r.clients[addr]
	return lastSeen, ok
}

func (r *Registry) Len() int {
	r.mx.Lock()
	defer r.mx.Unlock()

	return len(r.clients)
}

// AddrFromUDP converts a socket address into a registry key. IPv4 addresses reported
// as IPv4-mapped IPv6 by dual-stack sockets are unmapped, so a client always has one key.
func AddrFromUDP(addr net.UDPAddr) netip.AddrPort {
	ap := addr.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
