// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package relay

import "unicode/utf8"

// Kind is the category of a datagram exchanged between the relay and its clients.
type Kind byte

const (
	KindChat Kind = iota
	KindHeartbeat
	KindHeartbeatAck
	KindEmpty
	KindInvalid
)

const (
	// PayloadHeartbeat is a liveness check. The relay answers it with PayloadHeartbeatAck;
	// a client answers it the same way when it comes from the relay.
	PayloadHeartbeat = "heartbeat"

	// PayloadHeartbeatAck acknowledges a heartbeat. It is never answered and never rebroadcast.
	PayloadHeartbeatAck = "heartbeat_ack"
)

var (
	heartbeat    = []byte(PayloadHeartbeat)
	heartbeatAck = []byte(PayloadHeartbeatAck)
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindHeartbeat:
		return "heartbeat"
	case KindHeartbeatAck:
		return "heartbeat_ack"
	case KindEmpty:
		return "empty"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Classify determines the kind of payload. Payloads are text; anything that is not
// valid UTF-8 is KindInvalid. Control payloads must match exactly, so a chat line that
// merely contains the word "heartbeat" is still KindChat.
func Classify(data []byte) Kind {
	switch {
	case len(data) == 0:
		return KindEmpty
	case !utf8.Valid(data):
		return KindInvalid
	case string(data) == PayloadHeartbeat:
		return KindHeartbeat
	case string(data) == PayloadHeartbeatAck:
		return KindHeartbeatAck
	default:
		return KindChat
	}
}
