// Package protocol implements the funknet wire format: a fixed 5-byte
// big-endian header followed by a variable payload, one packet per UDP
// datagram.
//
// Header layout:
//
//	byte 0      packet type
//	byte 1      channel id
//	byte 2      user id
//	bytes 3-4   sequence number (big-endian, wraps at 65536)
package protocol

import (
	"encoding/binary"
)

// Type identifies the kind of packet.
type Type uint8

const (
	TypeAudio    Type = 0
	TypePing     Type = 1
	TypePong     Type = 2
	TypeAuth     Type = 3
	TypeAuthOK   Type = 4
	TypeAuthFail Type = 5
)

// String returns the packet type name for logging.
func (t Type) String() string {
	switch t {
	case TypeAudio:
		return "audio"
	case TypePing:
		return "ping"
	case TypePong:
		return "pong"
	case TypeAuth:
		return "auth"
	case TypeAuthOK:
		return "auth_ok"
	case TypeAuthFail:
		return "auth_fail"
	default:
		return "unknown"
	}
}

const (
	// HeaderSize is the fixed header length in bytes.
	HeaderSize = 5

	// MaxPacketSize is the largest datagram the protocol accepts,
	// header included.
	MaxPacketSize = 8192

	// MaxPayloadSize is the largest payload a single packet can carry.
	MaxPayloadSize = MaxPacketSize - HeaderSize
)

// Packet is a decoded funknet datagram.
type Packet struct {
	Type    Type
	Channel uint8
	User    uint8
	Seq     uint16
	Payload []byte
}

// Encode serialises the packet into a fresh byte slice. Payloads longer
// than MaxPayloadSize are truncated; the wire format has no room for more.
func Encode(p Packet) []byte {
	payload := p.Payload
	if len(payload) > MaxPayloadSize {
		payload = payload[:MaxPayloadSize]
	}
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = byte(p.Type)
	buf[1] = p.Channel
	buf[2] = p.User
	binary.BigEndian.PutUint16(buf[3:5], p.Seq)
	copy(buf[HeaderSize:], payload)
	return buf
}

// Decode parses a datagram. It fails soft: a datagram shorter than the
// header or carrying an unknown type returns ok=false and the caller
// drops it. The returned payload aliases data; callers that retain it
// past the read buffer's lifetime must copy.
func Decode(data []byte) (Packet, bool) {
	if len(data) < HeaderSize {
		return Packet{}, false
	}
	t := Type(data[0])
	if t > TypeAuthFail {
		return Packet{}, false
	}
	return Packet{
		Type:    t,
		Channel: data[1],
		User:    data[2],
		Seq:     binary.BigEndian.Uint16(data[3:5]),
		Payload: data[HeaderSize:],
	}, true
}

// Ping builds a keep-alive request. Sequence is zero by convention for
// control packets.
func Ping(channel, user uint8) []byte {
	return Encode(Packet{Type: TypePing, Channel: channel, User: user})
}

// Pong builds a keep-alive reply.
func Pong(channel, user uint8) []byte {
	return Encode(Packet{Type: TypePong, Channel: channel, User: user})
}

// Auth builds an authentication request carrying the UTF-8 funk key.
func Auth(channel, user uint8, funkKey string) []byte {
	return Encode(Packet{Type: TypeAuth, Channel: channel, User: user, Payload: []byte(funkKey)})
}

// AuthOK builds an authentication success reply.
func AuthOK(channel, user uint8) []byte {
	return Encode(Packet{Type: TypeAuthOK, Channel: channel, User: user})
}

// AuthFail builds an authentication failure reply carrying a UTF-8 reason.
func AuthFail(channel, user uint8, reason string) []byte {
	return Encode(Packet{Type: TypeAuthFail, Channel: channel, User: user, Payload: []byte(reason)})
}

// Audio builds a voice frame packet.
func Audio(channel, user uint8, seq uint16, frame []byte) []byte {
	return Encode(Packet{Type: TypeAudio, Channel: channel, User: user, Seq: seq, Payload: frame})
}
