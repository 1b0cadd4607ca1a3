package protocol

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pkt  Packet
	}{
		{"audio with payload", Packet{Type: TypeAudio, Channel: 52, User: 7, Seq: 1234, Payload: bytes.Repeat([]byte{0xAB}, 960)}},
		{"ping empty", Packet{Type: TypePing, Channel: 41, User: 1}},
		{"auth with key", Packet{Type: TypeAuth, Channel: 55, User: 9, Payload: []byte("0123456789abcdef")}},
		{"auth fail with reason", Packet{Type: TypeAuthFail, Channel: 52, User: 0, Payload: []byte("Invalid funk key")}},
		{"seq max", Packet{Type: TypeAudio, Channel: 255, User: 255, Seq: 65535, Payload: []byte{1}}},
		{"seq zero", Packet{Type: TypeAudio, Channel: 0, User: 0, Seq: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := Encode(tt.pkt)
			got, ok := Decode(data)
			if !ok {
				t.Fatal("Decode returned ok=false")
			}
			if got.Type != tt.pkt.Type {
				t.Errorf("Type = %v, want %v", got.Type, tt.pkt.Type)
			}
			if got.Channel != tt.pkt.Channel {
				t.Errorf("Channel = %d, want %d", got.Channel, tt.pkt.Channel)
			}
			if got.User != tt.pkt.User {
				t.Errorf("User = %d, want %d", got.User, tt.pkt.User)
			}
			if got.Seq != tt.pkt.Seq {
				t.Errorf("Seq = %d, want %d", got.Seq, tt.pkt.Seq)
			}
			if !bytes.Equal(got.Payload, tt.pkt.Payload) {
				t.Errorf("Payload = %d bytes, want %d bytes", len(got.Payload), len(tt.pkt.Payload))
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"nil", nil},
		{"empty", []byte{}},
		{"short header", []byte{0, 52, 7, 0}},
		{"unknown type", []byte{6, 52, 7, 0, 0}},
		{"type 255", []byte{255, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := Decode(tt.data); ok {
				t.Error("expected ok=false for malformed datagram")
			}
		})
	}
}

func TestDecodeHeaderOnly(t *testing.T) {
	p, ok := Decode([]byte{0, 52, 7, 0x04, 0xD2})
	if !ok {
		t.Fatal("expected ok=true for exact header length")
	}
	if p.Seq != 1234 {
		t.Errorf("Seq = %d, want 1234 (big-endian)", p.Seq)
	}
	if len(p.Payload) != 0 {
		t.Errorf("Payload length = %d, want 0", len(p.Payload))
	}
}

func TestEncodeBigEndianSeq(t *testing.T) {
	data := Encode(Packet{Type: TypeAudio, Channel: 1, User: 2, Seq: 0x0102})
	if data[3] != 0x01 || data[4] != 0x02 {
		t.Errorf("seq bytes = %x %x, want 01 02", data[3], data[4])
	}
}

func TestEncodeTruncatesOversizedPayload(t *testing.T) {
	data := Encode(Packet{Type: TypeAudio, Payload: make([]byte, MaxPacketSize)})
	if len(data) != MaxPacketSize {
		t.Errorf("encoded length = %d, want %d", len(data), MaxPacketSize)
	}
}

func TestBuilders(t *testing.T) {
	if p, ok := Decode(Ping(52, 7)); !ok || p.Type != TypePing || p.Channel != 52 || p.User != 7 || len(p.Payload) != 0 {
		t.Errorf("Ping built %+v ok=%v", p, ok)
	}
	if p, ok := Decode(Pong(41, 1)); !ok || p.Type != TypePong {
		t.Errorf("Pong built %+v ok=%v", p, ok)
	}
	if p, ok := Decode(Auth(55, 3, "secretkey")); !ok || p.Type != TypeAuth || string(p.Payload) != "secretkey" {
		t.Errorf("Auth built %+v ok=%v", p, ok)
	}
	if p, ok := Decode(AuthFail(55, 3, "Not authenticated")); !ok || string(p.Payload) != "Not authenticated" {
		t.Errorf("AuthFail built %+v ok=%v", p, ok)
	}
	if p, ok := Decode(Audio(52, 7, 99, []byte{1, 2, 3})); !ok || p.Type != TypeAudio || p.Seq != 99 {
		t.Errorf("Audio built %+v ok=%v", p, ok)
	}
}

func TestTypeString(t *testing.T) {
	tests := []struct {
		t    Type
		want string
	}{
		{TypeAudio, "audio"}, {TypePing, "ping"}, {TypePong, "pong"},
		{TypeAuth, "auth"}, {TypeAuthOK, "auth_ok"}, {TypeAuthFail, "auth_fail"},
		{Type(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("Type(%d).String() = %q, want %q", tt.t, got, tt.want)
		}
	}
}
