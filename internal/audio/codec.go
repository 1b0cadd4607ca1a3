package audio

import (
	"fmt"
	"sync/atomic"

	"gopkg.in/hraban/opus.v2"
)

// opusBitrate is the encoder target for voice frames.
const opusBitrate = 32000

// opusMaxPacketBytes is the largest Opus packet the encoder can emit
// (RFC 6716).
const opusMaxPacketBytes = 1275

// Codec encodes capture frames for the wire and decodes received
// payloads back to PCM.
type Codec interface {
	// Encode compresses one FrameSize frame of 16-bit PCM.
	Encode(pcm []byte) ([]byte, error)
	// Decode expands one payload to 16-bit PCM.
	Decode(payload []byte) ([]byte, error)
}

// PCMCodec is the raw passthrough used when Opus is disabled.
type PCMCodec struct{}

// Encode returns the PCM unchanged.
func (PCMCodec) Encode(pcm []byte) ([]byte, error) { return pcm, nil }

// Decode returns the payload unchanged.
func (PCMCodec) Decode(payload []byte) ([]byte, error) { return payload, nil }

// OpusCodec wraps an Opus encoder/decoder pair for 20 ms mono frames.
// Encode and Decode each have a single caller (capture and playback
// loops); they must not be called concurrently with themselves.
type OpusCodec struct {
	enc *opus.Encoder
	dec *opus.Decoder

	// Separate scratch buffers: Encode runs on the capture loop and
	// Decode on the playback loop.
	encBuf []byte
	encPCM []int16
	decPCM []int16

	// decodeFailures counts payloads that fell back to raw PCM.
	decodeFailures atomic.Uint64
}

// NewOpusCodec initialises the Opus voice codec.
func NewOpusCodec() (*OpusCodec, error) {
	enc, err := opus.NewEncoder(SampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("creating opus encoder: %w", err)
	}
	if err := enc.SetBitrate(opusBitrate); err != nil {
		return nil, fmt.Errorf("setting opus bitrate: %w", err)
	}
	dec, err := opus.NewDecoder(SampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("creating opus decoder: %w", err)
	}
	return &OpusCodec{
		enc:    enc,
		dec:    dec,
		encBuf: make([]byte, opusMaxPacketBytes),
		encPCM: make([]int16, FrameSize),
		decPCM: make([]int16, FrameSize),
	}, nil
}

// Encode compresses one frame. The returned slice is freshly allocated;
// it does not alias the internal buffer.
func (c *OpusCodec) Encode(pcm []byte) ([]byte, error) {
	samples := bytesToInt16(pcm, c.encPCM)
	n, err := c.enc.Encode(samples, c.encBuf)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	out := make([]byte, n)
	copy(out, c.encBuf[:n])
	return out, nil
}

// Decode expands one payload. On decode failure the payload is returned
// as raw PCM: a mixed fleet of Opus and PCM clients stays audible.
func (c *OpusCodec) Decode(payload []byte) ([]byte, error) {
	n, err := c.dec.Decode(payload, c.decPCM)
	if err != nil {
		c.decodeFailures.Add(1)
		return payload, nil
	}
	return int16ToBytes(c.decPCM[:n]), nil
}

// DecodeFailures returns how many payloads failed Opus decoding.
func (c *OpusCodec) DecodeFailures() uint64 {
	return c.decodeFailures.Load()
}

// bytesToInt16 reinterprets little-endian PCM bytes into dst, growing it
// if needed, and returns the filled slice.
func bytesToInt16(pcm []byte, dst []int16) []int16 {
	n := len(pcm) / 2
	if cap(dst) < n {
		dst = make([]int16, n)
	}
	dst = dst[:n]
	for i := 0; i < n; i++ {
		dst[i] = int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
	}
	return dst
}

// int16ToBytes serialises samples as little-endian PCM bytes.
func int16ToBytes(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}
