package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	// HeaderLen is MAGIC(4) + RESERVED(4) + LENGTH(4).
	HeaderLen = 12

	// DefaultMaxPayload bounds a single frame's payload when the caller does not set a limit.
	DefaultMaxPayload = 1 << 20

	readChunk = 4096
)

// Magic opens every frame.
var Magic = [4]byte{0xab, 0xcd, 0xef, 0x88}

var (
	ErrTruncatedFrame   = errors.New("protocol: stream ended inside a frame payload")
	ErrFrameTooLarge    = errors.New("protocol: frame exceeds maximum payload size")
	ErrMalformedPayload = errors.New("protocol: malformed frame payload")
)

// Payload carries the operation-specific fields of a frame.
type Payload map[string]any

// Message is one decoded frame.
type Message struct {
	Type      string  `json:"type"`
	Timestamp int64   `json:"timestamp"`
	Payload   Payload `json:"payload"`
}

// Str returns a string field of the payload, or "" when it is absent or not a string.
func (m *Message) Str(key string) string {
	if m == nil || m.Payload == nil {
		return ""
	}
	s, _ := m.Payload[key].(string)
	return s
}

// Encode builds a frame stamped with the current time.
func Encode(msgType string, payload Payload) []byte {
	return EncodeAt(msgType, payload, time.Now())
}

// EncodeAt builds a frame stamped with ts. Payload values must be JSON-marshalable; anything else
// is a programming error and panics.
func EncodeAt(msgType string, payload Payload, ts time.Time) []byte {
	if payload == nil {
		payload = Payload{}
	}
	body, err := json.Marshal(Message{Type: msgType, Timestamp: ts.Unix(), Payload: payload})
	if err != nil {
		panic(fmt.Sprintf("protocol: encode %q: %v", msgType, err))
	}

	frame := make([]byte, HeaderLen+len(body))
	copy(frame[0:4], Magic[:])
	// frame[4:8] is the reserved field, always zero on write.
	binary.LittleEndian.PutUint32(frame[8:12], uint32(len(body)))
	copy(frame[HeaderLen:], body)
	return frame
}

// Decode reads the next frame from r, starting from the carry-over bytes in buf. It returns the
// message together with whatever was buffered past its end, to be passed to the next call.
//
// Bytes preceding a magic sequence are discarded. A stream that ends before a complete header is
// buffered yields io.EOF; a stream that ends inside a declared payload yields ErrTruncatedFrame.
func Decode(r io.Reader, buf []byte) (*Message, []byte, error) {
	return decode(r, buf, make([]byte, readChunk), DefaultMaxPayload)
}

func decode(r io.Reader, buf, chunk []byte, maxPayload uint32) (*Message, []byte, error) {
	for {
		if i := bytes.Index(buf, Magic[:]); i >= 0 {
			buf = buf[i:]
			if len(buf) >= HeaderLen {
				break
			}
		} else if len(buf) >= len(Magic) {
			// Only a suffix shorter than the magic can still begin a frame.
			buf = buf[len(buf)-(len(Magic)-1):]
		}

		n, err := r.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil && n == 0 {
			return nil, buf, err
		}
	}

	length := binary.LittleEndian.Uint32(buf[8:12])
	if maxPayload > 0 && length > maxPayload {
		return nil, buf, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	end := HeaderLen + int(length)
	for len(buf) < end {
		n, err := r.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil && n == 0 {
			if errors.Is(err, io.EOF) {
				return nil, buf, fmt.Errorf("%w: have %d of %d bytes", ErrTruncatedFrame, len(buf)-HeaderLen, length)
			}
			return nil, buf, err
		}
	}

	msg, err := parsePayload(buf[HeaderLen:end])
	rest := buf[end:]
	if err != nil {
		return nil, rest, err
	}
	return msg, rest, nil
}

func parsePayload(body []byte) (*Message, error) {
	msg := &Message{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	}
	if msg.Payload == nil {
		msg.Payload = Payload{}
	}
	return msg, nil
}

// Decoder pipelines Decode over one stream, keeping the carry-over buffer between calls. Buffered
// bytes survive a failed read, so a Decode that returns a transient error may be retried.
type Decoder struct {
	r          io.Reader
	buf        []byte
	chunk      []byte
	maxPayload uint32
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:          r,
		chunk:      make([]byte, readChunk),
		maxPayload: DefaultMaxPayload,
	}
}

// SetMaxPayload changes the payload limit; zero disables it.
func (d *Decoder) SetMaxPayload(n uint32) {
	d.maxPayload = n
}

func (d *Decoder) Decode() (*Message, error) {
	msg, rest, err := decode(d.r, d.buf, d.chunk, d.maxPayload)
	d.buf = rest
	return msg, err
}

// Buffered returns the bytes read from the stream but not yet consumed by a frame.
func (d *Decoder) Buffered() []byte {
	return d.buf
}
