// Package frame implements the node's wire framing: a fixed binary header
// followed by a payload, readable and writable over any reliable ordered
// byte stream.
//
// internal/session does not frame its handshake messages: they travel as
// length-prefixed blobs before any frame exists. After the handshake,
// session renders each frame with Encode, seals the header+payload as a
// whole with the negotiated AEAD key, and sends the ciphertext
// length-prefixed; on receipt it opens the ciphertext and parses it with
// Decode. Framing itself has no notion of encryption; Conn's
// ReadFrame/WriteFrame serve plain byte streams.
//
// Grounded on the teacher's internal/wire.Conn: a small type wrapping a
// net.Conn with a bufio.Reader, exposing symmetric read/write methods. The
// teacher frames newline-delimited JSON; this header is a fixed 18-byte
// binary layout instead, since the protocol here demands typed, sequenced,
// length-prefixed frames rather than line-oriented messages.
package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Type identifies the kind of a frame's payload.
type Type uint8

const (
	TypeHello    Type = 0x01
	TypePing     Type = 0x02
	TypePong     Type = 0x03
	TypeClipText Type = 0x10

	// Reserved for future file-transfer support; not produced or consumed
	// by this implementation.
	TypeFileOffer  Type = 0x20
	TypeFileAccept Type = 0x21
	TypeFileReject Type = 0x22
	TypeFileChunk  Type = 0x23
	TypeFileDone   Type = 0x24
)

func (t Type) String() string {
	switch t {
	case TypeHello:
		return "HELLO"
	case TypePing:
		return "PING"
	case TypePong:
		return "PONG"
	case TypeClipText:
		return "CLIP_TEXT"
	case TypeFileOffer:
		return "FILE_OFFER"
	case TypeFileAccept:
		return "FILE_ACCEPT"
	case TypeFileReject:
		return "FILE_REJECT"
	case TypeFileChunk:
		return "FILE_CHUNK"
	case TypeFileDone:
		return "FILE_DONE"
	default:
		return fmt.Sprintf("Type(0x%02x)", uint8(t))
	}
}

// CurrentVersion is the only header version this implementation writes
// or accepts.
const CurrentVersion uint8 = 0

// MaxFrame is the largest payload length this implementation accepts.
// Oversized frames are rejected before their body is even read, so a
// malicious peer cannot force an unbounded allocation.
const MaxFrame = 8 << 20 // 8 MiB

// headerSize is ver(1) + type(1) + stream(4) + seq(8) + len(4).
const headerSize = 1 + 1 + 4 + 8 + 4

// ErrInvalidFrame is returned by ReadFrame for a malformed header: wrong
// version, an oversized length, or a stream truncated mid-frame.
var ErrInvalidFrame = errors.New("frame: invalid frame")

// Frame is one decoded unit off the wire.
type Frame struct {
	Type     Type
	StreamID uint32
	Seq      uint64
	Payload  []byte
}

// Conn wraps a byte stream with buffered frame reads and writes.
type Conn struct {
	r *bufio.Reader
	w io.Writer
}

// NewConn wraps rw for framed I/O.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{r: bufio.NewReader(rw), w: rw}
}

// ReadFrame blocks until a full frame has been read, or returns
// ErrInvalidFrame / an I/O error.
func (c *Conn) ReadFrame() (Frame, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
		return Frame{}, fmt.Errorf("frame: read header: %w", err)
	}

	ver := hdr[0]
	if ver != CurrentVersion {
		return Frame{}, fmt.Errorf("%w: version %d", ErrInvalidFrame, ver)
	}
	typ := Type(hdr[1])
	stream := binary.BigEndian.Uint32(hdr[2:6])
	seq := binary.BigEndian.Uint64(hdr[6:14])
	length := binary.BigEndian.Uint32(hdr[14:18])

	if length > MaxFrame {
		return Frame{}, fmt.Errorf("%w: length %d exceeds %d", ErrInvalidFrame, length, MaxFrame)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("%w: truncated payload: %v", ErrInvalidFrame, err)
		}
		return Frame{}, fmt.Errorf("frame: read payload: %w", err)
	}

	return Frame{Type: typ, StreamID: stream, Seq: seq, Payload: payload}, nil
}

// WriteFrame encodes f and writes it in a single call to the underlying
// writer.
func (c *Conn) WriteFrame(f Frame) error {
	if len(f.Payload) > MaxFrame {
		return fmt.Errorf("%w: length %d exceeds %d", ErrInvalidFrame, len(f.Payload), MaxFrame)
	}

	buf := make([]byte, headerSize+len(f.Payload))
	buf[0] = CurrentVersion
	buf[1] = byte(f.Type)
	binary.BigEndian.PutUint32(buf[2:6], f.StreamID)
	binary.BigEndian.PutUint64(buf[6:14], f.Seq)
	binary.BigEndian.PutUint32(buf[14:18], uint32(len(f.Payload)))
	copy(buf[headerSize:], f.Payload)

	if _, err := c.w.Write(buf); err != nil {
		return fmt.Errorf("frame: write: %w", err)
	}
	return nil
}

// Encode renders f to its wire bytes without needing a Conn — used by
// Session to produce the plaintext it seals before writing it to a raw
// net.Conn.
func Encode(f Frame) []byte {
	buf := make([]byte, headerSize+len(f.Payload))
	buf[0] = CurrentVersion
	buf[1] = byte(f.Type)
	binary.BigEndian.PutUint32(buf[2:6], f.StreamID)
	binary.BigEndian.PutUint64(buf[6:14], f.Seq)
	binary.BigEndian.PutUint32(buf[14:18], uint32(len(f.Payload)))
	copy(buf[headerSize:], f.Payload)
	return buf
}

// Decode is the inverse of Encode. It applies the same validation ReadFrame
// does, so a round trip through an AEAD open still rejects a tampered or
// malformed header.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < headerSize {
		return Frame{}, fmt.Errorf("%w: short header", ErrInvalidFrame)
	}
	ver := buf[0]
	if ver != CurrentVersion {
		return Frame{}, fmt.Errorf("%w: version %d", ErrInvalidFrame, ver)
	}
	typ := Type(buf[1])
	stream := binary.BigEndian.Uint32(buf[2:6])
	seq := binary.BigEndian.Uint64(buf[6:14])
	length := binary.BigEndian.Uint32(buf[14:18])
	if length > MaxFrame {
		return Frame{}, fmt.Errorf("%w: length %d exceeds %d", ErrInvalidFrame, length, MaxFrame)
	}
	if uint32(len(buf)-headerSize) != length {
		return Frame{}, fmt.Errorf("%w: length mismatch", ErrInvalidFrame)
	}
	payload := make([]byte, length)
	copy(payload, buf[headerSize:])
	return Frame{Type: typ, StreamID: stream, Seq: seq, Payload: payload}, nil
}
