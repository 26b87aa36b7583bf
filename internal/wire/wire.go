// Package wire implements the Aton length-prefixed binary protocol.
//
// The wire is a stream of discriminated messages over TCP. Every message
// begins with a 4-byte little-endian kind tag, followed by fixed-width
// little-endian scalars and, for pixel messages, a length-prefixed
// NUL-terminated AOV name and a float32 block.
//
// The codec is pure: it reads from an io.Reader and writes to an io.Writer
// and carries no socket policy. Session handling lives in internal/server.
//
// Compatibility note: field ordering, the 4-byte kind tags and the i32
// echo-id handshake after an open message are bit-exact with the existing
// renderer-side sender and must not change.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Message kind tags.
const (
	KindOpen   int32 = 0 // session header follows
	KindPixels int32 = 1 // bucket header + aov name + pixel block
	KindClose  int32 = 2 // one i32 echo id
	KindQuit   int32 = 9 // sentinel, terminates the listener
)

// EchoID is written back to the client after an open message. Always 1,
// kept for protocol symmetry with the original sender.
const EchoID int32 = 1

// Hard limits enforced before any payload allocation.
const (
	// MaxAOVNameLen bounds the declared AOV name length (bytes, incl. NUL).
	MaxAOVNameLen = 4 << 10

	// MaxPixelSamples bounds the declared bucket sample count.
	MaxPixelSamples = 256 << 20
)

// ProtocolError reports a malformed or hostile message. It closes the
// session that produced it; the listener resumes accepting.
type ProtocolError struct {
	Op     string // message being decoded: "kind", "header", "pixels", "close"
	Reason string
	Err    error // underlying I/O error, if any
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wire: %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("wire: %s: %s", e.Op, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Header is the session header carried by an open message.
type Header struct {
	SessionID  int32       // renderer-chosen id, positive
	Xres, Yres int32       // frame resolution
	RegionArea int64       // pixel area of the render region, drives progress
	Version    int32       // packed renderer version quadruple
	Frame      float32     // frame number
	CamFov     float32     // camera field of view
	CamMatrix  [16]float32 // camera-to-world, column-major
	Samples    [6]int32    // AA, diffuse, specular, transmission, sss, volume
}

// Pixels is one rectangular bucket of float32 samples.
//
// Data is row-major with origin top-left, channel-interleaved:
// Data[(y*W + x)*Spp + c]. The framebuffer writer flips Y on copy.
type Pixels struct {
	Xres, Yres int32 // resolution the bucket was rendered against
	BucketXo   int32
	BucketYo   int32
	BucketW    int32
	BucketH    int32
	Spp        int32 // samples per pixel: 1, 3 or 4
	RAM        int64 // renderer memory use, bytes
	Time       int32 // elapsed render time, ms
	AOVName    string
	Data       []float32
}

// UnpackVersion decodes the packed renderer version quadruple
// (arch*1_000_000 + major*10_000 + minor*100 + patch) into
// an "arch.major.minor.patch" display string.
func UnpackVersion(v int32) string {
	return fmt.Sprintf("%d.%d.%d.%d",
		v/1000000,
		(v%1000000)/10000,
		(v%10000)/100,
		v%100)
}

// ReadKind reads the 4-byte message kind tag.
// io.EOF is returned unwrapped so callers can distinguish a clean
// disconnect from a torn message.
func ReadKind(r io.Reader) (int32, error) {
	var kind int32
	if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
		return 0, err
	}
	switch kind {
	case KindOpen, KindPixels, KindClose, KindQuit:
		return kind, nil
	}
	return 0, &ProtocolError{Op: "kind", Reason: fmt.Sprintf("unknown message kind %d", kind)}
}

// ReadHeader decodes the session header that follows an open tag.
// The caller must have written the echo id to the peer first; the sender
// blocks on that read before emitting the header.
func ReadHeader(r io.Reader) (*Header, error) {
	var h Header
	fields := []any{
		&h.SessionID, &h.Xres, &h.Yres, &h.RegionArea,
		&h.Version, &h.Frame, &h.CamFov,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, &ProtocolError{Op: "header", Reason: "short read", Err: err}
		}
	}
	if err := binary.Read(r, binary.LittleEndian, h.CamMatrix[:]); err != nil {
		return nil, &ProtocolError{Op: "header", Reason: "short read on camera matrix", Err: err}
	}
	if err := binary.Read(r, binary.LittleEndian, h.Samples[:]); err != nil {
		return nil, &ProtocolError{Op: "header", Reason: "short read on sample counts", Err: err}
	}
	if h.SessionID <= 0 {
		return nil, &ProtocolError{Op: "header", Reason: fmt.Sprintf("non-positive session id %d", h.SessionID)}
	}
	if h.Xres <= 0 || h.Yres <= 0 {
		return nil, &ProtocolError{Op: "header", Reason: fmt.Sprintf("non-positive resolution %dx%d", h.Xres, h.Yres)}
	}
	return &h, nil
}

// ReadPixels decodes a pixel message: echo id, bucket header, AOV name and
// the float block. The declared sizes are validated against MaxAOVNameLen,
// MaxPixelSamples and the declared resolution before any allocation.
func ReadPixels(r io.Reader) (*Pixels, error) {
	var echo int32
	if err := binary.Read(r, binary.LittleEndian, &echo); err != nil {
		return nil, &ProtocolError{Op: "pixels", Reason: "short read on echo id", Err: err}
	}

	var p Pixels
	fields := []any{
		&p.Xres, &p.Yres,
		&p.BucketXo, &p.BucketYo, &p.BucketW, &p.BucketH,
		&p.Spp, &p.RAM, &p.Time,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, &ProtocolError{Op: "pixels", Reason: "short read on bucket header", Err: err}
		}
	}

	if p.Xres <= 0 || p.Yres <= 0 {
		return nil, &ProtocolError{Op: "pixels", Reason: fmt.Sprintf("non-positive resolution %dx%d", p.Xres, p.Yres)}
	}
	if p.BucketW <= 0 || p.BucketH <= 0 || p.BucketXo < 0 || p.BucketYo < 0 {
		return nil, &ProtocolError{Op: "pixels", Reason: fmt.Sprintf("bad bucket rect (%d,%d %dx%d)",
			p.BucketXo, p.BucketYo, p.BucketW, p.BucketH)}
	}
	if int64(p.BucketXo)+int64(p.BucketW) > int64(p.Xres) ||
		int64(p.BucketYo)+int64(p.BucketH) > int64(p.Yres) {
		return nil, &ProtocolError{Op: "pixels", Reason: fmt.Sprintf("bucket (%d,%d %dx%d) outside resolution %dx%d",
			p.BucketXo, p.BucketYo, p.BucketW, p.BucketH, p.Xres, p.Yres)}
	}
	if p.Spp < 1 || p.Spp > 4 || p.Spp == 2 {
		return nil, &ProtocolError{Op: "pixels", Reason: fmt.Sprintf("unsupported samples-per-pixel %d", p.Spp)}
	}

	var nameLen uint64
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return nil, &ProtocolError{Op: "pixels", Reason: "short read on aov name length", Err: err}
	}
	if nameLen == 0 || nameLen > MaxAOVNameLen {
		return nil, &ProtocolError{Op: "pixels", Reason: fmt.Sprintf("aov name length %d out of range", nameLen)}
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, &ProtocolError{Op: "pixels", Reason: "short read on aov name", Err: err}
	}
	// The name is raw bytes with a trailing NUL; not assumed UTF-8.
	if name[len(name)-1] == 0 {
		name = name[:len(name)-1]
	}
	p.AOVName = string(name)

	samples := int64(p.BucketW) * int64(p.BucketH) * int64(p.Spp)
	if samples > MaxPixelSamples {
		return nil, &ProtocolError{Op: "pixels", Reason: fmt.Sprintf("declared %d samples exceeds limit", samples)}
	}
	p.Data = make([]float32, samples)
	if err := readF32Block(r, p.Data); err != nil {
		return nil, &ProtocolError{Op: "pixels", Reason: "short read on pixel block", Err: err}
	}
	return &p, nil
}

// ReadCloseEcho consumes the echo id that trails a close tag.
func ReadCloseEcho(r io.Reader) error {
	var echo int32
	if err := binary.Read(r, binary.LittleEndian, &echo); err != nil {
		return &ProtocolError{Op: "close", Reason: "short read on echo id", Err: err}
	}
	return nil
}

// WriteEchoID sends the i32 echo id acknowledging an open message.
func WriteEchoID(w io.Writer) error {
	return binary.Write(w, binary.LittleEndian, EchoID)
}

// readF32Block decodes little-endian float32s in fixed-size chunks to keep
// the scratch buffer off the session's steady-state heap.
func readF32Block(r io.Reader, dst []float32) error {
	const chunk = 16 << 10 // floats per read
	buf := make([]byte, 4*min(len(dst), chunk))
	for len(dst) > 0 {
		n := min(len(dst), chunk)
		if _, err := io.ReadFull(r, buf[:4*n]); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
		}
		dst = dst[n:]
	}
	return nil
}
