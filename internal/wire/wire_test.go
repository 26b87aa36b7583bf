package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// encodeHeader serializes a header the way the sender does: no kind tag,
// no echo handshake, just the field block.
func encodeHeader(t *testing.T, h *Header) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	for _, f := range []any{
		h.SessionID, h.Xres, h.Yres, h.RegionArea,
		h.Version, h.Frame, h.CamFov, h.CamMatrix[:], h.Samples[:],
	} {
		if err := binary.Write(&buf, binary.LittleEndian, f); err != nil {
			t.Fatalf("encode header: %v", err)
		}
	}
	return &buf
}

// encodePixels serializes a pixel message minus the leading kind tag.
func encodePixels(t *testing.T, p *Pixels) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	name := append([]byte(p.AOVName), 0)
	for _, f := range []any{
		EchoID,
		p.Xres, p.Yres,
		p.BucketXo, p.BucketYo, p.BucketW, p.BucketH,
		p.Spp, p.RAM, p.Time,
		uint64(len(name)), name,
	} {
		if err := binary.Write(&buf, binary.LittleEndian, f); err != nil {
			t.Fatalf("encode pixels: %v", err)
		}
	}
	if err := binary.Write(&buf, binary.LittleEndian, p.Data); err != nil {
		t.Fatalf("encode data: %v", err)
	}
	return &buf
}

func TestReadKindKnownTags(t *testing.T) {
	for _, want := range []int32{KindOpen, KindPixels, KindClose, KindQuit} {
		var buf bytes.Buffer
		binary.Write(&buf, binary.LittleEndian, want)
		got, err := ReadKind(&buf)
		if err != nil {
			t.Fatalf("ReadKind(%d) failed: %v", want, err)
		}
		if got != want {
			t.Errorf("ReadKind = %d, want %d", got, want)
		}
	}
}

func TestReadKindUnknownTag(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, int32(7))
	_, err := ReadKind(&buf)
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError for unknown kind, got %v", err)
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	want := &Header{
		SessionID:  42,
		Xres:       1920,
		Yres:       1080,
		RegionArea: 1920 * 1080,
		Version:    7_030_100,
		Frame:      1001.0,
		CamFov:     54.43,
		Samples:    [6]int32{3, 2, 2, 2, 0, 0},
	}
	for i := range want.CamMatrix {
		want.CamMatrix[i] = float32(i) * 0.5
	}

	got, err := ReadHeader(encodeHeader(t, want))
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if *got != *want {
		t.Errorf("header mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestHeaderRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		h    Header
	}{
		{"zero session id", Header{SessionID: 0, Xres: 4, Yres: 2}},
		{"negative session id", Header{SessionID: -3, Xres: 4, Yres: 2}},
		{"zero width", Header{SessionID: 1, Xres: 0, Yres: 2}},
		{"negative height", Header{SessionID: 1, Xres: 4, Yres: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadHeader(encodeHeader(t, &tc.h))
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("expected ProtocolError, got %v", err)
			}
		})
	}
}

func TestHeaderShortRead(t *testing.T) {
	full := encodeHeader(t, &Header{SessionID: 1, Xres: 4, Yres: 2})
	torn := bytes.NewReader(full.Bytes()[:full.Len()-10])
	_, err := ReadHeader(torn)
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError on torn header, got %v", err)
	}
}

func TestPixelsRoundTrip(t *testing.T) {
	want := &Pixels{
		Xres: 8, Yres: 4,
		BucketXo: 2, BucketYo: 1,
		BucketW: 4, BucketH: 2,
		Spp:     4,
		RAM:     512 << 20,
		Time:    1234,
		AOVName: "RGBA",
	}
	want.Data = make([]float32, 4*2*4)
	for i := range want.Data {
		want.Data[i] = float32(i) / 7
	}

	got, err := ReadPixels(encodePixels(t, want))
	if err != nil {
		t.Fatalf("ReadPixels failed: %v", err)
	}
	if got.AOVName != want.AOVName {
		t.Errorf("aov name = %q, want %q", got.AOVName, want.AOVName)
	}
	if got.BucketXo != want.BucketXo || got.BucketW != want.BucketW {
		t.Errorf("bucket rect mismatch: %+v", got)
	}
	if len(got.Data) != len(want.Data) {
		t.Fatalf("data length = %d, want %d", len(got.Data), len(want.Data))
	}
	for i := range want.Data {
		if got.Data[i] != want.Data[i] {
			t.Fatalf("data[%d] = %v, want %v", i, got.Data[i], want.Data[i])
		}
	}
}

func TestPixelsNameNotAssumedUTF8(t *testing.T) {
	// AOV names are raw bytes with a trailing NUL.
	p := &Pixels{
		Xres: 2, Yres: 2, BucketW: 1, BucketH: 1, Spp: 1,
		AOVName: string([]byte{0xff, 0xfe, 'Z'}),
		Data:    []float32{1},
	}
	got, err := ReadPixels(encodePixels(t, p))
	if err != nil {
		t.Fatalf("ReadPixels failed: %v", err)
	}
	if got.AOVName != p.AOVName {
		t.Errorf("aov name bytes mangled: %x", got.AOVName)
	}
}

// TestPixelsBucketOutsideResolution covers scenario S6: a bucket whose
// rectangle overflows the declared resolution is rejected at the codec,
// before any store mutation.
func TestPixelsBucketOutsideResolution(t *testing.T) {
	p := &Pixels{
		Xres: 4, Yres: 2,
		BucketXo: 3, BucketYo: 0,
		BucketW: 4, BucketH: 1,
		Spp:     4,
		AOVName: "RGBA",
		Data:    make([]float32, 4*1*4),
	}
	_, err := ReadPixels(encodePixels(t, p))
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError for overflowing bucket, got %v", err)
	}
}

// TestPixelsOversizedDeclarationsRejected verifies the hard limits fire
// on the declared sizes, without allocating the payload.
func TestPixelsOversizedDeclarationsRejected(t *testing.T) {
	t.Run("aov name over 4KiB", func(t *testing.T) {
		var buf bytes.Buffer
		for _, f := range []any{
			EchoID,
			int32(4), int32(2), int32(0), int32(0), int32(1), int32(1),
			int32(1), int64(0), int32(0),
			uint64(MaxAOVNameLen + 1),
		} {
			binary.Write(&buf, binary.LittleEndian, f)
		}
		_, err := ReadPixels(&buf)
		var perr *ProtocolError
		if !errors.As(err, &perr) {
			t.Fatalf("expected ProtocolError, got %v", err)
		}
	})

	t.Run("sample count over 256Mi", func(t *testing.T) {
		// 20000 * 20000 * 4 > 256Mi samples; header is well-formed up to
		// the sample-count check, no pixel bytes follow.
		var buf bytes.Buffer
		for _, f := range []any{
			EchoID,
			int32(20000), int32(20000), int32(0), int32(0), int32(20000), int32(20000),
			int32(4), int64(0), int32(0),
			uint64(2), []byte{'Z', 0},
		} {
			binary.Write(&buf, binary.LittleEndian, f)
		}
		_, err := ReadPixels(&buf)
		var perr *ProtocolError
		if !errors.As(err, &perr) {
			t.Fatalf("expected ProtocolError, got %v", err)
		}
	})
}

func TestPixelsShortPixelBlock(t *testing.T) {
	p := &Pixels{
		Xres: 4, Yres: 2, BucketW: 4, BucketH: 2, Spp: 1,
		AOVName: "Z",
		Data:    make([]float32, 8),
	}
	full := encodePixels(t, p)
	torn := bytes.NewReader(full.Bytes()[:full.Len()-4])
	_, err := ReadPixels(torn)
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError on torn pixel block, got %v", err)
	}
}

// TestSendPixelsBeforeOpen verifies the client-side state error: pixels
// cannot be sent before the open handshake produced a valid echo id.
func TestSendPixelsBeforeOpen(t *testing.T) {
	c := &Client{imageID: -1}
	if err := c.SendPixels(&Pixels{}); !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
	if err := c.CloseImage(); !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage on close, got %v", err)
	}
}

func TestUnpackVersion(t *testing.T) {
	cases := []struct {
		packed int32
		want   string
	}{
		{7_030_100, "7.3.1.0"},
		{1_020_304, "1.2.3.4"},
		{0, "0.0.0.0"},
		{5_060_708, "5.6.7.8"},
	}
	for _, tc := range cases {
		if got := UnpackVersion(tc.packed); got != tc.want {
			t.Errorf("UnpackVersion(%d) = %q, want %q", tc.packed, got, tc.want)
		}
	}
}

func TestFloatBlockPrecision(t *testing.T) {
	// Exact bit round-trip, including specials the renderer can emit.
	values := []float32{0, 1, -1, 0.5, float32(math.Inf(1)), math.MaxFloat32}
	p := &Pixels{
		Xres: int32(len(values)), Yres: 1,
		BucketW: int32(len(values)), BucketH: 1, Spp: 1,
		AOVName: "Z",
		Data:    values,
	}
	got, err := ReadPixels(encodePixels(t, p))
	if err != nil {
		t.Fatalf("ReadPixels failed: %v", err)
	}
	for i, v := range values {
		if math.Float32bits(got.Data[i]) != math.Float32bits(v) {
			t.Errorf("data[%d] bits = %x, want %x", i, math.Float32bits(got.Data[i]), math.Float32bits(v))
		}
	}
}
