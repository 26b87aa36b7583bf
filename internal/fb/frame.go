package fb

import (
	"github.com/melMass/Aton/internal/wire"
)

// Frame is one framebuffer: the set of AOV planes rendered for a single
// frame number, plus the render-state snapshot the host status bar shows.
//
// All methods assume the store's lock is held appropriately; Frame itself
// is not safe for unsynchronized concurrent use.
type Frame struct {
	number float64
	width  int
	height int

	camFov    float32
	camMatrix [16]float32

	versionInt int32
	version    string // "arch.major.minor.patch" for display

	samples [6]int32

	ram  int64 // current renderer memory, MB
	pram int64 // peak memory, MB, monotonic over the frame's lifetime

	elapsed  int32 // render time, ms, delta-corrected across IPR restarts
	progress int64 // percent, clamped to [0, 100]

	ready bool

	// planes in insertion order; the first is the anchor AOV.
	planes []*Plane
}

// NewFrame creates an empty frame at the given number and resolution.
func NewFrame(number float64, width, height int) *Frame {
	return &Frame{number: number, width: width, height: height}
}

// Number returns the frame number.
func (f *Frame) Number() float64 { return f.number }

// Width returns the frame resolution width.
func (f *Frame) Width() int { return f.width }

// Height returns the frame resolution height.
func (f *Frame) Height() int { return f.height }

// Ready reports whether at least one bucket write has landed since the
// AOV set or the resolution last changed.
func (f *Frame) Ready() bool { return f.ready }

// Progress returns the render progress percent.
func (f *Frame) Progress() int64 { return f.progress }

// RAM returns the current and peak renderer memory in MB.
func (f *Frame) RAM() (current, peak int64) { return f.ram, f.pram }

// Elapsed returns the delta-corrected render time in ms.
func (f *Frame) Elapsed() int32 { return f.elapsed }

// Version returns the renderer version display string.
func (f *Frame) Version() string { return f.version }

// Samples returns the six sample counts from the session header.
func (f *Frame) Samples() [6]int32 { return f.samples }

// Camera returns the camera field of view and camera-to-world matrix.
func (f *Frame) Camera() (fov float32, matrix [16]float32) {
	return f.camFov, f.camMatrix
}

// empty reports whether no AOV plane has been registered yet.
func (f *Frame) empty() bool { return len(f.planes) == 0 }

// planeIndex resolves an AOV name to its insertion index.
func (f *Frame) planeIndex(name string) (int, bool) {
	for i, p := range f.planes {
		if p.name == name {
			return i, true
		}
	}
	return 0, false
}

// anchorName returns the first registered AOV name, "" when empty.
// The anchor drives progress accounting and update flagging.
func (f *Frame) anchorName() string {
	if len(f.planes) == 0 {
		return ""
	}
	return f.planes[0].name
}

// addPlane registers a new AOV with storage shaped by spp.
func (f *Frame) addPlane(name string, spp int) *Plane {
	p := newPlane(name, spp, f.width, f.height)
	f.planes = append(f.planes, p)
	return p
}

// aovNames returns the AOV names in insertion order.
func (f *Frame) aovNames() []string {
	names := make([]string, len(f.planes))
	for i, p := range f.planes {
		names[i] = p.name
	}
	return names
}

// aovsEqual compares the frame's AOV set against the names seen during
// the current render pass, order included.
func (f *Frame) aovsEqual(seen []string) bool {
	if len(seen) != len(f.planes) {
		return false
	}
	for i, p := range f.planes {
		if p.name != seen[i] {
			return false
		}
	}
	return true
}

// resize moves the frame to a new resolution. Every plane keeps its
// identity and samples-per-pixel; storage is re-allocated zero-filled.
// Readiness drops until the next complete plane write.
func (f *Frame) resize(width, height int) {
	f.width, f.height = width, height
	for _, p := range f.planes {
		p.alloc(width, height)
	}
	f.ready = false
}

// truncateToAnchor drops every plane after the anchor. Used when the AOV
// set changes between render passes.
func (f *Frame) truncateToAnchor() {
	if len(f.planes) > 1 {
		f.planes = f.planes[:1]
	}
	f.ready = false
}

// setCamera stores a new camera snapshot.
func (f *Frame) setCamera(fov float32, matrix [16]float32) {
	f.camFov = fov
	f.camMatrix = matrix
}

func (f *Frame) cameraChanged(fov float32, matrix [16]float32) bool {
	return f.camFov != fov || f.camMatrix != matrix
}

// setVersion decodes and stores the packed renderer version.
func (f *Frame) setVersion(packed int32) {
	f.versionInt = packed
	f.version = wire.UnpackVersion(packed)
}

// setRAM converts bytes to MB and tracks the peak. Peak memory is
// monotonic for the lifetime of the frame.
func (f *Frame) setRAM(bytes int64) {
	mb := bytes / (1 << 20)
	f.ram = mb
	if mb > f.pram {
		f.pram = mb
	}
}

// setElapsed applies the per-IPR delta so a renderer restart does not run
// the clock backwards: a delta larger than the reported time means the
// timer restarted, so the raw value is kept.
func (f *Frame) setElapsed(ms, delta int32) {
	if delta > ms {
		f.elapsed = ms
	} else {
		f.elapsed = ms - delta
	}
}

// setProgress clamps to [0, 100].
func (f *Frame) setProgress(pct int64) {
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	f.progress = pct
}

// clone deep-copies the frame, planes included. Multi-frame appends start
// from a clone of the most recent frame so already-received planes carry
// over to the new frame number.
func (f *Frame) clone() *Frame {
	c := *f
	c.planes = make([]*Plane, len(f.planes))
	for i, p := range f.planes {
		c.planes[i] = p.clone()
	}
	return &c
}
