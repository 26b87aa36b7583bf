package fb

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/melMass/Aton/internal/wire"
)

// ErrOutOfRange reports an internal buffer-index invariant breach while
// copying a bucket. It aborts only the current bucket; the frame stays
// valid.
var ErrOutOfRange = errors.New("fb: pixel index out of range")

// ErrNoSession is returned when a bucket arrives for a session the store
// has never seen an open message for.
var ErrNoSession = errors.New("fb: pixels received before open")

// BBox is a pixel rectangle in bottom-left coordinates, upper bounds
// exclusive.
type BBox struct {
	X0, Y0, X1, Y1 int
}

// Update describes one store mutation the compositor should repaint for.
type Update struct {
	SessionID  int32
	FrameIndex int
	Frame      float64
	Counter    uint64
	BBox       BBox
	Progress   int64
}

// Bookkeeping is the per-connection render-pass state the session reader
// threads through Open and WriteBucket. It mirrors what a render pass
// owns and the store does not: the remaining region area, the IPR timer
// delta and the AOV names seen since the last open.
type Bookkeeping struct {
	SessionID  int32
	FrameIndex int

	// RemainingArea counts down from the header's region area as anchor
	// buckets land; it drives the progress percent.
	RemainingArea int64

	// ActiveTime is the last elapsed time any bucket reported.
	// DeltaTime snapshots it at open so IPR restarts correct the clock.
	ActiveTime int32
	DeltaTime  int32

	// ActiveAOVs accumulates AOV names seen since the last open, in
	// arrival order. Compared against the frame's planes on the next
	// open to detect an AOV-set change.
	ActiveAOVs []string
}

// Options seed the store's policy toggles.
type Options struct {
	MultiFrame bool // append frames per number instead of one live slot
	EnableAOVs bool // store every AOV, not just the anchor
	LiveCamera bool // push camera changes to the host
}

// Store is the process-wide framebuffer state: an ordered list of
// sessions, each an ordered list of frames. One Store is created at
// service start and torn down with the process; the compositor reads it
// through a Surface.
type Store struct {
	mu sync.RWMutex

	sessions []*Session
	byID     map[int32]*Session

	counter atomic.Uint64
	bbox    BBox

	capturing  bool
	multiFrame bool
	enableAOVs bool
	liveCamera bool

	// Host hooks. All optional; invoked outside the store lock.
	onUpdate       func(Update)
	onCamera       func(fov float32, matrix [16]float32)
	onChannelReset func()

	stats StoreStats
}

// Session is one continuous render job, identified by the renderer-chosen
// id from the session header. Sessions live until ClearAll.
type Session struct {
	id      int32
	numbers []float64 // frame numbers, insertion order, parallel to frames
	frames  []*Frame
}

// ID returns the renderer-chosen session id.
func (s *Session) ID() int32 { return s.id }

// StoreStats is a snapshot of store-level counters.
type StoreStats struct {
	Sessions       int
	Frames         int
	BucketsWritten uint64
	BucketsSkipped uint64
	SamplesCopied  uint64
}

// NewStore creates an empty store with the given policy toggles.
func NewStore(opts Options) *Store {
	return &Store{
		byID:       make(map[int32]*Session),
		multiFrame: opts.MultiFrame,
		enableAOVs: opts.EnableAOVs,
		liveCamera: opts.LiveCamera,
	}
}

// SetUpdateFunc installs the repaint hook, called once per anchor bucket
// with capturing off and once on ClearAll.
func (st *Store) SetUpdateFunc(fn func(Update)) { st.onUpdate = fn }

// SetCameraFunc installs the live-camera hook.
func (st *Store) SetCameraFunc(fn func(fov float32, matrix [16]float32)) { st.onCamera = fn }

// SetChannelResetFunc installs the hook that resets the compositor's
// active channel set to RGBA after an AOV-set change or a resize.
func (st *Store) SetChannelResetFunc(fn func()) { st.onChannelReset = fn }

// SetCapturing suppresses update notifications while the host exports
// frames to disk.
func (st *Store) SetCapturing(on bool) {
	st.mu.Lock()
	st.capturing = on
	st.mu.Unlock()
}

// SetMultiFrame toggles multi-frame accumulation for subsequent opens.
func (st *Store) SetMultiFrame(on bool) {
	st.mu.Lock()
	st.multiFrame = on
	st.mu.Unlock()
}

// SetEnableAOVs toggles storage of non-anchor AOVs for subsequent buckets.
func (st *Store) SetEnableAOVs(on bool) {
	st.mu.Lock()
	st.enableAOVs = on
	st.mu.Unlock()
}

// SetLiveCamera toggles camera push to the host.
func (st *Store) SetLiveCamera(on bool) {
	st.mu.Lock()
	st.liveCamera = on
	st.mu.Unlock()
}

// UpdateCounter returns the monotonically increasing update counter. The
// host compositor polls it at repaint to invalidate its cache.
func (st *Store) UpdateCounter() uint64 { return st.counter.Load() }

// LastBBox returns the bounding box of the last flagged change.
func (st *Store) LastBBox() BBox {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.bbox
}

// Stats returns a snapshot of store-level counters.
func (st *Store) Stats() StoreStats {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s := st.stats
	s.Sessions = len(st.sessions)
	s.Frames = 0
	for _, sess := range st.sessions {
		s.Frames += len(sess.frames)
	}
	return s
}

// ClearAll empties every session, resets the counters and pushes one
// final update so the host repaints to black.
func (st *Store) ClearAll() {
	st.mu.Lock()
	st.sessions = nil
	st.byID = make(map[int32]*Session)
	st.bbox = BBox{}
	st.stats = StoreStats{}
	st.counter.Store(0)
	n := st.counter.Add(1)
	fn := st.onUpdate
	st.mu.Unlock()

	if fn != nil {
		fn(Update{Counter: n})
	}
	slog.Info("framebuffer store cleared")
}

// Open applies a session header: locates or creates the session and the
// target frame per the state machine, runs the compare step, and resets
// the connection's render-pass bookkeeping.
//
// Returns the index of the frame subsequent buckets will write to.
func (st *Store) Open(h *wire.Header, bk *Bookkeeping) int {
	st.mu.Lock()

	sess, ok := st.byID[h.SessionID]
	if !ok {
		sess = &Session{id: h.SessionID}
		st.byID[h.SessionID] = sess
		st.sessions = append(st.sessions, sess)
		slog.Info("session created", "session_id", h.SessionID)
	}

	number := float64(h.Frame)
	width, height := int(h.Xres), int(h.Yres)

	if st.multiFrame {
		if _, exists := frameIndexOf(sess.numbers, number); !exists {
			var nf *Frame
			if n := len(sess.frames); n > 0 {
				// Carry the latest planes forward so the new frame shows
				// the previous image until its own buckets arrive.
				nf = sess.frames[n-1].clone()
				nf.number = number
			} else {
				nf = NewFrame(number, width, height)
			}
			sess.numbers = append(sess.numbers, number)
			sess.frames = append(sess.frames, nf)
		}
	} else {
		var nf *Frame
		if len(sess.frames) > 0 {
			nf = sess.frames[pickFrame(sess.numbers, number)].clone()
			nf.number = number
		} else {
			nf = NewFrame(number, width, height)
		}
		sess.numbers = []float64{number}
		sess.frames = []*Frame{nf}
	}

	fi := pickFrame(sess.numbers, number)
	f := sess.frames[fi]

	// Compare step against the incoming header.
	resetChannels := false
	if !f.empty() && len(bk.ActiveAOVs) > 0 {
		if f.number != number {
			f.number = number
			sess.numbers[fi] = number
		}
		if !f.aovsEqual(bk.ActiveAOVs) {
			f.truncateToAnchor()
			resetChannels = true
		}
	}
	if f.width != width || f.height != height {
		f.resize(width, height)
		resetChannels = true
	}

	cameraMoved := f.cameraChanged(h.CamFov, h.CamMatrix)
	if cameraMoved {
		f.setCamera(h.CamFov, h.CamMatrix)
	}
	if f.versionInt != h.Version {
		f.setVersion(h.Version)
	}
	if f.samples != h.Samples {
		f.samples = h.Samples
	}

	pushCamera := cameraMoved && st.liveCamera
	camFov, camMatrix := f.camFov, f.camMatrix
	onCamera, onReset := st.onCamera, st.onChannelReset

	// Fresh render pass: progress restarts from the new region area and
	// the IPR delta snapshots the last reported time.
	bk.SessionID = h.SessionID
	bk.FrameIndex = fi
	bk.RemainingArea = h.RegionArea
	bk.DeltaTime = bk.ActiveTime
	bk.ActiveAOVs = bk.ActiveAOVs[:0]

	st.mu.Unlock()

	if resetChannels && onReset != nil {
		onReset()
	}
	if pushCamera && onCamera != nil {
		onCamera(camFov, camMatrix)
	}

	slog.Debug("frame opened",
		"session_id", h.SessionID,
		"frame", number,
		"frame_index", fi,
		"resolution", fmt.Sprintf("%dx%d", width, height),
		"region_area", h.RegionArea,
	)
	return fi
}

// session returns the session for id, nil when unseen. Caller holds a lock.
func (st *Store) session(id int32) *Session { return st.byID[id] }

// frameIndexOf finds an exact frame number, reporting whether it exists.
func frameIndexOf(numbers []float64, n float64) (int, bool) {
	for i, v := range numbers {
		if v == n {
			return i, true
		}
	}
	return 0, false
}

// pickFrame maps a time to a frame index: exact match, else the largest
// number at or below t, else the smallest number, else 0 on an empty list.
func pickFrame(numbers []float64, t float64) int {
	if len(numbers) == 0 {
		return 0
	}
	below, smallest := -1, 0
	for i, n := range numbers {
		if n == t {
			return i
		}
		if n < t && (below < 0 || n > numbers[below]) {
			below = i
		}
		if n < numbers[smallest] {
			smallest = i
		}
	}
	if below >= 0 {
		return below
	}
	return smallest
}
