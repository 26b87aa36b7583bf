package core

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/melMass/Aton/internal/fb"
)

// Updater is the tick flow: at a fixed cadence it watches the host's
// viewing time and, when it moved, publishes the effective frame index
// for the most recent session. The contract is at most one frame-pick
// recomputation per tick interval, regardless of how often the host
// scrubs.
//
// The viewing time is a single-slot mailbox: SetTime overwrites, the
// tick loop consumes. Scrub positions the loop never saw are stale the
// moment a newer one lands, so nothing queues.
type Updater struct {
	surface  *fb.Surface
	interval time.Duration

	// viewTime holds math.Float64bits of the host time; NaN = unset.
	viewTime atomic.Uint64

	mu       sync.RWMutex
	onFrame  func(sessionID int32, frameIndex int)
	onCamera func(fov float32, matrix [16]float32)
}

// NewUpdater creates a tick loop over the surface at the given cadence.
func NewUpdater(surface *fb.Surface, interval time.Duration) *Updater {
	u := &Updater{surface: surface, interval: interval}
	u.viewTime.Store(math.Float64bits(math.NaN()))
	return u
}

// SetTime records the host's current viewing time. Non-blocking.
func (u *Updater) SetTime(t float64) {
	u.viewTime.Store(math.Float64bits(t))
}

// OnFrame installs the host hook invoked with the new effective frame
// index after a time change.
func (u *Updater) OnFrame(fn func(sessionID int32, frameIndex int)) {
	u.mu.Lock()
	u.onFrame = fn
	u.mu.Unlock()
}

// OnCamera installs the live-camera hook. It is called with the picked
// frame's camera after every published time change, whether or not the
// picked frame index changed; the store's live-camera toggle does not
// gate it.
func (u *Updater) OnCamera(fn func(fov float32, matrix [16]float32)) {
	u.mu.Lock()
	u.onCamera = fn
	u.mu.Unlock()
}

// Run drives the tick loop until ctx is cancelled.
func (u *Updater) Run(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	prev := math.NaN()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t := math.Float64frombits(u.viewTime.Load())
			if math.IsNaN(t) || t == prev {
				continue
			}
			prev = t
			u.publish(t)
		}
	}
}

// publish recomputes the effective frame index for the latest session.
func (u *Updater) publish(t float64) {
	sessions := u.surface.Sessions()
	if len(sessions) == 0 {
		return
	}
	sid := sessions[len(sessions)-1]
	if len(u.surface.Frames(sid)) < 2 {
		// Single-frame sessions have nothing to re-pick.
		return
	}
	fi := u.surface.PickFrame(sid, t)

	u.mu.RLock()
	onFrame, onCamera := u.onFrame, u.onCamera
	u.mu.RUnlock()

	if onCamera != nil {
		fov, matrix := u.surface.Camera(sid, fi)
		onCamera(fov, matrix)
	}
	if onFrame != nil {
		onFrame(sid, fi)
	}
}
