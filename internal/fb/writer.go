package fb

import (
	"log/slog"

	"github.com/melMass/Aton/internal/wire"
)

// WriteBucket composes one received bucket into the addressed AOV plane
// of the frame the connection last opened.
//
// The copy applies the coordinate convention (wire origin top-left,
// storage origin bottom-left), the channel-count policy (spp 4 splits
// into color + alpha, spp 1 targets the scalar plane), and — only for
// the frame's anchor AOV with capturing off — the progress, memory,
// elapsed-time and update-flag bookkeeping.
//
// The store lock is held for the single bucket copy plus its
// bookkeeping; the payload must already be fully read off the socket.
func (st *Store) WriteBucket(p *wire.Pixels, bk *Bookkeeping) error {
	st.mu.Lock()

	sess := st.session(bk.SessionID)
	if sess == nil || bk.FrameIndex >= len(sess.frames) {
		st.mu.Unlock()
		return ErrNoSession
	}
	f := sess.frames[bk.FrameIndex]

	// A renderer may change resolution mid-session without a fresh open.
	if f.width != int(p.Xres) || f.height != int(p.Yres) {
		f.resize(int(p.Xres), int(p.Yres))
	}

	// Track the AOV names of this render pass. With AOVs disabled only
	// the first seen name is kept; buckets for the rest are skipped
	// before any allocation.
	if !containsName(bk.ActiveAOVs, p.AOVName) {
		if st.enableAOVs || len(bk.ActiveAOVs) == 0 {
			bk.ActiveAOVs = append(bk.ActiveAOVs, p.AOVName)
		}
	}
	if !st.enableAOVs && p.AOVName != bk.ActiveAOVs[0] {
		st.stats.BucketsSkipped++
		st.mu.Unlock()
		return nil
	}

	pi, ok := f.planeIndex(p.AOVName)
	if !ok {
		if !st.enableAOVs && !f.empty() {
			st.stats.BucketsSkipped++
			st.mu.Unlock()
			return nil
		}
		f.addPlane(p.AOVName, int(p.Spp))
		pi = len(f.planes) - 1
	}
	plane := f.planes[pi]

	w, h := int(p.BucketW), int(p.BucketH)
	xo, yo := int(p.BucketXo), int(p.BucketYo)
	spp := int(p.Spp)

	for y := 0; y < h; y++ {
		row := y * w * spp
		ypos := f.height - 1 - (y + yo)
		for x := 0; x < w; x++ {
			off := row + x*spp
			xpos := x + xo
			for c := 0; c < spp; c++ {
				if !plane.set(xpos, ypos, c, p.Data[off+c]) {
					st.mu.Unlock()
					slog.Warn("bucket write out of range, bucket aborted",
						"session_id", bk.SessionID,
						"aov", p.AOVName,
						"x", xpos, "y", ypos, "channel", c,
					)
					return ErrOutOfRange
				}
			}
		}
	}

	// A write landed: the frame has pixels the compositor can trust.
	f.ready = true

	st.stats.BucketsWritten++
	st.stats.SamplesCopied += uint64(w * h * spp)
	bk.ActiveTime = p.Time

	var (
		ev   Update
		emit bool
	)
	if plane.name == f.anchorName() && !st.capturing {
		bk.RemainingArea -= int64(w) * int64(h)
		if area := int64(f.width) * int64(f.height); area > 0 {
			f.setProgress(100 - bk.RemainingArea*100/area)
		}
		f.setRAM(p.RAM)
		f.setElapsed(p.Time, bk.DeltaTime)

		st.bbox = BBox{
			X0: xo,
			Y0: f.height - (yo + h),
			X1: xo + w,
			Y1: f.height - yo,
		}
		ev = Update{
			SessionID:  bk.SessionID,
			FrameIndex: bk.FrameIndex,
			Frame:      f.number,
			Counter:    st.counter.Add(1),
			BBox:       st.bbox,
			Progress:   f.progress,
		}
		emit = true
	}
	fn := st.onUpdate
	st.mu.Unlock()

	if emit && fn != nil {
		fn(ev)
	}
	return nil
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
