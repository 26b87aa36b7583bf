package fb

// Surface is the read-only view the host compositor scans against.
// Many Surfaces may read concurrently; each call holds the store's read
// lock for at most one row.
//
// Every read is forgiving: unknown sessions, out-of-range frame indices,
// missing AOVs, pixels outside the plane and frames that are not ready
// all come back as zero values, never as errors. A torn read simply sees
// 0.0 until the next successful write.
type Surface struct {
	st *Store
}

// ChannelInfo names one AOV plane and its samples-per-pixel.
type ChannelInfo struct {
	Name string
	SPP  int
}

// Status is the render-state snapshot for one frame, as shown in the
// host's status bar and published by the status emitter.
type Status struct {
	SessionID  int32
	FrameIndex int
	Frame      float64
	Width      int
	Height     int
	Ready      bool
	Progress   int64
	RAM        int64 // MB
	PeakRAM    int64 // MB
	ElapsedMS  int32
	Version    string
	Samples    [6]int32
}

// NewSurface wraps the store in a read-only view.
func NewSurface(st *Store) *Surface { return &Surface{st: st} }

// Sessions returns the session ids in creation order.
func (s *Surface) Sessions() []int32 {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	ids := make([]int32, len(s.st.sessions))
	for i, sess := range s.st.sessions {
		ids[i] = sess.id
	}
	return ids
}

// Frames returns the session's frame numbers in insertion order
// (deliberately not sorted; the pick rule handles ordering).
func (s *Surface) Frames(sessionID int32) []float64 {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	sess := s.st.session(sessionID)
	if sess == nil {
		return nil
	}
	return append([]float64(nil), sess.numbers...)
}

// PickFrame maps a viewing time to a frame index: exact match, else
// nearest below, else the smallest frame, else 0 on an empty session.
func (s *Surface) PickFrame(sessionID int32, t float64) int {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	sess := s.st.session(sessionID)
	if sess == nil {
		return 0
	}
	return pickFrame(sess.numbers, t)
}

// IsReady reports whether the frame has pixels the compositor can trust.
func (s *Surface) IsReady(sessionID int32, frameIndex int) bool {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	f := s.frame(sessionID, frameIndex)
	return f != nil && f.ready
}

// Dimensions returns the frame resolution, (0, 0) when unknown.
func (s *Surface) Dimensions(sessionID int32, frameIndex int) (width, height int) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	f := s.frame(sessionID, frameIndex)
	if f == nil {
		return 0, 0
	}
	return f.width, f.height
}

// Channels lists the frame's AOV planes in insertion order.
func (s *Surface) Channels(sessionID int32, frameIndex int) []ChannelInfo {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	f := s.frame(sessionID, frameIndex)
	if f == nil {
		return nil
	}
	out := make([]ChannelInfo, len(f.planes))
	for i, p := range f.planes {
		out[i] = ChannelInfo{Name: p.name, SPP: p.SPP()}
	}
	return out
}

// ScanRow reads channel c of row y over [x0, x1) from the named AOV, in
// bottom-left coordinates. Samples outside the plane, reads against a
// frame that is not ready, and unknown AOVs yield 0.0.
func (s *Surface) ScanRow(sessionID int32, frameIndex int, aov string, y, x0, x1, c int) []float32 {
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	out := make([]float32, x1-x0)

	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	f := s.frame(sessionID, frameIndex)
	if f == nil || !f.ready {
		return out
	}
	pi, ok := f.planeIndex(aov)
	if !ok {
		return out
	}
	p := f.planes[pi]
	for i := range out {
		out[i] = p.at(x0+i, y, c)
	}
	return out
}

// UpdateCounter mirrors Store.UpdateCounter for read-only holders.
func (s *Surface) UpdateCounter() uint64 { return s.st.UpdateCounter() }

// LastBBox mirrors Store.LastBBox.
func (s *Surface) LastBBox() BBox { return s.st.LastBBox() }

// Status snapshots the render state of one frame.
func (s *Surface) Status(sessionID int32, frameIndex int) Status {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	f := s.frame(sessionID, frameIndex)
	if f == nil {
		return Status{SessionID: sessionID, FrameIndex: frameIndex}
	}
	return Status{
		SessionID:  sessionID,
		FrameIndex: frameIndex,
		Frame:      f.number,
		Width:      f.width,
		Height:     f.height,
		Ready:      f.ready,
		Progress:   f.progress,
		RAM:        f.ram,
		PeakRAM:    f.pram,
		ElapsedMS:  f.elapsed,
		Version:    f.version,
		Samples:    f.samples,
	}
}

// Camera returns the frame's camera snapshot for scene-camera mirroring.
func (s *Surface) Camera(sessionID int32, frameIndex int) (fov float32, matrix [16]float32) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	f := s.frame(sessionID, frameIndex)
	if f == nil {
		return 0, matrix
	}
	return f.camFov, f.camMatrix
}

// frame resolves (session, index), nil when either is unknown.
// Caller holds the read lock.
func (s *Surface) frame(sessionID int32, frameIndex int) *Frame {
	sess := s.st.session(sessionID)
	if sess == nil || frameIndex < 0 || frameIndex >= len(sess.frames) {
		return nil
	}
	return sess.frames[frameIndex]
}
