package server

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/melMass/Aton/internal/fb"
	"github.com/melMass/Aton/internal/wire"
)

// Session consumes one accepted connection: it reads messages one at a
// time and dispatches them to the store until close, quit or failure.
//
// Failure isolation: a torn read or protocol violation terminates this
// session only. The error is logged, the stream is closed, the listener
// goes back to accepting, and any pixels already written stay intact.
type Session struct {
	conn  net.Conn
	br    *bufio.Reader
	store *fb.Store

	// bk carries the render-pass bookkeeping the store does not own:
	// remaining region area, IPR timer delta, active AOV names.
	bk fb.Bookkeeping
}

// NewSession wraps an accepted connection.
func NewSession(conn net.Conn, store *fb.Store) *Session {
	return &Session{
		conn:  conn,
		br:    bufio.NewReaderSize(conn, 64<<10),
		store: store,
	}
}

// Run drives the message loop. It returns true when the QUIT sentinel
// arrived, telling the caller to shut the listener down. The connection
// is closed on return.
//
// Payloads are read fully into memory before any store call; the store
// lock is never held across a socket read.
func (s *Session) Run() (quit bool) {
	defer s.conn.Close()
	remote := s.conn.RemoteAddr().String()

	for {
		kind, err := wire.ReadKind(s.br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				slog.Debug("peer disconnected", "remote", remote)
			} else {
				slog.Error("session terminated", "remote", remote, "error", err)
			}
			return false
		}

		switch kind {
		case wire.KindOpen:
			// The sender blocks on the echo id before emitting the
			// header, so it goes out first.
			if err := wire.WriteEchoID(s.conn); err != nil {
				slog.Error("echo id write failed", "remote", remote, "error", err)
				return false
			}
			h, err := wire.ReadHeader(s.br)
			if err != nil {
				slog.Error("bad session header", "remote", remote, "error", err)
				return false
			}
			s.store.Open(h, &s.bk)

		case wire.KindPixels:
			p, err := wire.ReadPixels(s.br)
			if err != nil {
				slog.Error("bad pixel message", "remote", remote, "error", err)
				return false
			}
			if err := s.store.WriteBucket(p, &s.bk); err != nil {
				// Out-of-range aborts only the current bucket; losing
				// the session for it would throw away good pixels.
				if errors.Is(err, fb.ErrOutOfRange) {
					continue
				}
				slog.Error("bucket rejected", "remote", remote, "error", err)
				return false
			}

		case wire.KindClose:
			if err := wire.ReadCloseEcho(s.br); err != nil {
				slog.Error("bad close message", "remote", remote, "error", err)
			}
			slog.Info("image closed", "remote", remote, "session_id", s.bk.SessionID)
			return false

		case wire.KindQuit:
			slog.Info("quit sentinel received", "remote", remote)
			return true
		}
	}
}
