// Package server owns the TCP endpoint: binding with port search,
// accepting one session at a time, and the QUIT self-connect that
// unblocks the accept loop from inside the process.
package server

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/melMass/Aton/internal/wire"
)

// portSearchWindow is how many consecutive ports are tried when search
// mode is on.
const portSearchWindow = 99

// BindError reports that no port in the requested window could be
// acquired. Fatal to the listener; the service process stays up.
type BindError struct {
	Start, End int
	Err        error
}

func (e *BindError) Error() string {
	if e.Start == e.End {
		return fmt.Sprintf("server: failed to connect to port: %d", e.Start)
	}
	return fmt.Sprintf("server: failed to connect to port: %d-%d", e.Start, e.End)
}

func (e *BindError) Unwrap() error { return e.Err }

// Listener wraps a bound IPv4 TCP endpoint. It accepts one live session
// at a time; further connections queue in the OS backlog until the
// current session ends. Renderers serialize bucket emission and the
// store is single-writer per session id, so fan-in buys nothing.
type Listener struct {
	port int
	addr string
	ln   net.Listener
}

// Listen binds the requested port. With search on, the next
// portSearchWindow ports are tried before giving up with a BindError.
func Listen(port int, search bool) (*Listener, error) {
	end := port
	if search {
		end = port + portSearchWindow
	}
	var lastErr error
	for p := port; p <= end; p++ {
		ln, err := net.Listen("tcp4", fmt.Sprintf(":%d", p))
		if err != nil {
			lastErr = err
			continue
		}
		// Port 0 asks the kernel; report what it actually bound.
		bound := ln.Addr().(*net.TCPAddr).Port
		slog.Info("listening", "port", bound)
		return &Listener{port: bound, addr: ln.Addr().String(), ln: ln}, nil
	}
	return nil, &BindError{Start: port, End: end, Err: lastErr}
}

// Port returns the port the listener actually bound.
func (l *Listener) Port() int { return l.port }

// Addr returns the bound address string.
func (l *Listener) Addr() string { return l.addr }

// Accept blocks until a connection arrives. The connection may be a
// renderer session or the QUIT self-connect; the session reader tells
// them apart by the first kind tag.
func (l *Listener) Accept() (net.Conn, error) {
	return l.ln.Accept()
}

// Quit self-connects and delivers the QUIT sentinel. This is the only
// supported way to unblock Accept from the same process.
func (l *Listener) Quit() error {
	return wire.SendQuit("localhost", l.port)
}

// Close releases the port.
func (l *Listener) Close() error {
	return l.ln.Close()
}
