package stream

import (
	"net"
	"time"
)

// IdleTimeout wraps a net.Conn, resetting a read deadline before every
// Read call so a Read fails with a timeout error if no bytes arrive for
// the configured duration; closing the connection is left to the
// caller. Writes are not subject to the idle timer — only inbound
// activity resets it. The relay engine uses it for the per-connection
// idle-read timeout (600s); the UDP tunnel's 30s idle timeout is set
// directly on the UDP socket by internal/udprelay.
type IdleTimeout struct {
	net.Conn
	d time.Duration
}

// NewIdleTimeout wraps conn with an idle-read deadline of d. A zero d
// disables the timeout.
func NewIdleTimeout(conn net.Conn, d time.Duration) *IdleTimeout {
	return &IdleTimeout{Conn: conn, d: d}
}

// Read implements io.Reader, resetting the deadline on every call so a
// stalled peer is torn down after d of inactivity rather than a single
// fixed deadline from connection start.
func (t *IdleTimeout) Read(b []byte) (int, error) {
	if t.d > 0 {
		if err := t.Conn.SetReadDeadline(time.Now().Add(t.d)); err != nil {
			return 0, err
		}
	}
	return t.Conn.Read(b)
}
