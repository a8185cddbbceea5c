package stream

import (
	"net"
	"sync/atomic"
)

// FinalizeFunc receives the cumulative read/write byte counts of a
// Counted connection when it is closed.
type FinalizeFunc func(read, written uint64)

// Counted wraps a net.Conn, atomically accumulating bytes read and
// written. The finalizer is single-shot and fires from the first Close:
// every code path that owns a Counted must defer Close so it always
// runs exactly once, from exactly one exit point.
type Counted struct {
	net.Conn
	read    uint64
	written uint64
	onClose FinalizeFunc
	closed  atomic.Bool
}

// NewCounted wraps conn with byte counters. onClose, if non-nil, is
// invoked once with the final totals when Close is first called.
func NewCounted(conn net.Conn, onClose FinalizeFunc) *Counted {
	return &Counted{Conn: conn, onClose: onClose}
}

// Read implements io.Reader.
func (c *Counted) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		atomic.AddUint64(&c.read, uint64(n))
	}
	return n, err
}

// Write implements io.Writer.
func (c *Counted) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 {
		atomic.AddUint64(&c.written, uint64(n))
	}
	return n, err
}

// Totals returns the current cumulative read/write counts.
func (c *Counted) Totals() (read, written uint64) {
	return atomic.LoadUint64(&c.read), atomic.LoadUint64(&c.written)
}

// Close closes the underlying connection and, on the first call,
// invokes the finalizer with the final totals. Subsequent calls only
// close the connection again (idempotently, per net.Conn semantics).
func (c *Counted) Close() error {
	err := c.Conn.Close()
	if c.closed.CompareAndSwap(false, true) && c.onClose != nil {
		r, w := c.Totals()
		c.onClose(r, w)
	}
	return err
}
