package stream

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

// fakeConn lets tests feed bytes to Peekable/Counted without a real
// socket.
type fakeConn struct {
	net.Conn
	r io.Reader
	w io.Writer
}

func (f *fakeConn) Read(b []byte) (int, error)  { return f.r.Read(b) }
func (f *fakeConn) Write(b []byte) (int, error) { return f.w.Write(b) }
func (f *fakeConn) Close() error                { return nil }
func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }

func TestPeekableFaithfulness(t *testing.T) {
	data := []byte("hello, world! this is a test payload")
	pr, pw := io.Pipe()
	go func() {
		pw.Write(data)
		pw.Close()
	}()
	p := NewPeekable(&fakeConn{r: pr})

	got, err := p.PeekExact(5)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("peek = %q", got)
	}
	// Peeking again must return the same bytes (no consumption).
	got2, err := p.PeekExact(5)
	if err != nil {
		t.Fatal(err)
	}
	if string(got2) != "hello" {
		t.Fatalf("second peek = %q", got2)
	}
	if err := p.Drain(7); err != nil { // "hello, "
		t.Fatal(err)
	}
	rest, err := io.ReadAll(p)
	if err != nil {
		t.Fatal(err)
	}
	full := append([]byte("hello, "), rest...)
	if string(full) != string(data) {
		t.Fatalf("reassembled = %q, want %q", full, data)
	}
}

func TestIdleTimeoutFiresAndResets(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	it := NewIdleTimeout(server, 100*time.Millisecond)

	// A read that sees traffic inside the window succeeds and resets
	// the deadline for the next one.
	go func() {
		time.Sleep(30 * time.Millisecond)
		client.Write([]byte("x"))
	}()
	buf := make([]byte, 1)
	if _, err := it.Read(buf); err != nil {
		t.Fatalf("read inside idle window: %v", err)
	}

	// A silent peer times the next read out.
	_, err := it.Read(buf)
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestCountedTracksAndFinalizes(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		pw.Write([]byte("abcde"))
		pw.Close()
	}()

	var gotRead, gotWritten uint64
	var finalized bool
	var sink io.Writer = io.Discard
	c := NewCounted(&fakeConn{r: pr, w: sink}, func(read, written uint64) {
		finalized = true
		gotRead = read
		gotWritten = written
	})

	buf := make([]byte, 5)
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Write([]byte("xyz")); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if !finalized {
		t.Fatal("finalizer did not run")
	}
	if gotRead != 5 || gotWritten != 3 {
		t.Fatalf("read=%d written=%d", gotRead, gotWritten)
	}

	// Closing again must not re-invoke the finalizer.
	finalized = false
	c.Close()
	if finalized {
		t.Fatal("finalizer ran twice")
	}
}
