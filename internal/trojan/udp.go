package trojan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/imgk/trojan-relay/internal/address"
)

// MaxDatagramLen is the largest payload a single UDP packet frame may
// carry, matching the 16-bit length field.
const MaxDatagramLen = 0xffff

// ErrDatagramTooLarge is returned by Encode when payload exceeds
// MaxDatagramLen.
var ErrDatagramTooLarge = errors.New("trojan: udp datagram exceeds 65535 bytes")

// Packet is one UDP-over-TCP frame: a destination address plus payload.
type Packet struct {
	Addr    address.Address
	Payload []byte
}

// Encode writes one frame to w: ATYP+addr+port, a big-endian 16-bit
// length, a literal CRLF, then the payload.
func Encode(w io.Writer, addr address.Address, payload []byte) error {
	if len(payload) > MaxDatagramLen {
		return ErrDatagramTooLarge
	}
	if err := addr.Encode(w); err != nil {
		return err
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte{'\r', '\n'}); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// Decoder reads a strictly serial sequence of Packet frames from an
// underlying stream. It never looks past the bytes it needs for the
// current frame, so it cannot over-read into the next datagram's bytes
// while doing buffered I/O.
type Decoder struct {
	r io.Reader
}

// NewDecoder wraps r for incremental frame decoding.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Next reads and returns the next frame, or an error (io.EOF when the
// underlying stream ends cleanly between frames).
func (d *Decoder) Next() (Packet, error) {
	addr, _, err := address.Decode(d.r)
	if err != nil {
		return Packet{}, err
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(d.r, lenBuf[:]); err != nil {
		return Packet{}, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])

	var crlf [2]byte
	if _, err := io.ReadFull(d.r, crlf[:]); err != nil {
		return Packet{}, err
	}
	// CRLF content is not validated, matching upstream clients that
	// sometimes send other filler bytes here.

	payload := make([]byte, n)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return Packet{}, fmt.Errorf("trojan: short udp payload: %w", err)
	}

	return Packet{Addr: addr, Payload: payload}, nil
}
