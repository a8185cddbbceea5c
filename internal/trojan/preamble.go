// Package trojan implements the Trojan wire preamble (authentication
// header) and the UDP-over-TCP framing codec.
//
// Preamble wire format:
//
//	password(56) | CRLF(2) | CMD(1) | ATYP(1) | addr(variable) | port(2) | CRLF(2)
package trojan

import (
	"context"
	"errors"
	"fmt"

	"github.com/imgk/trojan-relay/internal/address"
	"github.com/imgk/trojan-relay/internal/auth"
)

// Command identifies the requested operation.
type Command byte

// Commands defined by the protocol.
const (
	CmdConnect      Command = 0x01
	CmdUDPAssociate Command = 0x03
)

// HeaderLen is the length, in bytes, of the fixed-size prefix that must
// be peeked before the variable-length address can be located:
// password(56) + CRLF(2) + CMD(1) + ATYP(1) + 1 byte of address.
const HeaderLen = auth.CredentialLen + 2 + 1 + 1 + 1

const (
	offsetCRLF1  = auth.CredentialLen
	offsetCMD    = auth.CredentialLen + 2
	offsetATYP   = offsetCMD + 1
	offsetDomain = offsetATYP + 1
)

// Sentinel errors from Accept; every one of them (apart from internal
// peek/drain I/O errors, which are passed through unwrapped) means
// "this is not a valid authenticated Trojan session" and the caller
// must hand the stream to the fallback acceptor without having
// consumed more of it than the failed attempt peeked.
var (
	ErrNotTrojan = errors.New("trojan: not a trojan request")
	ErrAuthFail  = errors.New("trojan: authentication failed")
	ErrBadAtyp   = errors.New("trojan: unsupported address type")
	ErrBadCmd    = errors.New("trojan: unsupported command")
)

// AuthBackendError wraps a failure from the Authenticator itself,
// distinct from a simple authentication failure.
type AuthBackendError struct{ Err error }

func (e *AuthBackendError) Error() string { return "trojan: auth backend: " + e.Err.Error() }
func (e *AuthBackendError) Unwrap() error { return e.Err }

// Peeker is the minimal lookahead interface the preamble parser needs;
// stream.Peekable satisfies it.
type Peeker interface {
	PeekExact(n int) ([]byte, error)
	Drain(n int) error
}

// Request is a successfully authenticated Trojan request.
type Request struct {
	Command    Command
	Addr       address.Address
	Credential string
}

// Accept performs the peek-then-drain preamble parse against s, and on
// success the Authenticator check. It never drains from s unless the
// whole preamble validates, so a caller that gets a non-nil error can
// hand s — with every previously-peeked byte still unread — straight
// to the fallback acceptor.
func Accept(ctx context.Context, s Peeker, authenticator auth.Authenticator) (Request, error) {
	head, err := s.PeekExact(HeaderLen)
	if err != nil {
		return Request{}, err
	}

	credential := string(head[:auth.CredentialLen])
	if !auth.ValidCredential(credential) {
		return Request{}, ErrNotTrojan
	}
	if head[offsetCRLF1] != '\r' || head[offsetCRLF1+1] != '\n' {
		return Request{}, ErrNotTrojan
	}

	ok, err := authenticator.Auth(ctx, credential)
	if err != nil {
		return Request{}, &AuthBackendError{Err: err}
	}
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", ErrAuthFail, credential)
	}

	total, err := totalLength(head)
	if err != nil {
		return Request{}, err
	}

	full, err := s.PeekExact(total)
	if err != nil {
		return Request{}, err
	}

	cmd := Command(full[offsetCMD])
	if cmd != CmdConnect && cmd != CmdUDPAssociate {
		return Request{}, ErrBadCmd
	}

	addr, n, err := address.DecodeBytes(full[offsetATYP:])
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrBadAtyp, err)
	}
	end := offsetATYP + n + 2 // trailing CRLF
	if end != total {
		return Request{}, ErrNotTrojan
	}
	if full[end-2] != '\r' || full[end-1] != '\n' {
		return Request{}, ErrNotTrojan
	}

	if err := s.Drain(total); err != nil {
		return Request{}, err
	}

	return Request{Command: cmd, Addr: addr, Credential: credential}, nil
}

// totalLength computes the full preamble length (including the
// trailing CRLF) from the already-peeked HeaderLen-byte head: ATYP=1
// adds 8, ATYP=3 adds 1+domain_len+4, ATYP=4 adds 20, on top of the
// 60-byte fixed prefix (password, CRLF, CMD, ATYP).
func totalLength(head []byte) (int, error) {
	const fixed = auth.CredentialLen + 2 + 1 + 1 // password + CRLF + CMD + ATYP
	switch head[offsetATYP] {
	case 1:
		return fixed + 4 + 2 + 2, nil // ipv4(4) + port(2) + crlf(2)
	case 3:
		domainLen := int(head[offsetDomain])
		return fixed + 1 + domainLen + 2 + 2, nil // len-byte + domain + port(2) + crlf(2)
	case 4:
		return fixed + 16 + 2 + 2, nil // ipv6(16) + port(2) + crlf(2)
	default:
		return 0, ErrBadAtyp
	}
}
