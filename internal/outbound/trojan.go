package outbound

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/imgk/trojan-relay/internal/address"
	"github.com/imgk/trojan-relay/internal/auth"
	"github.com/imgk/trojan-relay/internal/trojan"
)

// TrojanClient dials an upstream Trojan server and speaks the preamble
// to request either a TCP-CONNECT or UDP-ASSOCIATE tunnel. It is the
// client-mode counterpart of Direct, used by the SOCKS5 front-end.
type TrojanClient struct {
	serverAddr string
	credential string
	tlsConfig  *tls.Config
}

// NewTrojanClient builds a client connector for the given upstream
// server. sni overrides the TLS ServerName sent in the handshake; an
// empty sni lets crypto/tls derive it from serverAddr as usual.
func NewTrojanClient(serverAddr, password, sni string, skipCertVerify bool) *TrojanClient {
	return &TrojanClient{
		serverAddr: serverAddr,
		credential: auth.Derive(password),
		tlsConfig: &tls.Config{
			ServerName:         sni,
			InsecureSkipVerify: skipCertVerify,
			MinVersion:         tls.VersionTLS12,
		},
	}
}

// dial opens the TLS connection and writes the preamble for cmd+addr,
// per the resolved "write preamble, flush, then pass-through" design:
// the preamble is written as a single Write, never coalesced with the
// first application payload.
func (t *TrojanClient) dial(ctx context.Context, cmd trojan.Command, addr address.Address) (*tls.Conn, error) {
	d := tls.Dialer{Config: t.tlsConfig}
	conn, err := d.DialContext(ctx, "tcp", t.serverAddr)
	if err != nil {
		return nil, fmt.Errorf("outbound: dial trojan server %q: %w", t.serverAddr, err)
	}
	tlsConn := conn.(*tls.Conn)

	var buf bytes.Buffer
	buf.WriteString(t.credential)
	buf.WriteString("\r\n")
	buf.WriteByte(byte(cmd))
	if err := addr.Encode(&buf); err != nil {
		tlsConn.Close()
		return nil, err
	}
	buf.WriteString("\r\n")

	if _, err := tlsConn.Write(buf.Bytes()); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("outbound: write trojan preamble: %w", err)
	}
	return tlsConn, nil
}

// DialConnect requests a TCP-CONNECT tunnel to addr and returns the
// ready-to-use stream; subsequent reads/writes carry the proxied
// application bytes directly.
func (t *TrojanClient) DialConnect(ctx context.Context, addr address.Address) (net.Conn, error) {
	return t.dial(ctx, trojan.CmdConnect, addr)
}

// DialUDPAssociate requests a UDP-ASSOCIATE tunnel and returns the
// underlying stream; the caller frames datagrams over it with the
// trojan package's Encoder/Decoder. The associate address is
// conventionally 0.0.0.0:0 since the real per-datagram destinations
// travel inside the UDP frames themselves.
func (t *TrojanClient) DialUDPAssociate(ctx context.Context) (net.Conn, error) {
	return t.dial(ctx, trojan.CmdUDPAssociate, address.Address{IP: net.IPv4zero, Port: 0})
}
