// Package tlsutil builds the server-side TLS configuration, extracts
// the certificate's subject-alt-name set, and terminates incoming
// connections while reporting whether the negotiated SNI matches the
// configured policy.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"

	"github.com/imgk/trojan-relay/internal/wildcard"
)

// Context holds an immutable, shared server TLS configuration plus the
// SNI policy derived from it at startup.
type Context struct {
	config  *tls.Config
	san     []string
	allowed []string // configured SNI allow-list; empty means "any SAN"
}

// NewContext loads a PEM certificate chain and private key, extracts
// the certificate's DNS subject-alt-names, validates the configured SNI
// allow-list against them, and returns a ready-to-use Context.
//
// Client certificates are never requested (Trojan does not use them).
// The keylog sink is wired from SSLKEYLOGFILE when set, for debugging
// TLS sessions with external tools.
func NewContext(certFile, keyFile string, sniAllowList []string) (*Context, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("tlsutil: load cert/key: %w", err)
	}

	var leaf *x509.Certificate
	if cert.Leaf != nil {
		leaf = cert.Leaf
	} else {
		leaf, err = x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("tlsutil: parse leaf certificate: %w", err)
		}
	}
	san := leaf.DNSNames
	if len(san) == 0 {
		return nil, fmt.Errorf("tlsutil: certificate has no DNS subject-alt-names")
	}

	for _, name := range sniAllowList {
		if !wildcard.HasMatch(name, san) {
			return nil, fmt.Errorf("tlsutil: configured sni %q is not covered by certificate SAN set %v", name, san)
		}
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
		MinVersion:   tls.VersionTLS12,
	}
	if path := os.Getenv("SSLKEYLOGFILE"); path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("tlsutil: open keylog file: %w", err)
		}
		cfg.KeyLogWriter = f
	}

	return &Context{config: cfg, san: san, allowed: sniAllowList}, nil
}

// Accept performs the TLS handshake over conn and reports whether the
// negotiated SNI satisfies the configured policy:
//
//   - empty allow-list: match iff the client's SNI is present in and
//     wildcard-covered by the certificate's SAN set (no SNI at all is
//     never a match);
//   - non-empty allow-list: match iff the list contains a pattern that
//     wildcard-matches the client's SNI.
func (c *Context) Accept(conn net.Conn) (*tls.Conn, bool, error) {
	tlsConn := tls.Server(conn, c.config)
	if err := tlsConn.Handshake(); err != nil {
		return nil, false, fmt.Errorf("tlsutil: handshake: %w", err)
	}

	sni := wildcard.NormalizeHost(tlsConn.ConnectionState().ServerName)
	matched := c.sniMatches(sni)
	return tlsConn, matched, nil
}

func (c *Context) sniMatches(sni string) bool {
	if sni == "" {
		return false
	}
	if len(c.allowed) == 0 {
		return wildcard.HasMatch(sni, c.san)
	}
	return wildcard.HasMatch(sni, c.allowed)
}

// SAN returns the certificate's DNS subject-alt-names.
func (c *Context) SAN() []string { return c.san }
