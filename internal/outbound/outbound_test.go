package outbound

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/imgk/trojan-relay/internal/acl"
	"github.com/imgk/trojan-relay/internal/address"
)

func TestDialTCPDirectToLoopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	a, err := acl.New(false, nil)
	if err != nil {
		t.Fatal(err)
	}
	d := NewDirect(a)

	addr, err := address.FromHostPort(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	conn, err := d.DialTCP(context.Background(), addr)
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}
	defer conn.Close()

	server := <-accepted
	server.Close()
}

func TestDialTCPBlockedByACL(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	a, err := acl.New(true, nil) // blocks loopback
	if err != nil {
		t.Fatal(err)
	}
	d := NewDirect(a)

	addr, err := address.FromHostPort(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	_, err = d.DialTCP(context.Background(), addr)
	if !errors.Is(err, ErrACLDenied) {
		t.Fatalf("err = %v, want ErrACLDenied", err)
	}
}

func TestResolveUDPBlockedByACL(t *testing.T) {
	a, err := acl.New(true, nil)
	if err != nil {
		t.Fatal(err)
	}
	d := NewDirect(a)
	addr := address.Address{IP: net.ParseIP("127.0.0.1"), Port: 53}
	_, err = d.ResolveUDP(context.Background(), addr)
	if !errors.Is(err, ErrACLDenied) {
		t.Fatalf("err = %v, want ErrACLDenied", err)
	}
}
