package socks5

import (
	"testing"

	"github.com/imgk/trojan-relay/internal/address"
)

func TestUDPDatagramRoundTrip(t *testing.T) {
	addr := address.Address{Domain: "example.com", Port: 443}
	payload := []byte("hello")
	encoded, err := encodeUDPDatagram(addr, payload)
	if err != nil {
		t.Fatal(err)
	}
	gotAddr, gotPayload, err := decodeUDPDatagram(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if gotAddr.Domain != "example.com" || gotAddr.Port != 443 {
		t.Fatalf("addr = %+v", gotAddr)
	}
	if string(gotPayload) != "hello" {
		t.Fatalf("payload = %q", gotPayload)
	}
}

func TestUDPDatagramRejectsFragment(t *testing.T) {
	addr := address.Address{IP: []byte{1, 2, 3, 4}, Port: 1}
	encoded, err := encodeUDPDatagram(addr, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	encoded[2] = 1 // nonzero FRAG
	if _, _, err := decodeUDPDatagram(encoded); err == nil {
		t.Fatal("expected error for fragmented datagram")
	}
}

func TestUDPDatagramRejectsNonzeroRSV(t *testing.T) {
	addr := address.Address{IP: []byte{1, 2, 3, 4}, Port: 1}
	encoded, err := encodeUDPDatagram(addr, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	encoded[0] = 1
	if _, _, err := decodeUDPDatagram(encoded); err == nil {
		t.Fatal("expected error for nonzero rsv")
	}
}
