package fallback

import (
	"bufio"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestBuiltinGetReturns404(t *testing.T) {
	a, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	client, server := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- a.Accept(server) }()

	client.SetDeadline(time.Now().Add(2 * time.Second))
	client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	client.Close()
	<-done
}

func TestBuiltinPostReturns405(t *testing.T) {
	a, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	client, server := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- a.Accept(server) }()

	client.SetDeadline(time.Now().Add(2 * time.Second))
	client.Write([]byte("POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 0\r\n\r\n"))

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
	client.Close()
	<-done
}
