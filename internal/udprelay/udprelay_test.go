package udprelay

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/imgk/trojan-relay/internal/address"
	"github.com/imgk/trojan-relay/internal/trojan"
)

type staticResolver struct{ addr *net.UDPAddr }

func (r staticResolver) ResolveUDP(ctx context.Context, addr address.Address) (*net.UDPAddr, error) {
	return r.addr, nil
}

// pipeConn adapts net.Conn (from net.Pipe) to io.ReadWriteCloser, the
// shape Relay expects for the "incoming" framed stream.
type pipeConn struct{ net.Conn }

func TestRelayRoundTrip(t *testing.T) {
	echo, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer echo.Close()
	echoAddr := echo.LocalAddr().(*net.UDPAddr)

	go func() {
		buf := make([]byte, 1500)
		for {
			n, from, err := echo.ReadFrom(buf)
			if err != nil {
				return
			}
			echo.WriteTo(buf[:n], from)
		}
	}()

	target, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	client, server := net.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- Relay(context.Background(), pipeConn{server}, target, staticResolver{addr: echoAddr}, nil)
	}()

	addr := address.Address{IP: echoAddr.IP, Port: uint16(echoAddr.Port)}
	if err := trojan.Encode(client, addr, []byte("ping")); err != nil {
		t.Fatal(err)
	}

	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	dec := trojan.NewDecoder(client)
	pkt, err := dec.Next()
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if string(pkt.Payload) != "ping" {
		t.Fatalf("payload = %q", pkt.Payload)
	}

	client.Close()
	<-done
}
