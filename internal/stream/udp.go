package stream

import (
	"io"
	"net"
	"time"

	"github.com/ccatobs/pcs/internal/observability"
)

// UDPOpener returns an Opener that listens for datagrams on addr. Each
// datagram becomes one Frame; frames that do not fit in the sink are
// counted and dropped rather than blocking the socket reader.
func UDPOpener(addr, device string, metrics *observability.Metrics) Opener {
	return func(sink chan<- Frame) (io.Closer, error) {
		laddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return nil, err
		}
		conn, err := net.ListenUDP("udp", laddr)
		if err != nil {
			return nil, err
		}
		go func() {
			buf := make([]byte, 65536)
			for {
				n, _, err := conn.ReadFromUDP(buf)
				if err != nil {
					// Closed listener; the goroutine ends with it.
					return
				}
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case sink <- Frame{Data: data, Recv: time.Now()}:
					metrics.FrameReceived(device)
				default:
					metrics.FrameDropped(device)
				}
			}
		}()
		return conn, nil
	}
}
