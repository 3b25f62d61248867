// Package transport wraps the UDP sockets a node talks through: one unicast
// socket per game session and one socket joined to the discovery multicast
// group.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// MaxDatagram is the largest UDP payload over IPv4.
const MaxDatagram = 65507

var ErrTooLarge = errors.New("datagram too large")

type Socket struct {
	conn   *net.UDPConn
	closed atomic.Bool
}

type SocketMessage struct {
	Addr *net.UDPAddr
	Data []byte
}

// NewDatagramSocket binds a unicast socket. Port 0 picks a free port.
func NewDatagramSocket(port int) (*Socket, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to bind datagram socket: %w", err)
	}

	return &Socket{conn: conn}, nil
}

// NewMulticastSocket listens on the group address (e.g. 239.192.0.4:9192) on
// the default interface.
func NewMulticastSocket(group string) (*Socket, error) {
	addr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, fmt.Errorf("invalid multicast group %s: %w", group, err)
	}

	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to join multicast group %s: %w", group, err)
	}

	return &Socket{conn: conn}, nil
}

func (s *Socket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Port is the port the socket ended up bound to.
func (s *Socket) Port() int {
	return s.LocalAddr().Port
}

func (s *Socket) SendDatagram(addr string, data []byte) error {
	if len(data) > MaxDatagram {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	target, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return fmt.Errorf("invalid address %s: %w", addr, err)
	}

	_, err = s.conn.WriteToUDP(data, target)
	return err
}

// Service reads datagrams until the context ends or the socket is closed.
// The socket is closed when the context ends.
func (s *Socket) Service(ctx context.Context) <-chan SocketMessage {
	out := make(chan SocketMessage, 64)

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	go func() {
		defer close(out)

		buf := make([]byte, MaxDatagram)
		for {
			numBytes, addr, err := s.conn.ReadFromUDP(buf)
			if err != nil {
				if s.closed.Load() || errors.Is(err, net.ErrClosed) {
					return
				}
				log.Debug().Err(err).Msg("failed to read datagram")
				continue
			}

			copied := make([]byte, numBytes)
			copy(copied, buf)

			select {
			case out <- SocketMessage{Addr: addr, Data: copied}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (s *Socket) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}
