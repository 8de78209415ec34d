// Package udp sends display events as JSON datagrams, one event per
// datagram, for a dashboard or instrument on the local network.
package udp

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"paravario/internal/display"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type Broadcaster struct {
	dest string

	mu   sync.Mutex
	conn udpConn

	sent   atomic.Uint64
	failed atomic.Uint64
}

func NewBroadcaster(dest string) (*Broadcaster, error) {
	return newBroadcaster(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newBroadcaster(
	dest string,
	resolve func(network, address string) (*net.UDPAddr, error),
	dial func(network string, laddr, raddr *net.UDPAddr) (udpConn, error),
) (*Broadcaster, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve dest: %w", err)
	}
	// A nil laddr lets the kernel pick the outgoing interface.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("udp: dial: %w", err)
	}
	return &Broadcaster{dest: dest, conn: conn}, nil
}

func (b *Broadcaster) Dest() string { return b.dest }

func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return net.ErrClosed
	}
	_, err := b.conn.Write(payload)
	return err
}

func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

// Stats returns datagrams sent and failed through Sink.
func (b *Broadcaster) Stats() (sent, failed uint64) {
	return b.sent.Load(), b.failed.Load()
}

// Sink encodes every display callback as one JSON datagram. Send failures
// are counted and logged, never returned to the caller.
func (b *Broadcaster) Sink() display.Sink {
	return display.Emitter{Emit: func(ev display.Event) {
		payload, err := json.Marshal(ev)
		if err != nil {
			log.Printf("udp: encode event kind=%s err=%v", ev.Kind, err)
			return
		}
		if err := b.Send(payload); err != nil {
			n := b.failed.Add(1)
			if n == 1 || n%100 == 0 {
				log.Printf("udp: send failed dest=%s count=%d err=%v", b.dest, n, err)
			}
			return
		}
		b.sent.Add(1)
	}}
}
