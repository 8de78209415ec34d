package udp

import (
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"paravario/internal/display"
)

type fakeConn struct {
	writes    [][]byte
	writeErr  error
	closed    bool
	closeErr  error
	writeHits int
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.writeHits++
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	cp := append([]byte(nil), p...)
	c.writes = append(c.writes, cp)
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return c.closeErr
}

func TestNewBroadcaster_DialsResolvedAddr(t *testing.T) {
	var gotNetwork string
	var gotRaddr *net.UDPAddr
	fc := &fakeConn{}

	resolve := func(network, address string) (*net.UDPAddr, error) {
		return net.ResolveUDPAddr(network, address)
	}

	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		gotNetwork = network
		gotRaddr = raddr
		return fc, nil
	}

	b, err := newBroadcaster("127.0.0.1:4000", resolve, dial)
	if err != nil {
		t.Fatalf("newBroadcaster() error: %v", err)
	}
	defer b.Close()

	if gotNetwork != "udp" {
		t.Fatalf("network=%q want %q", gotNetwork, "udp")
	}
	if gotRaddr == nil || gotRaddr.Port != 4000 || !gotRaddr.IP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("raddr=%v want 127.0.0.1:4000", gotRaddr)
	}
}

func TestNewBroadcaster_ResolveFailure(t *testing.T) {
	resolveErr := errors.New("nope")
	resolve := func(network, address string) (*net.UDPAddr, error) {
		return nil, resolveErr
	}
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return &fakeConn{}, nil
	}

	_, err := newBroadcaster("bad:addr", resolve, dial)
	if !errors.Is(err, resolveErr) {
		t.Fatalf("err=%v want %v", err, resolveErr)
	}
}

func TestBroadcaster_Send_EmptyNoWrite(t *testing.T) {
	fc := &fakeConn{}
	b := &Broadcaster{dest: "x", conn: fc}

	if err := b.Send(nil); err != nil {
		t.Fatalf("Send(nil) error: %v", err)
	}
	if err := b.Send([]byte{}); err != nil {
		t.Fatalf("Send(empty) error: %v", err)
	}
	if fc.writeHits != 0 {
		t.Fatalf("expected no writes, got %d", fc.writeHits)
	}
}

func TestBroadcaster_Send_WritesPayload(t *testing.T) {
	fc := &fakeConn{}
	b := &Broadcaster{dest: "x", conn: fc}

	p := []byte{0x01, 0x02, 0x03}
	if err := b.Send(p); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if fc.writeHits != 1 {
		t.Fatalf("expected 1 write, got %d", fc.writeHits)
	}
	if len(fc.writes) != 1 {
		t.Fatalf("expected 1 captured write, got %d", len(fc.writes))
	}
	if string(fc.writes[0]) != string(p) {
		t.Fatalf("write=%v want %v", fc.writes[0], p)
	}
}

func TestBroadcaster_Send_PropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	fc := &fakeConn{writeErr: wantErr}
	b := &Broadcaster{dest: "x", conn: fc}

	err := b.Send([]byte{0x01})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err=%v want %v", err, wantErr)
	}
}

func TestBroadcaster_Close_NilConnNoPanic(t *testing.T) {
	b := &Broadcaster{}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestBroadcaster_SendAfterClose(t *testing.T) {
	fc := &fakeConn{}
	b := &Broadcaster{dest: "x", conn: fc}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if !fc.closed {
		t.Fatal("conn not closed")
	}
	if err := b.Send([]byte{1}); !errors.Is(err, net.ErrClosed) {
		t.Fatalf("err=%v want net.ErrClosed", err)
	}
}

func TestBroadcaster_SinkEncodesEvents(t *testing.T) {
	fc := &fakeConn{}
	b := &Broadcaster{dest: "x", conn: fc}
	sink := b.Sink()

	sink.OnVerticalSpeed(1.5)
	sink.OnRecordingChanged(true)

	if len(fc.writes) != 2 {
		t.Fatalf("writes=%d want 2", len(fc.writes))
	}
	var ev display.Event
	if err := json.Unmarshal(fc.writes[0], &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Kind != display.KindVerticalSpeed || ev.Value != 1.5 || time.Since(ev.At) > time.Minute {
		t.Fatalf("event=%+v", ev)
	}
	if err := json.Unmarshal(fc.writes[1], &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Kind != display.KindRecording || !ev.Recording {
		t.Fatalf("event=%+v", ev)
	}
	if sent, failed := b.Stats(); sent != 2 || failed != 0 {
		t.Fatalf("sent=%d failed=%d", sent, failed)
	}
}

func TestBroadcaster_SinkCountsFailures(t *testing.T) {
	b := &Broadcaster{dest: "x", conn: &fakeConn{writeErr: errors.New("unreachable")}}
	b.Sink().OnPressure(1000)
	if sent, failed := b.Stats(); sent != 0 || failed != 1 {
		t.Fatalf("sent=%d failed=%d", sent, failed)
	}
}

func TestBroadcaster_RealSocket(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer pc.Close()

	b, err := NewBroadcaster(pc.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewBroadcaster: %v", err)
	}
	defer b.Close()
	b.Sink().OnElevation(1234)

	_ = pc.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 1500)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev display.Event
	if err := json.Unmarshal(buf[:n], &ev); err != nil {
		t.Fatalf("unmarshal %q: %v", buf[:n], err)
	}
	if ev.Kind != display.KindElevation || ev.Value != 1234 {
		t.Fatalf("event=%+v", ev)
	}
}
