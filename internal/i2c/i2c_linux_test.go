//go:build linux

package i2c

import (
	"os"
	"strings"
	"testing"
)

func TestDevTx_InvalidAddr(t *testing.T) {
	f, err := os.OpenFile("/dev/null", os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("OpenFile /dev/null: %v", err)
	}
	defer f.Close()

	b := &Bus{f: f, path: "/dev/null"}

	{
		d := &Dev{bus: b, addr: 0}
		err := d.Write([]byte{0x00})
		if err == nil || !strings.Contains(err.Error(), "invalid addr") {
			t.Fatalf("err=%v want invalid addr", err)
		}
	}

	{
		d := &Dev{bus: b, addr: 0x80}
		err := d.Write([]byte{0x00})
		if err == nil || !strings.Contains(err.Error(), "invalid addr") {
			t.Fatalf("err=%v want invalid addr", err)
		}
	}
}

func TestDevTx_EmptyIsNoop(t *testing.T) {
	f, err := os.OpenFile("/dev/null", os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("OpenFile /dev/null: %v", err)
	}
	defer f.Close()

	b := &Bus{f: f, path: "/dev/null"}
	d := &Dev{bus: b, addr: 0x68}

	n, err := d.tx(nil, nil)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if n != 0 {
		t.Fatalf("n=%d want 0", n)
	}
}

func TestBus_ClosedRejectsTransfers(t *testing.T) {
	b, err := Open("/dev/null")
	if err != nil {
		t.Fatalf("Open /dev/null: %v", err)
	}
	if b.Path() != "/dev/null" {
		t.Fatalf("path=%q", b.Path())
	}
	d := b.Dev(0x77)
	if d.Addr() != 0x77 {
		t.Fatalf("addr=0x%X", d.Addr())
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := d.Write([]byte{0x00}); err == nil || !strings.Contains(err.Error(), "closed") {
		t.Fatalf("err=%v want bus is closed", err)
	}
}

func TestBus_ConcurrentEmptyTransfers(t *testing.T) {
	b, err := Open("/dev/null")
	if err != nil {
		t.Fatalf("Open /dev/null: %v", err)
	}
	defer b.Close()

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func(addr uint16) {
			defer func() { done <- struct{}{} }()
			d := b.Dev(addr)
			for j := 0; j < 100; j++ {
				if _, err := d.tx(nil, nil); err != nil {
					t.Errorf("tx: %v", err)
					return
				}
			}
		}(uint16(0x68 + i))
	}
	for i := 0; i < 4; i++ {
		<-done
	}
}
