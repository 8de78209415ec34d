package icm20948

import (
	"errors"
	"math"
	"testing"
	"time"
)

type fakeI2C struct {
	regs   map[byte][]byte
	writes []writeOp

	// Optional overrides.
	readErrFor map[byte]error
}

type writeOp struct {
	reg byte
	val byte
}

func (f *fakeI2C) ReadRegU8(reg byte) (byte, error) {
	if err := f.readErrFor[reg]; err != nil {
		return 0, err
	}
	b := f.regs[reg]
	if len(b) < 1 {
		return 0, errors.New("no reg")
	}
	return b[0], nil
}

func (f *fakeI2C) ReadReg(reg byte, dst []byte) error {
	if err := f.readErrFor[reg]; err != nil {
		return err
	}
	b := f.regs[reg]
	if len(b) < len(dst) {
		return errors.New("short reg")
	}
	copy(dst, b[:len(dst)])
	return nil
}

func (f *fakeI2C) WriteReg(reg, value byte) error {
	f.writes = append(f.writes, writeOp{reg: reg, val: value})
	return nil
}

func TestNew_WhoAmIMismatch(t *testing.T) {
	oldSleep := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = oldSleep })

	f := &fakeI2C{regs: map[byte][]byte{regWhoAmI: {0x00}}}
	_, err := newWithIO(f, Config{})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func noSleep(t *testing.T) {
	t.Helper()
	oldSleep := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = oldSleep })
}

func TestNew_WritesExpectedInitRegisters(t *testing.T) {
	noSleep(t)

	f := &fakeI2C{regs: map[byte][]byte{regWhoAmI: {whoAmIVal}}}
	d, err := newWithIO(f, Config{})
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}

	want := []writeOp{
		{regIntEnable, 0x00},
		{regPwrMgmt1, bitReset},
		{regPwrMgmt1, clkAuto},
		{regPwrMgmt2, gyroStandby},
		{regBankSel, bank2 << 4},
		{regAccelSmplrt1, 0x00},
		{regAccelSmplrt2, 10},
		{regAccelConfig, 0x1D},
		{regBankSel, 0x00},
	}
	// The first write selects bank 0 from the unknown state.
	got := f.writes[1:]
	if len(got) != len(want) {
		t.Fatalf("writes=%+v", f.writes)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("write %d=%+v want %+v", i, got[i], want[i])
		}
	}
	if r := d.RateHz(); math.Abs(r-1125.0/11.0) > 1e-9 {
		t.Fatalf("rate=%v", r)
	}
}

func TestNew_RejectsBadRange(t *testing.T) {
	noSleep(t)
	f := &fakeI2C{regs: map[byte][]byte{regWhoAmI: {whoAmIVal}}}
	if _, err := newWithIO(f, Config{Range: 3}); err == nil {
		t.Fatalf("expected range error")
	}
}

func TestRead_ScalesToMetersPerSecondSquared(t *testing.T) {
	noSleep(t)

	// 4096 counts is 1 g at ±8 g full scale.
	f := &fakeI2C{regs: map[byte][]byte{regWhoAmI: {whoAmIVal}}}
	f.regs[regAccelXoutH] = []byte{
		0x10, 0x00, // ax = 4096
		0x00, 0x00, // ay
		0xF0, 0x00, // az = -4096
	}

	d, err := newWithIO(f, Config{})
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	a, err := d.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if math.Abs(a.X-StandardGravity) > 1e-9 {
		t.Fatalf("X=%v want %v", a.X, StandardGravity)
	}
	if a.Y != 0 {
		t.Fatalf("Y=%v", a.Y)
	}
	if math.Abs(a.Z+StandardGravity) > 1e-9 {
		t.Fatalf("Z=%v want %v", a.Z, -StandardGravity)
	}
}

func TestRead_PropagatesBusError(t *testing.T) {
	noSleep(t)
	f := &fakeI2C{
		regs:       map[byte][]byte{regWhoAmI: {whoAmIVal}},
		readErrFor: map[byte]error{regAccelXoutH: errors.New("nack")},
	}
	d, err := newWithIO(f, Config{Range: Range16G, RateHz: 50})
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	if _, err := d.Read(); err == nil {
		t.Fatalf("expected error")
	}
}
