// Package icm20948 reads the accelerometer of a TDK ICM-20948. The gyro is
// put in standby; only linear acceleration is consumed downstream.
package icm20948

import (
	"fmt"
	"time"

	"paravario/internal/i2c"
)

var sleep = time.Sleep

// StandardGravity converts g to m/s².
const StandardGravity = 9.80665

const (
	addrDefault = 0x68
	addrAlt     = 0x69

	regWhoAmI  = 0x00
	whoAmIVal  = 0xEA
	regBankSel = 0x7F

	// Bank 0.
	regPwrMgmt1   = 0x06
	regPwrMgmt2   = 0x07
	bitReset      = 0x80
	clkAuto       = 0x01
	gyroStandby   = 0x07
	regIntEnable  = 0x10
	regAccelXoutH = 0x2D

	// Bank 2.
	bank2           = 2
	regAccelSmplrt1 = 0x10
	regAccelSmplrt2 = 0x11
	regAccelConfig  = 0x14

	// Internal accel rate before the divider.
	baseRateHz = 1125
)

// Range is the accelerometer full scale in g.
type Range int

const (
	Range2G  Range = 2
	Range4G  Range = 4
	Range8G  Range = 8
	Range16G Range = 16
)

func (r Range) fsSel() (byte, error) {
	switch r {
	case Range2G:
		return 0, nil
	case Range4G:
		return 1, nil
	case Range8G:
		return 2, nil
	case Range16G:
		return 3, nil
	default:
		return 0, fmt.Errorf("icm20948: unsupported range %dg", int(r))
	}
}

// Config zero value: ±8 g at about 100 Hz with the ~50 Hz low-pass.
type Config struct {
	Range  Range
	RateHz int
}

func (c Config) withDefaults() Config {
	if c.Range == 0 {
		c.Range = Range8G
	}
	if c.RateHz <= 0 {
		c.RateHz = 100
	}
	return c
}

// Accel is one reading in m/s², sensor frame.
type Accel struct {
	X, Y, Z float64
}

type Device struct {
	dev regIO
	cfg Config

	curBank byte
	scale   float64
}

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

func DefaultAddress() uint16 { return addrDefault }

// AltAddress is the address with AD0 pulled high.
func AltAddress() uint16 { return addrAlt }

func New(dev *i2c.Dev, cfg Config) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	return newWithIO(dev, cfg)
}

func newWithIO(dev regIO, cfg Config) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	d := &Device{dev: dev, cfg: cfg.withDefaults(), curBank: 0xFF}

	who, err := d.dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("icm20948: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return nil, fmt.Errorf("icm20948: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}
	if err := d.init(); err != nil {
		return nil, err
	}
	return d, nil
}

// RateHz is the output data rate actually configured.
func (d *Device) RateHz() float64 {
	return float64(baseRateHz) / float64(d.divider()+1)
}

func (d *Device) divider() uint16 {
	div := baseRateHz/d.cfg.RateHz - 1
	if div < 0 {
		div = 0
	}
	if div > 0x0FFF {
		div = 0x0FFF
	}
	return uint16(div)
}

func (d *Device) init() error {
	fs, err := d.cfg.Range.fsSel()
	if err != nil {
		return err
	}
	if err := d.setBank(0); err != nil {
		return err
	}
	_ = d.dev.WriteReg(regIntEnable, 0x00)

	if err := d.dev.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return fmt.Errorf("icm20948: reset failed: %w", err)
	}
	sleep(100 * time.Millisecond)
	// Reset returns the chip to bank 0.
	d.curBank = 0

	if err := d.dev.WriteReg(regPwrMgmt1, clkAuto); err != nil {
		return fmt.Errorf("icm20948: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)
	if err := d.dev.WriteReg(regPwrMgmt2, gyroStandby); err != nil {
		return fmt.Errorf("icm20948: gyro standby failed: %w", err)
	}

	if err := d.setBank(bank2); err != nil {
		return err
	}
	div := d.divider()
	_ = d.dev.WriteReg(regAccelSmplrt1, byte(div>>8))
	_ = d.dev.WriteReg(regAccelSmplrt2, byte(div))

	// DLPFCFG=3, FS_SEL, FCHOICE=1.
	accelCfg := byte(3<<3) | fs<<1 | 0x01
	if err := d.dev.WriteReg(regAccelConfig, accelCfg); err != nil {
		return fmt.Errorf("icm20948: accel config failed: %w", err)
	}
	if err := d.setBank(0); err != nil {
		return err
	}

	d.scale = float64(d.cfg.Range) / 32768.0 * StandardGravity
	return nil
}

func (d *Device) setBank(bank byte) error {
	if d.curBank == bank {
		return nil
	}
	if err := d.dev.WriteReg(regBankSel, bank<<4); err != nil {
		return fmt.Errorf("icm20948: set bank %d failed: %w", bank, err)
	}
	d.curBank = bank
	return nil
}

func (d *Device) Read() (Accel, error) {
	if d == nil {
		return Accel{}, fmt.Errorf("icm20948: device is nil")
	}
	if err := d.setBank(0); err != nil {
		return Accel{}, err
	}
	var buf [6]byte
	if err := d.dev.ReadReg(regAccelXoutH, buf[:]); err != nil {
		return Accel{}, fmt.Errorf("icm20948: read accel failed: %w", err)
	}
	ax := int16(buf[0])<<8 | int16(buf[1])
	ay := int16(buf[2])<<8 | int16(buf[3])
	az := int16(buf[4])<<8 | int16(buf[5])
	return Accel{
		X: float64(ax) * d.scale,
		Y: float64(ay) * d.scale,
		Z: float64(az) * d.scale,
	}, nil
}
