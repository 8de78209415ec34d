// Package bmp280 drives a Bosch BMP280 (or the pressure half of a BME280)
// configured for variometer use: high pressure oversampling, normal mode,
// shortest standby.
package bmp280

import (
	"encoding/binary"
	"fmt"
	"time"

	"paravario/internal/i2c"
)

var sleep = time.Sleep

const (
	addrDefault = 0x77

	regID        = 0xD0
	chipIDBMP280 = 0x58
	chipIDBME280 = 0x60

	regReset = 0xE0
	resetCmd = 0xB6

	regCalib00 = 0x88
	calibLen   = 24

	regCtrlMeas = 0xF4
	regConfig   = 0xF5
	regPressMsb = 0xF7
)

// Oversampling settings as encoded in ctrl_meas.
type Oversampling byte

const (
	OversampleX1  Oversampling = 0x01
	OversampleX2  Oversampling = 0x02
	OversampleX4  Oversampling = 0x03
	OversampleX8  Oversampling = 0x04
	OversampleX16 Oversampling = 0x05
)

// Filter is the on-chip IIR coefficient as encoded in config.
type Filter byte

const (
	FilterOff Filter = 0x00
	Filter2   Filter = 0x01
	Filter4   Filter = 0x02
	Filter8   Filter = 0x03
	Filter16  Filter = 0x04
)

// Config selects oversampling and the IIR filter. The zero value means
// pressure x8, temperature x1, filter off: about 40 Hz in normal mode, with
// smoothing left to the estimator downstream.
type Config struct {
	Pressure    Oversampling
	Temperature Oversampling
	Filter      Filter
}

func (c Config) withDefaults() Config {
	if c.Pressure == 0 {
		c.Pressure = OversampleX8
	}
	if c.Temperature == 0 {
		c.Temperature = OversampleX1
	}
	return c
}

// Reading is one compensated measurement.
type Reading struct {
	TempC      float64
	PressurePa float64
}

func (r Reading) HPa() float64 { return r.PressurePa / 100.0 }

type Device struct {
	dev    regIO
	chipID byte

	digT1 uint16
	digT2 int16
	digT3 int16
	digP1 uint16
	digP2 int16
	digP3 int16
	digP4 int16
	digP5 int16
	digP6 int16
	digP7 int16
	digP8 int16
	digP9 int16

	tFine int32
}

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

func DefaultAddress() uint16 { return addrDefault }

func New(dev *i2c.Dev, cfg Config) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("bmp280: dev is nil")
	}
	return newWithIO(dev, cfg)
}

func newWithIO(dev regIO, cfg Config) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("bmp280: dev is nil")
	}
	cfg = cfg.withDefaults()
	d := &Device{dev: dev}

	id, err := d.dev.ReadRegU8(regID)
	if err != nil {
		return nil, fmt.Errorf("bmp280: id read failed: %w", err)
	}
	if id != chipIDBMP280 && id != chipIDBME280 {
		return nil, fmt.Errorf("bmp280: chip id=0x%02X want 0x%02X or 0x%02X", id, chipIDBMP280, chipIDBME280)
	}
	d.chipID = id

	// NVM coefficients are copied after reset and read back as zeros for a
	// few milliseconds.
	_ = d.dev.WriteReg(regReset, resetCmd)
	sleep(5 * time.Millisecond)

	var calibErr error
	for i := 0; i < 3; i++ {
		calibErr = d.readCalibration()
		if calibErr != nil {
			sleep(5 * time.Millisecond)
			continue
		}
		if d.digT1 != 0 && d.digP1 != 0 {
			calibErr = nil
			break
		}
		calibErr = fmt.Errorf("bmp280: calibration invalid (digT1=%d digP1=%d)", d.digT1, d.digP1)
		sleep(5 * time.Millisecond)
	}
	if calibErr != nil {
		return nil, calibErr
	}

	// t_sb=0.5ms, filter per cfg, spi3w off.
	if err := d.dev.WriteReg(regConfig, byte(cfg.Filter&0x07)<<2); err != nil {
		return nil, fmt.Errorf("bmp280: config write failed: %w", err)
	}
	ctrl := byte(cfg.Temperature&0x07)<<5 | byte(cfg.Pressure&0x07)<<2 | 0x03
	if err := d.dev.WriteReg(regCtrlMeas, ctrl); err != nil {
		return nil, fmt.Errorf("bmp280: ctrl_meas write failed: %w", err)
	}
	return d, nil
}

// ChipID reports which part answered the probe.
func (d *Device) ChipID() byte { return d.chipID }

func (d *Device) readCalibration() error {
	buf := make([]byte, calibLen)
	if err := d.dev.ReadReg(regCalib00, buf); err != nil {
		return fmt.Errorf("bmp280: read calib failed: %w", err)
	}
	le := binary.LittleEndian
	d.digT1 = le.Uint16(buf[0:2])
	d.digT2 = int16(le.Uint16(buf[2:4]))
	d.digT3 = int16(le.Uint16(buf[4:6]))
	d.digP1 = le.Uint16(buf[6:8])
	d.digP2 = int16(le.Uint16(buf[8:10]))
	d.digP3 = int16(le.Uint16(buf[10:12]))
	d.digP4 = int16(le.Uint16(buf[12:14]))
	d.digP5 = int16(le.Uint16(buf[14:16]))
	d.digP6 = int16(le.Uint16(buf[16:18]))
	d.digP7 = int16(le.Uint16(buf[18:20]))
	d.digP8 = int16(le.Uint16(buf[20:22]))
	d.digP9 = int16(le.Uint16(buf[22:24]))
	return nil
}

// Read burst-reads pressure and temperature so both come from the same
// conversion.
func (d *Device) Read() (Reading, error) {
	if d == nil {
		return Reading{}, fmt.Errorf("bmp280: device is nil")
	}
	var buf [6]byte
	if err := d.dev.ReadReg(regPressMsb, buf[:]); err != nil {
		return Reading{}, fmt.Errorf("bmp280: read data failed: %w", err)
	}

	adcP := int32(buf[0])<<12 | int32(buf[1])<<4 | int32(buf[2])>>4
	adcT := int32(buf[3])<<12 | int32(buf[4])<<4 | int32(buf[5])>>4

	// 0x80000 is the reset value of a skipped measurement.
	if adcP == 0x80000 {
		return Reading{}, fmt.Errorf("bmp280: pressure not ready")
	}

	tFine, t := d.compensateTemp(adcT)
	d.tFine = tFine
	p := d.compensatePress(adcP)
	if p <= 0 {
		return Reading{}, fmt.Errorf("bmp280: compensated pressure invalid (%v Pa)", p)
	}
	return Reading{TempC: t, PressurePa: p}, nil
}

func (d *Device) compensateTemp(adcT int32) (tFine int32, tempC float64) {
	var1 := (float64(adcT)/16384.0 - float64(d.digT1)/1024.0) * float64(d.digT2)
	var2 := float64(adcT)/131072.0 - float64(d.digT1)/8192.0
	var2 = var2 * var2 * float64(d.digT3)
	tFineF := var1 + var2
	return int32(tFineF), tFineF / 5120.0
}

// compensatePress is the datasheet's double-precision formula.
func (d *Device) compensatePress(adcP int32) float64 {
	var1 := float64(d.tFine)/2.0 - 64000.0
	var2 := var1 * var1 * float64(d.digP6) / 32768.0
	var2 = var2 + var1*float64(d.digP5)*2.0
	var2 = var2/4.0 + float64(d.digP4)*65536.0
	var1 = (float64(d.digP3)*var1*var1/524288.0 + float64(d.digP2)*var1) / 524288.0
	var1 = (1.0 + var1/32768.0) * float64(d.digP1)
	if var1 == 0 {
		return 0
	}
	p := 1048576.0 - float64(adcP)
	p = (p - var2/4096.0) * 6250.0 / var1
	var1 = float64(d.digP9) * p * p / 2147483648.0
	var2 = p * float64(d.digP8) / 32768.0
	return p + (var1+var2+float64(d.digP7))/16.0
}
