// Package sensors polls the on-board barometer and accelerometer and turns
// them into a fusion source.
package sensors

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"paravario/internal/fusion"
	"paravario/internal/i2c"
	"paravario/internal/sample"
	"paravario/internal/sensors/bmp280"
	"paravario/internal/sensors/icm20948"
)

type Config struct {
	I2CBus   int
	BaroAddr uint16
	IMUAddr  uint16
	// IMU is optional; a missing accelerometer only disables inertial samples.
	IMUEnable bool

	BaroRateHz int
	IMURateHz  int
	// GravityAlpha is the low-pass coefficient used to split gravity from
	// linear acceleration. Zero means 0.8.
	GravityAlpha float64
}

type Snapshot struct {
	Enabled      bool `json:"enabled"`
	BaroDetected bool `json:"baro_detected"`
	IMUDetected  bool `json:"imu_detected"`

	PressureHPa float64    `json:"pressure_hpa,omitempty"`
	TempC       float64    `json:"temp_c,omitempty"`
	Accel       [3]float64 `json:"accel_mps2"`

	BaroReads uint64 `json:"baro_reads"`
	IMUReads  uint64 `json:"imu_reads"`

	BaroLastUpdateAt time.Time `json:"baro_last_update_at,omitempty"`
	IMULastUpdateAt  time.Time `json:"imu_last_update_at,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
}

type barometer interface {
	Read() (bmp280.Reading, error)
}

type accelerometer interface {
	Read() (icm20948.Accel, error)
}

// devices is what Subscribe opens. imu may be nil.
type devices struct {
	baro       barometer
	imu        accelerometer
	reinitBaro func() (barometer, error)
	close      func() error
}

type Service struct {
	cfg Config

	open  func(Config) (*devices, error)
	clock func() int64

	mu     sync.Mutex
	cancel context.CancelFunc
	devs   *devices
	wg     sync.WaitGroup
	snap   Snapshot
}

func New(cfg Config) *Service {
	if cfg.I2CBus == 0 {
		cfg.I2CBus = 1
	}
	if cfg.BaroAddr == 0 {
		cfg.BaroAddr = bmp280.DefaultAddress()
	}
	if cfg.IMUAddr == 0 {
		cfg.IMUAddr = icm20948.DefaultAddress()
	}
	if cfg.BaroRateHz <= 0 {
		cfg.BaroRateHz = 25
	}
	if cfg.IMURateHz <= 0 {
		cfg.IMURateHz = 50
	}
	if cfg.GravityAlpha <= 0 || cfg.GravityAlpha >= 1 {
		cfg.GravityAlpha = 0.8
	}
	return &Service{cfg: cfg, open: openHardware, clock: sample.MonotonicNanos}
}

func openHardware(cfg Config) (*devices, error) {
	busPath := fmt.Sprintf("/dev/i2c-%d", cfg.I2CBus)
	bus, err := i2c.Open(busPath)
	if err != nil {
		return nil, err
	}
	baroCfg := bmp280.Config{}
	baro, err := bmp280.New(bus.Dev(cfg.BaroAddr), baroCfg)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("baro init: %w", err)
	}
	d := &devices{
		baro: baro,
		reinitBaro: func() (barometer, error) {
			return bmp280.New(bus.Dev(cfg.BaroAddr), baroCfg)
		},
		close: bus.Close,
	}
	if cfg.IMUEnable {
		imu, err := icm20948.New(bus.Dev(cfg.IMUAddr), icm20948.Config{RateHz: cfg.IMURateHz})
		if err != nil {
			log.Printf("sensors: imu init failed addr=0x%02X err=%v", cfg.IMUAddr, err)
		} else {
			d.imu = imu
		}
	}
	return d, nil
}

func (s *Service) Name() string { return "sensors" }

func (s *Service) Subscribe(ctx context.Context, h fusion.Handler) error {
	if s == nil {
		return errors.New("sensors: service is nil")
	}
	if h == nil {
		return errors.New("sensors: handler is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	devs, err := s.open(s.cfg)
	if err != nil {
		s.snap.LastError = err.Error()
		return fmt.Errorf("sensors: %w", err)
	}
	s.devs = devs
	s.snap.Enabled = true
	s.snap.BaroDetected = true
	s.snap.IMUDetected = devs.imu != nil
	s.snap.LastError = ""

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(childCtx, devs, h)
	}()
	log.Printf("sensors: subscribed bus=%d baro=0x%02X imu=%v", s.cfg.I2CBus, s.cfg.BaroAddr, devs.imu != nil)
	return nil
}

func (s *Service) Unsubscribe() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	devs := s.devs
	s.cancel = nil
	s.devs = nil
	s.snap.Enabled = false
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	if devs != nil && devs.close != nil {
		if err := devs.close(); err != nil {
			log.Printf("sensors: bus close failed err=%v", err)
		}
	}
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *Service) run(ctx context.Context, devs *devices, h fusion.Handler) {
	baroTick := time.NewTicker(time.Second / time.Duration(s.cfg.BaroRateHz))
	defer baroTick.Stop()

	// A nil channel never fires when there is no IMU.
	var imuC <-chan time.Time
	if devs.imu != nil {
		imuTick := time.NewTicker(time.Second / time.Duration(s.cfg.IMURateHz))
		defer imuTick.Stop()
		imuC = imuTick.C
	}

	grav := gravityFilter{alpha: s.cfg.GravityAlpha}
	baro := devs.baro
	var baroFailures int
	var baroLastReinitAt time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-baroTick.C:
			r, err := baro.Read()
			if err != nil {
				baroFailures++
				s.setErr("baro: " + err.Error())
				if baroFailures >= 10 && time.Since(baroLastReinitAt) >= 2*time.Second && devs.reinitBaro != nil {
					baroLastReinitAt = time.Now()
					if b, reErr := devs.reinitBaro(); reErr == nil {
						baro = b
						baroFailures = 0
						log.Printf("sensors: baro reinitialized")
					} else {
						s.setErr(fmt.Sprintf("baro reinit: %v", reErr))
					}
				}
				continue
			}
			baroFailures = 0
			ts := s.clock()
			h(sample.Pressure{TimestampNanos: ts, HPa: r.HPa(), Accuracy: sample.AccuracyHigh})

			s.mu.Lock()
			s.snap.PressureHPa = r.HPa()
			s.snap.TempC = r.TempC
			s.snap.BaroReads++
			s.snap.BaroLastUpdateAt = time.Now().UTC()
			s.mu.Unlock()
		case <-imuC:
			a, err := devs.imu.Read()
			if err != nil {
				s.setErr("imu: " + err.Error())
				continue
			}
			ts := s.clock()
			raw := [3]float64{a.X, a.Y, a.Z}
			g, lin := grav.update(raw)
			h(sample.Inertial{TimestampNanos: ts, Kind: sample.Accelerometer, X: raw[0], Y: raw[1], Z: raw[2]})
			h(sample.Inertial{TimestampNanos: ts, Kind: sample.Gravity, X: g[0], Y: g[1], Z: g[2]})
			h(sample.Inertial{TimestampNanos: ts, Kind: sample.LinearAcceleration, X: lin[0], Y: lin[1], Z: lin[2]})

			s.mu.Lock()
			s.snap.Accel = raw
			s.snap.IMUReads++
			s.snap.IMULastUpdateAt = time.Now().UTC()
			s.mu.Unlock()
		}
	}
}

func (s *Service) setErr(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LastError = msg
}

// gravityFilter isolates gravity with a first-order low-pass; whatever is
// left is linear acceleration.
type gravityFilter struct {
	alpha float64
	g     [3]float64
	ok    bool
}

func (f *gravityFilter) update(a [3]float64) (gravity, linear [3]float64) {
	if !f.ok {
		f.g = a
		f.ok = true
	} else {
		for i := range a {
			f.g[i] = f.alpha*f.g[i] + (1-f.alpha)*a[i]
		}
	}
	for i := range a {
		linear[i] = a[i] - f.g[i]
	}
	return f.g, linear
}
