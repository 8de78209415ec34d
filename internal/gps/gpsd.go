package gps

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"paravario/internal/sample"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

func dialGPSD(ctx context.Context, addr string) (net.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		addr = gpsdDefaultAddr
	}
	d := &net.Dialer{Timeout: 2 * time.Second}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatch enables JSON reports in SI units.
func gpsdWatch(conn net.Conn) error {
	_, err := conn.Write([]byte("?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n"))
	return err
}

type gpsdMsgBase struct {
	Class string `json:"class"`
}

type gpsdTPV struct {
	Class string `json:"class"`
	Mode  *int   `json:"mode"`
	Time  string `json:"time"`

	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`

	Alt     *float64 `json:"alt"`
	AltMSL  *float64 `json:"altMSL"`
	SpeedMS *float64 `json:"speed"`
	Track   *float64 `json:"track"`

	// Estimated errors: metres, m/s and degrees.
	Epx *float64 `json:"epx"`
	Epy *float64 `json:"epy"`
	Eph *float64 `json:"eph"`
	Epv *float64 `json:"epv"`
	Eps *float64 `json:"eps"`
	Epd *float64 `json:"epd"`
}

type gpsdSat struct {
	Used bool `json:"used"`
}

type gpsdSKY struct {
	Class      string    `json:"class"`
	HDOP       *float64  `json:"hdop"`
	Satellites []gpsdSat `json:"satellites"`
}

type gpsdState struct {
	addr string

	mode     int
	satsUsed int
	satsOK   bool
	hdop     float64
	hdopOK   bool

	last  sample.Location
	valid bool
}

func newGPSDState(addr string) *gpsdState {
	return &gpsdState{addr: addr}
}

func (s *gpsdState) snapshot() Snapshot {
	out := Snapshot{
		Enabled:  true,
		Valid:    s.valid,
		Device:   "gpsd",
		Source:   "gpsd",
		GPSDAddr: strings.TrimSpace(s.addr),
		LatDeg:   s.last.Latitude,
		LonDeg:   s.last.Longitude,
	}
	if s.last.HasAltitude {
		v := s.last.Altitude
		out.AltM = &v
	}
	if s.last.HasSpeed {
		v := s.last.Speed
		out.SpeedMps = &v
		b := s.last.Bearing
		out.TrackDeg = &b
	}
	if s.mode > 0 {
		v := s.mode
		out.FixMode = &v
	}
	if s.satsOK {
		v := s.satsUsed
		out.Satellites = &v
	}
	if s.hdopOK {
		v := s.hdop
		out.HDOP = &v
	}
	if s.last.Accuracy > 0 {
		v := s.last.Accuracy
		out.HorizAccM = &v
	}
	if s.last.HasVerticalAccuracy {
		v := s.last.VerticalAccuracy
		out.VertAccM = &v
	}
	if !s.last.Time.IsZero() {
		out.LastFixUTC = s.last.Time.UTC().Format(time.RFC3339Nano)
	}
	return out
}

// applyLine folds one gpsd JSON report. It returns a Location for every TPV
// carrying a 2D or 3D fix.
func (s *gpsdState) applyLine(now time.Time, elapsed int64, line string) (sample.Location, bool, error) {
	var base gpsdMsgBase
	if err := json.Unmarshal([]byte(line), &base); err != nil {
		return sample.Location{}, false, fmt.Errorf("gps: gpsd json parse failed: %w", err)
	}

	switch strings.ToUpper(strings.TrimSpace(base.Class)) {
	case "TPV":
		var tpv gpsdTPV
		if err := json.Unmarshal([]byte(line), &tpv); err != nil {
			return sample.Location{}, false, fmt.Errorf("gps: gpsd tpv parse failed: %w", err)
		}
		loc, ok := s.applyTPV(now, elapsed, tpv)
		return loc, ok, nil
	case "SKY":
		var sky gpsdSKY
		if err := json.Unmarshal([]byte(line), &sky); err != nil {
			return sample.Location{}, false, fmt.Errorf("gps: gpsd sky parse failed: %w", err)
		}
		s.applySKY(sky)
		return sample.Location{}, false, nil
	default:
		// VERSION, DEVICES, WATCH and friends.
		return sample.Location{}, false, nil
	}
}

func (s *gpsdState) applyTPV(now time.Time, elapsed int64, tpv gpsdTPV) (sample.Location, bool) {
	if tpv.Mode != nil {
		s.mode = *tpv.Mode
	}
	if s.mode < 2 || tpv.Lat == nil || tpv.Lon == nil {
		s.valid = false
		return sample.Location{}, false
	}

	loc := sample.Location{
		Time:                 now.UTC(),
		ElapsedRealtimeNanos: elapsed,
		Latitude:             *tpv.Lat,
		Longitude:            *tpv.Lon,
	}
	if strings.TrimSpace(tpv.Time) != "" {
		if t, err := time.Parse(time.RFC3339Nano, tpv.Time); err == nil {
			loc.Time = t.UTC()
		}
	}

	altM := tpv.AltMSL
	if altM == nil {
		altM = tpv.Alt
	}
	if altM != nil && s.mode >= 3 {
		loc.Altitude = *altM
		loc.HasAltitude = true
	}
	if tpv.SpeedMS != nil {
		loc.Speed = *tpv.SpeedMS
		loc.HasSpeed = true
	}
	if tpv.Track != nil {
		loc.Bearing = *tpv.Track
	}

	if tpv.Eph != nil {
		loc.Accuracy = *tpv.Eph
	} else if tpv.Epx != nil && tpv.Epy != nil {
		loc.Accuracy = math.Hypot(*tpv.Epx, *tpv.Epy)
	}
	if tpv.Epv != nil {
		loc.VerticalAccuracy = *tpv.Epv
		loc.HasVerticalAccuracy = true
	}
	if tpv.Eps != nil {
		loc.SpeedAccuracy = *tpv.Eps
	}
	if tpv.Epd != nil {
		loc.BearingAccuracy = *tpv.Epd
	}

	s.last = loc
	s.valid = true
	return loc, true
}

func (s *gpsdState) applySKY(sky gpsdSKY) {
	if sky.HDOP != nil {
		s.hdop = *sky.HDOP
		s.hdopOK = true
	}
	if len(sky.Satellites) > 0 {
		used := 0
		for _, sat := range sky.Satellites {
			if sat.Used {
				used++
			}
		}
		s.satsUsed = used
		s.satsOK = true
	}
}
