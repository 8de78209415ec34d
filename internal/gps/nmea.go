package gps

import (
	"math"
	"strconv"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"paravario/internal/sample"
)

const knotsToMps = 0.514444

// Without GST, horizontal accuracy is estimated as HDOP times this UERE.
const uereMeters = 5.0

// ggaMaxAge bounds how long a GGA altitude is attached to later RMC fixes.
const ggaMaxAge = 3 * time.Second

// nmeaState folds RMC, GGA and GST sentences into Location samples. A
// sample is produced for each valid RMC.
type nmeaState struct {
	device string
	baud   int

	altM      float64
	altAt     time.Time
	fixQ      string
	sats      int64
	hdop      float64
	hdopOK    bool
	stdLat    float64
	stdLon    float64
	stdAlt    float64
	gstOK     bool
	lastFix   time.Time
	lat, lon  float64
	speedMps  float64
	courseDeg float64
	valid     bool
}

// apply folds one parsed sentence. It returns a Location when the sentence
// completes a fix.
func (s *nmeaState) apply(now time.Time, elapsed int64, sent nmea.Sentence) (sample.Location, bool) {
	switch m := sent.(type) {
	case nmea.GGA:
		s.fixQ = m.FixQuality
		s.sats = m.NumSatellites
		if m.FixQuality != nmea.Invalid {
			s.altM = m.Altitude
			s.altAt = now
			s.hdop = m.HDOP
			s.hdopOK = m.HDOP > 0
		}
		return sample.Location{}, false
	case nmea.GST:
		s.stdLat, s.stdLon, s.stdAlt = m.STDLat, m.STDLong, m.STDAlt
		s.gstOK = m.STDLat > 0 || m.STDLong > 0
		return sample.Location{}, false
	case nmea.RMC:
		if m.Validity != nmea.ValidRMC {
			s.valid = false
			return sample.Location{}, false
		}
		s.valid = true
		s.lat, s.lon = m.Latitude, m.Longitude
		s.speedMps = m.Speed * knotsToMps
		s.courseDeg = m.Course
		s.lastFix = fixTime(now, m.Date, m.Time)
		return s.location(now, elapsed), true
	default:
		return sample.Location{}, false
	}
}

func (s *nmeaState) location(now time.Time, elapsed int64) sample.Location {
	loc := sample.Location{
		Time:                 s.lastFix,
		ElapsedRealtimeNanos: elapsed,
		Latitude:             s.lat,
		Longitude:            s.lon,
		Speed:                s.speedMps,
		Bearing:              s.courseDeg,
		HasSpeed:             true,
	}
	if !s.altAt.IsZero() && now.Sub(s.altAt) <= ggaMaxAge {
		loc.Altitude = s.altM
		loc.HasAltitude = true
	}
	switch {
	case s.gstOK:
		loc.Accuracy = math.Hypot(s.stdLat, s.stdLon)
		if s.stdAlt > 0 {
			loc.VerticalAccuracy = s.stdAlt
			loc.HasVerticalAccuracy = true
		}
	case s.hdopOK:
		loc.Accuracy = s.hdop * uereMeters
		// VDOP is typically about 1.5x HDOP.
		loc.VerticalAccuracy = s.hdop * uereMeters * 1.5
		loc.HasVerticalAccuracy = true
	}
	return loc
}

func fixTime(now time.Time, d nmea.Date, t nmea.Time) time.Time {
	if !d.Valid || !t.Valid {
		return now.UTC()
	}
	year := d.YY
	if year < 100 {
		year += 2000
	}
	return time.Date(year, time.Month(d.MM), d.DD, t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}

func (s *nmeaState) snapshot() Snapshot {
	out := Snapshot{
		Enabled: true,
		Valid:   s.valid,
		Source:  "nmea",
		Device:  s.device,
		Baud:    s.baud,
		LatDeg:  s.lat,
		LonDeg:  s.lon,
	}
	if !s.altAt.IsZero() {
		v := s.altM
		out.AltM = &v
	}
	if s.valid {
		v := s.speedMps
		out.SpeedMps = &v
		c := s.courseDeg
		out.TrackDeg = &c
	}
	if q, err := strconv.Atoi(strings.TrimSpace(s.fixQ)); err == nil {
		out.FixQuality = &q
		n := int(s.sats)
		out.Satellites = &n
	}
	if s.hdopOK {
		v := s.hdop
		out.HDOP = &v
	}
	if !s.lastFix.IsZero() {
		out.LastFixUTC = s.lastFix.UTC().Format(time.RFC3339Nano)
	}
	return out
}
