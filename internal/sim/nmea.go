package sim

import (
	"fmt"
	"math"
	"time"
)

const mpsToKnots = 1 / 0.514444

// rmc and gga render the fix as a receiver would, checksum included.
func rmc(now time.Time, st FlightState) string {
	u := now.UTC()
	lat, ns := nmeaAngle(st.LatDeg, 2, "N", "S")
	lon, ew := nmeaAngle(st.LonDeg, 3, "E", "W")
	return withChecksum(fmt.Sprintf("GPRMC,%s,A,%s,%s,%s,%s,%.1f,%.1f,%s,,,A",
		u.Format("150405.00"), lat, ns, lon, ew, st.SpeedMps*mpsToKnots, st.TrackDeg, u.Format("020106")))
}

func gga(now time.Time, st FlightState, sats int, hdop float64) string {
	u := now.UTC()
	lat, ns := nmeaAngle(st.LatDeg, 2, "N", "S")
	lon, ew := nmeaAngle(st.LonDeg, 3, "E", "W")
	return withChecksum(fmt.Sprintf("GPGGA,%s,%s,%s,%s,%s,1,%02d,%.1f,%.1f,M,47.0,M,,",
		u.Format("150405.00"), lat, ns, lon, ew, sats, hdop, st.AltM))
}

// nmeaAngle formats degrees as ddmm.mmmm (dddmm.mmmm for longitude).
func nmeaAngle(deg float64, degDigits int, pos, neg string) (string, string) {
	hemi := pos
	if deg < 0 {
		hemi = neg
		deg = -deg
	}
	whole := math.Floor(deg)
	minutes := math.Round((deg-whole)*60*1e4) / 1e4
	if minutes >= 60 {
		whole++
		minutes = 0
	}
	return fmt.Sprintf("%0*d%07.4f", degDigits, int(whole), minutes), hemi
}

func withChecksum(payload string) string {
	var ck byte
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, ck)
}
