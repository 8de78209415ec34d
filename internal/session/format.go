package session

import (
	"fmt"
	"strconv"
	"strings"

	"paravario/internal/sample"
)

// Kind names one per-session log stream. The value is used in file names.
type Kind string

const (
	KindLocation  Kind = "location"
	KindPressure  Kind = "pressure"
	KindNMEA      Kind = "nmea"
	KindHeartRate Kind = "heartRate"
	KindInertial  Kind = "inertial"
)

// Kinds lists every stream opened for a session, in creation order.
var Kinds = []Kind{KindLocation, KindPressure, KindNMEA, KindHeartRate, KindInertial}

// IDLayout is the fixed-width local time layout of session identifiers.
const IDLayout = "2006-01-02_15-04-05"

const (
	locationHeader = "time\telapsedRealtimeNanos\tlatitude\tlongitude\taltitude\tspeed\tbearing\taccuracy\tverticalAccuracyMeters\tspeedAccuracyMetersPerSecond\tbearingAccuracyDegrees\r\n"
	pressureHeader = "timestamp\tvalue\taccuracy\r\n"
)

// header returns the column line for tabular streams. Free-form streams
// have none.
func header(k Kind) string {
	switch k {
	case KindLocation:
		return locationHeader
	case KindPressure:
		return pressureHeader
	default:
		return ""
	}
}

// FileName returns the log file name of stream k in session id.
func FileName(id string, k Kind) string {
	return id + "_" + string(k) + ".file"
}

func inertialTag(k sample.InertialKind) string {
	switch k {
	case sample.Accelerometer:
		return "INERT_ACCELEROMETER"
	case sample.Gravity:
		return "INERT_GRAVITY"
	case sample.LinearAcceleration:
		return "INERT_LINEARACC"
	default:
		return "INERT_UNKNOWN"
	}
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatLine renders s as one log line. ok is false when the sample is not
// logged at all (low-accuracy heart rate).
func formatLine(s sample.Sample) (k Kind, line string, ok bool) {
	switch v := s.(type) {
	case sample.Pressure:
		return KindPressure, fmt.Sprintf("%d\t%.5f\t%d\r\n", v.TimestampNanos, v.HPa, int(v.Accuracy)), true
	case sample.Location:
		return KindLocation, fmt.Sprintf("%d\t%d\t%.6f\t%.6f\t%4.0f\t%.1f\t%.1f\t%.2f\t%.2f\t%.2f\t%.2f\r\n",
			v.Time.UnixMilli(), v.ElapsedRealtimeNanos, v.Latitude, v.Longitude, v.Altitude,
			v.Speed, v.Bearing, v.Accuracy, v.VerticalAccuracy, v.SpeedAccuracy, v.BearingAccuracy), true
	case sample.HeartRate:
		if v.Accuracy != sample.AccuracyHigh {
			return KindHeartRate, "", false
		}
		return KindHeartRate, fmt.Sprintf("%d: %s\n", v.TimestampNanos, num(v.BPM)), true
	case sample.Inertial:
		return KindInertial, fmt.Sprintf("%d:\t%s\t%s\t%s\t%s\n",
			v.TimestampNanos, inertialTag(v.Kind), num(v.X), num(v.Y), num(v.Z)), true
	case sample.NMEA:
		sentence := strings.TrimRight(v.Sentence, "\r\n")
		return KindNMEA, v.Time.Local().Format(IDLayout) + ": " + sentence + "\r\n", true
	default:
		return "", "", false
	}
}
