package replay

import (
	"path/filepath"
	"testing"
	"time"

	"paravario/internal/sample"
	"paravario/internal/session"
)

func TestRecordReplay_PressureRoundTrip(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2024, 8, 2, 9, 30, 0, 0, time.Local)
	ctrl := session.NewController(session.DirStorage{Dir: dir}, session.Options{Now: func() time.Time { return clock }})

	info, err := ctrl.Start()
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	const n = 50
	for i := 0; i < n; i++ {
		s := sample.Pressure{
			TimestampNanos: int64(i) * int64(40*time.Millisecond),
			HPa:            950 - 0.004*float64(i),
			Accuracy:       sample.AccuracyHigh,
		}
		if err := ctrl.Record(s); err != nil {
			t.Fatalf("Record() error: %v", err)
		}
	}
	if _, _, err := ctrl.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	recs, err := ReadFile(filepath.Join(dir, session.FileName(info.ID, session.KindPressure)))
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if len(recs) != n {
		t.Fatalf("records=%d want %d", len(recs), n)
	}
	if recs[10].TimestampNanos != int64(400*time.Millisecond) {
		t.Fatalf("ts=%d", recs[10].TimestampNanos)
	}

	fs := &fakeSleeper{}
	count := 0
	if err := Play(recs, 1.0, false, fs, func(Record) error { count++; return nil }); err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if count != n || len(fs.slept) != n-1 || fs.slept[0] != 40*time.Millisecond {
		t.Fatalf("count=%d slept=%v", count, fs.slept)
	}

	res, err := Filter(recs)
	if err != nil {
		t.Fatalf("Filter() error: %v", err)
	}
	// 0.1 hPa/s descent in pressure is a climb.
	if vs := res.Points[n-1].VerticalSpeed; vs <= 0 {
		t.Fatalf("vspeed=%v want climbing", vs)
	}
}
