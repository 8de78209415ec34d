package session

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paravario/internal/sample"
)

type memWriter struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	closed  bool
	failErr error

	// When set, Write signals entered and then waits for release.
	entered chan struct{}
	release chan struct{}
}

func (w *memWriter) Write(p []byte) (int, error) {
	if w.release != nil {
		w.entered <- struct{}{}
		<-w.release
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, errors.New("write after close")
	}
	if w.failErr != nil {
		return 0, w.failErr
	}
	return w.buf.Write(p)
}

func (w *memWriter) Flush() error { return nil }

func (w *memWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *memWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

type memStorage struct {
	mu    sync.Mutex
	files map[string]*memWriter
	order []string
}

func newMemStorage() *memStorage { return &memStorage{files: map[string]*memWriter{}} }

func (s *memStorage) Create(name string) (Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[name]; ok {
		return nil, fmt.Errorf("create %s: %w", name, fs.ErrExist)
	}
	w := &memWriter{}
	s.files[name] = w
	s.order = append(s.order, name)
	return w, nil
}

func (s *memStorage) file(name string) *memWriter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files[name]
}

type recordingObserver struct {
	mu      sync.Mutex
	events  []string
	stopped []Summary
}

func (o *recordingObserver) SessionStarted(info Info) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "start "+info.ID)
}

func (o *recordingObserver) SessionStopped(sum Summary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "stop "+sum.ID)
	o.stopped = append(o.stopped, sum)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var t0 = time.Date(2024, 6, 1, 13, 4, 5, 0, time.Local)

func TestStartOpensStreamsWithHeaders(t *testing.T) {
	st := newMemStorage()
	c := NewController(st, Options{Now: fixedClock(t0)})

	info, err := c.Start()
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01_13-04-05", info.ID)
	assert.True(t, c.Recording())

	want := []string{
		"2024-06-01_13-04-05_location.file",
		"2024-06-01_13-04-05_pressure.file",
		"2024-06-01_13-04-05_nmea.file",
		"2024-06-01_13-04-05_heartRate.file",
		"2024-06-01_13-04-05_inertial.file",
	}
	if diff := cmp.Diff(want, st.order); diff != "" {
		t.Fatalf("files mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, locationHeader, st.file(want[0]).String())
	assert.Equal(t, pressureHeader, st.file(want[1]).String())
	assert.Empty(t, st.file(want[2]).String())
}

func TestStartTwiceIsNoop(t *testing.T) {
	st := newMemStorage()
	obs := &recordingObserver{}
	c := NewController(st, Options{Now: fixedClock(t0)})
	c.AddObserver(obs)

	first, err := c.Start()
	require.NoError(t, err)
	second, err := c.Start()
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, st.order, len(Kinds))
	assert.Equal(t, locationHeader, st.file(FileName(first.ID, KindLocation)).String())
	assert.Equal(t, []string{"start " + first.ID}, obs.events)
}

func TestStopWhileIdleIsNoop(t *testing.T) {
	st := newMemStorage()
	obs := &recordingObserver{}
	c := NewController(st, Options{Now: fixedClock(t0)})
	c.AddObserver(obs)

	_, ok, err := c.Stop()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, st.order)
	assert.Empty(t, obs.events)
}

func TestStopClosesAndReportsLines(t *testing.T) {
	st := newMemStorage()
	obs := &recordingObserver{}
	c := NewController(st, Options{Now: fixedClock(t0)})
	c.AddObserver(obs)

	info, err := c.Start()
	require.NoError(t, err)
	require.NoError(t, c.Record(sample.Pressure{TimestampNanos: 1, HPa: 1000, Accuracy: sample.AccuracyHigh}))
	require.NoError(t, c.Record(sample.Pressure{TimestampNanos: 2, HPa: 1000.1, Accuracy: sample.AccuracyHigh}))

	sum, ok, err := c.Stop()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), sum.Lines[KindPressure])
	assert.False(t, c.Recording())
	for _, name := range st.order {
		assert.True(t, st.file(name).closed, name)
	}
	assert.Equal(t, []string{"start " + info.ID, "stop " + info.ID}, obs.events)

	// A second stop touches nothing.
	_, ok, err = c.Stop()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, obs.events, 2)
}

func TestIdleSamplesAreDropped(t *testing.T) {
	st := newMemStorage()
	c := NewController(st, Options{Now: fixedClock(t0)})

	require.NoError(t, c.Record(sample.Pressure{TimestampNanos: 99, HPa: 999}))
	info, err := c.Start()
	require.NoError(t, err)
	require.NoError(t, c.Record(sample.Pressure{TimestampNanos: 100, HPa: 1000, Accuracy: sample.AccuracyHigh}))
	_, _, err = c.Stop()
	require.NoError(t, err)
	require.NoError(t, c.Record(sample.Pressure{TimestampNanos: 101, HPa: 1001}))

	got := st.file(FileName(info.ID, KindPressure)).String()
	assert.Equal(t, pressureHeader+"100\t1000.00000\t3\r\n", got)
}

func TestLineFormats(t *testing.T) {
	st := newMemStorage()
	c := NewController(st, Options{Now: fixedClock(t0)})
	info, err := c.Start()
	require.NoError(t, err)

	fix := time.UnixMilli(1717247045123)
	samples := []sample.Sample{
		sample.Location{
			Time: fix, ElapsedRealtimeNanos: 5_000_000_000,
			Latitude: 45.1234567, Longitude: 6.7654321, Altitude: 1523.4,
			Speed: 9.87, Bearing: 271.25, Accuracy: 3.5,
			VerticalAccuracy: 4.5, SpeedAccuracy: 0.25, BearingAccuracy: 1.125,
		},
		sample.HeartRate{TimestampNanos: 7, BPM: 91, Accuracy: sample.AccuracyHigh},
		sample.HeartRate{TimestampNanos: 8, BPM: 150, Accuracy: sample.AccuracyMedium},
		sample.Inertial{TimestampNanos: 9, Kind: sample.Accelerometer, X: 0.5, Y: -1.25, Z: 9.81},
		sample.Inertial{TimestampNanos: 10, Kind: sample.Gravity, X: 0, Y: 0, Z: 9.80665},
		sample.Inertial{TimestampNanos: 11, Kind: sample.LinearAcceleration, X: 0.1, Y: 0, Z: 0},
		sample.NMEA{Time: t0, Sentence: "$GPGGA,1*00\r\n"},
	}
	for _, s := range samples {
		require.NoError(t, c.Record(s))
	}

	assert.Equal(t,
		locationHeader+"1717247045123\t5000000000\t45.123457\t6.765432\t1523\t9.9\t271.2\t3.50\t4.50\t0.25\t1.12\r\n",
		st.file(FileName(info.ID, KindLocation)).String())
	assert.Equal(t, "7: 91\n", st.file(FileName(info.ID, KindHeartRate)).String())
	assert.Equal(t,
		"9:\tINERT_ACCELEROMETER\t0.5\t-1.25\t9.81\n"+
			"10:\tINERT_GRAVITY\t0\t0\t9.80665\n"+
			"11:\tINERT_LINEARACC\t0.1\t0\t0\n",
		st.file(FileName(info.ID, KindInertial)).String())
	assert.Equal(t, "2024-06-01_13-04-05: $GPGGA,1*00\r\n", st.file(FileName(info.ID, KindNMEA)).String())
}

func TestSameSecondRestartGetsNewID(t *testing.T) {
	st := newMemStorage()
	c := NewController(st, Options{Now: fixedClock(t0)})

	first, err := c.Start()
	require.NoError(t, err)
	_, _, err = c.Stop()
	require.NoError(t, err)
	second, err := c.Start()
	require.NoError(t, err)

	assert.Equal(t, "2024-06-01_13-04-05", first.ID)
	assert.Equal(t, "2024-06-01_13-04-06", second.ID)
}

func TestWriteFailureStopsSession(t *testing.T) {
	st := newMemStorage()
	obs := &recordingObserver{}
	c := NewController(st, Options{Now: fixedClock(t0)})
	c.AddObserver(obs)

	info, err := c.Start()
	require.NoError(t, err)
	diskFull := errors.New("no space left on device")
	st.file(FileName(info.ID, KindPressure)).failErr = diskFull

	err = c.Record(sample.Pressure{TimestampNanos: 1, HPa: 1000})
	require.ErrorIs(t, err, ErrSessionFailed)
	require.ErrorIs(t, err, diskFull)
	assert.False(t, c.Recording())

	require.Len(t, obs.stopped, 1)
	assert.ErrorIs(t, obs.stopped[0].Err, diskFull)

	// Later samples are dropped, not failed.
	require.NoError(t, c.Record(sample.Pressure{TimestampNanos: 2, HPa: 1000}))
}

func TestWriteFailureRacingStartKeepsNoticesOrdered(t *testing.T) {
	st := newMemStorage()
	obs := &recordingObserver{}
	var offset atomic.Int64
	c := NewController(st, Options{Now: func() time.Time { return t0.Add(time.Duration(offset.Load())) }})
	c.AddObserver(obs)

	info, err := c.Start()
	require.NoError(t, err)
	w := st.file(FileName(info.ID, KindPressure))
	w.failErr = errors.New("i/o error")
	w.entered = make(chan struct{}, 1)
	w.release = make(chan struct{})

	recErr := make(chan error, 1)
	go func() { recErr <- c.Record(sample.Pressure{TimestampNanos: 1, HPa: 1000}) }()
	<-w.entered

	offset.Store(int64(10 * time.Second))
	started := make(chan error, 1)
	go func() {
		_, err := c.Start()
		started <- err
	}()
	// Let Start queue behind the in-flight write.
	time.Sleep(50 * time.Millisecond)
	close(w.release)

	require.ErrorIs(t, <-recErr, ErrSessionFailed)
	require.NoError(t, <-started)

	obs.mu.Lock()
	events := append([]string(nil), obs.events...)
	obs.mu.Unlock()

	// Notices alternate start/stop, each stop names the session started
	// just before it, and the last notice matches the controller state.
	for i, ev := range events {
		if i%2 == 0 {
			require.True(t, strings.HasPrefix(ev, "start "), "events=%v", events)
		} else {
			require.Equal(t, "stop "+strings.TrimPrefix(events[i-1], "start "), ev, "events=%v", events)
		}
	}
	assert.Equal(t, len(events)%2 == 1, c.Recording(), "events=%v", events)
}

func TestConcurrentRecordKeepsLinesIntact(t *testing.T) {
	st := newMemStorage()
	c := NewController(st, Options{Now: fixedClock(t0)})
	info, err := c.Start()
	require.NoError(t, err)

	const n = 500
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_ = c.Record(sample.Pressure{TimestampNanos: int64(i), HPa: 1000, Accuracy: sample.AccuracyHigh})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_ = c.Record(sample.Inertial{TimestampNanos: int64(i), Kind: sample.Accelerometer, Z: 9.81})
		}
	}()
	wg.Wait()
	_, _, err = c.Stop()
	require.NoError(t, err)

	press := strings.Split(strings.TrimSuffix(st.file(FileName(info.ID, KindPressure)).String(), "\r\n"), "\r\n")
	require.Len(t, press, n+1)
	for i, line := range press[1:] {
		require.Equal(t, fmt.Sprintf("%d\t1000.00000\t3", i), line)
	}
	inert := strings.Split(strings.TrimSuffix(st.file(FileName(info.ID, KindInertial)).String(), "\n"), "\n")
	require.Len(t, inert, n)
	for i, line := range inert {
		require.Equal(t, fmt.Sprintf("%d:\tINERT_ACCELEROMETER\t0\t0\t9.81", i), line)
	}
}

func TestRecordRacingStopNeverWritesAfterClose(t *testing.T) {
	for round := 0; round < 20; round++ {
		st := newMemStorage()
		c := NewController(st, Options{Now: fixedClock(t0.Add(time.Duration(round) * time.Hour))})
		_, err := c.Start()
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make(chan error, 1000)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				if err := c.Record(sample.Pressure{TimestampNanos: int64(i), HPa: 1}); err != nil {
					errs <- err
				}
			}
		}()
		_, _, err = c.Stop()
		require.NoError(t, err)
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("record err=%v", err)
		}
	}
}

func TestDirStorage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sessions")
	c := NewController(DirStorage{Dir: dir}, Options{Now: fixedClock(t0)})

	info, err := c.Start()
	require.NoError(t, err)
	require.NoError(t, c.Record(sample.Pressure{TimestampNanos: 42, HPa: 987.654321, Accuracy: sample.AccuracyHigh}))
	require.NoError(t, c.Flush())
	_, _, err = c.Stop()
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(dir, FileName(info.ID, KindPressure)))
	require.NoError(t, err)
	assert.Equal(t, pressureHeader+"42\t987.65432\t3\r\n", string(b))

	_, err = DirStorage{Dir: dir}.Create(FileName(info.ID, KindPressure))
	assert.ErrorIs(t, err, fs.ErrExist)
}
