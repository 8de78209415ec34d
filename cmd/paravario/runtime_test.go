package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"paravario/internal/config"
	"paravario/internal/session"
	"paravario/internal/web"
)

func simConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Parse([]byte(`
storage:
  dir: ` + filepath.Join(dir, "sessions") + `
  catalog: ` + filepath.Join(dir, "catalog.db") + `
  flush_interval: 50ms
sim:
  enable: true
  tick_hz: 50
  fix_every: 5
  seed: 7
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return cfg
}

func TestRuntimeRecordsSimulatedFlight(t *testing.T) {
	cfg := simConfig(t)
	rt, err := newRuntime(cfg, web.NewLogBuffer(100))
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	defer rt.close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.run(ctx) }()

	if err := rt.mgr.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if !rt.keeper.Snapshot().Held {
		t.Fatal("foreground hold not taken while recording")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		v := rt.latest.Values()
		if v.PressureValid && v.ElevationValid && v.HorizontalSpeedValid {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	v := rt.latest.Values()
	if !v.Recording || !v.PressureValid || !v.ElevationValid {
		t.Fatalf("display values=%+v", v)
	}

	info, ok := rt.sess.Info()
	if !ok {
		t.Fatal("no running session")
	}

	// Shutdown stops the session and closes its logs.
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return")
	}
	if rt.sess.Recording() || rt.keeper.Snapshot().Held {
		t.Fatal("still recording after shutdown")
	}

	b, err := os.ReadFile(filepath.Join(cfg.Storage.Dir, session.FileName(info.ID, session.KindPressure)))
	if err != nil {
		t.Fatalf("read pressure log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\r\n")
	if len(lines) < 3 || lines[0] != "timestamp\tvalue\taccuracy" {
		t.Fatalf("pressure log=%q", lines)
	}

	entries, err := rt.catalog.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != info.ID || entries[0].StoppedAt.IsZero() {
		t.Fatalf("catalog entries=%+v", entries)
	}
}

func TestBuildSourcesPerConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(`
storage:
  dir: /tmp/unused
gps:
  enable: true
  source: gpsd
feed:
  enable: true
  addr: 127.0.0.1:7070
replay_source:
  enable: true
  path: flight.log
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sources, snaps, err := buildSources(cfg)
	if err != nil {
		t.Fatalf("buildSources: %v", err)
	}
	var names []string
	for _, s := range sources {
		names = append(names, s.Name())
	}
	if strings.Join(names, ",") != "replay,gps,feed" {
		t.Fatalf("sources=%v", names)
	}
	for _, n := range names {
		if snaps[n] == nil {
			t.Fatalf("no snapshot for %s", n)
		}
		_ = snaps[n]()
	}
}

func TestBuildSourcesBadScript(t *testing.T) {
	cfg := simConfig(t)
	cfg.Sim.Script = filepath.Join(t.TempDir(), "missing.yaml")
	if _, _, err := buildSources(cfg); err == nil {
		t.Fatal("expected error for missing scenario script")
	}
}
