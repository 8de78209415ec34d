package web

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLogBufferJoinsPartialWrites(t *testing.T) {
	b := NewLogBuffer(10)
	_, _ = b.Write([]byte("fusion: subscri"))
	_, _ = b.Write([]byte("bed source=gps\nsession: started"))
	_, _ = b.Write([]byte(" id=x\r\n\n"))

	lines, dropped := b.Snapshot(0)
	if dropped != 0 || len(lines) != 2 {
		t.Fatalf("lines=%q dropped=%d", lines, dropped)
	}
	if lines[0] != "fusion: subscribed source=gps" || lines[1] != "session: started id=x" {
		t.Fatalf("lines=%q", lines)
	}
}

func TestLogBufferRing(t *testing.T) {
	b := NewLogBuffer(3)
	lg := log.New(b, "", 0)
	for i := 0; i < 5; i++ {
		lg.Printf("line %d", i)
	}
	lines, dropped := b.Snapshot(2)
	if dropped != 2 || strings.Join(lines, "|") != "line 3|line 4" {
		t.Fatalf("lines=%q dropped=%d", lines, dropped)
	}
}

func TestLogsHandler(t *testing.T) {
	b := NewLogBuffer(100)
	for i := 0; i < 5; i++ {
		fmt.Fprintf(b, "gps: fix %d\n", i)
	}
	fmt.Fprintln(b, "fusion: flush failed")

	ts := httptest.NewServer(Handler(Config{Logs: b}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/logs?tail=3&grep=gps")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var out LogsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Join(out.Lines, "|") != "gps: fix 3|gps: fix 4" || out.Total != 6 {
		t.Fatalf("out=%+v", out)
	}

	bad, err := http.Get(ts.URL + "/api/logs?tail=0")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("code=%d", bad.StatusCode)
	}
}

func TestLogsHandlerText(t *testing.T) {
	b := NewLogBuffer(2)
	for i := 0; i < 3; i++ {
		fmt.Fprintf(b, "sim: tick %d\n", i)
	}
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/logs?format=text", nil))
	if got, want := rec.Body.String(), "[dropped=1]\nsim: tick 1\nsim: tick 2\n"; got != want {
		t.Fatalf("body=%q want %q", got, want)
	}

	rec = httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/logs", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("code=%d", rec.Code)
	}
}
