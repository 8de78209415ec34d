package web

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// maxPartial caps an unterminated line before it is committed anyway.
const maxPartial = 64 * 1024

// LogBuffer keeps the most recent log lines for /api/logs.
type LogBuffer struct {
	mu      sync.Mutex
	max     int
	lines   []string
	partial string
	dropped uint64
}

func NewLogBuffer(maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = 2000
	}
	return &LogBuffer{max: maxLines}
}

// Write implements io.Writer so the buffer can sit behind log.SetOutput.
// A trailing fragment without a newline is held until the next write.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := b.partial + string(p)
	for {
		i := strings.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		b.appendLineLocked(data[:i])
		data = data[i+1:]
	}
	if len(data) > maxPartial {
		b.appendLineLocked(data)
		data = ""
	}
	b.partial = data
	return len(p), nil
}

func (b *LogBuffer) appendLineLocked(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		over := len(b.lines) - b.max
		b.lines = b.lines[over:]
		b.dropped += uint64(over)
	}
}

type LogsResponse struct {
	NowUTC  string   `json:"now_utc"`
	Dropped uint64   `json:"dropped"`
	Total   uint64   `json:"total"`
	Lines   []string `json:"lines"`
}

// Snapshot returns up to tail of the newest lines, oldest first.
func (b *LogBuffer) Snapshot(tail int) (lines []string, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped = b.dropped
	if tail <= 0 {
		tail = 200
	}
	if tail > len(b.lines) {
		tail = len(b.lines)
	}
	start := len(b.lines) - tail
	lines = append([]string(nil), b.lines[start:]...)
	return lines, dropped
}

func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

func parseTail(q string) (int, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return 200, nil
	}
	v, err := strconv.Atoi(q)
	if err != nil || v < 1 || v > 5000 {
		return 0, fmt.Errorf("tail must be an integer in [1,5000]")
	}
	return v, nil
}

// Handler serves the buffer. Query: tail (1..5000) selects the newest
// lines, grep then keeps those containing a substring, format=text answers
// in plain text.
func (b *LogBuffer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		q := r.URL.Query()
		tail, err := parseTail(q.Get("tail"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		lines, dropped := b.Snapshot(tail)
		if grep := q.Get("grep"); grep != "" {
			kept := lines[:0]
			for _, l := range lines {
				if strings.Contains(l, grep) {
					kept = append(kept, l)
				}
			}
			lines = kept
		}

		if strings.EqualFold(q.Get("format"), "text") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			if dropped > 0 {
				fmt.Fprintf(w, "[dropped=%d]\n", dropped)
			}
			if len(lines) > 0 {
				_, _ = io.WriteString(w, strings.Join(lines, "\n")+"\n")
			}
			return
		}
		writeJSON(w, http.StatusOK, LogsResponse{
			NowUTC:  time.Now().UTC().Format(time.RFC3339Nano),
			Dropped: dropped,
			Total:   dropped + uint64(b.Len()),
			Lines:   lines,
		})
	})
}
