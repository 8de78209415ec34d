package feed

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

type clientConfig struct {
	Addr           string
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	MaxLineBytes   int
}

// client reads newline-delimited records from a TCP peer, reconnecting
// after every drop until closed. It is single use.
type client struct {
	cfg clientConfig

	mu       sync.RWMutex
	state    string
	lastErr  string
	lastSeen time.Time
	lines    uint64
	dropped  uint64

	cancel context.CancelFunc
	done   chan struct{}
}

func newClient(cfg clientConfig) *client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 64 * 1024
	}
	return &client{cfg: cfg, state: "stopped", done: make(chan struct{})}
}

// start runs the read loop; onLine gets a private copy of every non-empty
// line. A handler error is recorded and the line counted as dropped.
func (c *client) start(ctx context.Context, onLine func(line []byte) error) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.setState("connecting", "")
	go func() {
		defer close(c.done)
		c.runLoop(runCtx, onLine)
	}()
}

func (c *client) close() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
}

func (c *client) runLoop(ctx context.Context, onLine func(line []byte) error) {
	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}

	for {
		if ctx.Err() != nil {
			c.setState("stopped", "")
			return
		}

		c.setState("connecting", "")
		conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
		if err != nil {
			c.setState("error", err.Error())
			if !sleepCtx(ctx, c.cfg.ReconnectDelay) {
				c.setState("stopped", "")
				return
			}
			continue
		}
		c.setState("connected", "")
		c.readConn(ctx, conn, onLine)

		if !sleepCtx(ctx, c.cfg.ReconnectDelay) {
			c.setState("stopped", "")
			return
		}
	}
}

func (c *client) readConn(ctx context.Context, conn net.Conn, onLine func([]byte) error) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > c.cfg.MaxLineBytes {
			c.drop(fmt.Sprintf("line too large (%d bytes)", len(line)))
			line = nil
		}
		if line = bytes.TrimSpace(line); len(line) > 0 {
			raw := append([]byte(nil), line...)
			if herr := onLine(raw); herr != nil {
				c.drop(herr.Error())
			} else {
				c.mu.Lock()
				c.lastSeen = time.Now().UTC()
				c.lines++
				c.mu.Unlock()
			}
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				c.setState("disconnected", "")
			} else {
				c.setState("disconnected", err.Error())
			}
			return
		}
	}
}

func (c *client) drop(msg string) {
	c.mu.Lock()
	c.dropped++
	c.lastErr = msg
	c.mu.Unlock()
}

func (c *client) setState(state string, lastErr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	if lastErr != "" {
		c.lastErr = lastErr
	} else if state == "connected" || state == "stopped" {
		c.lastErr = ""
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
