// Package web serves the control and status API: recording start/stop,
// subscription control, session history, live display events and logs.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"paravario/internal/catalog"
)

// SessionLister lists recorded sessions, newest first.
type SessionLister interface {
	List(ctx context.Context, limit int) ([]catalog.Entry, error)
}

type Config struct {
	Status   *Status
	Control  Controller
	Sessions SessionLister
	Live     *Broadcaster
	Logs     *LogBuffer
	// LogDir is reported with its free space under /api/system.
	LogDir string
}

const actionTimeout = 5 * time.Second

func Handler(cfg Config) http.Handler {
	mux := http.NewServeMux()
	status := cfg.Status
	if status == nil {
		status = NewStatus(cfg.Control, nil)
	}

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, status.Snapshot(time.Now().UTC()))
	})

	mux.HandleFunc("/api/recording/start", func(w http.ResponseWriter, r *http.Request) {
		control(w, r, cfg.Control, func(ctx context.Context) error { return cfg.Control.StartRecording(ctx) })
	})
	mux.HandleFunc("/api/recording/stop", func(w http.ResponseWriter, r *http.Request) {
		control(w, r, cfg.Control, func(ctx context.Context) error { return cfg.Control.StopRecording(ctx) })
	})

	mux.HandleFunc("/api/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Control == nil {
			http.Error(w, "controller unavailable", http.StatusServiceUnavailable)
			return
		}
		if r.Method == http.MethodGet {
			st := cfg.Control.Status()
			writeJSON(w, http.StatusOK, map[string]bool{
				"active":    st.SubscriptionsActive,
				"requested": st.SubscriptionsRequested,
			})
			return
		}
		var req struct {
			Active *bool `json:"active"`
		}
		if r.Method == http.MethodPost {
			body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
			if err != nil || json.Unmarshal(body, &req) != nil || req.Active == nil {
				http.Error(w, `body must be {"active":true|false}`, http.StatusBadRequest)
				return
			}
		}
		control(w, r, cfg.Control, func(ctx context.Context) error {
			return cfg.Control.SetSubscriptionActive(ctx, *req.Active)
		})
	})

	mux.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		if cfg.Sessions == nil {
			http.Error(w, "session catalog unavailable", http.StatusNotFound)
			return
		}
		limit := 50
		if s := strings.TrimSpace(r.URL.Query().Get("limit")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 0 {
				http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
				return
			}
			limit = v
		}
		entries, err := cfg.Sessions.List(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []catalog.Entry{}
		}
		writeJSON(w, http.StatusOK, struct {
			Sessions []catalog.Entry `json:"sessions"`
		}{entries})
	})

	mux.HandleFunc("/api/system", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, systemSnapshot(cfg.LogDir))
	})

	if cfg.Live != nil {
		mux.Handle("/api/live", cfg.Live)
	}
	if cfg.Logs != nil {
		mux.Handle("/api/logs", cfg.Logs.Handler())
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		snap := status.Snapshot(time.Now().UTC())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = fmt.Fprint(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>paravario</title></head><body>")
		_, _ = fmt.Fprint(w, "<h1>paravario</h1>")
		if snap.Fusion != nil {
			_, _ = fmt.Fprintf(w, "<p>recording=%v sources=%s</p>", snap.Fusion.Recording, strings.Join(snap.Fusion.Sources, ", "))
		}
		_, _ = fmt.Fprint(w, "<p>API: <a href=\"/api/status\">/api/status</a>, <a href=\"/api/sessions\">/api/sessions</a>, <a href=\"/api/logs?format=text\">/api/logs</a></p>")
		_, _ = fmt.Fprint(w, "</body></html>")
	})

	return mux
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

// control runs a POST action against the manager and answers with the
// resulting manager status.
func control(w http.ResponseWriter, r *http.Request, ctl Controller, action func(ctx context.Context) error) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if ctl == nil {
		http.Error(w, "controller unavailable", http.StatusServiceUnavailable)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), actionTimeout)
	defer cancel()
	if err := action(ctx); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			code = http.StatusGatewayTimeout
		}
		writeJSON(w, code, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": ctl.Status()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

// Serve runs the API until ctx is done.
func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
