// Package host implements the foreground keeper signalled while a session
// records. The daemon consults it on shutdown so logs are closed before
// exit.
package host

import (
	"context"
	"log"
	"sync"
	"time"
)

type Snapshot struct {
	Held      bool      `json:"held"`
	Since     time.Time `json:"since,omitempty"`
	Holds     uint64    `json:"holds"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Keeper tracks whether the process must stay up. Start and Stop are
// idempotent.
type Keeper struct {
	mu      sync.Mutex
	snap    Snapshot
	release chan struct{}
}

func NewKeeper() *Keeper {
	k := &Keeper{release: make(chan struct{})}
	close(k.release)
	return k
}

func (k *Keeper) Start() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.snap.Held {
		return
	}
	now := time.Now().UTC()
	k.snap.Held = true
	k.snap.Since = now
	k.snap.Holds++
	k.snap.UpdatedAt = now
	k.release = make(chan struct{})
	log.Printf("host: foreground hold acquired")
}

func (k *Keeper) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.snap.Held {
		return
	}
	held := time.Since(k.snap.Since)
	k.snap.Held = false
	k.snap.Since = time.Time{}
	k.snap.UpdatedAt = time.Now().UTC()
	close(k.release)
	log.Printf("host: foreground hold released held=%s", held.Round(time.Second))
}

func (k *Keeper) Snapshot() Snapshot {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.snap
}

// Wait blocks until no hold is active or ctx is done.
func (k *Keeper) Wait(ctx context.Context) error {
	k.mu.Lock()
	ch := k.release
	k.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
