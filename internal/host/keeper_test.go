package host

import (
	"context"
	"testing"
	"time"
)

func TestKeeperWait(t *testing.T) {
	k := NewKeeper()
	if err := k.Wait(context.Background()); err != nil {
		t.Fatalf("Wait idle err=%v", err)
	}

	k.Start()
	k.Start()
	if s := k.Snapshot(); !s.Held || s.Holds != 1 {
		t.Fatalf("snapshot=%+v want held once", s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := k.Wait(ctx); err == nil {
		t.Fatalf("Wait while held returned nil")
	}

	done := make(chan error, 1)
	go func() { done <- k.Wait(context.Background()) }()
	k.Stop()
	k.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait err=%v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait did not return after Stop")
	}
	if k.Snapshot().Held {
		t.Fatalf("still held after Stop")
	}
}
