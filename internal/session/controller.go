// Package session owns the per-session log files.
//
// A Controller is either idle or recording. Start and Stop are idempotent.
// Record appends one line per accepted sample and silently drops samples
// while idle. Writer access is serialized by the controller lock, so a
// sample racing a Stop is either fully written before close or dropped.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"sync"
	"time"

	"paravario/internal/sample"
)

// ErrSessionFailed wraps a write error that ended the session.
var ErrSessionFailed = errors.New("session: recording failed")

// maxIDBumps bounds how far Start walks forward looking for a free id.
const maxIDBumps = 60

type Info struct {
	ID        string          `json:"id"`
	StartedAt time.Time       `json:"started_at"`
	Files     map[Kind]string `json:"files"`
}

// Summary describes a finished session. Err is set when the session ended
// because of a write failure, or when closing a file failed.
type Summary struct {
	Info
	StoppedAt time.Time       `json:"stopped_at"`
	Lines     map[Kind]uint64 `json:"lines"`
	Err       error           `json:"-"`
}

// Observer is told about lifecycle transitions. Calls are serialized and
// made without the controller lock held, but an observer must not call
// Start or Stop synchronously.
type Observer interface {
	SessionStarted(Info)
	SessionStopped(Summary)
}

type Options struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

type Controller struct {
	storage Storage
	now     func() time.Time

	// transMu serializes transitions together with their notification.
	transMu sync.Mutex

	mu     sync.Mutex
	active *active

	obsMu     sync.Mutex
	observers []Observer
}

type active struct {
	info    Info
	writers map[Kind]Writer
	lines   map[Kind]uint64
}

func NewController(storage Storage, opts Options) *Controller {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{storage: storage, now: now}
}

func (c *Controller) AddObserver(o Observer) {
	if c == nil || o == nil {
		return
	}
	c.obsMu.Lock()
	c.observers = append(c.observers, o)
	c.obsMu.Unlock()
}

func (c *Controller) observersCopy() []Observer {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	return append([]Observer(nil), c.observers...)
}

func (c *Controller) Recording() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Info returns the running session, if any.
func (c *Controller) Info() (Info, bool) {
	if c == nil {
		return Info{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return Info{}, false
	}
	return c.active.info, true
}

// Start opens a new session. While recording it returns the running
// session unchanged.
func (c *Controller) Start() (Info, error) {
	if c == nil {
		return Info{}, errors.New("session: controller is nil")
	}
	c.transMu.Lock()
	defer c.transMu.Unlock()

	c.mu.Lock()
	if c.active != nil {
		info := c.active.info
		c.mu.Unlock()
		return info, nil
	}
	a, err := c.open()
	if err != nil {
		c.mu.Unlock()
		return Info{}, err
	}
	c.active = a
	info := a.info
	c.mu.Unlock()

	log.Printf("session: started id=%s", info.ID)
	for _, o := range c.observersCopy() {
		o.SessionStarted(info)
	}
	return info, nil
}

// open creates every stream and writes headers. Caller holds c.mu.
func (c *Controller) open() (*active, error) {
	startedAt := c.now()
	id := startedAt.Local().Format(IDLayout)

	var writers map[Kind]Writer
	var err error
	for bump := 0; bump <= maxIDBumps; bump++ {
		writers, err = c.create(id)
		if err == nil || !errors.Is(err, fs.ErrExist) {
			break
		}
		id = startedAt.Add(time.Duration(bump+1) * time.Second).Local().Format(IDLayout)
	}
	if err != nil {
		return nil, err
	}

	a := &active{
		info:    Info{ID: id, StartedAt: startedAt, Files: make(map[Kind]string, len(Kinds))},
		writers: writers,
		lines:   make(map[Kind]uint64, len(Kinds)),
	}
	for _, k := range Kinds {
		a.info.Files[k] = FileName(id, k)
		h := header(k)
		if h == "" {
			continue
		}
		if _, err := writers[k].Write([]byte(h)); err != nil {
			_ = closeAll(writers)
			return nil, fmt.Errorf("session: write %s header: %w", k, err)
		}
	}
	return a, nil
}

func (c *Controller) create(id string) (map[Kind]Writer, error) {
	writers := make(map[Kind]Writer, len(Kinds))
	for _, k := range Kinds {
		w, err := c.storage.Create(FileName(id, k))
		if err != nil {
			_ = closeAll(writers)
			return nil, err
		}
		writers[k] = w
	}
	return writers, nil
}

func closeAll(writers map[Kind]Writer) error {
	var errs []error
	for _, k := range Kinds {
		w, ok := writers[k]
		if !ok {
			continue
		}
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session: close %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

// Stop flushes and closes every stream. While idle it does nothing and
// returns ok=false.
func (c *Controller) Stop() (sum Summary, ok bool, err error) {
	if c == nil {
		return Summary{}, false, nil
	}
	c.transMu.Lock()
	defer c.transMu.Unlock()

	c.mu.Lock()
	a := c.active
	if a == nil {
		c.mu.Unlock()
		return Summary{}, false, nil
	}
	c.active = nil
	sum = c.finish(a, nil)
	c.mu.Unlock()

	c.notifyStopped(sum)
	return sum, true, sum.Err
}

// finish closes a's streams. Caller holds c.mu.
func (c *Controller) finish(a *active, cause error) Summary {
	closeErr := closeAll(a.writers)
	lines := make(map[Kind]uint64, len(a.lines))
	for k, n := range a.lines {
		lines[k] = n
	}
	return Summary{
		Info:      a.info,
		StoppedAt: c.now(),
		Lines:     lines,
		Err:       errors.Join(cause, closeErr),
	}
}

func (c *Controller) notifyStopped(sum Summary) {
	if sum.Err != nil {
		log.Printf("session: stopped id=%s err=%v", sum.ID, sum.Err)
	} else {
		log.Printf("session: stopped id=%s", sum.ID)
	}
	for _, o := range c.observersCopy() {
		o.SessionStopped(sum)
	}
}

// Record appends s to its stream. A write failure stops the session and
// returns an error wrapping ErrSessionFailed.
func (c *Controller) Record(s sample.Sample) error {
	if c == nil {
		return nil
	}
	k, line, ok := formatLine(s)
	if !ok {
		return nil
	}

	c.mu.Lock()
	a := c.active
	if a == nil {
		c.mu.Unlock()
		return nil
	}
	w := a.writers[k]
	if _, err := w.Write([]byte(line)); err != nil {
		return c.fail(a, fmt.Errorf("session: write %s: %w", k, err))
	}
	a.lines[k]++
	c.mu.Unlock()
	return nil
}

// Flush pushes buffered lines to storage. A failure stops the session.
func (c *Controller) Flush() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	a := c.active
	if a == nil {
		c.mu.Unlock()
		return nil
	}
	for _, k := range Kinds {
		if err := a.writers[k].Flush(); err != nil {
			return c.fail(a, fmt.Errorf("session: flush %s: %w", k, err))
		}
	}
	c.mu.Unlock()
	return nil
}

// fail ends session a. Called with c.mu held; releases it. The lock is
// dropped and retaken under transMu so the stop notice cannot overtake a
// Start waiting on c.mu. If a was already stopped meanwhile, only the error
// is returned.
func (c *Controller) fail(a *active, cause error) error {
	c.mu.Unlock()

	c.transMu.Lock()
	defer c.transMu.Unlock()
	c.mu.Lock()
	if c.active != a {
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrSessionFailed, cause)
	}
	c.active = nil
	sum := c.finish(a, cause)
	c.mu.Unlock()

	c.notifyStopped(sum)
	return fmt.Errorf("%w: %w", ErrSessionFailed, cause)
}
