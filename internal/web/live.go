package web

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"paravario/internal/display"
)

// Broadcaster fans display events out to live listeners. It keeps the last
// event of each kind so a new listener starts with a full picture.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan display.Event
	nextID int
	last   map[display.Kind]display.Event

	dropped uint64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[int]chan display.Event),
		last: make(map[display.Kind]display.Event),
	}
}

// replayOrder is the order in which cached events are sent to a new
// listener.
var replayOrder = []display.Kind{
	display.KindRecording,
	display.KindPressure,
	display.KindVerticalSpeed,
	display.KindElevation,
	display.KindHorizontalSpeed,
}

func (b *Broadcaster) Subscribe(buffer int) (int, <-chan display.Event) {
	if b == nil {
		return 0, nil
	}
	if buffer < len(replayOrder) {
		buffer = 16
	}
	ch := make(chan display.Event, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	for _, k := range replayOrder {
		if ev, ok := b.last[k]; ok {
			ch <- ev
		}
	}
	b.mu.Unlock()
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Listeners() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish never blocks: a listener that is behind loses the event.
func (b *Broadcaster) Publish(ev display.Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last[ev.Kind] = ev
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped++
		}
	}
}

// Sink adapts b to display.Sink.
func (b *Broadcaster) Sink() display.Sink {
	return display.Emitter{Emit: b.Publish}
}

const (
	liveWriteWait  = 5 * time.Second
	livePongWait   = 30 * time.Second
	livePingPeriod = 20 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The UI is served from this host or from a phone on the same network.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeHTTP streams events as JSON text frames until the peer goes away.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade failed err=%v", err)
		return
	}
	defer conn.Close()

	id, events := b.Subscribe(64)
	defer b.Unsubscribe(id)

	// The reader only handles control frames and notices the close.
	gone := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("web: live listener error err=%v", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(livePingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				return
			}
		}
	}
}
