// Package mqttpub publishes display events to an MQTT broker, one topic
// per event kind under a common prefix.
package mqttpub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"paravario/internal/display"
)

type Config struct {
	Broker   string
	ClientID string
	// Prefix defaults to "paravario". Events go to <prefix>/<kind>; the
	// broker keeps the last recording state and the online status.
	Prefix string
	QoS    byte
	// MinInterval throttles each value kind. Recording changes are never
	// throttled.
	MinInterval    time.Duration
	ConnectTimeout time.Duration
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Publisher struct {
	cfg    Config
	client publisher
	now    func() time.Time
	// disconnect is nil for injected clients.
	disconnect func()

	mu   sync.Mutex
	last map[display.Kind]time.Time

	published atomic.Uint64
	failed    atomic.Uint64
}

func (c Config) withDefaults() Config {
	c.Prefix = strings.Trim(strings.TrimSpace(c.Prefix), "/")
	if c.Prefix == "" {
		c.Prefix = "paravario"
	}
	if c.ClientID == "" {
		c.ClientID = "paravario"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.QoS > 2 {
		c.QoS = 2
	}
	return c
}

// Connect dials the broker. The client reconnects on its own afterwards.
func Connect(cfg Config) (*Publisher, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqttpub: broker is required")
	}
	statusTopic := cfg.Prefix + "/status"
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetWill(statusTopic, "offline", 1, true).
		SetOnConnectHandler(func(c mqtt.Client) {
			c.Publish(statusTopic, 1, true, "online")
			log.Printf("mqttpub: connected broker=%s", cfg.Broker)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("mqttpub: connection lost broker=%s err=%v", cfg.Broker, err)
		})

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(cfg.ConnectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqttpub: connect %s: timed out after %s", cfg.Broker, cfg.ConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqttpub: connect %s: %w", cfg.Broker, err)
	}
	p := newPublisher(cfg, client)
	p.disconnect = func() {
		client.Publish(statusTopic, 1, true, "offline").WaitTimeout(time.Second)
		client.Disconnect(250)
	}
	return p, nil
}

func newPublisher(cfg Config, client publisher) *Publisher {
	return &Publisher{cfg: cfg.withDefaults(), client: client, now: time.Now, last: map[display.Kind]time.Time{}}
}

func (p *Publisher) Topic(kind display.Kind) string {
	return p.cfg.Prefix + "/" + string(kind)
}

func (p *Publisher) Close() {
	if p == nil || p.disconnect == nil {
		return
	}
	p.disconnect()
}

func (p *Publisher) Stats() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}

// Sink returns the display.Sink view of p. Publishing never blocks the
// caller on the broker.
func (p *Publisher) Sink() display.Sink {
	return display.Emitter{Emit: p.publish, Now: func() time.Time { return p.now().UTC() }}
}

func (p *Publisher) publish(ev display.Event) {
	retained := ev.Kind == display.KindRecording
	if !retained && !p.due(ev.Kind, ev.At) {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("mqttpub: encode kind=%s err=%v", ev.Kind, err)
		return
	}
	tok := p.client.Publish(p.Topic(ev.Kind), p.cfg.QoS, retained, payload)
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			n := p.failed.Add(1)
			if n == 1 || n%100 == 0 {
				log.Printf("mqttpub: publish failed topic=%s count=%d err=%v", p.Topic(ev.Kind), n, err)
			}
			return
		}
	default:
		// In flight; paho reports failures through the connection handlers.
	}
	p.published.Add(1)
}

func (p *Publisher) due(kind display.Kind, at time.Time) bool {
	if p.cfg.MinInterval <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.last[kind]; ok && at.Sub(prev) < p.cfg.MinInterval {
		return false
	}
	p.last[kind] = at
	return true
}
