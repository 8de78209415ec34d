package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"paravario/internal/button"
	"paravario/internal/catalog"
	"paravario/internal/config"
	"paravario/internal/display"
	"paravario/internal/feed"
	"paravario/internal/fusion"
	"paravario/internal/gps"
	"paravario/internal/host"
	"paravario/internal/mqttpub"
	"paravario/internal/replay"
	"paravario/internal/sensors"
	"paravario/internal/session"
	"paravario/internal/sim"
	"paravario/internal/udp"
	"paravario/internal/web"
)

// runtime owns every long-lived component of the daemon.
type runtime struct {
	cfg config.Config

	sess    *session.Controller
	mgr     *fusion.Manager
	keeper  *host.Keeper
	catalog *catalog.Catalog

	latest *display.Latest
	live   *web.Broadcaster
	status *web.Status
	logs   *web.LogBuffer

	udp    *udp.Broadcaster
	mqtt   *mqttpub.Publisher
	button *button.Button
}

func newRuntime(cfg config.Config, logs *web.LogBuffer) (*runtime, error) {
	if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage dir: %w", err)
	}
	r := &runtime{
		cfg:    cfg,
		sess:   session.NewController(session.DirStorage{Dir: cfg.Storage.Dir}, session.Options{}),
		keeper: host.NewKeeper(),
		latest: &display.Latest{},
		live:   web.NewBroadcaster(),
		logs:   logs,
	}

	if cfg.Storage.Catalog != "" {
		cat, err := catalog.Open(cfg.Storage.Catalog, cfg.Storage.Dir)
		if err != nil {
			return nil, err
		}
		r.catalog = cat
		r.sess.AddObserver(cat)
	}

	sources, snaps, err := buildSources(cfg)
	if err != nil {
		r.close()
		return nil, err
	}

	mgr, err := fusion.New(fusion.Config{
		Sources:       sources,
		Session:       r.sess,
		Host:          r.keeper,
		StartInactive: cfg.Storage.StartInactive,
		FlushInterval: cfg.Storage.FlushInterval,
	})
	if err != nil {
		r.close()
		return nil, err
	}
	r.mgr = mgr

	r.status = web.NewStatus(mgr, r.latest)
	r.status.SetSeaLevel(cfg.Web.SeaLevelHPa)
	for name, fn := range snaps {
		r.status.AddSource(name, fn)
	}
	r.status.AddSource("host", func() any { return r.keeper.Snapshot() })

	sinks := display.Fanout{r.latest, r.live.Sink()}
	if cfg.Display.UDP.Enable {
		b, err := udp.NewBroadcaster(cfg.Display.UDP.Dest)
		if err != nil {
			r.close()
			return nil, err
		}
		r.udp = b
		sinks = append(sinks, b.Sink())
		r.status.AddSource("udp", func() any {
			sent, failed := b.Stats()
			return map[string]any{"dest": b.Dest(), "sent": sent, "failed": failed}
		})
	}
	if cfg.Display.MQTT.Enable {
		p, err := mqttpub.Connect(mqttpub.Config{
			Broker:      cfg.Display.MQTT.Broker,
			ClientID:    cfg.Display.MQTT.ClientID,
			Prefix:      cfg.Display.MQTT.Prefix,
			QoS:         cfg.Display.MQTT.QoS,
			MinInterval: cfg.Display.MQTT.MinInterval,
		})
		if err != nil {
			// The broker may come up later; the recorder does not depend on it.
			log.Printf("paravario: mqtt disabled err=%v", err)
		} else {
			r.mqtt = p
			sinks = append(sinks, p.Sink())
			r.status.AddSource("mqtt", func() any {
				published, failed := p.Stats()
				return map[string]any{"published": published, "failed": failed}
			})
		}
	}
	mgr.SetListener(sinks)

	if cfg.Button.Enable {
		b, err := button.New(button.Config{Pin: cfg.Button.Pin, Debounce: cfg.Button.Debounce, HoldOff: cfg.Button.HoldOff}, mgr)
		if err != nil {
			r.close()
			return nil, err
		}
		r.button = b
	}
	return r, nil
}

// buildSources creates the enabled sample sources with their status
// snapshot functions.
func buildSources(cfg config.Config) ([]fusion.Source, map[string]func() any, error) {
	var sources []fusion.Source
	snaps := map[string]func() any{}

	if cfg.Sensors.Enable {
		svc := sensors.New(sensors.Config{
			I2CBus:       cfg.Sensors.I2CBus,
			BaroAddr:     cfg.Sensors.BaroAddr,
			IMUAddr:      cfg.Sensors.IMUAddr,
			IMUEnable:    cfg.Sensors.IMUEnable,
			BaroRateHz:   cfg.Sensors.BaroRateHz,
			IMURateHz:    cfg.Sensors.IMURateHz,
			GravityAlpha: cfg.Sensors.GravityAlpha,
		})
		sources = append(sources, svc)
		snaps[svc.Name()] = func() any { return svc.Snapshot() }
	}
	if cfg.Sim.Enable {
		svc, err := sim.New(sim.Config{
			Flight: sim.Flight{
				CenterLatDeg: cfg.Sim.CenterLatDeg,
				CenterLonDeg: cfg.Sim.CenterLonDeg,
				BaseAltM:     cfg.Sim.BaseAltM,
			},
			ScriptPath:  cfg.Sim.Script,
			TickHz:      cfg.Sim.TickHz,
			FixEvery:    cfg.Sim.FixEvery,
			SeaLevelHPa: cfg.Sim.SeaLevelHPa,
			NoiseHPa:    cfg.Sim.NoiseHPa,
			Seed:        cfg.Sim.Seed,
		})
		if err != nil {
			return nil, nil, err
		}
		sources = append(sources, svc)
		snaps[svc.Name()] = func() any {
			return map[string]any{"emitted": svc.Emitted(), "state": svc.Last()}
		}
	}
	if cfg.ReplaySource.Enable {
		src := replay.NewSource(replay.SourceConfig{
			Path:  cfg.ReplaySource.Path,
			Speed: cfg.ReplaySource.Speed,
			Loop:  cfg.ReplaySource.Loop,
		})
		sources = append(sources, src)
		snaps[src.Name()] = func() any {
			return map[string]any{"path": cfg.ReplaySource.Path, "played": src.Played()}
		}
	}
	if cfg.GPS.Enable {
		svc := gps.New(gps.Config{
			Source:   cfg.GPS.Source,
			GPSDAddr: cfg.GPS.GPSDAddr,
			Device:   cfg.GPS.Device,
			Baud:     cfg.GPS.Baud,
		})
		sources = append(sources, svc)
		snaps[svc.Name()] = func() any { return svc.Snapshot() }
	}
	if cfg.Feed.Enable {
		src, err := feed.NewSource(feed.Config{Addr: cfg.Feed.Addr, ReconnectDelay: cfg.Feed.ReconnectDelay, Pressure: cfg.Feed.Pressure})
		if err != nil {
			return nil, nil, err
		}
		sources = append(sources, src)
		snaps[src.Name()] = func() any { return src.Snapshot() }
	}
	return sources, snaps, nil
}

// run blocks until ctx is done. The session is stopped and its logs closed
// before run returns.
func (r *runtime) run(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	mgrDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(mgrDone)
		if err := r.mgr.Run(ctx); err != nil {
			errCh <- fmt.Errorf("fusion: %w", err)
		}
	}()

	if r.cfg.Web.Enable {
		h := web.Handler(web.Config{
			Status:   r.status,
			Control:  r.mgr,
			Sessions: r.sessions(),
			Live:     r.live,
			Logs:     r.logs,
			LogDir:   r.cfg.Storage.Dir,
		})
		log.Printf("paravario: web listening addr=%s", r.cfg.Web.Listen)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := web.Serve(ctx, r.cfg.Web.Listen, h); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("web: %w", err)
			}
		}()
	}

	if r.button != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.button.Run(ctx); err != nil {
				// Recording can still be driven from the API.
				log.Printf("paravario: button disabled err=%v", err)
			}
		}()
	}

	if r.cfg.Storage.RecordOnStart {
		if err := r.mgr.StartRecording(ctx); err != nil && ctx.Err() == nil {
			log.Printf("paravario: record on start failed err=%v", err)
		}
	}

	<-mgrDone
	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.keeper.Wait(waitCtx); err != nil {
		log.Printf("paravario: foreground hold still active at exit")
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// sessions avoids handing web a typed nil.
func (r *runtime) sessions() web.SessionLister {
	if r.catalog == nil {
		return nil
	}
	return r.catalog
}

func (r *runtime) close() {
	if r.mgr != nil {
		r.mgr.ClearListener()
	}
	if r.mqtt != nil {
		r.mqtt.Close()
	}
	if r.udp != nil {
		_ = r.udp.Close()
	}
	if r.catalog != nil {
		_ = r.catalog.Close()
	}
}
