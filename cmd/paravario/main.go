// Command paravario is the recording daemon: it reads the barometer,
// accelerometer, GPS and companion feed, estimates vertical speed, logs
// sessions and serves the control API.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"paravario/internal/config"
	"paravario/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./paravario.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logs := web.NewLogBuffer(cfg.Web.LogLines)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(cfg, logs)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer rt.close()

	log.Printf("paravario starting config=%s storage=%s", configPath, cfg.Storage.Dir)
	if err := rt.run(ctx); err != nil {
		log.Printf("paravario stopped with error: %v", err)
		rt.close()
		os.Exit(1)
	}
	log.Printf("paravario stopped")
}
