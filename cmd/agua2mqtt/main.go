// agua2mqtt bridges IOT Agua pellet heating devices onto an MQTT broker
// with Home Assistant discovery.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fvandelaar/goagua"
	"github.com/fvandelaar/goagua/bridge"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(*configPath, logger); err != nil {
		logger.Error("bridge stopped", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := bridge.Load(configPath)
	if err != nil {
		return err
	}

	instanceID, err := bridge.LoadInstanceID(filepath.Join(filepath.Dir(configPath), "instance-id"))
	if err != nil {
		return err
	}

	options := []goagua.Option{
		goagua.WithLogger(goagua.NewSlogAdapter(logger)),
	}
	if cfg.Agua.APIURL != "" {
		options = append(options, goagua.WithBaseURL(cfg.Agua.APIURL))
	}
	client := goagua.NewClient(cfg.Agua.Email, cfg.Agua.Password, instanceID, options...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		var authErr *goagua.UnauthorizedError
		var connErr *goagua.ConnectionError
		switch {
		case errors.As(err, &authErr):
			logger.Error("login rejected, check agua.email and agua.password")
		case errors.As(err, &connErr):
			logger.Error("heating platform not reachable")
		}
		return err
	}

	devices := client.Devices()
	if len(devices) == 0 {
		logger.Warn("account has no registered devices")
	}
	heaters := make([]bridge.Heater, 0, len(devices))
	for _, dev := range devices {
		heaters = append(heaters, dev)
	}

	return bridge.New(cfg, logger, heaters).Run(ctx)
}
