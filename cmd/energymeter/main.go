// Program energymeter reads an ADE7880 three phase energy meter over I²C and
// publishes its measurements over MQTT, to InfluxDB and to Cloud Pub/Sub.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edaniels/golog"
	"github.com/mtraver/energy-meter/ade7880"
	"github.com/mtraver/energy-meter/config"
	"github.com/mtraver/energy-meter/scheduler"
	"github.com/mtraver/energy-meter/sensor"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// flushTimeout bounds how long shutdown waits for queued readings.
const flushTimeout = 20 * time.Second

// Flags.
var (
	configPath string
	port       int
	dryrun     bool
)

func init() {
	flag.StringVar(&configPath, "config", config.DefaultPath, "path to the YAML configuration file")
	flag.IntVar(&port, "port", 0, "port on which the device's web server should listen; overrides http_port")
	flag.BoolVar(&dryrun, "dryrun", false, "set to true to log rather than publish measurements")
}

func loadConfig() (*config.Config, error) {
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if port != 0 {
		cfg.HTTPPort = port
	}
	return cfg, config.Validate(cfg)
}

func lookupPin(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("unknown pin %q", name)
	}
	return p, nil
}

func openPins(cfg config.PinsConfig, opts *ade7880.Opts) error {
	irq0, err := lookupPin(cfg.IRQ0)
	if err != nil {
		return err
	}
	opts.IRQ0 = irq0

	if cfg.IRQ1 != "" {
		irq1, err := lookupPin(cfg.IRQ1)
		if err != nil {
			return err
		}
		opts.IRQ1 = irq1
	}

	if cfg.Reset != "" {
		reset, err := lookupPin(cfg.Reset)
		if err != nil {
			return err
		}
		opts.Reset = reset
	}
	return nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("argument error: %v\n", err)
		os.Exit(2)
	}

	logger := golog.NewLogger("energymeter")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, status, err := openSinks(ctx, cfg, dryrun, logger)
	if err != nil {
		log.Fatalf("Failed to open sinks: %v", err)
	}

	// Initialize periph.
	if _, err := host.Init(); err != nil {
		log.Fatalf("Failed to initialize periph: %v", err)
	}

	bus, err := i2creg.Open(cfg.I2C.Bus)
	if err != nil {
		log.Fatalf("Failed to open I²C bus: %v", err)
	}
	defer bus.Close()

	if speed, _ := cfg.I2C.BusSpeed(); speed > 0 {
		if err := bus.SetSpeed(speed); err != nil {
			log.Fatalf("Failed to set I²C bus speed: %v", err)
		}
	}

	loop := scheduler.New(golog.NewLogger("scheduler"))

	opts := meterOpts(cfg, out, logger)
	if err := openPins(cfg.Pins, opts); err != nil {
		log.Fatalf("Failed to open pins: %v", err)
	}
	opts.Scheduler = loop
	opts.Logger = golog.NewLogger("ade7880")

	dev, err := ade7880.NewI2C(bus, cfg.I2C.Address, opts)
	if err != nil {
		log.Fatalf("Failed to initialize ADE7880: %v", err)
	}

	if err := loop.Every("poll", cfg.PollInterval, dev.Poll); err != nil {
		log.Fatal(err)
	}
	if err := loop.Cron("update", cfg.UpdateCron, dev.Update); err != nil {
		log.Fatal(err)
	}
	loop.Post(func() {
		if err := dev.Setup(); err != nil {
			logger.Errorf("Failed to set up %s: %v", dev, err)
			stop()
		}
	})

	// Start up a web server that provides basic info about the device.
	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: newMux(indexHandler{
			deviceID: cfg.DeviceID,
			dev:      dev,
			loop:     loop,
			status:   status,
		}),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Web server failed: %v", err)
			stop()
		}
	}()

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("Scheduler stopped: %v", err)
	}

	logger.Info("Cleaning up...")
	if err := dev.Halt(); err != nil {
		logger.Warnf("Failed to halt %s: %v", dev, err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Failed to shut down web server: %v", err)
	}

	flushed := make(chan struct{})
	go func() {
		sensor.CloseAll()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-time.After(flushTimeout):
		logger.Warnf("Gave up flushing queued readings after %v", flushTimeout)
	}
	if err := out.Close(); err != nil {
		logger.Warnf("Failed to close sinks: %v", err)
	}
}
