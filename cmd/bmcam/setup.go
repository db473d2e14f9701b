package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/driver"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/pkg/config"
)

// loadConfig builds the effective configuration: defaults, overlaid by
// --config when given, overlaid by the global flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if format, _ := cmd.Flags().GetString("format"); format != "" {
		cfg.OutputFormat = format
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newDriver loads configuration and builds a driver plus its logger. The
// caller owns the driver and must Close it.
func newDriver(cmd *cobra.Command) (*driver.Driver, *config.Config, *logrus.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := cfg.NewLogger()
	return driver.New(cfg, logger), cfg, logger, nil
}

// cancelOnInterrupt cancels on Ctrl+C / SIGTERM. The returned stop releases
// the signal handler; call it before printing final output.
func cancelOnInterrupt(cancel context.CancelFunc, what string) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintf(os.Stderr, "\nCtrl+C pressed, stopping %s...\n", what)
			cancel()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// connectCamera dials the camera with the configured connect timeout. The
// returned cleanup disconnects; commands run it before rendering so the
// camera is released even when output fails.
func connectCamera(ctx context.Context, d *driver.Driver, cfg *config.Config, address string) (cleanup func(), err error) {
	cctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := d.ConnectToDevice(cctx, address, nil); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", address, err)
	}
	return func() { _ = d.DisconnectFromDevice(address) }, nil
}

// requestContext bounds one command/response operation.
func requestContext(ctx context.Context, cfg *config.Config) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, cfg.RequestTimeout)
}

// parseDurationFlag reads a duration flag, falling back when the user did
// not set it.
func parseDurationFlag(cmd *cobra.Command, name string, fallback time.Duration) time.Duration {
	if !cmd.Flags().Changed(name) {
		return fallback
	}
	d, _ := cmd.Flags().GetDuration(name)
	return d
}
