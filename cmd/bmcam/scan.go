package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/driver"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/uuids"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/pkg/config"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Blackmagic cameras",
	Long: `Scan for Blackmagic cameras advertising over Bluetooth LE and list
what was found: name, address, signal strength and model.

Examples:
  # Scan with the configured duration (10s by default)
  bmcam scan

  # Scan for 30 seconds
  bmcam scan --duration 30s

  # Keep scanning and live-update the table until Ctrl+C
  bmcam scan --watch

  # Only cameras advertising a specific service
  bmcam scan --services 291d567a-6d75-11e6-8b77-86f30ca893d3`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration     time.Duration
	scanServices     []string
	scanAllowList    []string
	scanBlockList    []string
	scanNoDuplicates bool
	scanWatch        bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default: configured scan_duration)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by advertised service UUIDs")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show cameras with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide cameras with these addresses")
	scanCmd.Flags().BoolVar(&scanNoDuplicates, "no-duplicates", true, "Filter duplicate advertisements")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Continuously scan and update results")
}

func runScan(cmd *cobra.Command, args []string) error {
	serviceFilter := scanServices
	if len(serviceFilter) > 0 {
		var err error
		serviceFilter, err = uuids.ValidateUUID(scanServices...)
		if err != nil {
			return fmt.Errorf("invalid --services: %w", err)
		}
	}

	d, cfg, _, err := newDriver(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	cmd.SilenceUsage = true

	duration := scanDuration
	if duration == 0 {
		duration = cfg.ScanDuration
	}
	if scanWatch {
		duration = 0 // watch scans until interrupted
	}

	opts := &driver.ScanOptions{
		Duration:        duration,
		DuplicateFilter: scanNoDuplicates,
		ServiceUUIDs:    serviceFilter,
		AllowList:       scanAllowList,
		BlockList:       scanBlockList,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := cancelOnInterrupt(cancel, "scan")
	defer stop()

	if err := d.StartScan(ctx, opts); err != nil {
		return err
	}

	if scanWatch {
		return watchScan(ctx, d, cfg)
	}
	return waitScan(ctx, d, cfg, duration)
}

// waitScan blocks until the scan window closes, then renders one table.
func waitScan(ctx context.Context, d *driver.Driver, cfg *config.Config, duration time.Duration) error {
	progress := NewCountdownProgressPrinter("Scanning for cameras", "Scanning", duration)
	progress.Start()

	// StartScan stops itself when the duration elapses; poll the state
	// instead of racing a timer against it.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for scanning := true; scanning; {
		select {
		case <-ctx.Done():
			scanning = false
		case <-ticker.C:
			scanning = d.ScanState() != driver.ScanStopped
		}
	}
	progress.Stop()

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return renderScanResults(d, cfg)
}

// watchScan re-renders the table as discovery events arrive.
func watchScan(ctx context.Context, d *driver.Driver, cfg *config.Config) error {
	redraw := time.NewTicker(time.Second)
	defer redraw.Stop()

	dirty := true
	for {
		select {
		case <-ctx.Done():
			clearScreen()
			return renderScanResults(d, cfg)
		case _, ok := <-d.Events():
			if !ok {
				return renderScanResults(d, cfg)
			}
			dirty = true
		case <-redraw.C:
			if !dirty {
				continue
			}
			dirty = false
			clearScreen()
			if err := renderScanResults(d, cfg); err != nil {
				return err
			}
		}
	}
}

func renderScanResults(d *driver.Driver, cfg *config.Config) error {
	devices := d.Devices()
	if cfg.OutputFormat == "json" {
		return printJSON(devices)
	}
	return renderDevices(devices)
}

func clearScreen() {
	if stdoutIsTTY {
		fmt.Print("\033[2J\033[H")
	}
}
