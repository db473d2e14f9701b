package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/driver"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <camera-address>",
	Short: "Watch the camera's status live",
	Long: `Poll the camera's status continuously and redraw it on every update
until Ctrl+C. Temperature alerts and new camera errors are listed under
the status as they arrive.

Examples:
  bmcam monitor AA:BB:CC:DD:EE:FF

  # Faster polls during a risky setup
  bmcam monitor AA:BB:CC:DD:EE:FF --interval 2s

  # Machine-readable stream, one JSON snapshot per poll
  bmcam monitor AA:BB:CC:DD:EE:FF -f json`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

const monitorEventKeep = 6

func init() {
	monitorCmd.Flags().Duration("interval", 0, "Poll interval (default: configured monitor_interval)")
}

// monitorEvent is either a fresh snapshot or an alert line to remember.
type monitorEvent struct {
	snap *driver.StatusSnapshot
	line string
}

func runMonitor(cmd *cobra.Command, args []string) error {
	address := args[0]

	d, cfg, _, err := newDriver(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	cmd.SilenceUsage = true

	interval := parseDurationFlag(cmd, "interval", cfg.MonitorInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := cancelOnInterrupt(cancel, "monitoring")
	defer stop()

	progress := NewProgressPrinter(fmt.Sprintf("Monitoring %s", address), "Connecting")
	progress.Start()
	defer progress.Stop()

	cleanup, err := connectCamera(ctx, d, cfg, address)
	if err != nil {
		return err
	}
	defer cleanup()

	events := make(chan monitorEvent, 16)
	post := func(ev monitorEvent) {
		select {
		case events <- ev:
		default: // rendering is behind, drop rather than block the poll loop
		}
	}

	unsubStatus := d.OnStatusUpdated(address, func(s *driver.StatusSnapshot) {
		post(monitorEvent{snap: s})
	})
	defer unsubStatus()
	unsubTemp := d.OnTemperatureAlert(func(alert driver.TemperatureAlert) {
		post(monitorEvent{line: fmt.Sprintf("%s  temperature  %s %.1f C %s",
			time.Now().Format("15:04:05"), alert.Reading.Zone, alert.Reading.Celsius,
			paintSeverity(alert.Reading.Severity))})
	})
	defer unsubTemp()
	unsubErr := d.OnCameraError(func(ev driver.CameraErrorEvent) {
		post(monitorEvent{line: fmt.Sprintf("%s  error  [%s] code %d %s",
			time.Now().Format("15:04:05"), ev.Error.Category, ev.Error.Code,
			paintErrorSeverity(ev.Error.Severity))})
	})
	defer unsubErr()

	if err := d.StartStatusMonitoring(address, &driver.MonitorOptions{Interval: interval}); err != nil {
		progress.Stop()
		return err
	}
	defer func() { _ = d.StopStatusMonitoring(address) }()

	progress.PhaseCallback()("Waiting for first poll")

	var (
		latest *driver.StatusSnapshot
		lines  []string
	)
	for {
		select {
		case <-ctx.Done():
			progress.Stop()
			fmt.Println("\nMonitoring stopped.")
			return nil
		case ev := <-events:
			if ev.snap != nil {
				latest = ev.snap
			}
			if ev.line != "" {
				lines = append(lines, ev.line)
				if len(lines) > monitorEventKeep {
					lines = lines[len(lines)-monitorEventKeep:]
				}
			}
			if latest == nil {
				continue
			}
			progress.Stop()

			if cfg.OutputFormat == "json" {
				if ev.snap != nil {
					if err := printJSON(ev.snap); err != nil {
						return err
					}
				}
				continue
			}

			clearScreen()
			renderStatus(os.Stdout, latest)
			if len(lines) > 0 {
				fmt.Println("\nRecent events:")
				for _, line := range lines {
					fmt.Printf("  %s\n", line)
				}
			}
			fmt.Println("\nPress Ctrl+C to stop.")
		}
	}
}
