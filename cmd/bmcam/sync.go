package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/driver"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/pkg/config"
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync <master-address> <slave-address>...",
	Short: "Lock several cameras to one master timecode",
	Long: `Connect a master and one or more slave cameras, jam every slave to
the master's timecode and keep measuring drift until Ctrl+C. A slave that
drifts past the tolerance is re-jammed on the next pass.

Examples:
  # Two-camera shoot, defaults
  bmcam sync AA:BB:CC:DD:EE:01 AA:BB:CC:DD:EE:02

  # Tight tolerance, three slaves
  bmcam sync AA:BB:CC:DD:EE:01 AA:BB:CC:DD:EE:02 AA:BB:CC:DD:EE:03 --tolerance 20ms

  # Jam once and exit
  bmcam sync AA:BB:CC:DD:EE:01 AA:BB:CC:DD:EE:02 --once`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSync,
}

var (
	syncTolerance time.Duration
	syncOnce      bool
)

func init() {
	syncCmd.Flags().DurationVar(&syncTolerance, "tolerance", 40*time.Millisecond, "Max drift before a slave counts as out of sync")
	syncCmd.Flags().BoolVar(&syncOnce, "once", false, "Jam all slaves once and exit instead of staying locked")
}

func runSync(cmd *cobra.Command, args []string) error {
	master, slaves := args[0], args[1:]

	d, cfg, _, err := newDriver(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := cancelOnInterrupt(cancel, "sync session")
	defer stop()

	progress := NewProgressPrinter(fmt.Sprintf("Sync group of %d", len(args)), "Connecting")
	progress.Start()
	defer progress.Stop()

	for i, address := range args {
		progress.PhaseCallback()(fmt.Sprintf("Connecting %d/%d", i+1, len(args)))
		cleanup, err := connectCamera(ctx, d, cfg, address)
		if err != nil {
			progress.Stop()
			return err
		}
		defer cleanup()
	}

	progress.PhaseCallback()("Starting session")
	if _, err := d.StartSyncSession(master, slaves, syncTolerance); err != nil {
		progress.Stop()
		return err
	}
	defer func() {
		if err := d.StopSyncSession(); err != nil && !errors.Is(err, driver.ErrNoSession) {
			fmt.Fprintf(cmd.ErrOrStderr(), "stop sync session: %s\n", err)
		}
	}()

	// First pass jams every slave to the master before any drift measuring.
	if err := d.SyncCameras(ctx); err != nil {
		progress.Stop()
		return err
	}
	progress.Stop()

	if syncOnce {
		return renderSyncOnce(d, cfg)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nSync session stopped.")
			return nil
		case <-ticker.C:
			sess, ok := d.ActiveSyncSession()
			if !ok {
				// the disconnect hook ended it, likely a lost master
				return errors.New("sync session ended unexpectedly")
			}
			if cfg.OutputFormat == "json" {
				if err := printJSON(sess); err != nil {
					return err
				}
				continue
			}
			clearScreen()
			renderSyncSession(sess)
			fmt.Println("\nPress Ctrl+C to stop.")
		}
	}
}

func renderSyncOnce(d *driver.Driver, cfg *config.Config) error {
	sess, ok := d.ActiveSyncSession()
	if !ok {
		return errors.New("sync session ended unexpectedly")
	}
	if cfg.OutputFormat == "json" {
		return printJSON(sess)
	}
	renderSyncSession(sess)
	return nil
}

func renderSyncSession(sess *driver.SyncSession) {
	fmt.Printf("Sync master %s, tolerance %s, running %s\n\n",
		sess.MasterID, sess.Tolerance, time.Since(sess.StartedAt).Round(time.Second))

	w := newTable()
	fmt.Fprintln(w, "SLAVE\tOFFSET\tSTATUS\tUPDATED")
	for _, slave := range sess.Slaves {
		offset := formatOffset(slave.Offset)
		status := color.New(color.FgGreen).Sprint("in sync")
		switch {
		case slave.Error != "":
			offset = "-"
			status = color.New(color.FgRed).Sprintf("error: %s", slave.Error)
		case !slave.InSync:
			status = color.New(color.FgYellow).Sprint("drifting")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", slave.DeviceID, offset, status, formatAge(slave.UpdatedAt))
	}
	w.Flush()
}

// formatOffset renders a signed clock offset, "+12ms" for a slave running
// ahead of the master.
func formatOffset(d time.Duration) string {
	if d >= 0 {
		return "+" + d.String()
	}
	return d.String()
}
