package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/driver"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/pkg/config"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status <camera-address>",
	Short: "Show the camera's health and recording status",
	Long: `Read one full status snapshot from the camera: recording state,
media, temperatures, power and active errors.

Examples:
  bmcam status AA:BB:CC:DD:EE:FF

  # Error history instead of the live snapshot
  bmcam status AA:BB:CC:DD:EE:FF --history

  # Drop resolved errors from the history
  bmcam status AA:BB:CC:DD:EE:FF --history --clear`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

var (
	statusHistory bool
	statusClear   bool
)

func init() {
	statusCmd.Flags().BoolVar(&statusHistory, "history", false, "Show the accumulated error history")
	statusCmd.Flags().BoolVar(&statusClear, "clear", false, "Drop resolved errors from the history, needs --history")
}

func runStatus(cmd *cobra.Command, args []string) error {
	address := args[0]

	if statusClear && !statusHistory {
		return fmt.Errorf("--clear only makes sense with --history")
	}

	d, cfg, _, err := newDriver(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := cancelOnInterrupt(cancel, "status read")
	defer stop()

	progress := NewProgressPrinter(fmt.Sprintf("Status of %s", address), "Connecting")
	progress.Start()
	defer progress.Stop()

	cleanup, err := connectCamera(ctx, d, cfg, address)
	if err != nil {
		return err
	}
	defer cleanup()

	progress.PhaseCallback()("Reading status")
	snap, err := readOneSnapshot(ctx, d, cfg, address)
	progress.Stop()
	if err != nil {
		return err
	}

	if statusHistory {
		history := d.ErrorHistory(address)
		if statusClear {
			dropped := d.ClearResolvedErrors(address)
			history = d.ErrorHistory(address)
			fmt.Printf("Dropped %d resolved errors\n\n", dropped)
		}
		if cfg.OutputFormat == "json" {
			return printJSON(history)
		}
		renderErrorHistory(history)
		return nil
	}

	if cfg.OutputFormat == "json" {
		return printJSON(snap)
	}
	renderStatus(os.Stdout, snap)
	return nil
}

// readOneSnapshot runs monitoring just long enough to capture one poll.
func readOneSnapshot(ctx context.Context, d *driver.Driver, cfg *config.Config, address string) (*driver.StatusSnapshot, error) {
	snapCh := make(chan *driver.StatusSnapshot, 1)
	unsubscribe := d.OnStatusUpdated(address, func(s *driver.StatusSnapshot) {
		select {
		case snapCh <- s:
		default:
		}
	})
	defer unsubscribe()

	if err := d.StartStatusMonitoring(address, nil); err != nil {
		return nil, err
	}
	defer func() { _ = d.StopStatusMonitoring(address) }()

	// the first poll starts immediately, so one request timeout plus slack
	// bounds the wait
	wait := cfg.RequestTimeout + 2*time.Second
	select {
	case snap := <-snapCh:
		return snap, nil
	case <-time.After(wait):
		return nil, fmt.Errorf("no status from %s within %s", address, wait)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func renderErrorHistory(history []driver.ErrorRecord) {
	if len(history) == 0 {
		fmt.Println("No errors recorded.")
		return
	}
	w := newTable()
	fmt.Fprintln(w, "CATEGORY\tCODE\tSEVERITY\tCOUNT\tFIRST SEEN\tLAST SEEN\tACTIVE")
	for _, rec := range history {
		active := "no"
		if rec.Active {
			active = "yes"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\t%s\t%s\n",
			rec.Category, rec.Code, paintErrorSeverity(rec.Severity),
			rec.Count,
			rec.FirstSeen.Format("2006-01-02 15:04:05"),
			rec.LastSeen.Format("2006-01-02 15:04:05"),
			active)
	}
	w.Flush()
}
