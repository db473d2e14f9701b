package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/driver"
)

// timecodeCmd represents the timecode command
var timecodeCmd = &cobra.Command{
	Use:   "timecode <camera-address>",
	Short: "Read or jam-sync the camera's timecode",
	Long: `Read the camera's current timecode, or jam-sync it to a given value.
Timecode is written as HH:MM:SS:FF; a semicolon before the frame count
marks drop-frame counting, as does --drop.

Examples:
  # Read the current timecode
  bmcam timecode AA:BB:CC:DD:EE:FF

  # Jam-sync to 10:30:00:00 at 25 fps and start the clock
  bmcam timecode AA:BB:CC:DD:EE:FF --set 10:30:00:00 --fps 25 --running

  # Drop-frame at 30 fps, both spellings are equivalent
  bmcam timecode AA:BB:CC:DD:EE:FF --set "01:00:00;02" --fps 30
  bmcam timecode AA:BB:CC:DD:EE:FF --set 01:00:00:02 --fps 30 --drop`,
	Args: cobra.ExactArgs(1),
	RunE: runTimecode,
}

var (
	timecodeSet     string
	timecodeFPS     string
	timecodeDrop    bool
	timecodeRunning bool
)

func init() {
	timecodeCmd.Flags().StringVar(&timecodeSet, "set", "", "Timecode to jam-sync, HH:MM:SS:FF")
	timecodeCmd.Flags().StringVar(&timecodeFPS, "fps", "25", "Frame rate the timecode counts in (24, 25, 30, 50, 60)")
	timecodeCmd.Flags().BoolVar(&timecodeDrop, "drop", false, "Use drop-frame counting")
	timecodeCmd.Flags().BoolVar(&timecodeRunning, "running", false, "Leave the clock running after the jam")
}

var timecodeFormatNames = map[string]driver.TimecodeFormat{
	"24": driver.Format24,
	"25": driver.Format25,
	"30": driver.Format30,
	"50": driver.Format50,
	"60": driver.Format60,
}

func parseTimecodeFormat(s string) (driver.TimecodeFormat, error) {
	if f, ok := timecodeFormatNames[s]; ok {
		return f, nil
	}
	return 0, fmt.Errorf("unknown frame rate %q (want one of %s)", s, strings.Join(sortedNames(timecodeFormatNames), ", "))
}

// parseTimecode reads HH:MM:SS:FF. A ";" before the frames marks drop-frame.
func parseTimecode(s string, format driver.TimecodeFormat, drop, running bool) (*driver.Timecode, error) {
	if strings.Contains(s, ";") {
		drop = true
	}
	parts := strings.Split(strings.ReplaceAll(s, ";", ":"), ":")
	if len(parts) != 4 {
		return nil, fmt.Errorf("invalid timecode %q: want HH:MM:SS:FF", s)
	}
	var fields [4]uint8
	for i, part := range parts {
		v, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid timecode %q: %q is not a number", s, part)
		}
		fields[i] = uint8(v)
	}
	tc := &driver.Timecode{
		Hours:     fields[0],
		Minutes:   fields[1],
		Seconds:   fields[2],
		Frames:    fields[3],
		DropFrame: drop,
		Running:   running,
		Format:    format,
	}
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	return tc, nil
}

func runTimecode(cmd *cobra.Command, args []string) error {
	address := args[0]

	var target *driver.Timecode
	if timecodeSet != "" {
		format, err := parseTimecodeFormat(timecodeFPS)
		if err != nil {
			return err
		}
		target, err = parseTimecode(timecodeSet, format, timecodeDrop, timecodeRunning)
		if err != nil {
			return err
		}
	}

	d, cfg, _, err := newDriver(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := cancelOnInterrupt(cancel, "timecode")
	defer stop()

	progress := NewProgressPrinter(fmt.Sprintf("Timecode on %s", address), "Connecting")
	progress.Start()
	defer progress.Stop()

	cleanup, err := connectCamera(ctx, d, cfg, address)
	if err != nil {
		return err
	}
	defer cleanup()

	if target != nil {
		progress.PhaseCallback()("Jam-syncing")
		rctx, rcancel := requestContext(ctx, cfg)
		err := d.SetTimecode(rctx, address, target)
		rcancel()
		if err != nil {
			progress.Stop()
			return fmt.Errorf("set timecode: %w", err)
		}
	}

	progress.PhaseCallback()("Reading")
	rctx, rcancel := requestContext(ctx, cfg)
	tc, err := d.ReadTimecode(rctx, address)
	rcancel()
	progress.Stop()
	if err != nil {
		return fmt.Errorf("read timecode: %w", err)
	}

	if cfg.OutputFormat == "json" {
		return printJSON(tc)
	}
	state := "stopped"
	if tc.Running {
		state = "running"
	}
	fmt.Printf("%s  (%s, %s)\n", tc, tc.Format, state)
	return nil
}
