package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// recordCmd represents the record command
var recordCmd = &cobra.Command{
	Use:   "record <camera-address> <start|stop|toggle>",
	Short: "Start, stop or toggle recording",
	Long: `Control recording on a camera. Recording uses the camera's current
settings; change them first with 'bmcam settings'.

Examples:
  bmcam record AA:BB:CC:DD:EE:FF start
  bmcam record AA:BB:CC:DD:EE:FF stop
  bmcam record AA:BB:CC:DD:EE:FF toggle`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"start", "stop", "toggle"},
	RunE:      runRecord,
}

func runRecord(cmd *cobra.Command, args []string) error {
	address, action := args[0], args[1]

	switch action {
	case "start", "stop", "toggle":
	default:
		return fmt.Errorf("unknown action %q (want start, stop or toggle)", action)
	}

	d, cfg, _, err := newDriver(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := cancelOnInterrupt(cancel, "record")
	defer stop()

	progress := NewProgressPrinter(fmt.Sprintf("Recording %s on %s", action, address), "Connecting", "Done")
	progress.Start()
	defer progress.Stop()

	cleanup, err := connectCamera(ctx, d, cfg, address)
	if err != nil {
		return err
	}
	defer cleanup()

	progress.PhaseCallback()("Sending command")
	rctx, rcancel := requestContext(ctx, cfg)
	defer rcancel()

	switch action {
	case "start":
		err = d.StartRecording(rctx, address)
	case "stop":
		err = d.StopRecording(rctx, address)
	case "toggle":
		err = d.ToggleRecording(rctx, address)
	}
	progress.Stop()
	if err != nil {
		return err
	}

	fmt.Printf("Recording %s sent to %s\n", action, address)
	return nil
}
