package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/driver"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/internal/uuids"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info <camera-address>",
	Short: "Show camera identity and current settings",
	Long: `Connect to a camera and show its identity (model, serial, firmware)
together with its current recording settings.

Examples:
  bmcam info AA:BB:CC:DD:EE:FF
  bmcam info AA:BB:CC:DD:EE:FF --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	address := args[0]

	d, cfg, _, err := newDriver(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := cancelOnInterrupt(cancel, "info")
	defer stop()

	progress := NewProgressPrinter(fmt.Sprintf("Reading %s", address), "Connecting", "Done")
	progress.Start()
	defer progress.Stop()

	cleanup, err := connectCamera(ctx, d, cfg, address)
	if err != nil {
		return err
	}
	defer cleanup()

	progress.PhaseCallback()("Reading settings")
	rctx, rcancel := requestContext(ctx, cfg)
	settings, err := d.GetCameraSettings(rctx, address)
	rcancel()
	if err != nil {
		return err
	}
	progress.Stop()

	dev, _ := d.Device(address)
	if cfg.OutputFormat == "json" {
		return printJSON(struct {
			Device   driver.Device          `json:"device"`
			Settings *driver.CameraSettings `json:"settings"`
		}{dev, settings})
	}

	name := dev.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Printf("Camera:    %s\n", name)
	fmt.Printf("Address:   %s\n", dev.ID)
	if dev.Manufacturer != "" {
		fmt.Printf("Vendor:    %s\n", dev.Manufacturer)
	}
	if dev.Model != "" {
		fmt.Printf("Model:     %s\n", dev.Model)
	}
	if dev.Serial != "" {
		fmt.Printf("Serial:    %s\n", dev.Serial)
	}
	if dev.Firmware != "" {
		fmt.Printf("Firmware:  %s\n", dev.Firmware)
	}
	fmt.Printf("RSSI:      %d dBm\n", dev.RSSI)

	if len(dev.Services) > 0 {
		fmt.Println()
		fmt.Println("Services:")
		for _, svc := range dev.Services {
			if name := uuids.LookupService(svc); name != "" {
				fmt.Printf("  %-32s  %s\n", svc, name)
			} else {
				fmt.Printf("  %s\n", svc)
			}
		}
	}

	fmt.Println()
	renderSettings(settings)
	return nil
}
