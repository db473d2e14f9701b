package main

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/driver"
)

// dfuCmd represents the dfu command
var dfuCmd = &cobra.Command{
	Use:   "dfu <camera-address> <firmware-file>",
	Short: "Update the camera's firmware",
	Long: `Send a firmware image to the camera and activate it. The camera is
held exclusively for the whole update; keep it powered and in range until
the update reports completed.

Examples:
  # Check what is installed, then update
  bmcam dfu AA:BB:CC:DD:EE:FF --check
  bmcam dfu AA:BB:CC:DD:EE:FF camera-8.6.bin --fw-version 8.6

  # Update without the post-upload image validation round trip
  bmcam dfu AA:BB:CC:DD:EE:FF camera-8.6.bin --skip-validation`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runDfu,
}

var (
	dfuVersion        string
	dfuCheck          bool
	dfuSkipValidation bool
	dfuReceiptEvery   uint16
)

func init() {
	dfuCmd.Flags().StringVar(&dfuVersion, "fw-version", "", "Version string of the new image")
	dfuCmd.Flags().BoolVar(&dfuCheck, "check", false, "Only read the installed firmware version")
	dfuCmd.Flags().BoolVar(&dfuSkipValidation, "skip-validation", false, "Skip the camera-side image validation stage")
	dfuCmd.Flags().Uint16Var(&dfuReceiptEvery, "receipt-interval", 0, "Packets between receipt confirmations (default 10)")
}

func runDfu(cmd *cobra.Command, args []string) error {
	address := args[0]

	if !dfuCheck && len(args) < 2 {
		return fmt.Errorf("firmware file required (or use --check to read the installed version)")
	}

	var fw *driver.FirmwareFile
	if !dfuCheck {
		file := args[1]
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		fw = &driver.FirmwareFile{
			Name:     filepath.Base(file),
			Version:  dfuVersion,
			Data:     data,
			Size:     uint64(len(data)),
			Checksum: crc32.ChecksumIEEE(data),
		}
		if err := driver.ValidateFirmwareFile(fw); err != nil {
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
	stop := cancelOnInterrupt(cancel, "firmware update")
	defer stop()

	progress := NewProgressPrinter(fmt.Sprintf("Firmware on %s", address), "Connecting")
	progress.Start()
	defer progress.Stop()

	cleanup, err := connectCamera(ctx, d, cfg, address)
	if err != nil {
		return err
	}
	defer cleanup()

	rctx, rcancel := requestContext(ctx, cfg)
	installed, err := d.FirmwareVersion(rctx, address)
	rcancel()
	if err != nil {
		progress.Stop()
		return fmt.Errorf("read firmware version: %w", err)
	}

	if dfuCheck {
		progress.Stop()
		if cfg.OutputFormat == "json" {
			return printJSON(struct {
				Device   string `json:"device"`
				Firmware string `json:"firmware"`
			}{address, installed})
		}
		fmt.Printf("Installed firmware: %s\n", installed)
		return nil
	}

	if dfuVersion != "" && dfuVersion == installed {
		progress.Stop()
		fmt.Printf("Camera already runs %s, nothing to do\n", installed)
		return nil
	}

	setPhase := progress.PhaseCallback()
	setPhase("Starting update")

	opts := &driver.UpdateOptions{
		PacketReceiptInterval: dfuReceiptEvery,
		SkipValidation:        dfuSkipValidation,
	}

	start := time.Now()
	var failedStage driver.UpdateStage
	err = d.PerformDFUUpdate(ctx, address, fw, opts,
		func(p driver.UpdateProgress) {
			progress.SetRatio(p.BytesSent, p.TotalBytes)
		},
		func(stage driver.UpdateStage, _ error) {
			failedStage = stage
		})
	progress.Stop()
	if err != nil {
		if failedStage != "" {
			return fmt.Errorf("update %s failed while %s: %w", address, failedStage, err)
		}
		return fmt.Errorf("update %s: %w", address, err)
	}

	fmt.Printf("Firmware %s -> %s on %s (%s, %s)\n",
		installed, versionOrName(fw), address,
		formatBytes(fw.Size), time.Since(start).Round(time.Second))
	fmt.Println("The camera reboots to activate the new image.")
	return nil
}

func versionOrName(fw *driver.FirmwareFile) string {
	if fw.Version != "" {
		return fw.Version
	}
	return fw.Name
}
