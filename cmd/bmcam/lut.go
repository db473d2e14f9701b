package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/driver"
)

// lutCmd represents the lut command
var lutCmd = &cobra.Command{
	Use:   "lut <camera-address> <cube-file>",
	Short: "Install a .cube LUT on the camera",
	Long: `Parse a .cube color lookup table, validate it and install it in the
camera's LUT directory. Only 3D tables with 2..256 points per axis are
accepted.

Examples:
  bmcam lut AA:BB:CC:DD:EE:FF rec709.cube

  # Install under a different name than the file's
  bmcam lut AA:BB:CC:DD:EE:FF graded-v3-final.cube --name day-ext`,
	Args: cobra.ExactArgs(2),
	RunE: runLut,
}

var lutName string

func init() {
	lutCmd.Flags().StringVar(&lutName, "name", "", "LUT name on the camera (default: file name)")
}

func runLut(cmd *cobra.Command, args []string) error {
	address, file := args[0], args[1]

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	lut, err := driver.ParseCubeLUT(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", file, err)
	}

	name := lutName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	}

	d, cfg, _, err := newDriver(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := cancelOnInterrupt(cancel, "LUT install")
	defer stop()

	progress := NewProgressPrinter(fmt.Sprintf("Installing LUT %s", name), "Connecting")
	progress.Start()
	defer progress.Stop()

	cleanup, err := connectCamera(ctx, d, cfg, address)
	if err != nil {
		return err
	}
	defer cleanup()

	progress.PhaseCallback()("Uploading")
	if err := d.UploadLUT(ctx, address, name, lut); err != nil {
		progress.Stop()
		return err
	}
	progress.Stop()

	title := lut.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Printf("Installed %s.cube on %s (%q, %d points per axis)\n", name, address, title, lut.Size)
	return nil
}
