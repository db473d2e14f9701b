package main

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/spf13/cobra"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/driver"
)

// getCmd represents the get command
var getCmd = &cobra.Command{
	Use:   "get <camera-address> <remote-path>",
	Short: "Download a file from the camera",
	Long: `Download a file from the camera's media over BLE. The transfer is
chunked and resumable against transient notification loss, but BLE throughput
makes this practical for LUTs, stills and short clips, not full BRAW takes.

Examples:
  # Download a clip into the current directory
  bmcam get AA:BB:CC:DD:EE:FF /clips/A001_0812.braw

  # Download to a specific local path with bigger chunks
  bmcam get AA:BB:CC:DD:EE:FF /luts/day.cube -o /tmp/day.cube --chunk-size 8192`,
	Args: cobra.ExactArgs(2),
	RunE: runGet,
}

var (
	getOutput    string
	getChunkSize uint32
)

func init() {
	getCmd.Flags().StringVarP(&getOutput, "output", "o", "", "Local path to write (default: remote file name)")
	getCmd.Flags().Uint32Var(&getChunkSize, "chunk-size", 0, "Bytes per chunk request (default 4096)")
}

func runGet(cmd *cobra.Command, args []string) error {
	address, remotePath := args[0], args[1]

	localPath := getOutput
	if localPath == "" {
		localPath = path.Base(remotePath)
	}
	if localPath == "" || localPath == "/" || localPath == "." {
		return fmt.Errorf("cannot derive a local file name from %q, use --output", remotePath)
	}

	d, cfg, _, err := newDriver(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := cancelOnInterrupt(cancel, "download")
	defer stop()

	progress := NewProgressPrinter(fmt.Sprintf("Downloading %s", remotePath), "Connecting")
	progress.Start()
	defer progress.Stop()

	cleanup, err := connectCamera(ctx, d, cfg, address)
	if err != nil {
		return err
	}
	defer cleanup()

	progress.PhaseCallback()("Transferring")
	opts := &driver.DownloadOptions{ChunkSize: getChunkSize, ChunkTimeout: cfg.ChunkTimeout}

	start := time.Now()
	var final driver.TransferProgress
	data, err := d.DownloadFile(ctx, address, remotePath, opts, func(p driver.TransferProgress) {
		final = p
		progress.SetRatio(p.TransferredBytes, p.TotalBytes)
	})
	progress.Stop()
	if err != nil {
		return fmt.Errorf("download %s: %w", remotePath, err)
	}

	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", localPath, err)
	}

	elapsed := time.Since(start).Round(time.Second)
	speed := final.Speed
	if speed == 0 && elapsed > 0 {
		speed = float64(len(data)) / elapsed.Seconds()
	}
	fmt.Printf("Saved %s (%s in %s, %s)\n",
		localPath, formatBytes(uint64(len(data))), elapsed, formatSpeed(speed))
	return nil
}
