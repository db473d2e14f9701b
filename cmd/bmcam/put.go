package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/driver"
)

// putCmd represents the put command
var putCmd = &cobra.Command{
	Use:   "put <camera-address> <file>...",
	Short: "Upload files to the camera",
	Long: `Upload one or more local files to the camera. A single file is sent
directly with live progress; several files go through the upload queue,
which sends high-priority entries first.

Examples:
  # Push one LUT into the LUT directory
  bmcam put AA:BB:CC:DD:EE:FF day.cube --dir /luts

  # Replace an existing preset
  bmcam put AA:BB:CC:DD:EE:FF travel.preset --dir /presets --overwrite

  # Queue several files, LUTs ahead of the rest
  bmcam put AA:BB:CC:DD:EE:FF a.cube b.cube notes.txt --dir /luts --priority high`,
	Args: cobra.MinimumNArgs(2),
	RunE: runPut,
}

var (
	putDir       string
	putOverwrite bool
	putPriority  string
	putChunkSize uint32
)

func init() {
	putCmd.Flags().StringVar(&putDir, "dir", "/", "Remote directory to upload into")
	putCmd.Flags().BoolVar(&putOverwrite, "overwrite", false, "Replace remote files that already exist")
	putCmd.Flags().StringVar(&putPriority, "priority", "normal", "Queue priority for multi-file uploads (low, normal, high)")
	putCmd.Flags().Uint32Var(&putChunkSize, "chunk-size", 0, "Bytes per chunk (default 512)")
}

var priorityNames = map[string]driver.Priority{
	"low":    driver.PriorityLow,
	"normal": driver.PriorityNormal,
	"high":   driver.PriorityHigh,
}

func parsePriority(s string) (driver.Priority, error) {
	if p, ok := priorityNames[s]; ok {
		return p, nil
	}
	return 0, fmt.Errorf("unknown priority %q (want low, normal or high)", s)
}

func runPut(cmd *cobra.Command, args []string) error {
	address, files := args[0], args[1:]

	priority, err := parsePriority(putPriority)
	if err != nil {
		return err
	}

	// Read everything up front so a missing file fails before the radio
	// comes up.
	type localFile struct {
		name string
		data []byte
	}
	sources := make([]localFile, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		sources = append(sources, localFile{name: filepath.Base(file), data: data})
	}

	d, cfg, _, err := newDriver(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := cancelOnInterrupt(cancel, "upload")
	defer stop()

	opts := &driver.UploadOptions{
		ChunkSize:    putChunkSize,
		ChunkTimeout: cfg.ChunkTimeout,
		Overwrite:    putOverwrite,
	}

	progress := NewProgressPrinter(fmt.Sprintf("Uploading to %s", address), "Connecting")
	progress.Start()
	defer progress.Stop()

	cleanup, err := connectCamera(ctx, d, cfg, address)
	if err != nil {
		return err
	}
	defer cleanup()

	if len(sources) == 1 {
		src := sources[0]
		progress.PhaseCallback()("Sending " + src.name)
		start := time.Now()
		err := d.UploadFile(ctx, address, putDir, src.name, src.data, opts, func(p driver.UploadProgress) {
			progress.SetRatio(p.TransferredBytes, p.TotalBytes)
		})
		progress.Stop()
		if err != nil {
			return fmt.Errorf("upload %s: %w", src.name, err)
		}
		fmt.Printf("Uploaded %s to %s (%s in %s)\n",
			src.name, putDir, formatBytes(uint64(len(src.data))), time.Since(start).Round(time.Second))
		return nil
	}

	queued := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		id, err := d.AddToQueue(driver.UploadRequest{
			DeviceID:  address,
			RemoteDir: putDir,
			Name:      src.name,
			Data:      src.data,
			Priority:  priority,
			Options:   opts,
		})
		if err != nil {
			return fmt.Errorf("queue %s: %w", src.name, err)
		}
		queued[id] = struct{}{}
	}

	progress.PhaseCallback()(fmt.Sprintf("Sending %d files", len(sources)))
	processErr := d.ProcessQueue(ctx)
	progress.Stop()

	var failed int
	w := newTable()
	fmt.Fprintln(w, "NAME\tSIZE\tSTATUS")
	for _, item := range d.QueueSnapshot() {
		if _, ours := queued[item.ID]; !ours {
			continue
		}
		status := string(item.Status)
		switch item.Status {
		case driver.QueueCompleted:
			status = color.New(color.FgGreen).Sprint("uploaded")
		case driver.QueueFailed:
			failed++
			status = color.New(color.FgRed).Sprintf("failed: %s", item.Error)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", item.Name, formatBytes(item.Size), status)
	}
	w.Flush()

	if processErr != nil {
		return processErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(sources))
	}
	fmt.Printf("\nUploaded %d files to %s\n", len(sources), putDir)
	return nil
}
