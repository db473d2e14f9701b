package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/driver"
)

// lsCmd represents the ls command
var lsCmd = &cobra.Command{
	Use:   "ls <camera-address> [path]",
	Short: "List files on the camera's media",
	Long: `List a directory on the camera's recording media. With no path the
media root is listed.

Examples:
  # List the media root
  bmcam ls AA:BB:CC:DD:EE:FF

  # List a clip directory as JSON
  bmcam ls AA:BB:CC:DD:EE:FF /clips -f json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runLs,
}

func runLs(cmd *cobra.Command, args []string) error {
	address := args[0]
	path := "/"
	if len(args) > 1 {
		path = args[1]
	}

	d, cfg, _, err := newDriver(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := cancelOnInterrupt(cancel, "listing")
	defer stop()

	progress := NewProgressPrinter(fmt.Sprintf("Listing %s on %s", path, address), "Connecting")
	progress.Start()
	defer progress.Stop()

	cleanup, err := connectCamera(ctx, d, cfg, address)
	if err != nil {
		return err
	}
	defer cleanup()

	progress.PhaseCallback()("Reading directory")
	rctx, rcancel := requestContext(ctx, cfg)
	listing, err := d.ListDirectory(rctx, address, path)
	rcancel()
	progress.Stop()
	if err != nil {
		return err
	}

	if cfg.OutputFormat == "json" {
		return printJSON(listing)
	}
	renderListing(listing)
	return nil
}

func renderListing(listing *driver.DirectoryListing) {
	fmt.Printf("%s\n", listing.Path)
	if len(listing.Entries) == 0 {
		fmt.Println("  (empty)")
		return
	}

	w := newTable()
	fmt.Fprintln(w, "NAME\tSIZE\tFORMAT\tMODIFIED")
	for _, entry := range listing.Entries {
		name := entry.Name
		size := formatBytes(entry.Size)
		format := entry.Format.String()
		if entry.IsDirectory {
			name += "/"
			size = "-"
			format = "dir"
		}
		modified := "-"
		if !entry.Modified.IsZero() {
			modified = entry.Modified.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, size, format, modified)
	}
	w.Flush()
	fmt.Printf("\n%d entries\n", len(listing.Entries))
}
