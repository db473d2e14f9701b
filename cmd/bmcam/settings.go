package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/driver"
	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/pkg/config"
)

// settingsCmd represents the settings command
var settingsCmd = &cobra.Command{
	Use:   "settings <camera-address>",
	Short: "Show or change camera settings",
	Long: `Show the camera's current settings, or change them. Any combination
of set flags may be given in one invocation; with no set flags the current
settings are shown.

Examples:
  # Show current settings
  bmcam settings AA:BB:CC:DD:EE:FF

  # Switch to 25 fps UHD BRAW 5:1
  bmcam settings AA:BB:CC:DD:EE:FF --frame-rate 25 --resolution uhd --codec braw5:1

  # Exposure and color
  bmcam settings AA:BB:CC:DD:EE:FF --iso 800 --exposure-us 20000 --white-balance 5600 --tint -2

  # One-shot autofocus, or a manual focus position (0 near, 65535 far)
  bmcam settings AA:BB:CC:DD:EE:FF --focus auto
  bmcam settings AA:BB:CC:DD:EE:FF --focus 32000

  # Follow settings changes made on the camera body
  bmcam settings AA:BB:CC:DD:EE:FF --watch`,
	Args: cobra.ExactArgs(1),
	RunE: runSettings,
}

var (
	setFrameRate    string
	setResolution   string
	setCodec        string
	setColorSpace   string
	setISO          uint32
	setExposureUS   uint32
	setWhiteBalance uint32
	setTint         int32
	setFocus        string
	settingsWatch   bool
)

func init() {
	settingsCmd.Flags().StringVar(&setFrameRate, "frame-rate", "", "Project frame rate (23.98, 24, 25, 29.97, 30, 50, 59.94, 60)")
	settingsCmd.Flags().StringVar(&setResolution, "resolution", "", "Recording resolution (hd, 2k, uhd, 4k, 6k, 8k)")
	settingsCmd.Flags().StringVar(&setCodec, "codec", "", "Recording codec (braw3:1 .. braw12:1, brawq0/q1/q3/q5, proreshq, prores422, proreslt, proresproxy)")
	settingsCmd.Flags().StringVar(&setColorSpace, "color-space", "", "Color space (film, video, extended-video)")
	settingsCmd.Flags().Uint32Var(&setISO, "iso", 0, "Sensor ISO")
	settingsCmd.Flags().Uint32Var(&setExposureUS, "exposure-us", 0, "Shutter exposure time in microseconds")
	settingsCmd.Flags().Uint32Var(&setWhiteBalance, "white-balance", 0, "White balance in Kelvin")
	settingsCmd.Flags().Int32Var(&setTint, "tint", 0, "Green/magenta tint, requires --white-balance")
	settingsCmd.Flags().StringVar(&setFocus, "focus", "", "Focus: 'auto' or a position 0..65535")
	settingsCmd.Flags().BoolVarP(&settingsWatch, "watch", "w", false, "Follow settings changes until Ctrl+C")
}

// Flag spellings for the settings enums. The driver has no string parsers,
// display names like "3840x2160" are not what anyone wants to type.
var (
	frameRateNames = map[string]driver.FrameRate{
		"23.98": driver.FrameRate23_98,
		"24":    driver.FrameRate24,
		"25":    driver.FrameRate25,
		"29.97": driver.FrameRate29_97,
		"30":    driver.FrameRate30,
		"50":    driver.FrameRate50,
		"59.94": driver.FrameRate59_94,
		"60":    driver.FrameRate60,
	}
	resolutionNames = map[string]driver.Resolution{
		"hd":  driver.ResolutionHD,
		"2k":  driver.Resolution2KDCI,
		"uhd": driver.ResolutionUHD,
		"4k":  driver.Resolution4KDCI,
		"6k":  driver.Resolution6K,
		"8k":  driver.Resolution8K,
	}
	codecNames = map[string]driver.Codec{
		"braw3:1":     driver.CodecBRAW3to1,
		"braw5:1":     driver.CodecBRAW5to1,
		"braw8:1":     driver.CodecBRAW8to1,
		"braw12:1":    driver.CodecBRAW12to1,
		"brawq0":      driver.CodecBRAWQ0,
		"brawq1":      driver.CodecBRAWQ1,
		"brawq3":      driver.CodecBRAWQ3,
		"brawq5":      driver.CodecBRAWQ5,
		"proreshq":    driver.CodecProResHQ,
		"prores422":   driver.CodecProRes422,
		"proreslt":    driver.CodecProResLT,
		"proresproxy": driver.CodecProResProxy,
	}
	colorSpaceNames = map[string]driver.ColorSpace{
		"film":           driver.ColorSpaceFilm,
		"video":          driver.ColorSpaceVideo,
		"extended-video": driver.ColorSpaceExtendedVideo,
	}
)

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parseFrameRate(s string) (driver.FrameRate, error) {
	if v, ok := frameRateNames[strings.ToLower(s)]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("unknown frame rate %q (want one of %s)", s, strings.Join(sortedNames(frameRateNames), ", "))
}

func parseResolution(s string) (driver.Resolution, error) {
	if v, ok := resolutionNames[strings.ToLower(s)]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("unknown resolution %q (want one of %s)", s, strings.Join(sortedNames(resolutionNames), ", "))
}

func parseCodec(s string) (driver.Codec, error) {
	if v, ok := codecNames[strings.ToLower(s)]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("unknown codec %q (want one of %s)", s, strings.Join(sortedNames(codecNames), ", "))
}

func parseColorSpace(s string) (driver.ColorSpace, error) {
	if v, ok := colorSpaceNames[strings.ToLower(s)]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("unknown color space %q (want one of %s)", s, strings.Join(sortedNames(colorSpaceNames), ", "))
}

// settingChange is one validated set operation, ready to send.
type settingChange struct {
	name  string
	apply func(ctx context.Context, d *driver.Driver, address string) error
}

// collectSettingChanges validates every set flag before anything touches the
// camera, so a typo in the third flag doesn't leave the first two applied.
func collectSettingChanges(cmd *cobra.Command) ([]settingChange, error) {
	var changes []settingChange

	if setFrameRate != "" {
		rate, err := parseFrameRate(setFrameRate)
		if err != nil {
			return nil, err
		}
		changes = append(changes, settingChange{"frame rate " + rate.String(),
			func(ctx context.Context, d *driver.Driver, addr string) error {
				return d.SetFrameRate(ctx, addr, rate)
			}})
	}
	if setResolution != "" {
		res, err := parseResolution(setResolution)
		if err != nil {
			return nil, err
		}
		changes = append(changes, settingChange{"resolution " + res.String(),
			func(ctx context.Context, d *driver.Driver, addr string) error {
				return d.SetResolution(ctx, addr, res)
			}})
	}
	if setCodec != "" {
		codec, err := parseCodec(setCodec)
		if err != nil {
			return nil, err
		}
		changes = append(changes, settingChange{"codec " + codec.String(),
			func(ctx context.Context, d *driver.Driver, addr string) error {
				return d.SetCodec(ctx, addr, codec)
			}})
	}
	if setColorSpace != "" {
		cs, err := parseColorSpace(setColorSpace)
		if err != nil {
			return nil, err
		}
		changes = append(changes, settingChange{"color space " + cs.String(),
			func(ctx context.Context, d *driver.Driver, addr string) error {
				return d.SetColorSpace(ctx, addr, cs)
			}})
	}
	if cmd.Flags().Changed("iso") {
		iso := setISO
		changes = append(changes, settingChange{fmt.Sprintf("ISO %d", iso),
			func(ctx context.Context, d *driver.Driver, addr string) error {
				return d.SetISO(ctx, addr, iso)
			}})
	}
	if cmd.Flags().Changed("exposure-us") {
		us := setExposureUS
		changes = append(changes, settingChange{fmt.Sprintf("exposure %dus", us),
			func(ctx context.Context, d *driver.Driver, addr string) error {
				return d.SetExposure(ctx, addr, us)
			}})
	}
	if cmd.Flags().Changed("tint") && !cmd.Flags().Changed("white-balance") {
		return nil, fmt.Errorf("--tint requires --white-balance")
	}
	if cmd.Flags().Changed("white-balance") {
		kelvin, tint := setWhiteBalance, setTint
		changes = append(changes, settingChange{fmt.Sprintf("white balance %dK", kelvin),
			func(ctx context.Context, d *driver.Driver, addr string) error {
				return d.SetWhiteBalance(ctx, addr, kelvin, tint)
			}})
	}
	if setFocus != "" {
		if strings.EqualFold(setFocus, "auto") {
			changes = append(changes, settingChange{"autofocus",
				func(ctx context.Context, d *driver.Driver, addr string) error {
					return d.SetAutoFocus(ctx, addr)
				}})
		} else {
			pos, err := strconv.ParseUint(setFocus, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("invalid focus %q: want 'auto' or 0..65535", setFocus)
			}
			changes = append(changes, settingChange{fmt.Sprintf("focus %d", pos),
				func(ctx context.Context, d *driver.Driver, addr string) error {
					return d.SetManualFocus(ctx, addr, uint16(pos))
				}})
		}
	}
	return changes, nil
}

func runSettings(cmd *cobra.Command, args []string) error {
	address := args[0]

	changes, err := collectSettingChanges(cmd)
	if err != nil {
		return err
	}
	if settingsWatch && len(changes) > 0 {
		return fmt.Errorf("--watch cannot be combined with set flags")
	}

	d, cfg, _, err := newDriver(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := cancelOnInterrupt(cancel, "settings")
	defer stop()

	progress := NewProgressPrinter(fmt.Sprintf("Settings on %s", address), "Connecting", "Done")
	progress.Start()
	defer progress.Stop()

	cleanup, err := connectCamera(ctx, d, cfg, address)
	if err != nil {
		return err
	}
	defer cleanup()

	for _, change := range changes {
		progress.PhaseCallback()("Setting " + change.name)
		if err := applyChange(ctx, cfg, d, address, change); err != nil {
			return fmt.Errorf("set %s: %w", change.name, err)
		}
	}

	progress.PhaseCallback()("Reading settings")
	rctx, rcancel := requestContext(ctx, cfg)
	settings, err := d.GetCameraSettings(rctx, address)
	rcancel()
	progress.Stop()
	if err != nil {
		return err
	}

	if len(changes) > 0 {
		applied := make([]string, len(changes))
		for i, change := range changes {
			applied[i] = change.name
		}
		fmt.Printf("Applied: %s\n\n", strings.Join(applied, ", "))
	}

	if cfg.OutputFormat == "json" {
		if err := printJSON(settings); err != nil {
			return err
		}
	} else {
		renderSettings(settings)
	}

	if !settingsWatch {
		return nil
	}
	return watchSettings(ctx, d, cfg, address)
}

func applyChange(ctx context.Context, cfg *config.Config, d *driver.Driver, address string, change settingChange) error {
	rctx, cancel := requestContext(ctx, cfg)
	defer cancel()
	return change.apply(rctx, d, address)
}

// watchSettings prints every settings change the camera pushes until the
// context ends.
func watchSettings(ctx context.Context, d *driver.Driver, cfg *config.Config, address string) error {
	updates := make(chan *driver.CameraSettings, 8)
	unsubscribe, err := d.SubscribeToCameraSettings(address, func(s *driver.CameraSettings) {
		select {
		case updates <- s:
		default: // the terminal is slower than the camera, drop
		}
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	fmt.Println("\nWatching for settings changes. Press Ctrl+C to stop...")
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-updates:
			fmt.Println()
			if cfg.OutputFormat == "json" {
				if err := printJSON(s); err != nil {
					return err
				}
				continue
			}
			renderSettings(s)
		}
	}
}

// renderSettings prints every settings field; fields the camera did not
// report render as "-".
func renderSettings(s *driver.CameraSettings) {
	recording := "no"
	if s.Recording {
		recording = "yes"
	}
	fmt.Println("Settings:")
	fmt.Printf("  Recording:      %s\n", recording)
	fmt.Printf("  Frame rate:     %s\n", stringerOrDash(s.FrameRate))
	fmt.Printf("  Resolution:     %s\n", stringerOrDash(s.Resolution))
	fmt.Printf("  Codec:          %s\n", stringerOrDash(s.Codec))
	fmt.Printf("  Color space:    %s\n", stringerOrDash(s.ColorSpace))
	if s.ISO != nil {
		fmt.Printf("  ISO:            %d\n", *s.ISO)
	} else {
		fmt.Printf("  ISO:            -\n")
	}
	if s.ExposureUS != nil {
		fmt.Printf("  Exposure:       %d us\n", *s.ExposureUS)
	} else {
		fmt.Printf("  Exposure:       -\n")
	}
	if s.WhiteBalance != nil {
		fmt.Printf("  White balance:  %d K\n", *s.WhiteBalance)
	} else {
		fmt.Printf("  White balance:  -\n")
	}
}

func stringerOrDash[T fmt.Stringer](p *T) string {
	if p == nil {
		return "-"
	}
	return (*p).String()
}
