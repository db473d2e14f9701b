package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/driver"
)

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

// formatBytes renders a byte count in the largest unit that keeps the
// number readable.
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTP"[exp])
}

// formatSpeed renders bytes per second.
func formatSpeed(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "-"
	}
	return formatBytes(uint64(bytesPerSec)) + "/s"
}

// formatAge renders how long ago t was, or "-" for a zero time.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Truncate(time.Second).String() + " ago"
}

// formatClock renders a duration as H:MM:SS.
func formatClock(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}

var (
	severityColors = map[driver.Severity]*color.Color{
		driver.SeverityNormal:    color.New(color.FgGreen),
		driver.SeverityWarning:   color.New(color.FgYellow),
		driver.SeverityCritical:  color.New(color.FgRed),
		driver.SeverityEmergency: color.New(color.FgRed, color.Bold),
	}
	errorSeverityColors = map[driver.ErrorSeverity]*color.Color{
		driver.ErrorInfo:    color.New(color.FgCyan),
		driver.ErrorWarning: color.New(color.FgYellow),
		driver.ErrorSerious: color.New(color.FgRed),
		driver.ErrorFatal:   color.New(color.FgRed, color.Bold),
	}
)

// paintSeverity colors a temperature severity name. The color package
// disables itself on non-terminal output.
func paintSeverity(sev driver.Severity) string {
	if c, ok := severityColors[sev]; ok {
		return c.Sprint(string(sev))
	}
	return string(sev)
}

func paintErrorSeverity(sev driver.ErrorSeverity) string {
	if c, ok := errorSeverityColors[sev]; ok {
		return c.Sprint(sev.String())
	}
	return sev.String()
}

// renderStatus writes one status snapshot as the multi-section table shared
// by the status and monitor commands.
func renderStatus(w io.Writer, snap *driver.StatusSnapshot) {
	fmt.Fprintf(w, "Camera %s at %s\n", snap.DeviceID, snap.CapturedAt.Format(time.RFC3339))

	rec := snap.Recording
	fmt.Fprintf(w, "\nRecording: %s", rec.State)
	if rec.State == driver.RecordingActive {
		fmt.Fprintf(w, "  (%s recorded)", formatClock(rec.Duration))
	}
	fmt.Fprintf(w, "\n  Clips: %d  Remaining: %s\n", rec.ClipCount, formatClock(rec.Remaining))

	st := snap.Storage
	fmt.Fprintf(w, "\nStorage: %s, %s free of %s (%d%% healthy)\n",
		st.MediaStatus, formatBytes(st.FreeBytes), formatBytes(st.TotalBytes), st.Health)
	fmt.Fprintf(w, "  Write %.0f MB/s  Read %.0f MB/s  Last write: %s\n",
		st.WriteSpeed, st.ReadSpeed, formatAge(st.LastWrite))

	if len(snap.Temperatures) > 0 {
		fmt.Fprintf(w, "\nTemperatures:\n")
		for _, reading := range snap.Temperatures {
			fmt.Fprintf(w, "  %-8s %5.1f C  %s\n", reading.Zone, reading.Celsius, paintSeverity(reading.Severity))
		}
	}

	pw := snap.Power
	charging := ""
	if pw.Charging {
		charging = ", charging"
	}
	fmt.Fprintf(w, "\nPower: %d%% (%s%s)  %.1f V\n", pw.BatteryPercent, pw.Source, charging, pw.Voltage)
	fmt.Fprintf(w, "System: %d%% healthy, up %s\n", snap.System.Health, formatClock(snap.System.Uptime))

	if len(snap.Errors) > 0 {
		fmt.Fprintf(w, "\nActive errors:\n")
		for _, e := range snap.Errors {
			fmt.Fprintf(w, "  [%s] code %d  %s  %s\n",
				e.Category, e.Code, paintErrorSeverity(e.Severity), formatAge(e.Timestamp))
		}
	}
}

// renderDevices writes the discovery table.
func renderDevices(devices []driver.Device) error {
	if len(devices) == 0 {
		fmt.Println("No cameras discovered")
		return nil
	}
	w := newTable()
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tMODEL\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 72))
	for _, dev := range devices {
		name := dev.Name
		if name == "" {
			name = "(unnamed)"
		}
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		model := dev.Model
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s\n",
			name, dev.ID, dev.RSSI, model, formatAge(dev.LastSeen))
	}
	return w.Flush()
}
