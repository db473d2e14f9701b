package main

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ronaldeddings/blackmagic-bluetooth-sub002/driver"
)

// executeCommand runs a command with args and captures its combined output.
func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err := root.Execute()
	return buf.String(), err
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in      string
		want    driver.FrameRate
		wantErr bool
	}{
		{in: "23.98", want: driver.FrameRate23_98},
		{in: "24", want: driver.FrameRate24},
		{in: "25", want: driver.FrameRate25},
		{in: "29.97", want: driver.FrameRate29_97},
		{in: "59.94", want: driver.FrameRate59_94},
		{in: "60", want: driver.FrameRate60},
		{in: "26", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseFrameRate(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "unknown frame rate")
				assert.Contains(t, err.Error(), "23.98", "the error should list the accepted values")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseResolution(t *testing.T) {
	got, err := parseResolution("uhd")
	require.NoError(t, err)
	assert.Equal(t, driver.ResolutionUHD, got)

	got, err = parseResolution("UHD")
	require.NoError(t, err, "flag spellings are case-insensitive")
	assert.Equal(t, driver.ResolutionUHD, got)

	got, err = parseResolution("8k")
	require.NoError(t, err)
	assert.Equal(t, driver.Resolution8K, got)

	_, err = parseResolution("1080p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown resolution")
}

func TestParseCodec(t *testing.T) {
	tests := []struct {
		in   string
		want driver.Codec
	}{
		{"braw3:1", driver.CodecBRAW3to1},
		{"braw12:1", driver.CodecBRAW12to1},
		{"brawq0", driver.CodecBRAWQ0},
		{"ProResHQ", driver.CodecProResHQ},
		{"prores422", driver.CodecProRes422},
		{"proresproxy", driver.CodecProResProxy},
	}
	for _, tt := range tests {
		got, err := parseCodec(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseCodec("h264")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown codec")
}

func TestParseColorSpace(t *testing.T) {
	got, err := parseColorSpace("extended-video")
	require.NoError(t, err)
	assert.Equal(t, driver.ColorSpaceExtendedVideo, got)

	_, err = parseColorSpace("rec709")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "film, video")
}

func TestParsePriority(t *testing.T) {
	for name, want := range map[string]driver.Priority{
		"low": driver.PriorityLow, "normal": driver.PriorityNormal, "high": driver.PriorityHigh,
	} {
		got, err := parsePriority(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := parsePriority("urgent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want low, normal or high")
}

func TestParseTimecodeFormat(t *testing.T) {
	got, err := parseTimecodeFormat("30")
	require.NoError(t, err)
	assert.Equal(t, driver.Format30, got)

	// the timecode record has no fractional rates
	_, err = parseTimecodeFormat("29.97")
	require.Error(t, err)
}

func TestParseTimecode(t *testing.T) {
	tc, err := parseTimecode("10:30:15:12", driver.Format25, false, false)
	require.NoError(t, err)
	assert.Equal(t, uint8(10), tc.Hours)
	assert.Equal(t, uint8(30), tc.Minutes)
	assert.Equal(t, uint8(15), tc.Seconds)
	assert.Equal(t, uint8(12), tc.Frames)
	assert.False(t, tc.DropFrame)
	assert.False(t, tc.Running)
	assert.Equal(t, driver.Format25, tc.Format)

	tc, err = parseTimecode("01:00:00;02", driver.Format30, false, true)
	require.NoError(t, err)
	assert.True(t, tc.DropFrame, "a semicolon before the frames means drop-frame")
	assert.True(t, tc.Running)
	assert.Equal(t, "01:00:00;02", tc.String())

	tc, err = parseTimecode("01:00:00:02", driver.Format30, true, false)
	require.NoError(t, err)
	assert.True(t, tc.DropFrame, "--drop forces drop-frame without the semicolon")
}

func TestParseTimecodeRejectsBadInput(t *testing.T) {
	_, err := parseTimecode("10:30:15", driver.Format25, false, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want HH:MM:SS:FF")

	_, err = parseTimecode("aa:30:15:00", driver.Format25, false, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a number")

	_, err = parseTimecode("10:61:00:00", driver.Format25, false, false)
	require.ErrorIs(t, err, driver.ErrInvalidTimecode)

	// frame numbers stop one short of the rate
	_, err = parseTimecode("00:00:00:25", driver.Format25, false, false)
	require.ErrorIs(t, err, driver.ErrInvalidTimecode)
	_, err = parseTimecode("00:00:00:24", driver.Format25, false, false)
	require.NoError(t, err)
}

func resetSettingsFlags() {
	setFrameRate, setResolution, setCodec, setColorSpace = "", "", "", ""
	setISO, setExposureUS, setWhiteBalance = 0, 0, 0
	setTint = 0
	setFocus = ""
	settingsWatch = false
}

// scratchSettingsCmd builds a command carrying only the flags the collector
// inspects through Changed, leaving the real settingsCmd untouched.
func scratchSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().Uint32Var(&setISO, "iso", 0, "")
	cmd.Flags().Uint32Var(&setExposureUS, "exposure-us", 0, "")
	cmd.Flags().Uint32Var(&setWhiteBalance, "white-balance", 0, "")
	cmd.Flags().Int32Var(&setTint, "tint", 0, "")
	return cmd
}

func TestCollectSettingChanges(t *testing.T) {
	t.Cleanup(resetSettingsFlags)

	cmd := scratchSettingsCmd()
	setFrameRate = "25"
	setCodec = "braw5:1"
	setFocus = "32000"
	require.NoError(t, cmd.Flags().Set("iso", "800"))

	changes, err := collectSettingChanges(cmd)
	require.NoError(t, err)
	require.Len(t, changes, 4)
	assert.Equal(t, "frame rate 25", changes[0].name)
	assert.Equal(t, "codec BRAW 5:1", changes[1].name)
	assert.Equal(t, "ISO 800", changes[2].name)
	assert.Equal(t, "focus 32000", changes[3].name)
}

func TestCollectSettingChangesValidatesEverythingFirst(t *testing.T) {
	t.Cleanup(resetSettingsFlags)

	cmd := scratchSettingsCmd()
	setFrameRate = "25"
	setCodec = "h264"
	_, err := collectSettingChanges(cmd)
	require.Error(t, err, "one bad flag rejects the whole invocation")
	assert.Contains(t, err.Error(), "unknown codec")
}

func TestCollectSettingChangesFocus(t *testing.T) {
	t.Cleanup(resetSettingsFlags)

	cmd := scratchSettingsCmd()
	setFocus = "auto"
	changes, err := collectSettingChanges(cmd)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "autofocus", changes[0].name)

	setFocus = "65536"
	_, err = collectSettingChanges(cmd)
	require.Error(t, err, "positions past uint16 are rejected")

	setFocus = "near"
	_, err = collectSettingChanges(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want 'auto' or 0..65535")
}

func TestCollectSettingChangesTintNeedsWhiteBalance(t *testing.T) {
	t.Cleanup(resetSettingsFlags)

	cmd := scratchSettingsCmd()
	require.NoError(t, cmd.Flags().Set("tint", "-2"))
	_, err := collectSettingChanges(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--tint requires --white-balance")

	require.NoError(t, cmd.Flags().Set("white-balance", "5600"))
	changes, err := collectSettingChanges(cmd)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "white balance 5600K", changes[0].name)
}

func TestHelpListsEveryCommand(t *testing.T) {
	output, err := executeCommand(rootCmd, "--help")
	require.NoError(t, err)
	for _, name := range []string{
		"scan", "info", "record", "settings", "ls", "get", "put",
		"lut", "dfu", "timecode", "sync", "status", "monitor",
	} {
		assert.Contains(t, output, name)
	}
}

func TestRecordRejectsUnknownAction(t *testing.T) {
	_, err := executeCommand(rootCmd, "record", "AA:BB:CC:DD:EE:FF", "pause")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown action "pause"`)
}
