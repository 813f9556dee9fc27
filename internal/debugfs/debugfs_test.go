package debugfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestPipeForCrtc(t *testing.T) {
	dir := t.TempDir()
	f := NewAt(dir, t.TempDir(), 0)

	writeFile(t, filepath.Join(dir, "crtc-0", "i915_pipe"), "A\n")
	writeFile(t, filepath.Join(dir, "crtc-1", "i915_pipe"), "C\n")
	writeFile(t, filepath.Join(dir, "crtc-2", "i915_pipe"), "garbage\n")

	p, err := f.PipeForCrtc(40, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, p)

	p, err = f.PipeForCrtc(41, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, p)

	_, err = f.PipeForCrtc(42, 2)
	require.ErrorIs(t, err, ErrNoValue)

	// no file, direct offset
	p, err = f.PipeForCrtc(43, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, p)
}

func TestMaxDotclock(t *testing.T) {
	dir := t.TempDir()
	f := NewAt(dir, t.TempDir(), 0)

	_, err := f.MaxDotclock()
	require.ErrorIs(t, err, ErrNoValue)

	writeFile(t, filepath.Join(dir, "i915_frequency_info"),
		"Current CD clock frequency: 307200 kHz\nMax pixel clock frequency: 1228800 kHz\n")
	clk, err := f.MaxDotclock()
	require.NoError(t, err)
	assert.Equal(t, 1228800, clk)

	writeFile(t, filepath.Join(dir, "i915_cdclk_info"), "Max pixel clock frequency: 652800 kHz\n")
	clk, err = f.MaxDotclock()
	require.NoError(t, err)
	assert.Equal(t, 652800, clk)
}

func TestParseKHz(t *testing.T) {
	_, err := ParseKHz("Max pixel clock frequency: lots kHz", maxDotclockText)
	require.Error(t, err)
	_, err = ParseKHz("Max pixel clock frequency:", maxDotclockText)
	require.ErrorIs(t, err, ErrNoValue)
}

func TestConnectorFiles(t *testing.T) {
	dir := t.TempDir()
	sys := t.TempDir()
	f := NewAt(dir, sys, 1)

	assert.Equal(t, filepath.Join(sys, "card1-DP-1"), f.SysfsConnectorDir("DP-1"))
	assert.Equal(t, filepath.Join(dir, "DP-1"), f.ConnectorDir("DP-1"))

	assert.False(t, f.ForceJoinerEnabled("DP-1"))

	writeFile(t, filepath.Join(dir, "DP-1", "i915_joiner_force_enable"), "2\n")
	assert.True(t, f.ForceJoinerEnabled("DP-1"))
	require.NoError(t, f.WriteConnector("DP-1", "i915_joiner_force_enable", "0"))
	assert.False(t, f.ForceJoinerEnabled("DP-1"))

	writeFile(t, filepath.Join(dir, "HDMI-A-1", "i915_bigjoiner_force_enable"), "Y\n")
	assert.True(t, f.ForceJoinerEnabled("HDMI-A-1"))

	s, err := f.ReadConnector("HDMI-A-1", "i915_bigjoiner_force_enable")
	require.NoError(t, err)
	assert.Equal(t, "Y\n", s)
}

func TestIgnoreLongHPD(t *testing.T) {
	dir := t.TempDir()
	f := NewAt(dir, t.TempDir(), 0)

	require.Error(t, f.IgnoreLongHPD(true))

	writeFile(t, filepath.Join(dir, "i915_ignore_long_hpd"), "0")
	require.NoError(t, f.IgnoreLongHPD(true))
	b, err := os.ReadFile(filepath.Join(dir, "i915_ignore_long_hpd"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(b))
}

func TestNewRejectsRegularFile(t *testing.T) {
	file, err := os.CreateTemp(t.TempDir(), "card")
	require.NoError(t, err)
	defer file.Close()

	_, err = New(file, "/sys/kernel/debug", "/sys")
	require.Error(t, err)
}

func TestParsePipe(t *testing.T) {
	p, err := ParsePipe(" P\n")
	require.NoError(t, err)
	assert.Equal(t, 15, p)

	_, err = ParsePipe("Q")
	require.Error(t, err)
}
