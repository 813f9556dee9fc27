package display

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NeowayLabs/kms/mode"
)

func readStatus(t *testing.T, fs *fakeDebugfs, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(fs.SysfsConnectorDir(name), "status"))
	require.NoError(t, err)
	return string(b)
}

func forceKernel(t *testing.T) (*fakeKernel, *fakeDebugfs, uint32) {
	t.Helper()
	k := pipeKernel(2)
	hdmi := k.addConnector(mode.ConnectorHDMIA, 1, mode.Connected, 0x3, mode1080p)
	dp := k.addConnector(mode.ConnectorDisplayPort, 1, mode.Disconnected, 0x3, mode1080p)
	fs := newFakeDebugfs(t)
	fs.addConnector(t, k, hdmi, "HDMI-A-1")
	fs.addConnector(t, k, dp, "DP-1")
	return k, fs, dp
}

func TestForceConnector(t *testing.T) {
	k, fs, _ := forceKernel(t)
	d := newTestDisplay(t, k, WithDebugfs(fs), WithForceRetry(3, time.Millisecond))
	o := d.Output("DP-1")
	require.False(t, o.Connected())

	require.NoError(t, d.ForceConnector(o, ForceOn))
	assert.True(t, o.Connected())
	assert.Equal(t, ForceOn, readStatus(t, fs, "DP-1"))
	assert.Equal(t, 1, d.attrs.Len())

	assert.Zero(t, d.ResetConnectors())
	assert.Equal(t, ForceDetect, readStatus(t, fs, "DP-1"))

	require.NoError(t, d.ForceConnector(o, ForceDetect))
	assert.Zero(t, d.attrs.Len())
}

func TestForceConnectorOff(t *testing.T) {
	k, fs, _ := forceKernel(t)
	d := newTestDisplay(t, k, WithDebugfs(fs), WithForceRetry(3, time.Millisecond))
	o := d.Output("HDMI-A-1")

	require.NoError(t, d.ForceConnector(o, ForceOff))
	assert.False(t, o.Connected())
	assert.Len(t, d.ConnectedOutputs(), 0)
}

func TestForceConnectorNotApplied(t *testing.T) {
	k, fs, dp := forceKernel(t)
	delete(k.statusFile, dp)
	d := newTestDisplay(t, k, WithDebugfs(fs), WithForceRetry(2, time.Millisecond))

	err := d.ForceConnector(d.Output("DP-1"), ForceOn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still disconnected")
	// the override is still recorded and can be undone
	assert.Equal(t, 1, d.attrs.Len())
}

func TestForceConnectorErrors(t *testing.T) {
	k, fs, _ := forceKernel(t)
	d := newTestDisplay(t, k, WithDebugfs(fs))
	assert.ErrorIs(t, d.ForceConnector(d.Outputs()[0], "sideways"), ErrForceState)

	plain := newTestDisplay(t, twoPipeKernel(true))
	assert.ErrorIs(t, plain.ForceConnector(plain.Outputs()[0], ForceOn), ErrNoDebugfs)
}

func TestIgnoreHPD(t *testing.T) {
	k, fs, _ := forceKernel(t)
	d := newTestDisplay(t, k, WithDebugfs(fs), WithIgnoreHPD(true), WithForceRetry(3, time.Millisecond))

	assert.True(t, fs.ignoreHPD)
	assert.Equal(t, ForceOn, readStatus(t, fs, "HDMI-A-1"))
	assert.Equal(t, ForceDetect, readStatus(t, fs, "DP-1"))
	assert.Equal(t, 1, d.attrs.Len())
}

func TestIgnoreHPDUnsupported(t *testing.T) {
	k, fs, _ := forceKernel(t)
	fs.ignoreHPDErr = errors.New("no such file")
	d := newTestDisplay(t, k, WithDebugfs(fs), WithIgnoreHPD(true))

	assert.Equal(t, ForceDetect, readStatus(t, fs, "HDMI-A-1"))
	assert.Zero(t, d.attrs.Len())
}
