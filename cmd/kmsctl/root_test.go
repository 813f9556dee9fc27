package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NeowayLabs/kms/display"
)

func TestParseStyle(t *testing.T) {
	for _, want := range []display.CommitStyle{display.CommitLegacy, display.CommitUniversal, display.CommitAtomic} {
		got, err := parseStyle(want.String())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := parseStyle("sideways")
	assert.Error(t, err)
}

func TestNextColor(t *testing.T) {
	up := true
	assert.Equal(t, uint8(20), nextColor(&up, 0, 20))
	assert.Equal(t, uint8(0xff), nextColor(&up, 250, 20))
	assert.False(t, up)
	assert.Equal(t, uint8(235), nextColor(&up, 0xff, 20))
	assert.Equal(t, uint8(0), nextColor(&up, 5, 20))
	assert.True(t, up)
}

func TestCommands(t *testing.T) {
	root := NewRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"probe", "assign", "modeset", "flip", "force", "version"}, names)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, version+"\n", out.String())

	root.SetArgs([]string{"force", "HDMI-A-1"})
	assert.Error(t, root.Execute())
}
