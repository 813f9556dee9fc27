// Package debugfs reads and writes the text files the kernel exposes for
// a DRM device under debugfs and sysfs.
package debugfs

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	pipeFile        = "i915_pipe"
	cdclkInfoFile   = "i915_cdclk_info"
	freqInfoFile    = "i915_frequency_info"
	ignoreHPDFile   = "i915_ignore_long_hpd"
	maxDotclockText = "Max pixel clock frequency:"
)

var ErrNoValue = errors.New("value not found")

// FS gives access to the debugfs directory of one device and to its
// connectors in sysfs.
type FS struct {
	dir      string
	sysfsDir string
	minor    uint32
}

// New locates the debugfs and sysfs directories of the device open in
// file, below the given mount points.
func New(file *os.File, debugfsRoot, sysfsRoot string) (*FS, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(file.Fd()), &st); err != nil {
		return nil, fmt.Errorf("fstat %s: %w", file.Name(), err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return nil, fmt.Errorf("%s is not a character device", file.Name())
	}
	minor := unix.Minor(uint64(st.Rdev))
	return &FS{
		dir:      filepath.Join(debugfsRoot, "dri", strconv.Itoa(int(minor))),
		sysfsDir: filepath.Join(sysfsRoot, "class", "drm"),
		minor:    minor,
	}, nil
}

// NewAt uses dir as the device debugfs directory and sysfsDir as the drm
// class directory, for a card with the given minor.
func NewAt(dir, sysfsDir string, minor uint32) *FS {
	return &FS{dir: dir, sysfsDir: sysfsDir, minor: minor}
}

func (f *FS) Dir() string {
	return f.dir
}

func (f *FS) read(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (f *FS) write(path, value string) error {
	fd, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	_, err = fd.WriteString(value)
	if cerr := fd.Close(); err == nil {
		err = cerr
	}
	return err
}

// PipeForCrtc translates a crtc into the hardware pipe driving it. Drivers
// without the per crtc pipe file use the crtc offset.
func (f *FS) PipeForCrtc(crtcID uint32, offset int) (int, error) {
	s, err := f.read(filepath.Join(f.dir, fmt.Sprintf("crtc-%d", offset), pipeFile))
	if errors.Is(err, fs.ErrNotExist) {
		return offset, nil
	}
	if err != nil {
		return 0, fmt.Errorf("crtc %d: %w", crtcID, err)
	}
	return ParsePipe(s)
}

// ParsePipe converts a pipe letter ("A", "B", ...) into its index.
func ParsePipe(s string) (int, error) {
	s = strings.TrimSpace(s)
	if len(s) != 1 || s[0] < 'A' || s[0] > 'P' {
		return 0, fmt.Errorf("pipe %q: %w", s, ErrNoValue)
	}
	return int(s[0] - 'A'), nil
}

// ConnectorDir is the debugfs directory of a connector, e.g. ".../DP-1".
func (f *FS) ConnectorDir(connector string) string {
	return filepath.Join(f.dir, connector)
}

// SysfsConnectorDir is the sysfs directory of a connector, e.g.
// "/sys/class/drm/card0-DP-1".
func (f *FS) SysfsConnectorDir(connector string) string {
	return filepath.Join(f.sysfsDir, fmt.Sprintf("card%d-%s", f.minor, connector))
}

func (f *FS) ReadConnector(connector, name string) (string, error) {
	return f.read(filepath.Join(f.ConnectorDir(connector), name))
}

func (f *FS) WriteConnector(connector, name, value string) error {
	return f.write(filepath.Join(f.ConnectorDir(connector), name), value)
}

// MaxDotclock parses the maximum pixel clock in kHz from the cdclk info
// file, falling back to the frequency info file.
func (f *FS) MaxDotclock() (int, error) {
	for _, name := range []string{cdclkInfoFile, freqInfoFile} {
		s, err := f.read(filepath.Join(f.dir, name))
		if err != nil {
			continue
		}
		if clk, err := ParseKHz(s, maxDotclockText); err == nil {
			return clk, nil
		}
	}
	return 0, fmt.Errorf("max dotclock: %w", ErrNoValue)
}

// ParseKHz finds a "<label> <n> kHz" line and returns n.
func ParseKHz(s, label string) (int, error) {
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		line := sc.Text()
		i := strings.Index(line, label)
		if i < 0 {
			continue
		}
		fields := strings.Fields(line[i+len(label):])
		if len(fields) == 0 {
			break
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			return 0, fmt.Errorf("%s %q: %w", label, fields[0], err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%s: %w", label, ErrNoValue)
}

// IgnoreLongHPD tells the driver to ignore long hotplug pulses.
func (f *FS) IgnoreLongHPD(enable bool) error {
	v := "0"
	if enable {
		v = "1"
	}
	return f.write(filepath.Join(f.dir, ignoreHPDFile), v)
}

// ForceJoinerEnabled reports whether the connector debugfs asserts a
// forced joiner: "Y" in the big joiner file, or a forced pipe count of two
// or more in the joiner file.
func (f *FS) ForceJoinerEnabled(connector string) bool {
	if s, err := f.ReadConnector(connector, "i915_bigjoiner_force_enable"); err == nil {
		return strings.Contains(s, "Y")
	}
	s, err := f.ReadConnector(connector, "i915_joiner_force_enable")
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	return err == nil && n >= 2
}
