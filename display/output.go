package display

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/NeowayLabs/kms/mode"
)

var ErrNotMST = errors.New("output is not a DP-MST connector")

// fallbackMode is used by outputs reporting no modes: 1024x768@60.
var fallbackMode = mode.Info{
	Clock:      65000,
	Hdisplay:   1024,
	HsyncStart: 1048,
	HsyncEnd:   1184,
	Htotal:     1344,
	Vdisplay:   768,
	VsyncStart: 771,
	VsyncEnd:   777,
	Vtotal:     806,
	Vrefresh:   60,
	Flags:      0xA, // -hsync -vsync
	Type:       mode.TypeDriver,
	Name:       [mode.DisplayModeLen]uint8{'1', '0', '2', '4', 'x', '7', '6', '8'},
}

// Output is one connector.
type Output struct {
	props[ConnectorProp]

	ID     uint32
	Name   string
	Type   uint32
	TypeID uint32

	Connection uint8
	Modes      []mode.Info
	// Pipe index mask of the pipes the connector's encoders can reach.
	ValidPipes uint32

	// ForceReprobe makes the next refresh ask the kernel to probe the
	// sink again.
	ForceReprobe bool

	pendingPipe int
	defaultMode mode.Info
	override    *mode.Info
	mstPath     string
}

func (o *Output) String() string {
	return o.Name
}

func (o *Output) Connected() bool {
	return o.Connection == mode.Connected
}

// InternalPanel reports built in panels (LVDS, eDP, DSI, DPI).
func (o *Output) InternalPanel() bool {
	return mode.IsInternalPanel(o.Type)
}

// PendingPipe is the pipe index the output will be driven by after the
// next commit, PipeNone when disabled.
func (o *Output) PendingPipe() int {
	return o.pendingPipe
}

// Pipe returns the pipe driving the output, nil when none.
func (o *Output) Pipe() *Pipe {
	if o.pendingPipe == PipeNone {
		return nil
	}
	return o.d.Pipe(o.pendingPipe)
}

// Mode is the override mode when set, else the default mode.
func (o *Output) Mode() mode.Info {
	if o.override != nil {
		return *o.override
	}
	return o.defaultMode
}

func (o *Output) DefaultMode() mode.Info {
	return o.defaultMode
}

// HighresMode returns the widest mode.
func (o *Output) HighresMode() mode.Info {
	return pickMode(o.Modes, ResolutionHighest)
}

// LowresMode returns the narrowest mode.
func (o *Output) LowresMode() mode.Info {
	return pickMode(o.Modes, ResolutionLowest)
}

// PreferredVrefresh is the refresh rate of the first mode, 60 when the
// output has none.
func (o *Output) PreferredVrefresh() uint32 {
	if len(o.Modes) == 0 {
		return 60
	}
	return o.Modes[0].Vrefresh
}

// SupportsPipe reports whether the output can be driven by pipe.
func (o *Output) SupportsPipe(pipe int) bool {
	return pipe >= 0 && pipe < MaxPipes && o.ValidPipes&(1<<uint(pipe)) != 0
}

// SetPipe routes the output to pipe, or disables it with PipeNone. The
// previous pipe is deactivated when no other output uses it. Routing an
// output to the pipe it already has only marks what actually changed.
func (o *Output) SetPipe(pipe int) error {
	d := o.d
	if pipe != PipeNone && d.Pipe(pipe) == nil {
		return fmt.Errorf("%s: pipe %d out of range", o.Name, pipe)
	}
	d.log.Debug().Str("output", o.Name).Str("pipe", PipeName(pipe)).Msg("set pipe")

	old := o.Pipe()
	o.pendingPipe = pipe

	if old != nil && old.Output() == nil {
		if err := d.setPipeMode(old, nil); err != nil {
			return err
		}
		old.update(CrtcActive, 0)
	}

	var crtcID uint32
	if pipe != PipeNone {
		crtcID = d.pipes[pipe].CrtcID
	}
	o.update(ConnectorCrtcID, uint64(crtcID))

	if err := o.refresh(); err != nil {
		return err
	}

	if pipe != PipeNone {
		p := d.pipes[pipe]
		m := o.Mode()
		if err := d.setPipeMode(p, &m); err != nil {
			return err
		}
		p.update(CrtcActive, 1)
	}
	return nil
}

// OverrideMode makes the output use m instead of its default mode, nil
// restores the default. The mode is not checked against the connector's
// mode list.
func (o *Output) OverrideMode(m *mode.Info) error {
	if m != nil {
		cp := *m
		o.override = &cp
	} else {
		o.override = nil
	}
	if p := o.Pipe(); p != nil {
		cur := o.Mode()
		return o.d.setPipeMode(p, &cur)
	}
	return nil
}

// setPipeMode points MODE_ID at m, or at no mode when m is nil. Nothing
// is touched when the pipe already has that mode. Legacy devices only
// mark MODE_ID dirty, the mode is sent with SetCrtc.
func (d *Display) setPipeMode(p *Pipe, m *mode.Info) error {
	if sameMode(p.boundMode, m) {
		return nil
	}
	if !d.isAtomic {
		p.SetPropChanged(CrtcModeID)
		p.boundMode = copyMode(m)
		return nil
	}

	var data []byte
	if m != nil {
		data = mode.ModeBytes(m)
	}
	if err := p.ReplacePropBlob(CrtcModeID, data); err != nil {
		p.boundMode = nil
		return err
	}
	p.boundMode = copyMode(m)
	return nil
}

func sameMode(a, b *mode.Info) bool {
	if a == nil || b == nil {
		return a == b
	}
	return bytes.Equal(mode.ModeBytes(a), mode.ModeBytes(b))
}

func copyMode(m *mode.Info) *mode.Info {
	if m == nil {
		return nil
	}
	cp := *m
	return &cp
}

// IsMST reports whether the connector sits behind a DP-MST branch.
func (o *Output) IsMST() bool {
	return o.mstPath != ""
}

// MSTPath is the PATH property, e.g. "mst:72-1", empty for non MST
// outputs.
func (o *Output) MSTPath() string {
	return o.mstPath
}

// MSTConnectorID returns the id of the root connector of an MST path.
func (o *Output) MSTConnectorID() (uint32, error) {
	if !o.IsMST() {
		return 0, fmt.Errorf("%s: %w", o.Name, ErrNotMST)
	}
	return ParseMSTPath(o.mstPath)
}

// ParseMSTPath extracts the root connector id from a "mst:<id>-<port>..."
// path.
func ParseMSTPath(path string) (uint32, error) {
	rest, ok := strings.CutPrefix(path, "mst:")
	if !ok {
		return 0, fmt.Errorf("path %q: %w", path, ErrNotMST)
	}
	id, _, _ := strings.Cut(rest, "-")
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("path %q: %w", path, err)
	}
	return uint32(n), nil
}

// refresh re-reads the connector: state, modes, reachable pipes and
// property ids.
func (o *Output) refresh() error {
	d := o.d
	conn, err := d.dev.Connector(o.ID, o.ForceReprobe)
	if err != nil {
		return fmt.Errorf("connector %d: %w", o.ID, err)
	}
	o.ForceReprobe = false

	o.Type = conn.Type
	o.TypeID = conn.TypeID
	o.Connection = conn.Connection
	if o.Name == "" {
		o.Name = conn.Name()
	}
	o.Modes = conn.Modes

	encoders := make([]*mode.Encoder, 0, len(conn.Encoders))
	for _, id := range conn.Encoders {
		enc, err := d.dev.Encoder(id)
		if err != nil {
			return fmt.Errorf("%s: encoder %d: %w", o.Name, id, err)
		}
		encoders = append(encoders, enc)
	}
	o.ValidPipes = d.crtcMaskToPipes(mode.ValidCrtcMask(encoders))

	if len(conn.Modes) > 0 {
		o.defaultMode = pickMode(conn.Modes, d.resolution)
	} else {
		o.defaultMode = fallbackMode
	}

	var pathBlob uint32
	err = o.fill(connectorPropNames[:], func(name string, _ uint32, value uint64) {
		if name == "PATH" {
			pathBlob = uint32(value)
		}
	})
	if err != nil {
		return fmt.Errorf("%s: %w", o.Name, err)
	}

	o.mstPath = ""
	if pathBlob != 0 {
		blob, err := d.dev.PropertyBlob(pathBlob)
		if err != nil {
			return fmt.Errorf("%s: PATH: %w", o.Name, err)
		}
		if n := bytes.IndexByte(blob, 0); n >= 0 {
			blob = blob[:n]
		}
		o.mstPath = string(blob)
	}

	d.log.Debug().Str("output", o.Name).Str("connection", mode.ConnectionName(o.Connection)).
		Int("modes", len(o.Modes)).Str("pipe", PipeName(o.pendingPipe)).Msg("output refreshed")
	return nil
}

// pickMode applies the default mode policy to a non empty mode list.
func pickMode(modes []mode.Info, policy Resolution) mode.Info {
	if len(modes) == 0 {
		return fallbackMode
	}
	switch policy {
	case ResolutionHighest, ResolutionLowest:
		sorted := append([]mode.Info(nil), modes...)
		mode.SortByResolution(sorted, policy == ResolutionLowest)
		return sorted[0]
	}
	m, _ := mode.DefaultMode(modes)
	return m
}

// crtcMaskToPipes converts a kernel crtc index mask to a pipe index mask.
func (d *Display) crtcMaskToPipes(mask uint32) uint32 {
	var pipes uint32
	for _, p := range d.pipes {
		if p.Enabled && mask&(1<<uint(p.CrtcOffset)) != 0 {
			pipes |= 1 << uint(p.Index)
		}
	}
	return pipes
}
