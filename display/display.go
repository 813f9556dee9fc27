// Package display keeps a client side model of the mode setting pipeline
// (outputs, pipes and planes), assigns pipes to outputs and commits the
// desired state with legacy or atomic ioctls.
package display

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/NeowayLabs/kms/internal/config"
	"github.com/NeowayLabs/kms/internal/connattr"
	"github.com/NeowayLabs/kms/mode"
)

const (
	// MaxPipes is the highest number of crtcs a Display accepts.
	MaxPipes = 16
	// MaxPlanes is the highest number of planes homed on one pipe.
	MaxPlanes = 10

	// PipeNone is the pending pipe of an output that is not driven.
	PipeNone = -1

	DefaultFlipTimeout = 50 * time.Millisecond

	defaultForceAttempts = 10
	defaultForceDelay    = 100 * time.Millisecond
)

var (
	ErrNotAtomic         = errors.New("device does not support atomic mode setting")
	ErrPlaneDirty        = errors.New("plane has uncommitted changes")
	ErrPlaneIncompatible = errors.New("plane cannot be used on pipe")
	ErrDuplicatePipe     = errors.New("outputs share a pipe")
	ErrFlipTimeout       = errors.New("timed out waiting for flip events")
	ErrTooManyCrtcs      = errors.New("too many crtcs")
	ErrTooManyPlanes     = errors.New("too many planes on pipe")
	ErrNoProperty        = errors.New("property not supported")
	ErrLegacyPrimary     = errors.New("legacy primary plane cannot be moved or rotated")
	ErrFirstCommitEvent  = errors.New("first commit must not request events")
	ErrMSTConflict       = errors.New("MST outputs share a path and connector id")
)

// FatalHandler receives the errors of the Commit*, WaitFor* entry points.
// The default logs them at fatal level, which exits the process.
type FatalHandler func(err error)

// PipeTranslator maps a crtc to the hardware pipe that drives it.
type PipeTranslator interface {
	PipeForCrtc(crtcID uint32, offset int) (int, error)
}

// Debugfs is the driver debug interface used for pipe translation, forced
// joiner and hotplug handling. *debugfs.FS implements it.
type Debugfs interface {
	PipeTranslator
	ConnectorDir(connector string) string
	SysfsConnectorDir(connector string) string
	ForceJoinerEnabled(connector string) bool
	IgnoreLongHPD(enable bool) error
}

// JoinerLimits are the per pipe bandwidth limits beyond which a mode needs
// several joined pipes. Zero disables a limit.
type JoinerLimits struct {
	MaxHdisplay int // pixels
	MaxDotclock int // kHz
}

// Resolution selects the default mode of outputs.
type Resolution int

const (
	ResolutionPreferred Resolution = iota
	ResolutionHighest
	ResolutionLowest
)

// ParseResolution accepts "highest"/"1" and "lowest"/"0"; anything else
// means the preferred mode.
func ParseResolution(s string) Resolution {
	switch s {
	case "highest", "1":
		return ResolutionHighest
	case "lowest", "0":
		return ResolutionLowest
	}
	return ResolutionPreferred
}

// Display is the client side model of one DRM device. It is not safe for
// concurrent use.
type Display struct {
	dev     Device
	log     zerolog.Logger
	fatal   FatalHandler
	debugfs Debugfs
	attrs   *connattr.Registry

	limits      JoinerLimits
	resolution  Resolution
	ignoreHPD   bool
	flipTimeout time.Duration

	forceAttempts uint
	forceDelay    time.Duration

	pipes   []*Pipe
	planes  []*Plane
	outputs []*Output
	formats []mode.FormatModifier

	isAtomic       bool
	universal      bool
	hasCursorPlane bool
	firstCommit    bool

	propInfo map[uint32]*mode.Property
}

type Option func(*Display)

func WithLogger(l zerolog.Logger) Option {
	return func(d *Display) { d.log = l }
}

func WithFatalHandler(h FatalHandler) Option {
	return func(d *Display) { d.fatal = h }
}

func WithDebugfs(fs Debugfs) Option {
	return func(d *Display) { d.debugfs = fs }
}

// WithConnectorAttrs sets the registry recording connector overrides,
// connattr.Default otherwise.
func WithConnectorAttrs(r *connattr.Registry) Option {
	return func(d *Display) { d.attrs = r }
}

func WithJoinerLimits(l JoinerLimits) Option {
	return func(d *Display) { d.limits = l }
}

func WithResolution(r Resolution) Option {
	return func(d *Display) { d.resolution = r }
}

// WithIgnoreHPD makes the driver ignore long hotplug pulses and forces the
// connected outputs on.
func WithIgnoreHPD(ignore bool) Option {
	return func(d *Display) { d.ignoreHPD = ignore }
}

func WithFlipTimeout(t time.Duration) Option {
	return func(d *Display) { d.flipTimeout = t }
}

// WithForceRetry sets how often ForceConnector re-reads a connector
// waiting for the forced state to show up. At least one read is done.
func WithForceRetry(attempts uint, delay time.Duration) Option {
	return func(d *Display) {
		d.forceAttempts = max(attempts, 1)
		d.forceDelay = delay
	}
}

// WithConfig applies the environment configuration.
func WithConfig(cfg config.Config, limits config.Limits) Option {
	return func(d *Display) {
		d.resolution = ParseResolution(cfg.Resolution)
		d.ignoreHPD = cfg.IgnoreHPD
		if cfg.FlipTimeout > 0 {
			d.flipTimeout = cfg.FlipTimeout
		}
		d.limits = JoinerLimits{MaxHdisplay: limits.MaxHdisplay, MaxDotclock: limits.MaxDotclock}
	}
}

// New probes dev and builds the Display: pipes, planes and outputs with
// every property reset to its default and marked dirty.
func New(dev Device, opts ...Option) (*Display, error) {
	d := &Display{
		dev:           dev,
		log:           log.Logger,
		attrs:         connattr.Default,
		flipTimeout:   DefaultFlipTimeout,
		forceAttempts: defaultForceAttempts,
		forceDelay:    defaultForceDelay,
		propInfo:      make(map[uint32]*mode.Property),
	}
	d.fatal = func(err error) {
		d.log.Fatal().Err(err).Msg("display")
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := d.probe(); err != nil {
		return nil, err
	}
	if err := d.ResetOutputs(); err != nil {
		return nil, err
	}
	if d.ignoreHPD {
		d.suppressHPD()
	}
	return d, nil
}

func (d *Display) IsAtomic() bool {
	return d.isAtomic
}

func (d *Display) HasCursorPlane() bool {
	return d.hasCursorPlane
}

// FirstCommit reports whether no commit completed since New or Reset.
func (d *Display) FirstCommit() bool {
	return d.firstCommit
}

// Pipes returns every pipe index up to the highest probed one. Pipes
// without a crtc are present but not enabled.
func (d *Display) Pipes() []*Pipe {
	return d.pipes
}

// EnabledPipes returns the pipes backed by a crtc.
func (d *Display) EnabledPipes() []*Pipe {
	var out []*Pipe
	for _, p := range d.pipes {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// Pipe returns the pipe with the given index, nil when out of range.
func (d *Display) Pipe(index int) *Pipe {
	if index < 0 || index >= len(d.pipes) {
		return nil
	}
	return d.pipes[index]
}

func (d *Display) Planes() []*Plane {
	return d.planes
}

func (d *Display) Outputs() []*Output {
	return d.outputs
}

// ConnectedOutputs returns the outputs with a sink attached.
func (d *Display) ConnectedOutputs() []*Output {
	var out []*Output
	for _, o := range d.outputs {
		if o.Connected() {
			out = append(out, o)
		}
	}
	return out
}

// Output finds an output by name, e.g. "DP-1".
func (d *Display) Output(name string) *Output {
	for _, o := range d.outputs {
		if o.Name == name {
			return o
		}
	}
	return nil
}

// Formats is the union of the (format, modifier) pairs of every plane.
func (d *Display) Formats() []mode.FormatModifier {
	return d.formats
}

// SupportsFormat reports whether any plane scans out format with modifier.
func (d *Display) SupportsFormat(format uint32, modifier uint64) bool {
	for _, fm := range d.formats {
		if fm.Format == format && fm.Modifier == modifier {
			return true
		}
	}
	return false
}

func (d *Display) JoinerLimits() JoinerLimits {
	return d.limits
}

// property returns the cached kernel description of a property id.
func (d *Display) property(id uint32) (*mode.Property, error) {
	if p, ok := d.propInfo[id]; ok {
		return p, nil
	}
	p, err := d.dev.Property(id)
	if err != nil {
		return nil, fmt.Errorf("property %d: %w", id, err)
	}
	d.propInfo[id] = p
	return p, nil
}

// fail hands err to the fatal handler and returns it.
func (d *Display) fail(err error) error {
	if err != nil {
		d.fatal(err)
	}
	return err
}

// PipeName is the letter of a pipe index, "None" for PipeNone.
func PipeName(index int) string {
	if index < 0 || index >= MaxPipes {
		return "None"
	}
	return string(rune('A' + index))
}
