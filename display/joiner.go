package display

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/NeowayLabs/kms/mode"
)

const forceJoinerAttr = "i915_joiner_force_enable"

var ErrNoDebugfs = errors.New("no debugfs configured")

// bigJoinerPossible reports modes that do not fit in one pipe.
func (l JoinerLimits) bigJoinerPossible(m *mode.Info) bool {
	return (l.MaxHdisplay > 0 && int(m.Hdisplay) > l.MaxHdisplay) ||
		(l.MaxDotclock > 0 && int(m.Clock) > l.MaxDotclock)
}

// ultraJoinerPossible reports modes that do not fit in two pipes.
func (l JoinerLimits) ultraJoinerPossible(m *mode.Info) bool {
	return (l.MaxHdisplay > 0 && int(m.Hdisplay) > 2*l.MaxHdisplay) ||
		(l.MaxDotclock > 0 && int(m.Clock) > 2*l.MaxDotclock)
}

// JoinedPipes returns how many consecutive pipes the mode needs: 1, 2
// for big joiner or 4 for ultra joiner.
func (l JoinerLimits) JoinedPipes(m *mode.Info) int {
	switch {
	case l.ultraJoinerPossible(m):
		return 4
	case l.bigJoinerPossible(m):
		return 2
	}
	return 1
}

// JoinerModeFound returns the first mode of o needing exactly two pipes.
func (d *Display) JoinerModeFound(o *Output) (mode.Info, bool) {
	for i := range o.Modes {
		m := &o.Modes[i]
		if d.limits.bigJoinerPossible(m) && !d.limits.ultraJoinerPossible(m) {
			return *m, true
		}
	}
	return mode.Info{}, false
}

// UltrajoinerModeFound returns the first mode of o needing four pipes.
func (d *Display) UltrajoinerModeFound(o *Output) (mode.Info, bool) {
	for i := range o.Modes {
		if d.limits.ultraJoinerPossible(&o.Modes[i]) {
			return o.Modes[i], true
		}
	}
	return mode.Info{}, false
}

// IsJoinerOutput reports whether any mode of o needs joined pipes.
func (d *Display) IsJoinerOutput(o *Output) bool {
	if _, ok := d.JoinerModeFound(o); ok {
		return true
	}
	_, ok := d.UltrajoinerModeFound(o)
	return ok
}

// forcedJoiner reports whether the driver was told to join pipes for o.
func (d *Display) forcedJoiner(o *Output) bool {
	return d.debugfs != nil && d.debugfs.ForceJoinerEnabled(o.Name)
}

// ForceJoiner makes the driver join the given number of pipes for o, 0
// restores the default. The setting is recorded in the connector
// attribute registry and undone by RestoreAll.
func (d *Display) ForceJoiner(o *Output, pipes int) error {
	if d.debugfs == nil {
		return ErrNoDebugfs
	}
	err := d.attrs.Set(d.debugfs.ConnectorDir(o.Name), forceJoinerAttr,
		strconv.Itoa(pipes), "0", false)
	if err != nil {
		return fmt.Errorf("%s: force joiner: %w", o.Name, err)
	}
	if got := d.forcedJoiner(o); got != (pipes >= 2) {
		return fmt.Errorf("%s: force joiner %d not applied", o.Name, pipes)
	}
	return nil
}

// PipeConnectorValid reports whether output can be driven by pipe.
func (d *Display) PipeConnectorValid(pipe int, o *Output) bool {
	p := d.Pipe(pipe)
	return p != nil && p.Enabled && o.Connected() && o.SupportsPipe(pipe)
}

// OutputComboValid checks every pending output/pipe pair and the joiner
// constraints. At least one pair must be pending.
func (d *Display) OutputComboValid() bool {
	combos := 0
	for _, o := range d.ConnectedOutputs() {
		if o.pendingPipe == PipeNone {
			continue
		}
		if !d.PipeConnectorValid(o.pendingPipe, o) {
			d.log.Info().Str("output", o.Name).Str("pipe", PipeName(o.pendingPipe)).
				Msg("pipe and output cannot be used together")
			return false
		}
		combos++
	}
	if combos == 0 {
		d.log.Info().Msg("no pipe/output combination pending")
		return false
	}
	return d.CheckJoinerSupport()
}

// CheckJoinerSupport validates the pending pipes of every routed output,
// connected or not, against joiner constraints. An output whose mode
// needs n joined pipes (or whose joiner is forced) uses its pipe and the
// n-1 following ones, which must exist, be enabled and be free. The pipe
// right before a joined pipe must not be used by another output either.
func (d *Display) CheckJoinerSupport() bool {
	type use struct {
		o    *Output
		pipe int
	}
	var inUse []use
	for _, o := range d.outputs {
		if o.pendingPipe != PipeNone {
			inUse = append(inUse, use{o, o.pendingPipe})
		}
	}
	if len(inUse) == 0 {
		d.log.Info().Msg("no output has a pipe")
		return true
	}

	taken := func(self *Output, pipe int) *Output {
		for _, u := range inUse {
			if u.o != self && u.pipe == pipe {
				return u.o
			}
		}
		return nil
	}

	last := len(d.pipes) - 1
	for _, u := range inUse {
		m := u.o.Mode()
		span := d.limits.JoinedPipes(&m)
		if span == 1 && d.forcedJoiner(u.o) {
			span = 2
		}
		if span == 1 {
			continue
		}

		l := d.log.With().Str("output", u.o.Name).Str("pipe", PipeName(u.pipe)).
			Int("joined", span).Str("mode", m.String()).Logger()

		if u.pipe+span-1 > last {
			l.Info().Msg("not enough pipes after joiner primary")
			return false
		}
		for next := u.pipe + 1; next < u.pipe+span; next++ {
			if other := taken(u.o, next); other != nil {
				l.Info().Str("other", other.Name).Msg("joiner secondary pipe in use")
				return false
			}
			if !d.pipes[next].Enabled {
				l.Info().Str("secondary", PipeName(next)).Msg("joiner secondary pipe fused off")
				return false
			}
		}
		if other := taken(u.o, u.pipe-1); u.pipe > 0 && other != nil {
			l.Info().Str("other", other.Name).Msg("pipe before joiner primary in use")
			return false
		}
	}
	return true
}
