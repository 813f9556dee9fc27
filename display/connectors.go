package display

import (
	"errors"
	"fmt"

	"github.com/avast/retry-go/v4"

	"github.com/NeowayLabs/kms/mode"
)

// Sysfs connector status values.
const (
	ForceOn        = "on"
	ForceOnDigital = "on-digital"
	ForceOff       = "off"
	ForceDetect    = "detect"
)

var ErrForceState = errors.New("unknown connector force state")

// ForceConnector overrides the detected state of o through sysfs and
// waits for the kernel to report it. ForceDetect restores hotplug
// detection. The override is recorded in the connector attribute registry
// and undone by ResetConnectors.
func (d *Display) ForceConnector(o *Output, state string) error {
	var want func(uint8) bool
	switch state {
	case ForceOn, ForceOnDigital:
		want = func(c uint8) bool { return c == mode.Connected }
	case ForceOff:
		want = func(c uint8) bool { return c == mode.Disconnected }
	case ForceDetect:
		want = func(uint8) bool { return true }
	default:
		return fmt.Errorf("%s: %q: %w", o.Name, state, ErrForceState)
	}
	if d.debugfs == nil {
		return ErrNoDebugfs
	}

	dir := d.debugfs.SysfsConnectorDir(o.Name)
	if err := d.attrs.Set(dir, "status", state, ForceDetect, false); err != nil {
		return fmt.Errorf("%s: force %s: %w", o.Name, state, err)
	}

	_, err := retry.DoWithData(func() (*mode.Connector, error) {
		conn, err := d.dev.Connector(o.ID, true)
		if err != nil {
			return nil, err
		}
		if !want(conn.Connection) {
			return nil, fmt.Errorf("%s still %s", o.Name, mode.ConnectionName(conn.Connection))
		}
		return conn, nil
	},
		retry.Attempts(d.forceAttempts),
		retry.Delay(d.forceDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			d.log.Debug().Uint("attempt", n).Err(err).Msg("waiting for forced connector")
		}),
	)
	if err != nil {
		return fmt.Errorf("force %s: %w", state, err)
	}

	if err := o.refresh(); err != nil {
		return err
	}
	d.log.Info().Str("output", o.Name).Str("state", state).
		Str("connection", mode.ConnectionName(o.Connection)).Msg("connector forced")
	return nil
}

// ResetConnectors writes back every connector attribute overridden by
// ForceConnector and ForceJoiner. It returns the number of failed writes.
func (d *Display) ResetConnectors() int {
	failed := d.attrs.RestoreAll()
	if failed > 0 {
		d.log.Warn().Int("failed", failed).Msg("restoring connector attributes")
	}
	return failed
}

// suppressHPD makes the driver ignore long hotplug pulses and pins the
// connected outputs on, so link retraining does not drop them.
func (d *Display) suppressHPD() {
	if d.debugfs == nil {
		d.log.Info().Msg("no debugfs, hotplug pulses not ignored")
		return
	}
	if err := d.debugfs.IgnoreLongHPD(true); err != nil {
		d.log.Info().Err(err).Msg("driver cannot ignore long hotplug pulses")
		return
	}
	for _, o := range d.ConnectedOutputs() {
		if err := d.ForceConnector(o, ForceOn); err != nil {
			d.log.Warn().Err(err).Str("output", o.Name).Msg("forcing connector on")
		}
	}
}
