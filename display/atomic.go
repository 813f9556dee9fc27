package display

import (
	"fmt"

	"github.com/NeowayLabs/kms/mode"
)

// atomicCommit bundles the dirty properties of every pipe, plane and
// output into one atomic ioctl.
func (d *Display) atomicCommit(flags uint32, token uint64) error {
	if !d.isAtomic {
		return ErrNotAtomic
	}

	var req mode.AtomicRequest
	for _, p := range d.pipes {
		if !p.Enabled {
			continue
		}
		if p.changed != 0 {
			if err := p.addAtomic(&req, NumCrtcProps); err != nil {
				return fmt.Errorf("pipe %s: %w", p.Name(), err)
			}
			p.closeOutFence()
		}

		for _, pl := range p.planes {
			if pl.pipe != p || pl.changed == 0 {
				continue
			}
			d.log.Debug().Stringer("plane", pl).Uint64("fb", pl.values[PlaneFbID]).Msg("atomic plane")
			if err := pl.addAtomic(&req, NumPlaneProps); err != nil {
				return fmt.Errorf("plane %s: %w", pl, err)
			}
		}
	}

	for _, o := range d.outputs {
		if o.changed == 0 {
			continue
		}
		if err := o.addAtomic(&req, NumConnectorProps); err != nil {
			return fmt.Errorf("%s: %w", o.Name, err)
		}
	}

	if req.Len() == 0 {
		d.log.Debug().Msg("atomic commit skipped, nothing changed")
		return nil
	}
	d.log.Debug().Int("properties", req.Len()).Uint32("flags", flags).Msg("atomic commit")
	return d.dev.AtomicCommit(&req, flags, token)
}
