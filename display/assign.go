package display

import "math/bits"

// PopulateOutputs picks a pipe for every connected output and returns
// one slot per pipe index, nil for pipes left unused. Outputs that can
// reach fewer pipes choose first, internal panels before everything else.
// An external output finding all its pipes taken may evict an internal
// panel, which then moves to its next free pipe. Outputs reaching no
// enabled pipe are ignored. Pending pipes are not changed.
func (d *Display) PopulateOutputs() []*Output {
	chosen := make([]*Output, len(d.pipes))
	enabled := d.enabledMask()
	connected := d.ConnectedOutputs()

	for k := 0; k <= len(d.pipes); k++ {
		for _, o := range connected {
			overlap := o.ValidPipes & enabled
			if overlap == 0 {
				continue
			}
			n := bits.OnesCount32(overlap)
			if o.InternalPanel() {
				n = 0
			}
			if n != k {
				continue
			}
			if !d.claimPipe(chosen, o, overlap) {
				d.log.Warn().Str("output", o.Name).Uint32("pipes", overlap).
					Msg("no free pipe for output")
			}
		}
	}
	return chosen
}

// claimPipe assigns the first free pipe of mask to o.
func (d *Display) claimPipe(chosen []*Output, o *Output, mask uint32) bool {
	if i := firstFree(chosen, mask); i >= 0 {
		chosen[i] = o
		return true
	}
	if o.InternalPanel() {
		return false
	}

	for i := range chosen {
		panel := chosen[i]
		if mask&(1<<uint(i)) == 0 || panel == nil || !panel.InternalPanel() {
			continue
		}
		chosen[i] = o
		if j := firstFree(chosen, panel.ValidPipes&d.enabledMask()); j >= 0 {
			chosen[j] = panel
			d.log.Debug().Str("output", o.Name).Str("panel", panel.Name).
				Str("pipe", PipeName(j)).Msg("panel moved")
		} else {
			d.log.Warn().Str("output", o.Name).Str("panel", panel.Name).
				Msg("panel evicted without a free pipe")
		}
		return true
	}
	return false
}

func firstFree(chosen []*Output, mask uint32) int {
	for i := range chosen {
		if mask&(1<<uint(i)) != 0 && chosen[i] == nil {
			return i
		}
	}
	return -1
}

func (d *Display) enabledMask() uint32 {
	var mask uint32
	for _, p := range d.pipes {
		if p.Enabled {
			mask |= 1 << uint(p.Index)
		}
	}
	return mask
}
