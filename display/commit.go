package display

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/NeowayLabs/kms/mode"
)

// CommitStyle selects the kernel interface used to program the display.
type CommitStyle int

const (
	// CommitLegacy uses SetCrtc for primary planes, the cursor ioctls for
	// cursor planes and SetPlane for the others.
	CommitLegacy CommitStyle = iota
	// CommitUniversal uses SetPlane for every plane and never modesets.
	CommitUniversal
	// CommitAtomic bundles all changes in one atomic commit.
	CommitAtomic
)

func (s CommitStyle) String() string {
	switch s {
	case CommitLegacy:
		return "legacy"
	case CommitUniversal:
		return "universal"
	case CommitAtomic:
		return "atomic"
	}
	return fmt.Sprintf("CommitStyle(%d)", int(s))
}

// Commit programs all pending changes with the legacy interface. Errors
// go to the fatal handler.
func (d *Display) Commit() error {
	return d.Commit2(CommitLegacy)
}

// Commit2 programs all pending changes with style. Errors go to the
// fatal handler.
func (d *Display) Commit2(style CommitStyle) error {
	return d.fail(d.TryCommit2(style))
}

// TryCommit2 programs all pending changes with style and returns the
// first kernel error. Non atomic styles stop at the first failing ioctl,
// leaving earlier changes applied and every dirty bit set.
func (d *Display) TryCommit2(style CommitStyle) error {
	if err := d.refresh(); err != nil {
		return err
	}

	var err error
	switch style {
	case CommitAtomic:
		err = d.atomicCommit(mode.AtomicAllowModeset, 0)
	case CommitLegacy, CommitUniversal:
		err = d.legacyCommit(style)
	default:
		err = fmt.Errorf("unknown commit style %d", int(style))
	}
	if err != nil {
		return fmt.Errorf("%s commit: %w", style, err)
	}

	d.commitChanged(style)
	return nil
}

// CommitAtomic is TryCommitAtomic with errors sent to the fatal handler.
func (d *Display) CommitAtomic(flags uint32, token uint64) error {
	return d.fail(d.TryCommitAtomic(flags, token))
}

// TryCommitAtomic issues one atomic commit with flags. token is returned
// in the flip events requested with mode.PageFlipEvent. A TEST_ONLY
// commit leaves every dirty bit set.
func (d *Display) TryCommitAtomic(flags uint32, token uint64) error {
	if err := d.refresh(); err != nil {
		return err
	}
	if err := d.atomicCommit(flags, token); err != nil {
		return fmt.Errorf("atomic commit: %w", err)
	}
	if flags&mode.AtomicTestOnly != 0 {
		return nil
	}
	if d.firstCommit && flags&(mode.PageFlipEvent|mode.AtomicNonblock) != 0 {
		return ErrFirstCommitEvent
	}

	d.commitChanged(CommitAtomic)
	return nil
}

// refresh checks that no two outputs share a pipe, that MST outputs on
// one path have distinct connector ids, and re-reads the outputs marked
// for reprobe.
func (d *Display) refresh() error {
	var used [MaxPipes]*Output
	mst := make(map[string]map[uint32]*Output)
	for _, o := range d.outputs {
		if o.mstPath != "" {
			ids := mst[o.mstPath]
			if ids == nil {
				ids = make(map[uint32]*Output)
				mst[o.mstPath] = ids
			}
			if other := ids[o.ID]; other != nil {
				return fmt.Errorf("%s and %s on %s: %w", o.Name, other.Name, o.mstPath, ErrMSTConflict)
			}
			ids[o.ID] = o
		}
		if o.pendingPipe != PipeNone {
			if other := used[o.pendingPipe]; other != nil {
				return fmt.Errorf("%s and %s on pipe %s: %w",
					o.Name, other.Name, PipeName(o.pendingPipe), ErrDuplicatePipe)
			}
			used[o.pendingPipe] = o
		}
		if o.ForceReprobe {
			if err := o.refresh(); err != nil {
				return err
			}
		}
	}
	return nil
}

// commitChanged clears the dirty bits a successful commit of style sent
// to the kernel.
func (d *Display) commitChanged(style CommitStyle) {
	for _, p := range d.pipes {
		if !p.Enabled {
			continue
		}

		if style == CommitAtomic {
			if p.PropChanged(CrtcOutFencePtr) && p.outFence < 0 {
				d.log.Warn().Str("pipe", p.Name()).Msg("no out fence returned")
			}
			p.values[CrtcOutFencePtr] = 0
			p.changed = 0
		} else {
			for c := CrtcProp(0); c < NumCrtcProps; c++ {
				if !isAtomicCrtcProp(c) {
					p.ClearPropChanged(c)
				}
			}
			if style != CommitUniversal {
				p.ClearPropChanged(CrtcModeID)
				p.ClearPropChanged(CrtcActive)
			}
		}

		for _, pl := range p.planes {
			if style == CommitAtomic {
				pl.changed = 0
				if fd := pl.inFence(); fd >= 0 {
					unix.Close(fd)
				}
				pl.values[PlaneInFenceFD] = ^uint64(0)
				continue
			}

			pl.changed &^= planeCoordMask
			pl.ClearPropChanged(PlaneCrtcID)
			pl.ClearPropChanged(PlaneFbID)
			if style != CommitLegacy || (pl.Type != PlanePrimary && pl.Type != PlaneCursor) {
				pl.changed &^= legacyPlaneCommitMask
			}
			if d.firstCommit {
				pl.ClearPropChanged(PlaneRotation)
			}
		}
	}

	for _, o := range d.outputs {
		if style != CommitUniversal {
			o.changed = 0
		} else {
			o.changed &= 1 << ConnectorCrtcID
		}

		if style == CommitAtomic {
			o.values[ConnectorWritebackOutFencePtr] = 0
			o.values[ConnectorWritebackFbID] = 0
			o.ClearPropChanged(ConnectorWritebackFbID)
			o.ClearPropChanged(ConnectorWritebackOutFencePtr)
		}
	}

	if d.firstCommit {
		d.DropEvents()
		d.firstCommit = false
	}
}
