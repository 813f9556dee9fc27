package display

import (
	"fmt"

	"github.com/NeowayLabs/kms/mode"
)

// legacyCommit programs pipes, their planes and then outputs with the
// non atomic ioctls, stopping at the first error.
func (d *Display) legacyCommit(style CommitStyle) error {
	for _, p := range d.pipes {
		if !p.Enabled {
			continue
		}
		if err := d.commitPipe(p, style); err != nil {
			return err
		}
	}
	for _, o := range d.outputs {
		if err := d.commitOutput(o, style); err != nil {
			return err
		}
	}
	return nil
}

func (d *Display) commitPipe(p *Pipe, style CommitStyle) error {
	for c := CrtcProp(0); c < NumCrtcProps; c++ {
		if !p.PropChanged(c) || isAtomicCrtcProp(c) {
			continue
		}
		if !p.HasProp(c) {
			return fmt.Errorf("pipe %s: %s: %w", p.Name(), c, ErrNoProperty)
		}
		d.log.Debug().Str("pipe", p.Name()).Stringer("prop", c).Uint64("value", p.values[c]).Msg("SetProp")
		if err := p.setKernel(c); err != nil {
			return fmt.Errorf("pipe %s: %s: %w", p.Name(), c, err)
		}
	}

	for _, pl := range p.planes {
		if pl.pipe != p {
			continue
		}
		if err := d.commitPlane(pl, p, style); err != nil {
			return fmt.Errorf("plane %s: %w", pl, err)
		}
	}
	return nil
}

func (d *Display) commitPlane(pl *Plane, p *Pipe, style CommitStyle) error {
	if d.firstCommit || (style == CommitUniversal && pl.PropChanged(PlaneRotation)) {
		if err := d.fixupRotation(pl, p); err != nil {
			return err
		}
	}

	switch {
	case style == CommitLegacy && pl.Type == PlaneCursor:
		return d.commitCursorLegacy(pl, p)
	case style == CommitLegacy && pl == p.Primary():
		return d.commitPrimaryLegacy(pl, p)
	}
	return d.commitPlaneSetPlane(pl, p)
}

// fixupRotation applies the rotation on its own, disabling the plane (or
// for a primary the whole crtc) when the kernel refuses to rotate a plane
// that is scanning out.
func (d *Display) fixupRotation(pl *Plane, p *Pipe) error {
	if !pl.HasProp(PlaneRotation) {
		return nil
	}
	d.log.Debug().Stringer("plane", pl).Uint64("rotation", pl.values[PlaneRotation]).Msg("fixing up rotation")

	if err := pl.setKernel(PlaneRotation); err == nil {
		return nil
	}

	err := d.dev.SetPlane(mode.SetPlaneRequest{PlaneID: pl.ID, CrtcID: p.CrtcID})
	if err != nil && pl.Type != PlanePrimary {
		return err
	}
	if err != nil {
		if err := d.dev.SetCrtc(p.CrtcID, 0, 0, 0, nil, nil); err != nil {
			return err
		}
	}
	return pl.setKernel(PlaneRotation)
}

// commitPlaneSetPlane sends the framebuffer and coordinates with SetPlane
// and the other dirty properties with SetProperty.
func (d *Display) commitPlaneSetPlane(pl *Plane, p *Pipe) error {
	setPlane := pl.PropChanged(PlaneFbID) || pl.changed&planeCoordMask != 0
	fb := uint32(pl.values[PlaneFbID])

	if setPlane {
		req := mode.SetPlaneRequest{PlaneID: pl.ID, CrtcID: p.CrtcID}
		if fb != 0 {
			req.FbID = fb
			req.CrtcX = int32(pl.values[PlaneCrtcX])
			req.CrtcY = int32(pl.values[PlaneCrtcY])
			req.CrtcW = uint32(pl.values[PlaneCrtcW])
			req.CrtcH = uint32(pl.values[PlaneCrtcH])
			req.SrcX = uint32(pl.values[PlaneSrcX])
			req.SrcY = uint32(pl.values[PlaneSrcY])
			req.SrcW = uint32(pl.values[PlaneSrcW])
			req.SrcH = uint32(pl.values[PlaneSrcH])
			d.log.Debug().Stringer("plane", pl).Uint32("fb", fb).
				Uint32("src_x", req.SrcX>>16).Uint32("src_y", req.SrcY>>16).
				Uint32("src_w", req.SrcW>>16).Uint32("src_h", req.SrcH>>16).
				Int32("x", req.CrtcX).Int32("y", req.CrtcY).
				Uint32("w", req.CrtcW).Uint32("h", req.CrtcH).Msg("SetPlane")
		} else {
			d.log.Debug().Stringer("plane", pl).Msg("SetPlane disabling")
		}
		if err := d.dev.SetPlane(req); err != nil {
			return err
		}
	}

	for prop := PlaneProp(0); prop < NumPlaneProps; prop++ {
		if pl.changed&legacyPlaneCommitMask&(1<<uint(prop)) == 0 {
			continue
		}
		if !pl.HasProp(prop) {
			return fmt.Errorf("%s: %w", prop, ErrNoProperty)
		}
		d.log.Debug().Stringer("plane", pl).Stringer("prop", prop).Uint64("value", pl.values[prop]).Msg("SetProp")
		if err := pl.setKernel(prop); err != nil {
			return fmt.Errorf("%s: %w", prop, err)
		}
	}
	return nil
}

func (d *Display) commitCursorLegacy(pl *Plane, p *Pipe) error {
	if pl.PropChanged(PlaneFbID) || pl.PropChanged(PlaneCrtcW) || pl.PropChanged(PlaneCrtcH) {
		w, h := uint32(pl.values[PlaneCrtcW]), uint32(pl.values[PlaneCrtcH])
		d.log.Debug().Str("pipe", p.Name()).Uint32("handle", pl.gemHandle).
			Uint32("w", w).Uint32("h", h).Msg("SetCursor")
		if err := d.dev.SetCursor(p.CrtcID, pl.gemHandle, w, h); err != nil {
			return err
		}
	}

	if pl.PropChanged(PlaneCrtcX) || pl.PropChanged(PlaneCrtcY) {
		x, y := int32(pl.values[PlaneCrtcX]), int32(pl.values[PlaneCrtcY])
		d.log.Debug().Str("pipe", p.Name()).Int32("x", x).Int32("y", y).Msg("MoveCursor")
		if err := d.dev.MoveCursor(p.CrtcID, x, y); err != nil {
			return err
		}
	}
	return nil
}

// commitPrimaryLegacy programs the primary plane with SetCrtc, which also
// sets the mode and routes the output.
func (d *Display) commitPrimaryLegacy(pl *Plane, p *Pipe) error {
	if pl.values[PlaneCrtcX] != 0 || pl.values[PlaneCrtcY] != 0 {
		return fmt.Errorf("windowed at %d,%d: %w",
			int32(pl.values[PlaneCrtcX]), int32(pl.values[PlaneCrtcY]), ErrLegacyPrimary)
	}
	if !d.firstCommit && pl.PropChanged(PlaneRotation) {
		return fmt.Errorf("rotation changed: %w", ErrLegacyPrimary)
	}
	if !pl.PropChanged(PlaneFbID) && pl.changed&planeCoordMask == 0 && !p.PropChanged(CrtcModeID) {
		return nil
	}

	o := p.Output()
	var fb uint32
	if o != nil {
		fb = uint32(pl.values[PlaneFbID])
	}
	if fb == 0 {
		d.log.Debug().Str("pipe", p.Name()).Msg("SetCrtc disabling")
		return d.dev.SetCrtc(p.CrtcID, 0, 0, 0, nil, nil)
	}

	m := o.Mode()
	x := uint32(pl.values[PlaneSrcX] >> 16)
	y := uint32(pl.values[PlaneSrcY] >> 16)
	d.log.Debug().Str("output", o.Name).Str("pipe", p.Name()).Uint32("fb", fb).
		Uint32("x", x).Uint32("y", y).Str("mode", m.String()).Msg("SetCrtc")
	return d.dev.SetCrtc(p.CrtcID, fb, x, y, []uint32{o.ID}, &m)
}

// commitOutput sends the dirty connector properties. CRTC_ID is routed
// by SetCrtc instead.
func (d *Display) commitOutput(o *Output, style CommitStyle) error {
	for c := ConnectorProp(0); c < NumConnectorProps; c++ {
		if !o.PropChanged(c) || c == ConnectorCrtcID {
			continue
		}
		if !o.HasProp(c) {
			return fmt.Errorf("%s: %s: %w", o.Name, c, ErrNoProperty)
		}
		d.log.Debug().Str("output", o.Name).Stringer("prop", c).Uint64("value", o.values[c]).Msg("SetProp")

		var err error
		if style == CommitLegacy {
			err = d.dev.SetConnectorProperty(o.ID, o.ids[c], o.values[c])
		} else {
			err = o.setKernel(c)
		}
		if err != nil {
			return fmt.Errorf("%s: %s: %w", o.Name, c, err)
		}
	}
	return nil
}
