package display

import (
	"fmt"
	"sort"

	"github.com/NeowayLabs/kms"
	"github.com/NeowayLabs/kms/mode"
)

// probe builds pipes and planes from the kernel resources.
func (d *Display) probe() error {
	// Without universal planes only overlays are listed; the primary is
	// then modelled as an implicit plane driven through SetCrtc.
	if err := d.dev.SetClientCap(kms.ClientCapUniversalPlanes, 1); err != nil {
		d.log.Debug().Err(err).Msg("universal planes unsupported")
	} else {
		d.universal = true
	}
	d.isAtomic = d.dev.SetClientCap(kms.ClientCapAtomic, 1) == nil

	res, err := d.dev.Resources()
	if err != nil {
		return fmt.Errorf("resources: %w", err)
	}
	if err := d.probePipes(res.Crtcs); err != nil {
		return err
	}
	if err := d.probePlanes(); err != nil {
		return err
	}

	d.log.Debug().Bool("atomic", d.isAtomic).Int("pipes", len(d.EnabledPipes())).
		Int("planes", len(d.planes)).Msg("display probed")
	return nil
}

func (d *Display) probePipes(crtcs []uint32) error {
	if len(crtcs) > MaxPipes {
		return fmt.Errorf("%d crtcs, at most %d: %w", len(crtcs), MaxPipes, ErrTooManyCrtcs)
	}

	indexes := make([]int, len(crtcs))
	n := 0
	for offset, id := range crtcs {
		idx := offset
		if d.debugfs != nil {
			var err error
			idx, err = d.debugfs.PipeForCrtc(id, offset)
			if err != nil {
				return fmt.Errorf("crtc %d: %w", id, err)
			}
		}
		if idx < 0 || idx >= MaxPipes {
			return fmt.Errorf("crtc %d maps to pipe %d: %w", id, idx, ErrTooManyCrtcs)
		}
		indexes[offset] = idx
		n = max(n, idx+1)
	}

	d.pipes = make([]*Pipe, n)
	for i := range d.pipes {
		p := &Pipe{Index: i, CrtcOffset: -1, outFence: -1}
		p.bind(d, 0, mode.ObjectCrtc)
		d.pipes[i] = p
	}
	for offset, id := range crtcs {
		p := d.pipes[indexes[offset]]
		if p.Enabled {
			return fmt.Errorf("crtcs %d and %d both map to pipe %s", p.CrtcID, id, p.Name())
		}
		p.Enabled = true
		p.CrtcID = id
		p.CrtcOffset = offset
		p.objID = id
		if err := p.fill(crtcPropNames[:], nil); err != nil {
			return fmt.Errorf("pipe %s: %w", p.Name(), err)
		}
	}
	return nil
}

func (d *Display) probePlanes() error {
	ids, err := d.dev.PlaneResources()
	if err != nil {
		return fmt.Errorf("plane resources: %w", err)
	}

	var planes []*Plane
	for _, id := range ids {
		kp, err := d.dev.Plane(id)
		if err != nil {
			return fmt.Errorf("plane %d: %w", id, err)
		}
		pl := &Plane{ID: id, Type: PlaneOverlay}
		pl.bind(d, id, mode.ObjectPlane)
		if err := pl.fill(planePropNames[:], nil); err != nil {
			return fmt.Errorf("plane %d: %w", id, err)
		}
		pl.values[PlaneInFenceFD] = ^uint64(0)
		if pl.HasProp(PlaneTypeProp) {
			pl.Type = PlaneType(pl.values[PlaneTypeProp])
		}
		pl.PossiblePipes = d.crtcMaskToPipes(kp.PossibleCrtcs)

		pl.Formats, err = d.planeFormats(pl, kp)
		if err != nil {
			return fmt.Errorf("plane %d: %w", id, err)
		}
		planes = append(planes, pl)
	}

	// primaries pick first, overlays spread last
	order := func(t PlaneType) int {
		switch t {
		case PlanePrimary:
			return 0
		case PlaneCursor:
			return 1
		}
		return 2
	}
	sort.SliceStable(planes, func(i, j int) bool {
		return order(planes[i].Type) < order(planes[j].Type)
	})

	d.planes = d.planes[:0]
	for _, pl := range planes {
		pipe := d.homePipe(pl)
		if pipe == nil {
			d.log.Warn().Uint32("plane", pl.ID).Stringer("type", pl.Type).
				Uint32("possible", pl.PossiblePipes).Msg("no pipe for plane")
			continue
		}
		if len(pipe.planes) >= MaxPlanes {
			return fmt.Errorf("pipe %s: %w", pipe.Name(), ErrTooManyPlanes)
		}
		pl.pipe = pipe
		pipe.planes = append(pipe.planes, pl)
		d.planes = append(d.planes, pl)
		if pl.Type == PlaneCursor {
			d.hasCursorPlane = true
		}
	}

	for _, p := range d.pipes {
		if p.Enabled && p.countType(PlanePrimary) == 0 && d.universal {
			// universal devices list every primary
			d.log.Warn().Str("pipe", p.Name()).Uint32("crtc", p.CrtcID).Msg("no primary plane, pipe disabled")
			p.Enabled = false
		}
		if p.Enabled && p.countType(PlanePrimary) == 0 {
			pl := &Plane{Type: PlanePrimary, PossiblePipes: 1 << uint(p.Index), pipe: p}
			pl.bind(d, 0, mode.ObjectPlane)
			pl.values[PlaneInFenceFD] = ^uint64(0)
			pl.Formats = []mode.FormatModifier{{Format: mode.FormatXRGB8888, Modifier: mode.ModLinear}}
			p.planes = append(p.planes, pl)
			d.planes = append(d.planes, pl)
		}
		p.sortPlanes()
	}

	d.formats = collectFormats(d.planes)
	return nil
}

// homePipe picks the pipe a plane is homed on: the first compatible pipe
// lacking a primary (or cursor), or for overlays the compatible pipe with
// the fewest overlays.
func (d *Display) homePipe(pl *Plane) *Pipe {
	var best *Pipe
	for _, p := range d.pipes {
		if !pl.CanUsePipe(p) {
			continue
		}
		switch pl.Type {
		case PlanePrimary, PlaneCursor:
			if p.countType(pl.Type) == 0 {
				return p
			}
		default:
			if best == nil || p.countType(PlaneOverlay) < best.countType(PlaneOverlay) {
				best = p
			}
		}
	}
	return best
}

// planeFormats reads IN_FORMATS, falling back to the plane's format list
// with the linear modifier.
func (d *Display) planeFormats(pl *Plane, kp *mode.Plane) ([]mode.FormatModifier, error) {
	blobID := uint32(pl.values[PlaneInFormats])
	if !pl.HasProp(PlaneInFormats) || blobID == 0 {
		return mode.LinearFormats(kp.Formats), nil
	}
	blob, err := d.dev.PropertyBlob(blobID)
	if err != nil {
		return nil, fmt.Errorf("IN_FORMATS: %w", err)
	}
	return mode.ParseFormatModifierBlob(blob)
}

func collectFormats(planes []*Plane) []mode.FormatModifier {
	seen := make(map[mode.FormatModifier]bool)
	var all []mode.FormatModifier
	for _, pl := range planes {
		for _, fm := range pl.Formats {
			if !seen[fm] {
				seen[fm] = true
				all = append(all, fm)
			}
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Format != all[j].Format {
			return all[i].Format < all[j].Format
		}
		return all[i].Modifier < all[j].Modifier
	})
	return all
}

// ResetOutputs rebuilds every output from the kernel connector list and
// resets the whole display.
func (d *Display) ResetOutputs() error {
	res, err := d.dev.Resources()
	if err != nil {
		return fmt.Errorf("resources: %w", err)
	}

	outputs := make([]*Output, 0, len(res.Connectors))
	for _, id := range res.Connectors {
		o := &Output{ID: id, pendingPipe: PipeNone}
		o.bind(d, id, mode.ObjectConnector)
		if err := o.refresh(); err != nil {
			return err
		}
		if len(o.Modes) == 0 || o.Connection == mode.UnknownConnection {
			o.ForceReprobe = true
			if err := o.refresh(); err != nil {
				return err
			}
		}
		outputs = append(outputs, o)
	}
	d.outputs = outputs

	d.Reset()
	return nil
}
