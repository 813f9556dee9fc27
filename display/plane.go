package display

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/NeowayLabs/kms/mode"
)

// PlaneType is the kernel plane type.
type PlaneType int

const (
	PlaneOverlay PlaneType = mode.PlaneTypeOverlay
	PlanePrimary PlaneType = mode.PlaneTypePrimary
	PlaneCursor  PlaneType = mode.PlaneTypeCursor
)

func (t PlaneType) String() string {
	switch t {
	case PlaneOverlay:
		return "overlay"
	case PlanePrimary:
		return "primary"
	case PlaneCursor:
		return "cursor"
	}
	return fmt.Sprintf("PlaneType(%d)", int(t))
}

// Framebuffer is a scanout buffer registered with the kernel. Handle is
// the GEM handle, needed by legacy cursor commits.
type Framebuffer struct {
	ID            uint32
	Handle        uint32
	Width, Height uint32
	Format        uint32
	Modifier      uint64

	// Enum entry names for YCbCr formats, the BT.601 limited range
	// defaults when empty.
	ColorEncoding string
	ColorRange    string
}

// Plane is one kernel plane, homed on a single Pipe.
type Plane struct {
	props[PlaneProp]

	ID   uint32
	Type PlaneType
	// Index is the position in the owning pipe's plane list.
	Index int

	// Pipe index mask of the pipes the plane can scan out on.
	PossiblePipes uint32
	Formats       []mode.FormatModifier

	pipe      *Pipe
	gemHandle uint32
}

func (p *Plane) Pipe() *Pipe {
	return p.pipe
}

func (p *Plane) String() string {
	return fmt.Sprintf("%s.%d", p.pipe.Name(), p.Index)
}

// CanUsePipe reports whether the plane can scan out on pipe.
func (p *Plane) CanUsePipe(pipe *Pipe) bool {
	return pipe.Enabled && p.PossiblePipes&(1<<uint(pipe.Index)) != 0
}

// SupportsFormat reports whether the plane scans out format with modifier.
func (p *Plane) SupportsFormat(format uint32, modifier uint64) bool {
	for _, fm := range p.Formats {
		if fm.Format == format && fm.Modifier == modifier {
			return true
		}
	}
	return false
}

// SetFB binds fb to the plane on its pipe, sizing the source and the
// destination rectangles to the whole buffer. A nil fb disables the plane.
func (p *Plane) SetFB(fb *Framebuffer) {
	d := p.d
	d.log.Debug().Stringer("plane", p).Uint32("fb", fbID(fb)).Msg("set fb")

	if fb == nil {
		p.update(PlaneCrtcID, 0)
		p.update(PlaneFbID, 0)
		p.gemHandle = 0
		p.SetSize(0, 0)
		p.SetSourceRect(0, 0, 0, 0)
		return
	}

	p.update(PlaneCrtcID, uint64(p.pipe.CrtcID))
	p.update(PlaneFbID, uint64(fb.ID))
	if p.Type == PlaneCursor {
		p.gemHandle = fb.Handle
	}

	if p.HasProp(PlaneColorEncoding) {
		enc := fb.ColorEncoding
		if enc == "" {
			enc = ColorEncodingBT601
		}
		p.updateEnum(PlaneColorEncoding, enc)
	}
	if p.HasProp(PlaneColorRange) {
		rng := fb.ColorRange
		if rng == "" {
			rng = ColorRangeLimited
		}
		p.updateEnum(PlaneColorRange, rng)
	}

	p.SetSize(fb.Width, fb.Height)
	p.SetSourceRect(0, 0, fb.Width, fb.Height)
}

func fbID(fb *Framebuffer) uint32 {
	if fb == nil {
		return 0
	}
	return fb.ID
}

// SetPosition moves the destination rectangle on the crtc.
func (p *Plane) SetPosition(x, y int32) {
	p.update(PlaneCrtcX, uint64(int64(x)))
	p.update(PlaneCrtcY, uint64(int64(y)))
}

// SetSize sets the destination size on the crtc, in pixels.
func (p *Plane) SetSize(w, h uint32) {
	p.update(PlaneCrtcW, uint64(w))
	p.update(PlaneCrtcH, uint64(h))
}

// SetSourceRect selects the region of the framebuffer to scan out, in
// pixels.
func (p *Plane) SetSourceRect(x, y, w, h uint32) {
	p.update(PlaneSrcX, uint64(x)<<16)
	p.update(PlaneSrcY, uint64(y)<<16)
	p.update(PlaneSrcW, uint64(w)<<16)
	p.update(PlaneSrcH, uint64(h)<<16)
}

// SetRotation sets the rotation and reflection bits.
func (p *Plane) SetRotation(rotation uint64) {
	p.update(PlaneRotation, rotation)
}

// SetFenceFD attaches an in-fence that the kernel waits on before
// scanning out. The plane keeps a duplicate of fd, closed after the next
// atomic commit; -1 detaches the fence.
func (p *Plane) SetFenceFD(fd int) error {
	if old := int(int32(p.values[PlaneInFenceFD])); old >= 0 {
		unix.Close(old)
	}
	if fd < 0 {
		p.SetProp(PlaneInFenceFD, ^uint64(0))
		return nil
	}
	dup, err := unix.Dup(fd)
	if err != nil {
		return fmt.Errorf("dup fence %d: %w", fd, err)
	}
	p.SetProp(PlaneInFenceFD, uint64(dup))
	return nil
}

// inFence is the pending in-fence descriptor, -1 when none.
func (p *Plane) inFence() int {
	return int(int32(p.values[PlaneInFenceFD]))
}

// ReassignPlane moves plane onto pipe. The plane must have no pending
// changes and pipe must be in its possible mask.
func (d *Display) ReassignPlane(plane *Plane, pipe *Pipe) error {
	if plane.Changed() != 0 {
		return fmt.Errorf("plane %d: %w", plane.ID, ErrPlaneDirty)
	}
	if !plane.CanUsePipe(pipe) {
		return fmt.Errorf("plane %d on pipe %s: %w", plane.ID, pipe.Name(), ErrPlaneIncompatible)
	}
	if plane.pipe == pipe {
		return nil
	}
	if plane.Type == PlanePrimary && pipe.Primary() != nil {
		return fmt.Errorf("pipe %s already has a primary plane: %w", pipe.Name(), ErrPlaneIncompatible)
	}
	if len(pipe.planes) >= MaxPlanes {
		return fmt.Errorf("pipe %s: %w", pipe.Name(), ErrTooManyPlanes)
	}

	old := plane.pipe
	for i, pl := range old.planes {
		if pl == plane {
			old.planes = append(old.planes[:i], old.planes[i+1:]...)
			break
		}
	}
	old.reindex()

	plane.pipe = pipe
	pipe.planes = append(pipe.planes, plane)
	pipe.sortPlanes()

	d.log.Debug().Uint32("plane", plane.ID).Str("from", old.Name()).
		Str("to", pipe.Name()).Msg("reassign plane")
	return nil
}
