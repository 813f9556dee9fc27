package display

import (
	"sort"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/NeowayLabs/kms/mode"
)

// Pipe is one crtc. Pipes without a crtc behind their index are kept with
// Enabled false.
type Pipe struct {
	props[CrtcProp]

	Index      int
	CrtcID     uint32
	CrtcOffset int // index in the kernel crtc list
	Enabled    bool

	planes []*Plane
	// mode bound to MODE_ID, nil when none
	boundMode *mode.Info

	// written by the kernel through OUT_FENCE_PTR
	outFence int32
}

// Name is the pipe letter, "A" for pipe 0.
func (p *Pipe) Name() string {
	return PipeName(p.Index)
}

// Planes returns the planes homed on the pipe, the primary first and the
// cursor last.
func (p *Pipe) Planes() []*Plane {
	return p.planes
}

// Plane returns the plane at index i, nil when out of range.
func (p *Pipe) Plane(i int) *Plane {
	if i < 0 || i >= len(p.planes) {
		return nil
	}
	return p.planes[i]
}

// PlaneOfType returns the n-th plane of the given type.
func (p *Pipe) PlaneOfType(typ PlaneType, n int) *Plane {
	for _, pl := range p.planes {
		if pl.Type != typ {
			continue
		}
		if n == 0 {
			return pl
		}
		n--
	}
	return nil
}

func (p *Pipe) Primary() *Plane {
	if len(p.planes) == 0 || p.planes[0].Type != PlanePrimary {
		return nil
	}
	return p.planes[0]
}

func (p *Pipe) Cursor() *Plane {
	if len(p.planes) == 0 {
		return nil
	}
	if last := p.planes[len(p.planes)-1]; last.Type == PlaneCursor {
		return last
	}
	return nil
}

// Output returns the output whose pending pipe is p, nil when none.
func (p *Pipe) Output() *Output {
	if p.d == nil {
		return nil
	}
	for _, o := range p.d.outputs {
		if o.pendingPipe == p.Index {
			return o
		}
	}
	return nil
}

// RequestOutFence asks the next atomic commit to return a fence that
// signals when the new state is on screen. Read it with OutFence.
func (p *Pipe) RequestOutFence() {
	p.SetProp(CrtcOutFencePtr, uint64(uintptr(unsafe.Pointer(&p.outFence))))
}

// OutFence returns the fence created by the last atomic commit, -1 when
// none was requested. The descriptor is owned by the pipe until the next
// commit requesting one.
func (p *Pipe) OutFence() int {
	return int(p.outFence)
}

func (p *Pipe) closeOutFence() {
	if p.outFence != -1 {
		unix.Close(int(p.outFence))
		p.outFence = -1
	}
}

// sortPlanes orders primary, overlays by kernel id, cursor, and renumbers.
func (p *Pipe) sortPlanes() {
	rank := func(t PlaneType) int {
		switch t {
		case PlanePrimary:
			return 0
		case PlaneOverlay:
			return 1
		case PlaneCursor:
			return 2
		}
		return 1
	}
	sort.SliceStable(p.planes, func(i, j int) bool {
		a, b := p.planes[i], p.planes[j]
		if rank(a.Type) != rank(b.Type) {
			return rank(a.Type) < rank(b.Type)
		}
		return a.ID < b.ID
	})
	p.reindex()
}

func (p *Pipe) reindex() {
	for i, pl := range p.planes {
		pl.Index = i
	}
}

func (p *Pipe) countType(typ PlaneType) int {
	n := 0
	for _, pl := range p.planes {
		if pl.Type == typ {
			n++
		}
	}
	return n
}
