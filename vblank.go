package kms

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/NeowayLabs/kms/ioctl"
)

// VBlankReply mirrors union drm_wait_vblank. On request Sec carries the
// signal field.
type VBlankReply struct {
	Type     uint32
	Sequence uint32
	Sec      int64
	Usec     int64
}

const (
	VBlankAbsolute      = 0x0
	VBlankRelative      = 0x1
	VBlankHighCrtcMask  = 0x0000003e
	VBlankEvent         = 0x04000000
	VBlankFlip          = 0x08000000
	VBlankNextOnMiss    = 0x10000000
	VBlankSecondary     = 0x20000000
	VBlankSignal        = 0x40000000
	VBlankHighCrtcShift = 1
)

// VBlankPipeFlag encodes a crtc offset into the request type of a
// vblank wait. Offset 1 keeps the legacy secondary flag.
func VBlankPipeFlag(offset int) uint32 {
	switch offset {
	case 0:
		return 0
	case 1:
		return VBlankSecondary
	}
	return uint32(offset<<VBlankHighCrtcShift) & VBlankHighCrtcMask
}

// WaitVBlank blocks until the requested vblank sequence is reached.
func WaitVBlank(file *os.File, typ, sequence uint32) (VBlankReply, error) {
	vbl := &VBlankReply{
		Type:     typ,
		Sequence: sequence,
	}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLWaitVBlank), uintptr(unsafe.Pointer(vbl)))
	if err != nil {
		return VBlankReply{}, fmt.Errorf("WAIT_VBLANK: %w", err)
	}
	return *vbl, nil
}
