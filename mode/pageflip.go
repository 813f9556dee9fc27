package mode

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/NeowayLabs/kms"
	"github.com/NeowayLabs/kms/ioctl"
)

type sysPageFlip struct {
	crtcID   uint32
	fbID     uint32
	flags    uint32
	reserved uint32
	userData uint64
}

var (
	// DRM_IOWR(0xB0, struct drm_mode_crtc_page_flip)
	IOCTLModePageFlip = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysPageFlip{})), kms.IOCTLBase, 0xB0)
)

// PageFlip queues a flip of crtcID to fbID on the next vblank. With
// PageFlipEvent set, userData is returned in the completion event.
func PageFlip(file *os.File, crtcID, fbID, flags uint32, userData uint64) error {
	req := &sysPageFlip{
		crtcID:   crtcID,
		fbID:     fbID,
		flags:    flags,
		userData: userData,
	}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModePageFlip), uintptr(unsafe.Pointer(req)))
	if err != nil {
		return fmt.Errorf("MODE_PAGE_FLIP %d: %w", crtcID, err)
	}
	return nil
}
