package mode

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/NeowayLabs/kms"
	"github.com/NeowayLabs/kms/ioctl"
)

const (
	CursorBO   = 0x01
	CursorMove = 0x02
)

type sysCursor struct {
	flags  uint32
	crtcID uint32
	x, y   int32
	width  uint32
	height uint32
	handle uint32 // driver specific handle
}

var (
	// DRM_IOWR(0xA3, struct drm_mode_cursor)
	IOCTLModeCursor = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysCursor{})), kms.IOCTLBase, 0xA3)
)

// SetCursor sets the legacy cursor image. A zero handle hides it.
func SetCursor(file *os.File, crtcID, handle, width, height uint32) error {
	c := &sysCursor{
		flags:  CursorBO,
		crtcID: crtcID,
		width:  width,
		height: height,
		handle: handle,
	}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeCursor), uintptr(unsafe.Pointer(c)))
	if err != nil {
		return fmt.Errorf("MODE_CURSOR %d: %w", crtcID, err)
	}
	return nil
}

func MoveCursor(file *os.File, crtcID uint32, x, y int32) error {
	c := &sysCursor{
		flags:  CursorMove,
		crtcID: crtcID,
		x:      x,
		y:      y,
	}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeCursor), uintptr(unsafe.Pointer(c)))
	if err != nil {
		return fmt.Errorf("MODE_CURSOR move %d: %w", crtcID, err)
	}
	return nil
}
