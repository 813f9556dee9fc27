package mode

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/NeowayLabs/kms"
	"github.com/NeowayLabs/kms/ioctl"
)

// Plane types, as reported by the "type" plane property.
const (
	PlaneTypeOverlay = 0
	PlaneTypePrimary = 1
	PlaneTypeCursor  = 2
)

type (
	sysPlaneResources struct {
		planeIDPtr  uintptr
		countPlanes uint32
		pad         uint32
	}

	sysGetPlane struct {
		planeID          uint32
		crtcID           uint32
		fbID             uint32
		possibleCrtcs    uint32
		gammaSize        uint32
		countFormatTypes uint32
		formatTypePtr    uintptr
	}

	sysSetPlane struct {
		planeID uint32
		crtcID  uint32
		fbID    uint32
		flags   uint32

		crtcX, crtcY int32
		crtcW, crtcH uint32

		// 16.16 fixed point, note the h/w order
		srcX, srcY uint32
		srcH, srcW uint32
	}

	Plane struct {
		ID            uint32
		CrtcID        uint32
		FbID          uint32
		PossibleCrtcs uint32
		GammaSize     uint32
		Formats       []uint32
	}

	// SetPlaneRequest describes one legacy SetPlane call. Src values are
	// 16.16 fixed point.
	SetPlaneRequest struct {
		PlaneID, CrtcID, FbID, Flags uint32

		CrtcX, CrtcY int32
		CrtcW, CrtcH uint32

		SrcX, SrcY, SrcW, SrcH uint32
	}
)

var (
	// DRM_IOWR(0xB5, struct drm_mode_get_plane_res)
	IOCTLModeGetPlaneResources = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysPlaneResources{})), kms.IOCTLBase, 0xB5)

	// DRM_IOWR(0xB6, struct drm_mode_get_plane)
	IOCTLModeGetPlane = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetPlane{})), kms.IOCTLBase, 0xB6)

	// DRM_IOWR(0xB7, struct drm_mode_set_plane)
	IOCTLModeSetPlane = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysSetPlane{})), kms.IOCTLBase, 0xB7)
)

// GetPlaneResources lists plane ids. Without the universal planes client
// cap only overlays are reported.
func GetPlaneResources(file *os.File) ([]uint32, error) {
	res := &sysPlaneResources{}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeGetPlaneResources),
		uintptr(unsafe.Pointer(res)))
	if err != nil {
		return nil, fmt.Errorf("MODE_GETPLANERESOURCES (count): %w", err)
	}
	if res.countPlanes == 0 {
		return nil, nil
	}

	ids := make([]uint32, res.countPlanes)
	res.planeIDPtr = uintptr(unsafe.Pointer(&ids[0]))
	err = ioctl.Do(file.Fd(), uintptr(IOCTLModeGetPlaneResources),
		uintptr(unsafe.Pointer(res)))
	if err != nil {
		return nil, fmt.Errorf("MODE_GETPLANERESOURCES: %w", err)
	}
	return ids[:min(len(ids), int(res.countPlanes))], nil
}

func GetPlane(file *os.File, id uint32) (*Plane, error) {
	plane := &sysGetPlane{planeID: id}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeGetPlane),
		uintptr(unsafe.Pointer(plane)))
	if err != nil {
		return nil, fmt.Errorf("MODE_GETPLANE %d (count): %w", id, err)
	}

	var formats []uint32
	if plane.countFormatTypes > 0 {
		formats = make([]uint32, plane.countFormatTypes)
		plane.formatTypePtr = uintptr(unsafe.Pointer(&formats[0]))
		err = ioctl.Do(file.Fd(), uintptr(IOCTLModeGetPlane),
			uintptr(unsafe.Pointer(plane)))
		if err != nil {
			return nil, fmt.Errorf("MODE_GETPLANE %d: %w", id, err)
		}
		formats = formats[:min(len(formats), int(plane.countFormatTypes))]
	}

	return &Plane{
		ID:            plane.planeID,
		CrtcID:        plane.crtcID,
		FbID:          plane.fbID,
		PossibleCrtcs: plane.possibleCrtcs,
		GammaSize:     plane.gammaSize,
		Formats:       formats,
	}, nil
}

// SetPlane issues a legacy plane update. A zero FbID disables the plane.
func SetPlane(file *os.File, req SetPlaneRequest) error {
	sp := &sysSetPlane{
		planeID: req.PlaneID,
		crtcID:  req.CrtcID,
		fbID:    req.FbID,
		flags:   req.Flags,
		crtcX:   req.CrtcX,
		crtcY:   req.CrtcY,
		crtcW:   req.CrtcW,
		crtcH:   req.CrtcH,
		srcX:    req.SrcX,
		srcY:    req.SrcY,
		srcW:    req.SrcW,
		srcH:    req.SrcH,
	}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeSetPlane), uintptr(unsafe.Pointer(sp)))
	if err != nil {
		return fmt.Errorf("MODE_SETPLANE %d: %w", req.PlaneID, err)
	}
	return nil
}
