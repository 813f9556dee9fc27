package mode

import (
	"fmt"
	"os"
	"unsafe"

	"launchpad.net/gommap"

	"github.com/NeowayLabs/kms"
	"github.com/NeowayLabs/kms/ioctl"
)

type (
	sysCreateDumb struct {
		height, width uint32
		bpp           uint32
		flags         uint32

		// returned values
		handle uint32
		pitch  uint32
		size   uint64
	}

	sysMapDumb struct {
		handle uint32 // Handle for the object being mapped
		pad    uint32

		// Fake offset to use for subsequent mmap call
		// This is a fixed-size type for 32/64 compatibility.
		offset uint64
	}

	sysFBCmd struct {
		fbID          uint32
		width, height uint32
		pitch         uint32
		bpp           uint32
		depth         uint32

		/* driver specific handle */
		handle uint32
	}

	sysRmFB struct {
		handle uint32
	}

	sysDestroyDumb struct {
		handle uint32
	}

	FB struct {
		Height, Width, BPP, Flags uint32
		Handle                    uint32
		Pitch                     uint32
		Size                      uint64
	}

	// DumbBuffer is a dumb buffer registered as a framebuffer and mapped
	// into memory.
	DumbBuffer struct {
		FB
		ID   uint32 // framebuffer id
		Data gommap.MMap

		file *os.File
	}
)

var (
	// DRM_IOWR(0xAE, struct drm_mode_fb_cmd)
	IOCTLModeAddFB = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysFBCmd{})), kms.IOCTLBase, 0xAE)

	// DRM_IOWR(0xAF, unsigned int)
	IOCTLModeRmFB = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(uint32(0))), kms.IOCTLBase, 0xAF)

	// DRM_IOWR(0xB2, struct drm_mode_create_dumb)
	IOCTLModeCreateDumb = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysCreateDumb{})), kms.IOCTLBase, 0xB2)

	// DRM_IOWR(0xB3, struct drm_mode_map_dumb)
	IOCTLModeMapDumb = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysMapDumb{})), kms.IOCTLBase, 0xB3)

	// DRM_IOWR(0xB4, struct drm_mode_destroy_dumb)
	IOCTLModeDestroyDumb = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysDestroyDumb{})), kms.IOCTLBase, 0xB4)
)

func CreateFB(file *os.File, width, height uint16, bpp uint32) (*FB, error) {
	fb := &sysCreateDumb{}
	fb.width = uint32(width)
	fb.height = uint32(height)
	fb.bpp = bpp
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeCreateDumb),
		uintptr(unsafe.Pointer(fb)))
	if err != nil {
		return nil, fmt.Errorf("MODE_CREATE_DUMB %dx%d: %w", width, height, err)
	}
	return &FB{
		Height: fb.height,
		Width:  fb.width,
		BPP:    fb.bpp,
		Handle: fb.handle,
		Pitch:  fb.pitch,
		Size:   fb.size,
	}, nil
}

func AddFB(file *os.File, width, height uint16,
	depth, bpp uint8, pitch, boHandle uint32) (uint32, error) {
	f := &sysFBCmd{}
	f.width = uint32(width)
	f.height = uint32(height)
	f.pitch = pitch
	f.bpp = uint32(bpp)
	f.depth = uint32(depth)
	f.handle = boHandle
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeAddFB),
		uintptr(unsafe.Pointer(f)))
	if err != nil {
		return 0, fmt.Errorf("MODE_ADDFB: %w", err)
	}
	return f.fbID, nil
}

func RmFB(file *os.File, bufferid uint32) error {
	return ioctl.Do(file.Fd(), uintptr(IOCTLModeRmFB),
		uintptr(unsafe.Pointer(&sysRmFB{bufferid})))
}

func MapDumb(file *os.File, boHandle uint32) (uint64, error) {
	mreq := &sysMapDumb{}
	mreq.handle = boHandle
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeMapDumb),
		uintptr(unsafe.Pointer(mreq)))
	if err != nil {
		return 0, fmt.Errorf("MODE_MAP_DUMB: %w", err)
	}
	return mreq.offset, nil
}

func DestroyDumb(file *os.File, handle uint32) error {
	return ioctl.Do(file.Fd(), uintptr(IOCTLModeDestroyDumb),
		uintptr(unsafe.Pointer(&sysDestroyDumb{handle})))
}

// NewDumbBuffer creates a 32bpp XRGB8888 dumb buffer, adds it as a
// framebuffer and maps it.
func NewDumbBuffer(file *os.File, width, height uint16) (*DumbBuffer, error) {
	fb, err := CreateFB(file, width, height, 32)
	if err != nil {
		return nil, err
	}

	fbID, err := AddFB(file, width, height, 24, 32, fb.Pitch, fb.Handle)
	if err != nil {
		_ = DestroyDumb(file, fb.Handle)
		return nil, err
	}

	offset, err := MapDumb(file, fb.Handle)
	if err != nil {
		_ = RmFB(file, fbID)
		_ = DestroyDumb(file, fb.Handle)
		return nil, err
	}

	mmap, err := gommap.MapAt(0, file.Fd(), int64(offset), int64(fb.Size),
		gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		_ = RmFB(file, fbID)
		_ = DestroyDumb(file, fb.Handle)
		return nil, fmt.Errorf("failed to mmap framebuffer: %w", err)
	}

	return &DumbBuffer{FB: *fb, ID: fbID, Data: mmap, file: file}, nil
}

// Fill paints every pixel with an XRGB8888 color.
func (b *DumbBuffer) Fill(color uint32) {
	for y := uint32(0); y < b.Height; y++ {
		row := b.Data[uint64(y)*uint64(b.Pitch):]
		for x := uint32(0); x < b.Width; x++ {
			off := x * 4
			row[off] = byte(color)
			row[off+1] = byte(color >> 8)
			row[off+2] = byte(color >> 16)
			row[off+3] = byte(color >> 24)
		}
	}
}

// Destroy unmaps the buffer and releases the framebuffer and handle.
func (b *DumbBuffer) Destroy() error {
	if b.Data != nil {
		if err := b.Data.UnsafeUnmap(); err != nil {
			return err
		}
		b.Data = nil
	}
	if err := RmFB(b.file, b.ID); err != nil {
		return fmt.Errorf("MODE_RMFB %d: %w", b.ID, err)
	}
	return DestroyDumb(b.file, b.Handle)
}
