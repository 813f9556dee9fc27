package kms

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/NeowayLabs/kms/ioctl"
)

type (
	capability struct {
		cap uint64
		val uint64
	}

	clientCapability struct {
		cap uint64
		val uint64
	}
)

const (
	CapDumbBuffer = iota + 1
	CapVBlankHighCRTC
	CapDumbPreferredDepth
	CapDumbPreferShadow
	CapPrime
	CapTimestampMonotonic
	CapAsyncPageFlip
	CapCursorWidth
	CapCursorHeight

	CapAddFB2Modifiers = 0x10
	CapPageFlipTarget  = 0x11
	CapCrtcInVBlankEvt = 0x12
	CapSyncObj         = 0x13
)

// Client capabilities, see SetClientCap.
const (
	ClientCapStereo3D = iota + 1
	ClientCapUniversalPlanes
	ClientCapAtomic
	ClientCapAspectRatio
	ClientCapWritebackConnectors
	ClientCapCursorPlaneHotspot
)

func GetCap(file *os.File, capid uint64) (uint64, error) {
	cap := &capability{cap: capid}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLGetCap), uintptr(unsafe.Pointer(cap)))
	if err != nil {
		return 0, fmt.Errorf("GET_CAP %d: %w", capid, err)
	}
	return cap.val, nil
}

// SetClientCap opts the client into a feature, e.g. universal planes or
// atomic mode setting.
func SetClientCap(file *os.File, capid, val uint64) error {
	cap := &clientCapability{cap: capid, val: val}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLSetClientCap), uintptr(unsafe.Pointer(cap)))
	if err != nil {
		return fmt.Errorf("SET_CLIENT_CAP %d: %w", capid, err)
	}
	return nil
}

func HasDumbBuffer(file *os.File) bool {
	val, err := GetCap(file, CapDumbBuffer)
	if err != nil {
		return false
	}
	return val != 0
}
