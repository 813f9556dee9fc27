package kms

import (
	"bytes"
	"fmt"
	"os"
	"syscall"
	"unsafe"

	"github.com/NeowayLabs/kms/ioctl"
)

type (
	version struct {
		Major   int32
		Minor   int32
		Patch   int32
		namelen int64
		name    uintptr
		datelen int64
		date    uintptr
		desclen int64
		desc    uintptr
	}

	// Version of DRM driver
	Version struct {
		Major, Minor, Patch int32
		Name                string // Name of the driver (eg.: i915)
		Date                string
		Desc                string
	}
)

const (
	driPath = "/dev/dri"
)

// Available opens the first card and reports its driver version.
func Available() (Version, error) {
	f, err := OpenCard(0)
	if err != nil {
		return Version{}, err
	}
	defer f.Close()
	return GetVersion(f)
}

func OpenCard(n int) (*os.File, error) {
	return open(fmt.Sprintf("%s/card%d", driPath, n))
}

func OpenControlDev(n int) (*os.File, error) {
	return open(fmt.Sprintf("%s/controlD%d", driPath, n))
}

func OpenRenderDev(n int) (*os.File, error) {
	return open(fmt.Sprintf("%s/renderD%d", driPath, n))
}

func open(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR|syscall.O_CLOEXEC, 0)
}

// SetMaster makes the file the DRM master of its device. Mode setting on a
// primary node requires it.
func SetMaster(file *os.File) error {
	return ioctl.Do(file.Fd(), uintptr(IOCTLSetMaster), 0)
}

func DropMaster(file *os.File) error {
	return ioctl.Do(file.Fd(), uintptr(IOCTLDropMaster), 0)
}

func GetVersion(file *os.File) (Version, error) {
	var (
		name, date, desc []byte
	)

	version := &version{}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLVersion),
		uintptr(unsafe.Pointer(version)))
	if err != nil {
		return Version{}, fmt.Errorf("VERSION (count): %w", err)
	}

	if version.namelen > 0 {
		name = make([]byte, version.namelen+1)
		version.name = uintptr(unsafe.Pointer(&name[0]))
	}
	if version.datelen > 0 {
		date = make([]byte, version.datelen+1)
		version.date = uintptr(unsafe.Pointer(&date[0]))
	}
	if version.desclen > 0 {
		desc = make([]byte, version.desclen+1)
		version.desc = uintptr(unsafe.Pointer(&desc[0]))
	}

	err = ioctl.Do(file.Fd(), uintptr(IOCTLVersion),
		uintptr(unsafe.Pointer(version)))
	if err != nil {
		return Version{}, fmt.Errorf("VERSION: %w", err)
	}

	return Version{
		Major: version.Major,
		Minor: version.Minor,
		Patch: version.Patch,
		Name:  cstring(name, version.namelen),
		Date:  cstring(date, version.datelen),
		Desc:  cstring(desc, version.desclen),
	}, nil
}

// cstring trims a kernel filled buffer to n bytes and drops NULs.
func cstring(b []byte, n int64) string {
	if int64(len(b)) > n {
		b = b[:n]
	}
	return string(bytes.TrimRight(b, "\x00"))
}
