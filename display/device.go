package display

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/NeowayLabs/kms"
	"github.com/NeowayLabs/kms/mode"
)

// Device is the kernel side of a Display: the mode setting ioctls and the
// event stream of one open DRM device.
type Device interface {
	SetClientCap(capability, value uint64) error

	Resources() (*mode.Resources, error)
	PlaneResources() ([]uint32, error)
	Plane(id uint32) (*mode.Plane, error)
	// Connector reads a connector. probe forces the kernel to reprobe
	// the sink and rebuild the mode list.
	Connector(id uint32, probe bool) (*mode.Connector, error)
	Encoder(id uint32) (*mode.Encoder, error)

	ObjectProperties(objID, objType uint32) (*mode.ObjectProperties, error)
	Property(propID uint32) (*mode.Property, error)
	PropertyBlob(blobID uint32) ([]byte, error)
	CreatePropertyBlob(data []byte) (uint32, error)
	DestroyPropertyBlob(blobID uint32) error
	SetObjectProperty(objID, objType, propID uint32, value uint64) error
	SetConnectorProperty(connectorID, propID uint32, value uint64) error

	SetCrtc(crtcID, fbID, x, y uint32, connectors []uint32, m *mode.Info) error
	SetPlane(req mode.SetPlaneRequest) error
	SetCursor(crtcID, handle, width, height uint32) error
	MoveCursor(crtcID uint32, x, y int32) error
	AtomicCommit(req *mode.AtomicRequest, flags uint32, userData uint64) error
	PageFlip(crtcID, fbID, flags uint32, userData uint64) error
	WaitVBlank(typ, sequence uint32) (kms.VBlankReply, error)

	// EventPending reports, without blocking, whether events are queued.
	EventPending() (bool, error)
	// WaitEvent blocks until events are queued or timeout expires.
	WaitEvent(timeout time.Duration) (bool, error)
	// ReadEvents performs one read of the event stream.
	ReadEvents() ([]kms.Event, error)
}

type fileDevice struct {
	file *os.File
}

// NewDevice returns the Device backed by an open DRM device file.
func NewDevice(file *os.File) Device {
	return &fileDevice{file: file}
}

func (d *fileDevice) SetClientCap(capability, value uint64) error {
	return kms.SetClientCap(d.file, capability, value)
}

func (d *fileDevice) Resources() (*mode.Resources, error) {
	return mode.GetResources(d.file)
}

func (d *fileDevice) PlaneResources() ([]uint32, error) {
	return mode.GetPlaneResources(d.file)
}

func (d *fileDevice) Plane(id uint32) (*mode.Plane, error) {
	return mode.GetPlane(d.file, id)
}

func (d *fileDevice) Connector(id uint32, probe bool) (*mode.Connector, error) {
	if probe {
		return mode.GetConnector(d.file, id)
	}
	return mode.GetConnectorCurrent(d.file, id)
}

func (d *fileDevice) Encoder(id uint32) (*mode.Encoder, error) {
	return mode.GetEncoder(d.file, id)
}

func (d *fileDevice) ObjectProperties(objID, objType uint32) (*mode.ObjectProperties, error) {
	return mode.GetObjectProperties(d.file, objID, objType)
}

func (d *fileDevice) Property(propID uint32) (*mode.Property, error) {
	return mode.GetProperty(d.file, propID)
}

func (d *fileDevice) PropertyBlob(blobID uint32) ([]byte, error) {
	return mode.GetPropertyBlob(d.file, blobID)
}

func (d *fileDevice) CreatePropertyBlob(data []byte) (uint32, error) {
	return mode.CreatePropertyBlob(d.file, data)
}

func (d *fileDevice) DestroyPropertyBlob(blobID uint32) error {
	return mode.DestroyPropertyBlob(d.file, blobID)
}

func (d *fileDevice) SetObjectProperty(objID, objType, propID uint32, value uint64) error {
	return mode.SetObjectProperty(d.file, objID, objType, propID, value)
}

func (d *fileDevice) SetConnectorProperty(connectorID, propID uint32, value uint64) error {
	return mode.SetConnectorProperty(d.file, connectorID, propID, value)
}

func (d *fileDevice) SetCrtc(crtcID, fbID, x, y uint32, connectors []uint32, m *mode.Info) error {
	return mode.SetCrtc(d.file, crtcID, fbID, x, y, connectors, m)
}

func (d *fileDevice) SetPlane(req mode.SetPlaneRequest) error {
	return mode.SetPlane(d.file, req)
}

func (d *fileDevice) SetCursor(crtcID, handle, width, height uint32) error {
	return mode.SetCursor(d.file, crtcID, handle, width, height)
}

func (d *fileDevice) MoveCursor(crtcID uint32, x, y int32) error {
	return mode.MoveCursor(d.file, crtcID, x, y)
}

func (d *fileDevice) AtomicCommit(req *mode.AtomicRequest, flags uint32, userData uint64) error {
	return req.Commit(d.file, flags, userData)
}

func (d *fileDevice) PageFlip(crtcID, fbID, flags uint32, userData uint64) error {
	return mode.PageFlip(d.file, crtcID, fbID, flags, userData)
}

func (d *fileDevice) WaitVBlank(typ, sequence uint32) (kms.VBlankReply, error) {
	return kms.WaitVBlank(d.file, typ, sequence)
}

func (d *fileDevice) EventPending() (bool, error) {
	fds := []unix.PollFd{{Fd: int32(d.file.Fd()), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("poll: %w", err)
		}
		return n > 0, nil
	}
}

func (d *fileDevice) WaitEvent(timeout time.Duration) (bool, error) {
	fd := int(d.file.Fd())
	deadline := time.Now().Add(timeout)
	for {
		var set unix.FdSet
		set.Set(fd)
		tv := unix.NsecToTimeval(max(time.Until(deadline), 0).Nanoseconds())
		n, err := unix.Select(fd+1, &set, nil, nil, &tv)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("select: %w", err)
		}
		return n > 0, nil
	}
}

func (d *fileDevice) ReadEvents() ([]kms.Event, error) {
	return kms.ReadEvents(d.file.Fd())
}
