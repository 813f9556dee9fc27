package mode

import (
	"bytes"
	"fmt"
	"os"
	"unsafe"

	"github.com/NeowayLabs/kms"
	"github.com/NeowayLabs/kms/ioctl"
)

// Object types used by the object property ioctls.
const (
	ObjectAny       = 0
	ObjectCrtc      = 0xcccccccc
	ObjectConnector = 0xc0c0c0c0
	ObjectEncoder   = 0xe0e0e0e0
	ObjectMode      = 0xdededede
	ObjectProperty  = 0xb0b0b0b0
	ObjectFB        = 0xfbfbfbfb
	ObjectBlob      = 0xbbbbbbbb
	ObjectPlane     = 0xeeeeeeee
)

// Property flags.
const (
	PropPending      = 1 << 0
	PropRange        = 1 << 1
	PropImmutable    = 1 << 2
	PropEnum         = 1 << 3
	PropBlob         = 1 << 4
	PropBitmask      = 1 << 5
	PropExtendedType = 0x0000ffc0
	PropObject       = 1 << 6
	PropSignedRange  = 2 << 6
	PropAtomic       = 0x80000000

	PropLegacyType = PropRange | PropEnum | PropBlob | PropBitmask
)

type (
	sysObjGetProperties struct {
		propsPtr      uintptr
		propValuesPtr uintptr
		countProps    uint32
		objID         uint32
		objType       uint32
		pad           uint32
	}

	sysObjSetProperty struct {
		value   uint64
		propID  uint32
		objID   uint32
		objType uint32
		pad     uint32
	}

	sysGetProperty struct {
		valuesPtr      uintptr
		enumBlobPtr    uintptr
		propID         uint32
		flags          uint32
		name           [PropNameLen]byte
		countValues    uint32
		countEnumBlobs uint32
	}

	sysPropertyEnum struct {
		value uint64
		name  [PropNameLen]byte
	}

	sysConnectorSetProperty struct {
		value       uint64
		propID      uint32
		connectorID uint32
	}

	sysGetBlob struct {
		blobID uint32
		length uint32
		data   uintptr
	}

	sysCreateBlob struct {
		data   uintptr
		length uint32
		blobID uint32
	}

	sysDestroyBlob struct {
		blobID uint32
	}

	// ObjectProperties are the (property id, value) pairs of one object.
	ObjectProperties struct {
		Props  []uint32
		Values []uint64
	}

	PropertyEnum struct {
		Value uint64
		Name  string
	}

	// Property is the description of a property: its name, flags and,
	// depending on the type, range values or enum entries.
	Property struct {
		ID     uint32
		Name   string
		Flags  uint32
		Values []uint64
		Enums  []PropertyEnum
	}
)

var (
	// DRM_IOWR(0xAA, struct drm_mode_get_property)
	IOCTLModeGetProperty = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetProperty{})), kms.IOCTLBase, 0xAA)

	// DRM_IOWR(0xAB, struct drm_mode_connector_set_property)
	IOCTLModeSetProperty = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysConnectorSetProperty{})), kms.IOCTLBase, 0xAB)

	// DRM_IOWR(0xAC, struct drm_mode_get_blob)
	IOCTLModeGetPropBlob = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetBlob{})), kms.IOCTLBase, 0xAC)

	// DRM_IOWR(0xB9, struct drm_mode_obj_get_properties)
	IOCTLModeObjGetProperties = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysObjGetProperties{})), kms.IOCTLBase, 0xB9)

	// DRM_IOWR(0xBA, struct drm_mode_obj_set_property)
	IOCTLModeObjSetProperty = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysObjSetProperty{})), kms.IOCTLBase, 0xBA)

	// DRM_IOWR(0xBD, struct drm_mode_create_blob)
	IOCTLModeCreatePropBlob = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysCreateBlob{})), kms.IOCTLBase, 0xBD)

	// DRM_IOWR(0xBE, struct drm_mode_destroy_blob)
	IOCTLModeDestroyPropBlob = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysDestroyBlob{})), kms.IOCTLBase, 0xBE)
)

// Lookup returns the value of a property id.
func (p *ObjectProperties) Lookup(propID uint32) (uint64, bool) {
	for i, id := range p.Props {
		if id == propID {
			return p.Values[i], true
		}
	}
	return 0, false
}

// EnumValue resolves an enum entry by name.
func (p *Property) EnumValue(name string) (uint64, bool) {
	for _, e := range p.Enums {
		if e.Name == name {
			return e.Value, true
		}
	}
	return 0, false
}

// IsType reports whether the property has the given legacy or extended
// type.
func (p *Property) IsType(typ uint32) bool {
	if typ&PropExtendedType != 0 {
		return p.Flags&PropExtendedType == typ
	}
	return p.Flags&typ != 0
}

func GetObjectProperties(file *os.File, objID, objType uint32) (*ObjectProperties, error) {
	req := &sysObjGetProperties{objID: objID, objType: objType}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeObjGetProperties),
		uintptr(unsafe.Pointer(req)))
	if err != nil {
		return nil, fmt.Errorf("MODE_OBJ_GETPROPERTIES %d (count): %w", objID, err)
	}
	if req.countProps == 0 {
		return &ObjectProperties{}, nil
	}

	props := make([]uint32, req.countProps)
	values := make([]uint64, req.countProps)
	req.propsPtr = uintptr(unsafe.Pointer(&props[0]))
	req.propValuesPtr = uintptr(unsafe.Pointer(&values[0]))
	err = ioctl.Do(file.Fd(), uintptr(IOCTLModeObjGetProperties),
		uintptr(unsafe.Pointer(req)))
	if err != nil {
		return nil, fmt.Errorf("MODE_OBJ_GETPROPERTIES %d: %w", objID, err)
	}

	n := min(len(props), int(req.countProps))
	return &ObjectProperties{Props: props[:n], Values: values[:n]}, nil
}

func GetProperty(file *os.File, propID uint32) (*Property, error) {
	req := &sysGetProperty{propID: propID}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeGetProperty),
		uintptr(unsafe.Pointer(req)))
	if err != nil {
		return nil, fmt.Errorf("MODE_GETPROPERTY %d (count): %w", propID, err)
	}

	var (
		values []uint64
		enums  []sysPropertyEnum
	)
	if req.countValues > 0 {
		values = make([]uint64, req.countValues)
		req.valuesPtr = uintptr(unsafe.Pointer(&values[0]))
	}
	isEnum := req.flags&(PropEnum|PropBitmask) != 0
	if isEnum && req.countEnumBlobs > 0 {
		enums = make([]sysPropertyEnum, req.countEnumBlobs)
		req.enumBlobPtr = uintptr(unsafe.Pointer(&enums[0]))
	} else {
		req.countEnumBlobs = 0
	}

	err = ioctl.Do(file.Fd(), uintptr(IOCTLModeGetProperty),
		uintptr(unsafe.Pointer(req)))
	if err != nil {
		return nil, fmt.Errorf("MODE_GETPROPERTY %d: %w", propID, err)
	}

	prop := &Property{
		ID:     req.propID,
		Name:   cstr(req.name[:]),
		Flags:  req.flags,
		Values: values[:min(len(values), int(req.countValues))],
	}
	for _, e := range enums[:min(len(enums), int(req.countEnumBlobs))] {
		prop.Enums = append(prop.Enums, PropertyEnum{Value: e.value, Name: cstr(e.name[:])})
	}
	return prop, nil
}

func SetObjectProperty(file *os.File, objID, objType, propID uint32, value uint64) error {
	req := &sysObjSetProperty{value: value, propID: propID, objID: objID, objType: objType}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeObjSetProperty), uintptr(unsafe.Pointer(req)))
	if err != nil {
		return fmt.Errorf("MODE_OBJ_SETPROPERTY %d/%d: %w", objID, propID, err)
	}
	return nil
}

// SetConnectorProperty is the legacy connector only form of
// SetObjectProperty.
func SetConnectorProperty(file *os.File, connectorID, propID uint32, value uint64) error {
	req := &sysConnectorSetProperty{value: value, propID: propID, connectorID: connectorID}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeSetProperty), uintptr(unsafe.Pointer(req)))
	if err != nil {
		return fmt.Errorf("MODE_SETPROPERTY %d/%d: %w", connectorID, propID, err)
	}
	return nil
}

func GetPropertyBlob(file *os.File, blobID uint32) ([]byte, error) {
	req := &sysGetBlob{blobID: blobID}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeGetPropBlob), uintptr(unsafe.Pointer(req)))
	if err != nil {
		return nil, fmt.Errorf("MODE_GETPROPBLOB %d (length): %w", blobID, err)
	}
	if req.length == 0 {
		return nil, nil
	}

	data := make([]byte, req.length)
	req.data = uintptr(unsafe.Pointer(&data[0]))
	err = ioctl.Do(file.Fd(), uintptr(IOCTLModeGetPropBlob), uintptr(unsafe.Pointer(req)))
	if err != nil {
		return nil, fmt.Errorf("MODE_GETPROPBLOB %d: %w", blobID, err)
	}
	return data[:min(len(data), int(req.length))], nil
}

func CreatePropertyBlob(file *os.File, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("MODE_CREATEPROPBLOB: empty blob")
	}
	req := &sysCreateBlob{
		data:   uintptr(unsafe.Pointer(&data[0])),
		length: uint32(len(data)),
	}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeCreatePropBlob), uintptr(unsafe.Pointer(req)))
	if err != nil {
		return 0, fmt.Errorf("MODE_CREATEPROPBLOB: %w", err)
	}
	return req.blobID, nil
}

func DestroyPropertyBlob(file *os.File, blobID uint32) error {
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeDestroyPropBlob),
		uintptr(unsafe.Pointer(&sysDestroyBlob{blobID})))
	if err != nil {
		return fmt.Errorf("MODE_DESTROYPROPBLOB %d: %w", blobID, err)
	}
	return nil
}

// ModeBytes returns the raw bytes of a mode, the payload of a MODE_ID
// blob.
func ModeBytes(m *Info) []byte {
	b := make([]byte, unsafe.Sizeof(*m))
	copy(b, unsafe.Slice((*byte)(unsafe.Pointer(m)), len(b)))
	return b
}

func cstr(b []byte) string {
	if n := bytes.IndexByte(b, 0); n >= 0 {
		b = b[:n]
	}
	return string(b)
}
