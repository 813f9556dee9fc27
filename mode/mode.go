package mode

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"unsafe"

	"github.com/NeowayLabs/kms"
	"github.com/NeowayLabs/kms/ioctl"
)

const (
	DisplayInfoLen   = 32
	ConnectorNameLen = 32
	DisplayModeLen   = 32
	PropNameLen      = 32

	Connected         = 1
	Disconnected      = 2
	UnknownConnection = 3
)

// Mode type bits (Info.Type).
const (
	TypeBuiltin   = 1 << 0
	TypeClockC    = 1 << 1
	TypeCrtcC     = 1 << 2
	TypePreferred = 1 << 3
	TypeDefault   = 1 << 4
	TypeUserDef   = 1 << 5
	TypeDriver    = 1 << 6
)

type (
	sysResources struct {
		fbIdPtr              uintptr
		crtcIdPtr            uintptr
		connectorIdPtr       uintptr
		encoderIdPtr         uintptr
		CountFbs             uint32
		CountCrtcs           uint32
		CountConnectors      uint32
		CountEncoders        uint32
		MinWidth, MaxWidth   uint32
		MinHeight, MaxHeight uint32
	}

	sysGetConnector struct {
		encodersPtr   uintptr
		modesPtr      uintptr
		propsPtr      uintptr
		propValuesPtr uintptr

		countModes    uint32
		countProps    uint32
		countEncoders uint32

		encoderID       uint32 // current encoder
		id              uint32
		connectorType   uint32
		connectorTypeID uint32

		connection        uint32
		mmWidth, mmHeight uint32 // HxW in millimeters
		subpixel          uint32
		pad               uint32
	}

	sysGetEncoder struct {
		id  uint32
		typ uint32

		crtcID uint32

		possibleCrtcs  uint32
		possibleClones uint32
	}

	// Info is struct drm_mode_modeinfo.
	Info struct {
		Clock                                         uint32
		Hdisplay, HsyncStart, HsyncEnd, Htotal, Hskew uint16
		Vdisplay, VsyncStart, VsyncEnd, Vtotal, Vscan uint16

		Vrefresh uint32

		Flags uint32
		Type  uint32
		Name  [DisplayModeLen]uint8
	}

	Resources struct {
		sysResources

		Fbs        []uint32
		Crtcs      []uint32
		Connectors []uint32
		Encoders   []uint32
	}

	Connector struct {
		ID            uint32
		EncoderID     uint32
		Type          uint32
		TypeID        uint32
		Connection    uint8
		Width, Height uint32
		Subpixel      uint8

		Modes []Info

		Props      []uint32
		PropValues []uint64

		Encoders []uint32
	}

	Encoder struct {
		ID   uint32
		Type uint32

		CrtcID uint32

		PossibleCrtcs  uint32
		PossibleClones uint32
	}

	sysCrtc struct {
		setConnectorsPtr uintptr
		countConnectors  uint32

		id   uint32
		fbID uint32 // Id of framebuffer

		x, y uint32 // Position on the frameuffer

		gammaSize uint32
		modeValid uint32
		mode      Info
	}

	Crtc struct {
		ID       uint32
		BufferID uint32 // FB id to connect to 0 = disconnect

		X, Y          uint32 // Position on the framebuffer
		Width, Height uint32
		ModeValid     int
		Mode          Info

		GammaSize int // Number of gamma stops
	}
)

var (
	// DRM_IOWR(0xA0, struct drm_mode_card_res)
	IOCTLModeResources = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysResources{})), kms.IOCTLBase, 0xA0)

	// DRM_IOWR(0xA1, struct drm_mode_crtc)
	IOCTLModeGetCrtc = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysCrtc{})), kms.IOCTLBase, 0xA1)

	// DRM_IOWR(0xA2, struct drm_mode_crtc)
	IOCTLModeSetCrtc = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysCrtc{})), kms.IOCTLBase, 0xA2)

	// DRM_IOWR(0xA6, struct drm_mode_get_encoder)
	IOCTLModeGetEncoder = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetEncoder{})), kms.IOCTLBase, 0xA6)

	// DRM_IOWR(0xA7, struct drm_mode_get_connector)
	IOCTLModeGetConnector = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysGetConnector{})), kms.IOCTLBase, 0xA7)
)

// String returns the mode name, e.g. "1920x1080".
func (m *Info) String() string {
	n := bytes.IndexByte(m.Name[:], 0)
	if n < 0 {
		n = len(m.Name)
	}
	return string(m.Name[:n])
}

func (m *Info) Preferred() bool {
	return m.Type&TypePreferred != 0
}

// Dump formats the mode like a modeline.
func (m *Info) Dump() string {
	return fmt.Sprintf("%s %d %d %d %d %d %d %d %d %d %d 0x%x 0x%x %d",
		m.String(), m.Vrefresh, m.Hdisplay, m.HsyncStart, m.HsyncEnd, m.Htotal,
		m.Vdisplay, m.VsyncStart, m.VsyncEnd, m.Vtotal, m.Flags, m.Type, m.Clock, m.Vscan)
}

// SortByResolution orders modes by hdisplay, widest first unless
// ascending is set.
func SortByResolution(modes []Info, ascending bool) {
	sort.SliceStable(modes, func(i, j int) bool {
		if ascending {
			return modes[i].Hdisplay < modes[j].Hdisplay
		}
		return modes[i].Hdisplay > modes[j].Hdisplay
	})
}

// SortByClock orders modes by pixel clock, fastest first unless
// ascending is set.
func SortByClock(modes []Info, ascending bool) {
	sort.SliceStable(modes, func(i, j int) bool {
		if ascending {
			return modes[i].Clock < modes[j].Clock
		}
		return modes[i].Clock > modes[j].Clock
	})
}

func GetResources(file *os.File) (*Resources, error) {
	mres := &sysResources{}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeResources),
		uintptr(unsafe.Pointer(mres)))
	if err != nil {
		return nil, fmt.Errorf("MODE_GETRESOURCES (count): %w", err)
	}

	var (
		fbids, crtcids, connectorids, encoderids []uint32
	)

	if mres.CountFbs > 0 {
		fbids = make([]uint32, mres.CountFbs)
		mres.fbIdPtr = uintptr(unsafe.Pointer(&fbids[0]))
	}
	if mres.CountCrtcs > 0 {
		crtcids = make([]uint32, mres.CountCrtcs)
		mres.crtcIdPtr = uintptr(unsafe.Pointer(&crtcids[0]))
	}
	if mres.CountEncoders > 0 {
		encoderids = make([]uint32, mres.CountEncoders)
		mres.encoderIdPtr = uintptr(unsafe.Pointer(&encoderids[0]))
	}
	if mres.CountConnectors > 0 {
		connectorids = make([]uint32, mres.CountConnectors)
		mres.connectorIdPtr = uintptr(unsafe.Pointer(&connectorids[0]))
	}

	err = ioctl.Do(file.Fd(), uintptr(IOCTLModeResources),
		uintptr(unsafe.Pointer(mres)))
	if err != nil {
		return nil, fmt.Errorf("MODE_GETRESOURCES: %w", err)
	}

	// the kernel may report fewer objects on the second pass after a hotplug
	return &Resources{
		sysResources: *mres,
		Fbs:          fbids[:min(len(fbids), int(mres.CountFbs))],
		Crtcs:        crtcids[:min(len(crtcids), int(mres.CountCrtcs))],
		Encoders:     encoderids[:min(len(encoderids), int(mres.CountEncoders))],
		Connectors:   connectorids[:min(len(connectorids), int(mres.CountConnectors))],
	}, nil
}

// GetConnector fetches a connector and makes the kernel probe its outputs.
func GetConnector(file *os.File, connid uint32) (*Connector, error) {
	return getConnector(file, connid, true)
}

// GetConnectorCurrent fetches a connector without forcing a probe.
func GetConnectorCurrent(file *os.File, connid uint32) (*Connector, error) {
	return getConnector(file, connid, false)
}

func getConnector(file *os.File, connid uint32, probe bool) (*Connector, error) {
	conn := &sysGetConnector{}
	conn.id = connid
	if !probe {
		// a non zero mode count stops the kernel from probing
		current := make([]Info, 1)
		conn.countModes = 1
		conn.modesPtr = uintptr(unsafe.Pointer(&current[0]))
	}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeGetConnector),
		uintptr(unsafe.Pointer(conn)))
	if err != nil {
		return nil, fmt.Errorf("MODE_GETCONNECTOR %d (count): %w", connid, err)
	}

	var (
		props, encoders []uint32
		propValues      []uint64
		modes           []Info
	)

	if conn.countProps > 0 {
		props = make([]uint32, conn.countProps)
		conn.propsPtr = uintptr(unsafe.Pointer(&props[0]))

		propValues = make([]uint64, conn.countProps)
		conn.propValuesPtr = uintptr(unsafe.Pointer(&propValues[0]))
	}

	if conn.countModes == 0 {
		conn.countModes = 1
	}

	modes = make([]Info, conn.countModes)
	conn.modesPtr = uintptr(unsafe.Pointer(&modes[0]))

	if conn.countEncoders > 0 {
		encoders = make([]uint32, conn.countEncoders)
		conn.encodersPtr = uintptr(unsafe.Pointer(&encoders[0]))
	}

	err = ioctl.Do(file.Fd(), uintptr(IOCTLModeGetConnector),
		uintptr(unsafe.Pointer(conn)))
	if err != nil {
		return nil, fmt.Errorf("MODE_GETCONNECTOR %d: %w", connid, err)
	}

	ret := &Connector{
		ID:         conn.id,
		EncoderID:  conn.encoderID,
		Connection: uint8(conn.connection),
		Width:      conn.mmWidth,
		Height:     conn.mmHeight,

		// convert subpixel from kernel to userspace
		Subpixel: uint8(conn.subpixel + 1),
		Type:     conn.connectorType,
		TypeID:   conn.connectorTypeID,
	}

	ret.Props = append([]uint32(nil), props[:min(len(props), int(conn.countProps))]...)
	ret.PropValues = append([]uint64(nil), propValues[:min(len(propValues), int(conn.countProps))]...)
	ret.Modes = append([]Info(nil), modes[:min(len(modes), int(conn.countModes))]...)
	ret.Encoders = append([]uint32(nil), encoders[:min(len(encoders), int(conn.countEncoders))]...)

	return ret, nil
}

func GetEncoder(file *os.File, id uint32) (*Encoder, error) {
	encoder := &sysGetEncoder{}
	encoder.id = id

	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeGetEncoder),
		uintptr(unsafe.Pointer(encoder)))
	if err != nil {
		return nil, fmt.Errorf("MODE_GETENCODER %d: %w", id, err)
	}

	return &Encoder{
		ID:             encoder.id,
		CrtcID:         encoder.crtcID,
		Type:           encoder.typ,
		PossibleCrtcs:  encoder.possibleCrtcs,
		PossibleClones: encoder.possibleClones,
	}, nil
}

func GetCrtc(file *os.File, id uint32) (*Crtc, error) {
	crtc := &sysCrtc{}
	crtc.id = id
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeGetCrtc),
		uintptr(unsafe.Pointer(crtc)))
	if err != nil {
		return nil, fmt.Errorf("MODE_GETCRTC %d: %w", id, err)
	}
	ret := &Crtc{
		ID:        crtc.id,
		X:         crtc.x,
		Y:         crtc.y,
		ModeValid: int(crtc.modeValid),
		BufferID:  crtc.fbID,
		GammaSize: int(crtc.gammaSize),
	}

	ret.Mode = crtc.mode
	ret.Width = uint32(crtc.mode.Hdisplay)
	ret.Height = uint32(crtc.mode.Vdisplay)
	return ret, nil
}

// SetCrtc programs a CRTC. A nil mode with no connectors and a zero
// buffer disables it.
func SetCrtc(file *os.File, crtcid, bufferid, x, y uint32, connectors []uint32, mode *Info) error {
	crtc := &sysCrtc{}
	crtc.x = x
	crtc.y = y
	crtc.id = crtcid
	crtc.fbID = bufferid
	if len(connectors) > 0 {
		crtc.setConnectorsPtr = uintptr(unsafe.Pointer(&connectors[0]))
	}
	crtc.countConnectors = uint32(len(connectors))
	if mode != nil {
		crtc.mode = *mode
		crtc.modeValid = 1
	}
	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeSetCrtc),
		uintptr(unsafe.Pointer(crtc)))
	if err != nil {
		return fmt.Errorf("MODE_SETCRTC %d: %w", crtcid, err)
	}
	return nil
}
