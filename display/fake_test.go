package display

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/NeowayLabs/kms"
	"github.com/NeowayLabs/kms/internal/connattr"
	"github.com/NeowayLabs/kms/mode"
)

type fakeObject struct {
	typ    uint32
	props  []uint32
	values map[uint32]uint64
}

type fakeSetCrtc struct {
	crtc, fb, x, y uint32
	connectors     []uint32
	m              *mode.Info
}

type fakeAtomic struct {
	items    []mode.AtomicItem
	flags    uint32
	userData uint64
}

// fakeKernel is an in-memory DRM device. Only state changing ioctls are
// recorded in calls; queries and event reads are not.
type fakeKernel struct {
	atomic    bool
	universal bool

	crtcs      []uint32
	connectors []uint32
	planes     []uint32

	conns    map[uint32]*mode.Connector
	encoders map[uint32]*mode.Encoder
	kplanes  map[uint32]*mode.Plane
	objects  map[uint32]*fakeObject
	propDefs map[uint32]*mode.Property
	propIDs  map[string]uint32
	blobs    map[uint32][]byte
	// sysfs status file consulted when reading a connector
	statusFile map[uint32]string

	nextID uint32

	calls    []string
	setPlane []mode.SetPlaneRequest
	setCrtc  []fakeSetCrtc
	atomics  []fakeAtomic
	flips    int
	vblanks  []uint32

	events        []kms.Event
	swallowEvents bool

	failures map[string][]error
}

func newFakeKernel(atomic bool) *fakeKernel {
	return &fakeKernel{
		atomic:     atomic,
		universal:  true,
		conns:      make(map[uint32]*mode.Connector),
		encoders:   make(map[uint32]*mode.Encoder),
		kplanes:    make(map[uint32]*mode.Plane),
		objects:    make(map[uint32]*fakeObject),
		propDefs:   make(map[uint32]*mode.Property),
		propIDs:    make(map[string]uint32),
		blobs:      make(map[uint32][]byte),
		statusFile: make(map[uint32]string),
		nextID:     100,
		failures:   make(map[string][]error),
	}
}

func (k *fakeKernel) id() uint32 {
	k.nextID++
	return k.nextID
}

// prop returns the id of the named property, creating it on first use.
func (k *fakeKernel) prop(name string) uint32 {
	if id, ok := k.propIDs[name]; ok {
		return id
	}
	p := &mode.Property{ID: k.id(), Name: name, Flags: mode.PropRange, Values: []uint64{0, ^uint64(0)}}
	switch name {
	case "type":
		p.Flags = mode.PropEnum | mode.PropImmutable
		p.Enums = []mode.PropertyEnum{{Value: 0, Name: "Overlay"}, {Value: 1, Name: "Primary"}, {Value: 2, Name: "Cursor"}}
	case "rotation":
		p.Flags = mode.PropBitmask
		p.Enums = []mode.PropertyEnum{{Value: 0, Name: "rotate-0"}, {Value: 2, Name: "rotate-180"}}
	case "COLOR_ENCODING":
		p.Flags = mode.PropEnum
		p.Enums = []mode.PropertyEnum{{Value: 0, Name: ColorEncodingBT601}, {Value: 1, Name: ColorEncodingBT709}}
	case "COLOR_RANGE":
		p.Flags = mode.PropEnum
		p.Enums = []mode.PropertyEnum{{Value: 0, Name: ColorRangeLimited}, {Value: 1, Name: ColorRangeFull}}
	case "Broadcast RGB":
		p.Flags = mode.PropEnum
		p.Enums = []mode.PropertyEnum{{Value: 0, Name: "Automatic"}, {Value: 1, Name: "Full"}, {Value: 2, Name: "Limited 16:235"}}
	case "alpha":
		p.Values = []uint64{0, 0xffff}
	case "MODE_ID", "PATH", "IN_FORMATS", "GAMMA_LUT":
		p.Flags = mode.PropBlob
		p.Values = nil
	}
	k.propDefs[p.ID] = p
	k.propIDs[name] = p.ID
	return p.ID
}

func (k *fakeKernel) addObject(id, typ uint32, names ...string) {
	obj := &fakeObject{typ: typ, values: make(map[uint32]uint64)}
	for _, name := range names {
		obj.props = append(obj.props, k.prop(name))
	}
	k.objects[id] = obj
}

// value is the current kernel value of a property of an object.
func (k *fakeKernel) value(objID uint32, name string) uint64 {
	return k.objects[objID].values[k.propIDs[name]]
}

func (k *fakeKernel) setValue(objID uint32, name string, v uint64) {
	k.objects[objID].values[k.prop(name)] = v
}

func (k *fakeKernel) addCrtc() uint32 {
	id := k.id()
	k.crtcs = append(k.crtcs, id)
	k.addObject(id, mode.ObjectCrtc, "MODE_ID", "ACTIVE", "OUT_FENCE_PTR", "GAMMA_LUT")
	return id
}

var planeProps = []string{
	"SRC_X", "SRC_Y", "SRC_W", "SRC_H",
	"CRTC_X", "CRTC_Y", "CRTC_W", "CRTC_H",
	"FB_ID", "CRTC_ID", "IN_FENCE_FD", "type", "rotation",
}

func (k *fakeKernel) addPlane(typ PlaneType, crtcMask uint32, extra ...string) uint32 {
	id := k.id()
	k.planes = append(k.planes, id)
	k.kplanes[id] = &mode.Plane{ID: id, PossibleCrtcs: crtcMask, Formats: []uint32{mode.FormatXRGB8888}}
	k.addObject(id, mode.ObjectPlane, append(append([]string(nil), planeProps...), extra...)...)
	k.setValue(id, "type", uint64(typ))
	k.setValue(id, "IN_FENCE_FD", ^uint64(0))
	return id
}

func (k *fakeKernel) addConnector(typ, typeID uint32, connection uint8, crtcMask uint32, modes ...mode.Info) uint32 {
	enc := &mode.Encoder{ID: k.id(), PossibleCrtcs: crtcMask}
	k.encoders[enc.ID] = enc

	id := k.id()
	k.connectors = append(k.connectors, id)
	k.conns[id] = &mode.Connector{
		ID:         id,
		Type:       typ,
		TypeID:     typeID,
		Connection: connection,
		Modes:      modes,
		Encoders:   []uint32{enc.ID},
	}
	k.addObject(id, mode.ObjectConnector, "CRTC_ID", "DPMS", "Broadcast RGB")
	return id
}

// failNext makes the next call of the named ioctl fail with err.
func (k *fakeKernel) failNext(name string, err error) {
	k.failures[name] = append(k.failures[name], err)
}

func (k *fakeKernel) record(name string) error {
	k.calls = append(k.calls, name)
	if q := k.failures[name]; len(q) > 0 {
		k.failures[name] = q[1:]
		return q[0]
	}
	return nil
}

func (k *fakeKernel) resetCalls() {
	k.calls = nil
	k.setPlane = nil
	k.setCrtc = nil
	k.atomics = nil
}

func (k *fakeKernel) queue(typ uint32, crtc uint32, userData uint64) {
	if k.swallowEvents {
		return
	}
	k.events = append(k.events, kms.Event{
		Type:     typ,
		Length:   32,
		UserData: userData,
		Sequence: uint64(len(k.events) + 1),
		CrtcID:   crtc,
	})
}

func (k *fakeKernel) SetClientCap(capability, value uint64) error {
	switch capability {
	case kms.ClientCapAtomic:
		if !k.atomic {
			return unix.EOPNOTSUPP
		}
	case kms.ClientCapUniversalPlanes:
		if !k.universal {
			return unix.EOPNOTSUPP
		}
	}
	return nil
}

func (k *fakeKernel) Resources() (*mode.Resources, error) {
	return &mode.Resources{
		Crtcs:      append([]uint32(nil), k.crtcs...),
		Connectors: append([]uint32(nil), k.connectors...),
	}, nil
}

func (k *fakeKernel) PlaneResources() ([]uint32, error) {
	var ids []uint32
	for _, id := range k.planes {
		if !k.universal && k.value(id, "type") != uint64(PlaneOverlay) {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (k *fakeKernel) Plane(id uint32) (*mode.Plane, error) {
	p, ok := k.kplanes[id]
	if !ok {
		return nil, unix.ENOENT
	}
	cp := *p
	return &cp, nil
}

func (k *fakeKernel) Connector(id uint32, probe bool) (*mode.Connector, error) {
	c, ok := k.conns[id]
	if !ok {
		return nil, unix.ENOENT
	}
	if path, ok := k.statusFile[id]; ok {
		if b, err := os.ReadFile(path); err == nil {
			switch strings.TrimSpace(string(b)) {
			case ForceOn, ForceOnDigital:
				c.Connection = mode.Connected
			case ForceOff:
				c.Connection = mode.Disconnected
			}
		}
	}
	cp := *c
	cp.Modes = append([]mode.Info(nil), c.Modes...)
	return &cp, nil
}

func (k *fakeKernel) Encoder(id uint32) (*mode.Encoder, error) {
	e, ok := k.encoders[id]
	if !ok {
		return nil, unix.ENOENT
	}
	cp := *e
	return &cp, nil
}

func (k *fakeKernel) ObjectProperties(objID, objType uint32) (*mode.ObjectProperties, error) {
	obj, ok := k.objects[objID]
	if !ok || obj.typ != objType {
		return nil, unix.ENOENT
	}
	list := &mode.ObjectProperties{}
	for _, id := range obj.props {
		list.Props = append(list.Props, id)
		list.Values = append(list.Values, obj.values[id])
	}
	return list, nil
}

func (k *fakeKernel) Property(propID uint32) (*mode.Property, error) {
	p, ok := k.propDefs[propID]
	if !ok {
		return nil, unix.ENOENT
	}
	return p, nil
}

func (k *fakeKernel) PropertyBlob(blobID uint32) ([]byte, error) {
	b, ok := k.blobs[blobID]
	if !ok {
		return nil, unix.ENOENT
	}
	return b, nil
}

func (k *fakeKernel) CreatePropertyBlob(data []byte) (uint32, error) {
	if err := k.record("CreatePropertyBlob"); err != nil {
		return 0, err
	}
	id := k.id()
	k.blobs[id] = append([]byte(nil), data...)
	return id, nil
}

func (k *fakeKernel) DestroyPropertyBlob(blobID uint32) error {
	if err := k.record("DestroyPropertyBlob"); err != nil {
		return err
	}
	if _, ok := k.blobs[blobID]; !ok {
		return unix.ENOENT
	}
	delete(k.blobs, blobID)
	return nil
}

func (k *fakeKernel) SetObjectProperty(objID, objType, propID uint32, value uint64) error {
	if err := k.record("SetProperty"); err != nil {
		return err
	}
	obj, ok := k.objects[objID]
	if !ok || obj.typ != objType {
		return unix.ENOENT
	}
	obj.values[propID] = value
	return nil
}

func (k *fakeKernel) SetConnectorProperty(connectorID, propID uint32, value uint64) error {
	return k.SetObjectProperty(connectorID, mode.ObjectConnector, propID, value)
}

func (k *fakeKernel) SetCrtc(crtcID, fbID, x, y uint32, connectors []uint32, m *mode.Info) error {
	if err := k.record("SetCrtc"); err != nil {
		return err
	}
	k.setCrtc = append(k.setCrtc, fakeSetCrtc{crtcID, fbID, x, y, connectors, m})
	return nil
}

func (k *fakeKernel) SetPlane(req mode.SetPlaneRequest) error {
	if err := k.record("SetPlane"); err != nil {
		return err
	}
	k.setPlane = append(k.setPlane, req)
	k.setValue(req.PlaneID, "FB_ID", uint64(req.FbID))
	k.setValue(req.PlaneID, "CRTC_X", uint64(int64(req.CrtcX)))
	k.setValue(req.PlaneID, "CRTC_Y", uint64(int64(req.CrtcY)))
	k.setValue(req.PlaneID, "CRTC_W", uint64(req.CrtcW))
	k.setValue(req.PlaneID, "CRTC_H", uint64(req.CrtcH))
	k.setValue(req.PlaneID, "SRC_X", uint64(req.SrcX))
	k.setValue(req.PlaneID, "SRC_Y", uint64(req.SrcY))
	k.setValue(req.PlaneID, "SRC_W", uint64(req.SrcW))
	k.setValue(req.PlaneID, "SRC_H", uint64(req.SrcH))
	if req.FbID != 0 {
		k.setValue(req.PlaneID, "CRTC_ID", uint64(req.CrtcID))
	} else {
		k.setValue(req.PlaneID, "CRTC_ID", 0)
	}
	return nil
}

func (k *fakeKernel) SetCursor(crtcID, handle, width, height uint32) error {
	return k.record("SetCursor")
}

func (k *fakeKernel) MoveCursor(crtcID uint32, x, y int32) error {
	return k.record("MoveCursor")
}

func (k *fakeKernel) AtomicCommit(req *mode.AtomicRequest, flags uint32, userData uint64) error {
	if err := k.record("AtomicCommit"); err != nil {
		return err
	}
	items := req.Items()
	k.atomics = append(k.atomics, fakeAtomic{items: items, flags: flags, userData: userData})
	if flags&mode.AtomicTestOnly != 0 {
		return nil
	}

	var crtcs []uint32
	seen := make(map[uint32]bool)
	for _, it := range items {
		obj, ok := k.objects[it.Object]
		if !ok {
			return unix.ENOENT
		}
		obj.values[it.Property] = it.Value

		crtc := it.Object
		if obj.typ == mode.ObjectPlane {
			crtc = uint32(k.value(it.Object, "CRTC_ID"))
		} else if obj.typ != mode.ObjectCrtc {
			continue
		}
		if crtc != 0 && !seen[crtc] {
			seen[crtc] = true
			crtcs = append(crtcs, crtc)
		}
	}
	if flags&mode.PageFlipEvent != 0 {
		for _, crtc := range crtcs {
			k.queue(kms.EventFlipComplete, crtc, userData)
		}
	}
	return nil
}

func (k *fakeKernel) PageFlip(crtcID, fbID, flags uint32, userData uint64) error {
	if err := k.record("PageFlip"); err != nil {
		return err
	}
	k.flips++
	if flags&mode.PageFlipEvent != 0 {
		k.queue(kms.EventFlipComplete, crtcID, userData)
	}
	return nil
}

func (k *fakeKernel) WaitVBlank(typ, sequence uint32) (kms.VBlankReply, error) {
	if err := k.record("WaitVBlank"); err != nil {
		return kms.VBlankReply{}, err
	}
	k.vblanks = append(k.vblanks, typ)
	return kms.VBlankReply{Type: typ, Sequence: sequence}, nil
}

func (k *fakeKernel) EventPending() (bool, error) {
	return len(k.events) > 0, nil
}

func (k *fakeKernel) WaitEvent(time.Duration) (bool, error) {
	return len(k.events) > 0, nil
}

func (k *fakeKernel) ReadEvents() ([]kms.Event, error) {
	events := k.events
	k.events = nil
	return events, nil
}

// fakeDebugfs keeps connector attributes in a temporary directory.
type fakeDebugfs struct {
	root  string
	pipes map[uint32]int

	ignoreHPD    bool
	ignoreHPDErr error
}

func newFakeDebugfs(t *testing.T) *fakeDebugfs {
	return &fakeDebugfs{root: t.TempDir(), pipes: make(map[uint32]int)}
}

func (f *fakeDebugfs) PipeForCrtc(crtcID uint32, offset int) (int, error) {
	if p, ok := f.pipes[crtcID]; ok {
		return p, nil
	}
	return offset, nil
}

func (f *fakeDebugfs) ConnectorDir(connector string) string {
	return filepath.Join(f.root, "debug", connector)
}

func (f *fakeDebugfs) SysfsConnectorDir(connector string) string {
	return filepath.Join(f.root, "sysfs", "card0-"+connector)
}

func (f *fakeDebugfs) ForceJoinerEnabled(connector string) bool {
	b, err := os.ReadFile(filepath.Join(f.ConnectorDir(connector), forceJoinerAttr))
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	return err == nil && n >= 2
}

func (f *fakeDebugfs) IgnoreLongHPD(enable bool) error {
	if f.ignoreHPDErr != nil {
		return f.ignoreHPDErr
	}
	f.ignoreHPD = enable
	return nil
}

// addConnector creates the debugfs and sysfs attribute files of a
// connector, with the status file wired to the fake kernel.
func (f *fakeDebugfs) addConnector(t *testing.T, k *fakeKernel, id uint32, name string) {
	t.Helper()
	debug := f.ConnectorDir(name)
	sysfs := f.SysfsConnectorDir(name)
	require.NoError(t, os.MkdirAll(debug, 0o755))
	require.NoError(t, os.MkdirAll(sysfs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(debug, forceJoinerAttr), []byte("0\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sysfs, "status"), []byte(ForceDetect), 0o644))
	k.statusFile[id] = filepath.Join(sysfs, "status")
}

func testMode(w, h uint16, refresh, clock uint32, preferred bool) mode.Info {
	m := mode.Info{
		Clock:      clock,
		Hdisplay:   w,
		HsyncStart: w + 48,
		HsyncEnd:   w + 80,
		Htotal:     w + 160,
		Vdisplay:   h,
		VsyncStart: h + 3,
		VsyncEnd:   h + 8,
		Vtotal:     h + 30,
		Vrefresh:   refresh,
		Type:       mode.TypeDriver,
	}
	if preferred {
		m.Type |= mode.TypePreferred
	}
	copy(m.Name[:], fmt.Sprintf("%dx%d", w, h))
	return m
}

var (
	mode1080p = testMode(1920, 1080, 60, 148500, true)
	mode720p  = testMode(1280, 720, 60, 74250, false)
	mode5k    = testMode(5120, 2880, 60, 1100000, true)
	mode8k    = testMode(7680, 4320, 60, 2200000, true)
)

// newTestDisplay builds a Display on k whose fatal errors fail the test.
// Later options override the defaults.
func newTestDisplay(t *testing.T, k *fakeKernel, opts ...Option) *Display {
	t.Helper()
	defaults := []Option{
		WithLogger(zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)),
		WithFatalHandler(func(err error) { t.Errorf("fatal: %v", err) }),
		WithConnectorAttrs(&connattr.Registry{}),
	}
	d, err := New(k, append(defaults, opts...)...)
	require.NoError(t, err)
	return d
}

// twoPipeKernel has two crtcs, each with a primary, an overlay and a
// cursor, an HDMI output reachable from both crtcs and a DP output
// reachable from the second only.
func twoPipeKernel(atomic bool) *fakeKernel {
	k := newFakeKernel(atomic)
	k.addCrtc()
	k.addCrtc()
	for crtc := uint32(0); crtc < 2; crtc++ {
		k.addPlane(PlanePrimary, 1<<crtc)
		k.addPlane(PlaneOverlay, 1<<crtc)
		k.addPlane(PlaneCursor, 1<<crtc)
	}
	k.addConnector(mode.ConnectorHDMIA, 1, mode.Connected, 0x3, mode1080p, mode720p)
	k.addConnector(mode.ConnectorDisplayPort, 1, mode.Connected, 0x2, mode720p)
	return k
}

func testFB(id uint32) *Framebuffer {
	return &Framebuffer{ID: id, Handle: id + 1000, Width: 1920, Height: 1080, Format: mode.FormatXRGB8888}
}

// countCalls counts the recorded ioctls with the given name.
func (k *fakeKernel) countCalls(name string) int {
	n := 0
	for _, c := range k.calls {
		if c == name {
			n++
		}
	}
	return n
}
