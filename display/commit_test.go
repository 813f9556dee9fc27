package display

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sys/unix"

	"github.com/NeowayLabs/kms"
	"github.com/NeowayLabs/kms/mode"
)

type commitSuite struct {
	suite.Suite

	atomic bool
	k      *fakeKernel
	d      *Display
	fatals []error

	hdmi, dp *Output
}

func (s *commitSuite) SetupTest() {
	s.k = twoPipeKernel(s.atomic)
	s.fatals = nil
	s.d = newTestDisplay(s.T(), s.k, WithFatalHandler(func(err error) {
		s.fatals = append(s.fatals, err)
	}))
	s.hdmi = s.d.Output("HDMI-A-1")
	s.dp = s.d.Output("DP-1")
	s.Require().NotNil(s.hdmi)
	s.Require().NotNil(s.dp)
}

// light routes HDMI to pipe A with a framebuffer on its primary.
func (s *commitSuite) light() *Plane {
	s.Require().NoError(s.hdmi.SetPipe(0))
	pri := s.d.Pipe(0).Primary()
	pri.SetFB(testFB(10))
	return pri
}

func (s *commitSuite) style() CommitStyle {
	if s.atomic {
		return CommitAtomic
	}
	return CommitLegacy
}

func (s *commitSuite) TestIdempotent() {
	s.light()
	s.Require().NoError(s.d.TryCommit2(s.style()))
	s.NotEmpty(s.k.calls)
	s.False(s.d.FirstCommit())

	s.k.resetCalls()
	s.Require().NoError(s.d.TryCommit2(s.style()))
	s.Empty(s.k.calls)
}

func (s *commitSuite) TestReapplyIsIdempotent() {
	s.light()
	s.Require().NoError(s.d.TryCommit2(s.style()))

	s.k.resetCalls()
	s.light()
	m := s.hdmi.Mode()
	s.Require().NoError(s.hdmi.OverrideMode(&m))
	s.False(s.d.Pipe(0).PropChanged(CrtcModeID))
	s.False(s.hdmi.PropChanged(ConnectorCrtcID))
	s.Require().NoError(s.d.TryCommit2(s.style()))
	s.Empty(s.k.calls)
}

func (s *commitSuite) TestRoundTrip() {
	pri := s.light()
	pri.SetPosition(0, 0)
	s.hdmi.SetProp(ConnectorBroadcastRGB, BroadcastRGB16To235)
	s.Require().NoError(s.d.TryCommit2(s.style()))

	// legacy primaries go through SetCrtc, which leaves plane properties
	// to the kernel
	if s.atomic {
		for _, prop := range []PlaneProp{PlaneFbID, PlaneSrcW, PlaneSrcH, PlaneCrtcW, PlaneCrtcH} {
			v, err := pri.Prop(prop)
			s.Require().NoError(err)
			s.Equal(pri.PropValue(prop), v, "%s", prop)
		}
	}

	v, err := s.hdmi.Prop(ConnectorBroadcastRGB)
	s.Require().NoError(err)
	s.Equal(uint64(BroadcastRGB16To235), v)
}

func (s *commitSuite) TestOverlayRoundTrip() {
	s.light()
	s.Require().NoError(s.d.TryCommit2(s.style()))

	ov := s.d.Pipe(0).PlaneOfType(PlaneOverlay, 0)
	s.Require().NotNil(ov)
	fb := testFB(20)
	fb.Width, fb.Height = 256, 128
	ov.SetFB(fb)
	ov.SetPosition(100, 50)
	s.Require().NoError(s.d.TryCommit2(s.style()))
	s.Zero(ov.Changed())

	for _, prop := range []PlaneProp{PlaneFbID, PlaneCrtcX, PlaneCrtcY, PlaneCrtcW, PlaneCrtcH, PlaneSrcW, PlaneSrcH} {
		v, err := ov.Prop(prop)
		s.Require().NoError(err)
		s.Equal(ov.PropValue(prop), v, "%s", prop)
	}
}

func (s *commitSuite) TestDuplicatePipe() {
	s.Require().NoError(s.hdmi.SetPipe(1))
	s.Require().NoError(s.dp.SetPipe(1))

	s.ErrorIs(s.d.TryCommit2(s.style()), ErrDuplicatePipe)
	s.Empty(s.fatals)

	s.Error(s.d.Commit2(s.style()))
	s.Require().Len(s.fatals, 1)
	s.ErrorIs(s.fatals[0], ErrDuplicatePipe)
}

func (s *commitSuite) TestFirstCommitDropsEvents() {
	s.k.queue(kms.EventFlipComplete, s.d.Pipe(0).CrtcID, 42)
	s.k.queue(kms.EventVBlank, s.d.Pipe(0).CrtcID, 43)
	s.light()
	s.Require().NoError(s.d.TryCommit2(s.style()))
	s.Empty(s.k.events)

	s.k.queue(kms.EventVBlank, s.d.Pipe(0).CrtcID, 44)
	s.d.Pipe(0).Primary().SetFB(testFB(11))
	s.Require().NoError(s.d.TryCommit2(s.style()))
	s.Len(s.k.events, 1)
}

func (s *commitSuite) TestFailureKeepsDirtyBits() {
	pri := s.light()
	failing := "SetCrtc"
	if s.atomic {
		failing = "AtomicCommit"
	}
	s.k.failNext(failing, unix.EINVAL)

	err := s.d.TryCommit2(s.style())
	s.ErrorIs(err, unix.EINVAL)
	s.True(pri.PropChanged(PlaneFbID))
	s.True(s.d.FirstCommit())

	s.Require().NoError(s.d.TryCommit2(s.style()))
	s.False(pri.PropChanged(PlaneFbID))
}

func (s *commitSuite) TestReset() {
	s.light()
	s.Require().NoError(s.d.TryCommit2(s.style()))

	s.d.Reset()
	s.True(s.d.FirstCommit())
	s.Equal(PipeNone, s.hdmi.PendingPipe())
	pri := s.d.Pipe(0).Primary()
	s.True(pri.PropChanged(PlaneFbID))
	s.Zero(pri.PropValue(PlaneFbID))
	s.True(s.d.Pipe(0).PropChanged(CrtcActive))
	s.Zero(s.d.Pipe(0).PropValue(CrtcActive))

	s.Require().NoError(s.d.TryCommit2(s.style()))
}

func TestLegacyCommit(t *testing.T) {
	suite.Run(t, &legacySuite{})
}

func TestAtomicCommit(t *testing.T) {
	suite.Run(t, &atomicSuite{commitSuite{atomic: true}})
}

type legacySuite struct {
	commitSuite
}

func (s *legacySuite) TestPrimaryUsesSetCrtc() {
	s.light()
	s.Require().NoError(s.d.Commit())

	s.Require().Len(s.k.setCrtc, 2)
	on := s.k.setCrtc[0]
	s.Equal(s.d.Pipe(0).CrtcID, on.crtc)
	s.Equal(uint32(10), on.fb)
	s.Equal([]uint32{s.hdmi.ID}, on.connectors)
	s.Require().NotNil(on.m)
	s.Equal(mode1080p.Hdisplay, on.m.Hdisplay)

	// pipe B has no output and is switched off
	off := s.k.setCrtc[1]
	s.Equal(s.d.Pipe(1).CrtcID, off.crtc)
	s.Zero(off.fb)
	s.Nil(off.m)

	s.False(s.d.Pipe(0).PropChanged(CrtcModeID))
	s.Zero(s.hdmi.Changed())
}

func (s *legacySuite) TestDisablePlaneUsesZeroedSetPlane() {
	s.light()
	ov := s.d.Pipe(0).PlaneOfType(PlaneOverlay, 0)
	ov.SetFB(testFB(20))
	s.Require().NoError(s.d.Commit())

	s.k.resetCalls()
	ov.SetFB(nil)
	s.Require().NoError(s.d.Commit())

	s.Equal([]string{"SetPlane"}, s.k.calls)
	s.Equal(mode.SetPlaneRequest{PlaneID: ov.ID, CrtcID: s.d.Pipe(0).CrtcID}, s.k.setPlane[0])
	s.Empty(s.k.setCrtc)
}

func (s *legacySuite) TestCursor() {
	s.light()
	s.Require().NoError(s.d.Commit())
	s.k.resetCalls()

	cur := s.d.Pipe(0).Cursor()
	s.Require().NotNil(cur)
	fb := testFB(30)
	fb.Width, fb.Height = 64, 64
	cur.SetFB(fb)
	s.Require().NoError(s.d.Commit())
	s.Equal([]string{"SetCursor"}, s.k.calls)

	s.k.resetCalls()
	cur.SetPosition(10, 20)
	s.Require().NoError(s.d.Commit())
	s.Equal([]string{"MoveCursor"}, s.k.calls)
}

func (s *legacySuite) TestWindowedPrimaryRejected() {
	pri := s.light()
	s.Require().NoError(s.d.Commit())

	pri.SetPosition(10, 10)
	s.ErrorIs(s.d.TryCommit2(CommitLegacy), ErrLegacyPrimary)

	// universal commits move it with SetPlane
	s.Require().NoError(s.d.TryCommit2(CommitUniversal))
	s.Require().NotEmpty(s.k.setPlane)
	last := s.k.setPlane[len(s.k.setPlane)-1]
	s.Equal(pri.ID, last.PlaneID)
	s.Equal(int32(10), last.CrtcX)
}

func (s *legacySuite) TestAtomicUnsupported() {
	s.light()
	s.ErrorIs(s.d.TryCommit2(CommitAtomic), ErrNotAtomic)
	s.ErrorIs(s.d.TryCommitAtomic(0, 0), ErrNotAtomic)
}

func (s *legacySuite) TestUnknownStyle() {
	s.Error(s.d.TryCommit2(CommitStyle(7)))
	s.Equal("CommitStyle(7)", CommitStyle(7).String())
}

type atomicSuite struct {
	commitSuite
}

func (s *atomicSuite) TestSingleDirtyProperty() {
	pri := s.light()
	s.Require().NoError(s.d.TryCommit2(CommitAtomic))
	s.k.resetCalls()

	pri.SetFB(testFB(11))
	s.Require().NoError(s.d.TryCommit2(CommitAtomic))

	s.Equal([]string{"AtomicCommit"}, s.k.calls)
	s.Require().Len(s.k.atomics, 1)
	s.Equal([]mode.AtomicItem{{
		Object:   pri.ID,
		Property: pri.PropID(PlaneFbID),
		Value:    11,
	}}, s.k.atomics[0].items)
}

func (s *atomicSuite) TestModeBlob() {
	s.light()
	p := s.d.Pipe(0)
	blob := uint32(p.PropValue(CrtcModeID))
	s.Require().NotZero(blob)
	s.Equal(mode.ModeBytes(&mode1080p), s.k.blobs[blob])

	s.Require().NoError(s.d.TryCommit2(CommitAtomic))
	s.Equal(uint64(blob), s.k.value(p.CrtcID, "MODE_ID"))
	s.Equal(uint64(1), s.k.value(p.CrtcID, "ACTIVE"))
	s.Equal(uint64(p.CrtcID), s.k.value(s.hdmi.ID, "CRTC_ID"))

	m := mode720p
	s.Require().NoError(s.hdmi.OverrideMode(&m))
	s.NotContains(s.k.blobs, blob)
	s.Equal(mode.ModeBytes(&mode720p), s.k.blobs[uint32(p.PropValue(CrtcModeID))])
}

func (s *atomicSuite) TestSameModeKeepsBlob() {
	s.light()
	p := s.d.Pipe(0)
	blob := p.PropValue(CrtcModeID)

	s.Require().NoError(s.hdmi.SetPipe(0))
	s.Equal(blob, p.PropValue(CrtcModeID))
	s.Equal(1, s.k.countCalls("CreatePropertyBlob"))
	s.Zero(s.k.countCalls("DestroyPropertyBlob"))
}

func (s *atomicSuite) TestTestOnlyKeepsState() {
	pri := s.light()
	s.Require().NoError(s.d.TryCommitAtomic(mode.AtomicTestOnly|mode.AtomicAllowModeset, 0))
	s.True(pri.PropChanged(PlaneFbID))
	s.True(s.d.FirstCommit())
	s.Zero(s.k.value(pri.ID, "FB_ID"))
	s.Equal(uint32(mode.AtomicTestOnly|mode.AtomicAllowModeset), s.k.atomics[0].flags)
}

func (s *atomicSuite) TestFirstCommitRejectsEvents() {
	s.light()
	s.ErrorIs(s.d.TryCommitAtomic(mode.PageFlipEvent|mode.AtomicAllowModeset, 0), ErrFirstCommitEvent)

	s.Require().NoError(s.d.TryCommitAtomic(mode.AtomicAllowModeset, 0))
	s.d.Pipe(0).Primary().SetFB(testFB(11))
	s.Require().NoError(s.d.CommitAtomic(mode.PageFlipEvent|mode.AtomicNonblock, 7))
	s.Require().Len(s.k.events, 1)
	s.Equal(uint64(7), s.k.events[0].UserData)
	s.Empty(s.fatals)
}

func (s *atomicSuite) TestUniversalKeepsAtomicBits() {
	pri := s.light()
	s.Require().NoError(s.d.TryCommit2(CommitUniversal))

	s.True(s.d.Pipe(0).PropChanged(CrtcModeID))
	s.True(s.d.Pipe(0).PropChanged(CrtcActive))
	s.True(s.hdmi.PropChanged(ConnectorCrtcID))
	s.False(s.hdmi.PropChanged(ConnectorBroadcastRGB))
	s.False(pri.PropChanged(PlaneFbID))
	s.Zero(s.k.countCalls("SetCrtc"))

	// the next atomic commit sends what universal left behind
	s.k.resetCalls()
	s.Require().NoError(s.d.TryCommit2(CommitAtomic))
	// MODE_ID and ACTIVE of both pipes, CRTC_ID of both outputs
	s.Require().Len(s.k.atomics, 1)
	s.Len(s.k.atomics[0].items, 6)
}

func (s *atomicSuite) TestRotationFixup() {
	pri := s.light()
	s.Require().NoError(s.d.TryCommit2(CommitAtomic))
	s.k.resetCalls()

	pri.SetRotation(Rotate180)
	s.k.failNext("SetProperty", unix.EINVAL)
	s.Require().NoError(s.d.TryCommit2(CommitUniversal))

	s.Equal([]string{"SetProperty", "SetPlane", "SetProperty", "SetProperty"}, s.k.calls)
	s.Equal(mode.SetPlaneRequest{PlaneID: pri.ID, CrtcID: s.d.Pipe(0).CrtcID}, s.k.setPlane[0])
	s.Equal(uint64(Rotate180), s.k.value(pri.ID, "rotation"))
}

func (s *atomicSuite) TestOutFence() {
	s.light()
	p := s.d.Pipe(0)
	s.Equal(-1, p.OutFence())
	p.RequestOutFence()
	s.True(p.PropChanged(CrtcOutFencePtr))

	s.Require().NoError(s.d.TryCommit2(CommitAtomic))
	s.False(p.PropChanged(CrtcOutFencePtr))
	s.Zero(p.PropValue(CrtcOutFencePtr))
}
