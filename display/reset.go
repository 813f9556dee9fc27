package display

import "golang.org/x/sys/unix"

// Reset puts every plane, pipe and output back to default values and
// marks them dirty. The next commit is treated as a first commit, which
// also allows rotation changes on legacy primary and cursor planes.
func (d *Display) Reset() {
	d.firstCommit = true

	for _, p := range d.pipes {
		if !p.Enabled {
			continue
		}
		for _, pl := range p.planes {
			pl.reset()
		}
		p.reset()
	}
	for _, o := range d.outputs {
		o.reset()
	}
}

func (p *Plane) reset() {
	for _, prop := range []PlaneProp{
		PlaneSrcX, PlaneSrcY, PlaneSrcW, PlaneSrcH,
		PlaneCrtcX, PlaneCrtcY, PlaneCrtcW, PlaneCrtcH,
		PlaneFbID, PlaneCrtcID,
	} {
		p.SetProp(prop, 0)
	}

	if p.HasProp(PlaneColorEncoding) {
		p.TryPropEnum(PlaneColorEncoding, ColorEncodingBT601)
	}
	if p.HasProp(PlaneColorRange) {
		p.TryPropEnum(PlaneColorRange, ColorRangeLimited)
	}
	if p.HasProp(PlaneRotation) {
		p.SetProp(PlaneRotation, Rotate0)
	}
	if p.HasProp(PlanePixelBlendMode) {
		p.TryPropEnum(PlanePixelBlendMode, BlendPremultiplied)
	}
	if p.HasProp(PlaneAlpha) {
		p.SetProp(PlaneAlpha, 0xffff)
	}
	if p.HasProp(PlaneFbDamageClips) {
		p.SetProp(PlaneFbDamageClips, 0)
	}
	if p.HasProp(PlaneScalingFilter) {
		p.TryPropEnum(PlaneScalingFilter, ScalingDefault)
	}
	if p.HasProp(PlaneHotspotX) {
		p.SetProp(PlaneHotspotX, 0)
	}
	if p.HasProp(PlaneHotspotY) {
		p.SetProp(PlaneHotspotY, 0)
	}

	if fd := p.inFence(); fd >= 0 {
		unix.Close(fd)
	}
	p.ClearPropChanged(PlaneInFenceFD)
	p.values[PlaneInFenceFD] = ^uint64(0)
	p.gemHandle = 0
}

func (p *Pipe) reset() {
	if id := uint32(p.values[CrtcModeID]); id != 0 && p.d.isAtomic {
		if err := p.d.dev.DestroyPropertyBlob(id); err != nil {
			p.d.log.Warn().Err(err).Str("pipe", p.Name()).Msg("destroy mode blob")
		}
	}
	p.SetProp(CrtcModeID, 0)
	p.SetProp(CrtcActive, 0)
	p.boundMode = nil
	p.ClearPropChanged(CrtcOutFencePtr)

	if p.HasProp(CrtcCTM) {
		p.SetProp(CrtcCTM, 0)
	}
	if p.HasProp(CrtcGammaLUT) {
		p.SetProp(CrtcGammaLUT, 0)
	}
	if p.HasProp(CrtcDegammaLUT) {
		p.SetProp(CrtcDegammaLUT, 0)
	}
	if p.HasProp(CrtcScalingFilter) {
		p.TryPropEnum(CrtcScalingFilter, ScalingDefault)
	}
	if p.HasProp(CrtcVRREnabled) {
		p.SetProp(CrtcVRREnabled, 0)
	}

	p.outFence = -1
}

func (o *Output) reset() {
	o.pendingPipe = PipeNone
	o.override = nil

	o.SetProp(ConnectorCrtcID, 0)

	if o.HasProp(ConnectorBroadcastRGB) {
		o.SetProp(ConnectorBroadcastRGB, BroadcastRGBFull)
	}
	if o.HasProp(ConnectorContentProtection) {
		o.TryPropEnum(ConnectorContentProtection, ProtectionUndesired)
	}
	if o.HasProp(ConnectorHDROutputMetadata) {
		o.SetProp(ConnectorHDROutputMetadata, 0)
	}
	if o.HasProp(ConnectorWritebackFbID) {
		o.SetProp(ConnectorWritebackFbID, 0)
	}
	if o.HasProp(ConnectorWritebackOutFencePtr) {
		o.ClearPropChanged(ConnectorWritebackOutFencePtr)
		o.values[ConnectorWritebackOutFencePtr] = 0
	}
	if o.HasProp(ConnectorDitheringMode) {
		o.TryPropEnum(ConnectorDitheringMode, DitheringOff)
	}
}
