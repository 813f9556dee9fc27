package display

// PlaneProp indexes the property arrays of a Plane.
type PlaneProp int

const (
	PlaneSrcX PlaneProp = iota
	PlaneSrcY
	PlaneSrcW
	PlaneSrcH
	PlaneCrtcX
	PlaneCrtcY
	PlaneCrtcW
	PlaneCrtcH
	PlaneFbID
	PlaneCrtcID
	PlaneInFenceFD
	PlaneTypeProp
	PlaneRotation
	PlaneInFormats
	PlaneColorEncoding
	PlaneColorRange
	PlanePixelBlendMode
	PlaneAlpha
	PlaneZpos
	PlaneFbDamageClips
	PlaneScalingFilter
	PlaneHotspotX
	PlaneHotspotY
	PlaneSizeHints
	PlaneInFormatsAsync
	NumPlaneProps
)

var planePropNames = [NumPlaneProps]string{
	PlaneSrcX:           "SRC_X",
	PlaneSrcY:           "SRC_Y",
	PlaneSrcW:           "SRC_W",
	PlaneSrcH:           "SRC_H",
	PlaneCrtcX:          "CRTC_X",
	PlaneCrtcY:          "CRTC_Y",
	PlaneCrtcW:          "CRTC_W",
	PlaneCrtcH:          "CRTC_H",
	PlaneFbID:           "FB_ID",
	PlaneCrtcID:         "CRTC_ID",
	PlaneInFenceFD:      "IN_FENCE_FD",
	PlaneTypeProp:       "type",
	PlaneRotation:       "rotation",
	PlaneInFormats:      "IN_FORMATS",
	PlaneColorEncoding:  "COLOR_ENCODING",
	PlaneColorRange:     "COLOR_RANGE",
	PlanePixelBlendMode: "pixel blend mode",
	PlaneAlpha:          "alpha",
	PlaneZpos:           "zpos",
	PlaneFbDamageClips:  "FB_DAMAGE_CLIPS",
	PlaneScalingFilter:  "SCALING_FILTER",
	PlaneHotspotX:       "HOTSPOT_X",
	PlaneHotspotY:       "HOTSPOT_Y",
	PlaneSizeHints:      "SIZE_HINTS",
	PlaneInFormatsAsync: "IN_FORMATS_ASYNC",
}

func (p PlaneProp) String() string {
	if p >= 0 && p < NumPlaneProps {
		return planePropNames[p]
	}
	return "unknown"
}

// CrtcProp indexes the property arrays of a Pipe.
type CrtcProp int

const (
	CrtcCTM CrtcProp = iota
	CrtcGammaLUT
	CrtcGammaLUTSize
	CrtcDegammaLUT
	CrtcDegammaLUTSize
	CrtcModeID
	CrtcActive
	CrtcOutFencePtr
	CrtcVRREnabled
	CrtcScalingFilter
	NumCrtcProps
)

var crtcPropNames = [NumCrtcProps]string{
	CrtcCTM:            "CTM",
	CrtcGammaLUT:       "GAMMA_LUT",
	CrtcGammaLUTSize:   "GAMMA_LUT_SIZE",
	CrtcDegammaLUT:     "DEGAMMA_LUT",
	CrtcDegammaLUTSize: "DEGAMMA_LUT_SIZE",
	CrtcModeID:         "MODE_ID",
	CrtcActive:         "ACTIVE",
	CrtcOutFencePtr:    "OUT_FENCE_PTR",
	CrtcVRREnabled:     "VRR_ENABLED",
	CrtcScalingFilter:  "SCALING_FILTER",
}

func (p CrtcProp) String() string {
	if p >= 0 && p < NumCrtcProps {
		return crtcPropNames[p]
	}
	return "unknown"
}

// ConnectorProp indexes the property arrays of an Output.
type ConnectorProp int

const (
	ConnectorScalingMode ConnectorProp = iota
	ConnectorCrtcID
	ConnectorDPMS
	ConnectorBroadcastRGB
	ConnectorContentProtection
	ConnectorVRRCapable
	ConnectorHDCPContentType
	ConnectorLinkStatus
	ConnectorMaxBPC
	ConnectorHDROutputMetadata
	ConnectorWritebackPixelFormats
	ConnectorWritebackFbID
	ConnectorWritebackOutFencePtr
	ConnectorDitheringMode
	NumConnectorProps
)

var connectorPropNames = [NumConnectorProps]string{
	ConnectorScalingMode:           "scaling mode",
	ConnectorCrtcID:                "CRTC_ID",
	ConnectorDPMS:                  "DPMS",
	ConnectorBroadcastRGB:          "Broadcast RGB",
	ConnectorContentProtection:     "Content Protection",
	ConnectorVRRCapable:            "vrr_capable",
	ConnectorHDCPContentType:       "HDCP Content Type",
	ConnectorLinkStatus:            "link-status",
	ConnectorMaxBPC:                "max bpc",
	ConnectorHDROutputMetadata:     "HDR_OUTPUT_METADATA",
	ConnectorWritebackPixelFormats: "WRITEBACK_PIXEL_FORMATS",
	ConnectorWritebackFbID:         "WRITEBACK_FB_ID",
	ConnectorWritebackOutFencePtr:  "WRITEBACK_OUT_FENCE_PTR",
	ConnectorDitheringMode:         "dithering mode",
}

func (p ConnectorProp) String() string {
	if p >= 0 && p < NumConnectorProps {
		return connectorPropNames[p]
	}
	return "unknown"
}

const (
	planeCoordMask = 1<<PlaneSrcX | 1<<PlaneSrcY | 1<<PlaneSrcW | 1<<PlaneSrcH |
		1<<PlaneCrtcX | 1<<PlaneCrtcY | 1<<PlaneCrtcW | 1<<PlaneCrtcH

	// Plane properties a legacy commit sends with SetProperty. Coordinates,
	// FB_ID and CRTC_ID go through SetPlane, IN_FENCE_FD is never sent.
	legacyPlaneCommitMask = (1<<NumPlaneProps - 1) &^
		(planeCoordMask | 1<<PlaneFbID | 1<<PlaneCrtcID | 1<<PlaneInFenceFD)
)

// Rotation bits of the "rotation" plane property.
const (
	Rotate0   = 1 << 0
	Rotate90  = 1 << 1
	Rotate180 = 1 << 2
	Rotate270 = 1 << 3
	ReflectX  = 1 << 4
	ReflectY  = 1 << 5
)

// "Broadcast RGB" values.
const (
	BroadcastRGBAuto = iota
	BroadcastRGBFull
	BroadcastRGB16To235
)

// Enum names written by Reset and SetFB.
const (
	ColorEncodingBT601 = "ITU-R BT.601 YCbCr"
	ColorEncodingBT709 = "ITU-R BT.709 YCbCr"
	ColorRangeLimited  = "YCbCr limited range"
	ColorRangeFull     = "YCbCr full range"

	BlendPremultiplied  = "Pre-multiplied"
	ScalingDefault      = "Default"
	ProtectionUndesired = "Undesired"
	DitheringOff        = "off"
)

// isAtomicCrtcProp reports crtc properties that only an atomic commit can
// send.
func isAtomicCrtcProp(p CrtcProp) bool {
	switch p {
	case CrtcModeID, CrtcActive, CrtcOutFencePtr:
		return true
	}
	return false
}
