package mode

import "fmt"

// Connector types (Connector.Type).
const (
	ConnectorUnknown = iota
	ConnectorVGA
	ConnectorDVII
	ConnectorDVID
	ConnectorDVIA
	ConnectorComposite
	ConnectorSVideo
	ConnectorLVDS
	ConnectorComponent
	Connector9PinDIN
	ConnectorDisplayPort
	ConnectorHDMIA
	ConnectorHDMIB
	ConnectorTV
	ConnectorEDP
	ConnectorVirtual
	ConnectorDSI
	ConnectorDPI
	ConnectorWriteback
	ConnectorSPI
	ConnectorUSB
)

var connectorTypeNames = [...]string{
	ConnectorUnknown:     "Unknown",
	ConnectorVGA:         "VGA",
	ConnectorDVII:        "DVI-I",
	ConnectorDVID:        "DVI-D",
	ConnectorDVIA:        "DVI-A",
	ConnectorComposite:   "Composite",
	ConnectorSVideo:      "SVIDEO",
	ConnectorLVDS:        "LVDS",
	ConnectorComponent:   "Component",
	Connector9PinDIN:     "DIN",
	ConnectorDisplayPort: "DP",
	ConnectorHDMIA:       "HDMI-A",
	ConnectorHDMIB:       "HDMI-B",
	ConnectorTV:          "TV",
	ConnectorEDP:         "eDP",
	ConnectorVirtual:     "Virtual",
	ConnectorDSI:         "DSI",
	ConnectorDPI:         "DPI",
	ConnectorWriteback:   "Writeback",
	ConnectorSPI:         "SPI",
	ConnectorUSB:         "USB",
}

// ConnectorTypeName returns the kernel name of a connector type.
func ConnectorTypeName(typ uint32) string {
	if int(typ) < len(connectorTypeNames) {
		return connectorTypeNames[typ]
	}
	return "Unknown"
}

// ConnectorName builds the usual "<TYPE>-<id>" name, e.g. "HDMI-A-1".
func ConnectorName(typ, typeID uint32) string {
	return fmt.Sprintf("%s-%d", ConnectorTypeName(typ), typeID)
}

// Name of the connector, e.g. "DP-2".
func (c *Connector) Name() string {
	return ConnectorName(c.Type, c.TypeID)
}

// IsInternalPanel reports connector types that are built in panels.
func IsInternalPanel(typ uint32) bool {
	switch typ {
	case ConnectorLVDS, ConnectorEDP, ConnectorDSI, ConnectorDPI:
		return true
	}
	return false
}

func ConnectionName(c uint8) string {
	switch c {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}
