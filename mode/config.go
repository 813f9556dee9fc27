package mode

import (
	"errors"
	"fmt"
)

var ErrNoCrtc = errors.New("no suitable crtc")

// Modeset pairs a connector with the crtc and mode chosen to drive it.
type Modeset struct {
	Width, Height uint16

	Mode Info
	Conn uint32
	Crtc uint32
}

// ValidCrtcMask is the union of the possible crtcs of every encoder, as
// a bitmask of indexes into Resources.Crtcs.
func ValidCrtcMask(encoders []*Encoder) uint32 {
	var mask uint32
	for _, enc := range encoders {
		if enc != nil {
			mask |= enc.PossibleCrtcs
		}
	}
	return mask
}

// DefaultMode picks the first preferred mode, else the first mode.
func DefaultMode(modes []Info) (Info, bool) {
	if len(modes) == 0 {
		return Info{}, false
	}
	for i := range modes {
		if modes[i].Preferred() {
			return modes[i], true
		}
	}
	return modes[0], true
}

// FindCrtc returns the crtc id and index that should drive conn. The crtc
// currently bound to the connector's encoder wins when nobody else uses
// it, otherwise the first free crtc any encoder can reach.
func FindCrtc(res *Resources, conn *Connector, current *Encoder, encoders []*Encoder, used map[uint32]bool) (uint32, int, error) {
	if current != nil && current.CrtcID != 0 && !used[current.CrtcID] {
		for j, id := range res.Crtcs {
			if id == current.CrtcID {
				return id, j, nil
			}
		}
	}

	// If the connector is not currently bound to an encoder or if the
	// encoder+crtc is already used by another connector, iterate all other
	// available encoders to find a matching CRTC.
	for _, encoder := range encoders {
		if encoder == nil {
			continue
		}
		for j, crtcid := range res.Crtcs {
			if encoder.PossibleCrtcs&(1<<uint(j)) == 0 {
				continue
			}
			if !used[crtcid] {
				return crtcid, j, nil
			}
		}
	}

	return 0, -1, fmt.Errorf("connector %d: %w", conn.ID, ErrNoCrtc)
}

// NewModeset selects mode and crtc for a connected connector. It returns
// false for disconnected connectors.
func NewModeset(res *Resources, conn *Connector, current *Encoder, encoders []*Encoder, used map[uint32]bool) (Modeset, bool, error) {
	if conn.Connection != Connected {
		return Modeset{}, false, nil
	}

	mode, ok := DefaultMode(conn.Modes)
	if !ok {
		return Modeset{}, false, fmt.Errorf("no valid mode for connector %d", conn.ID)
	}

	crtc, _, err := FindCrtc(res, conn, current, encoders, used)
	if err != nil {
		return Modeset{}, false, err
	}

	return Modeset{
		Width:  mode.Hdisplay,
		Height: mode.Vdisplay,
		Mode:   mode,
		Conn:   conn.ID,
		Crtc:   crtc,
	}, true, nil
}
