package mode

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// ModLinear is DRM_FORMAT_MOD_LINEAR.
	ModLinear = 0
	// ModInvalid is DRM_FORMAT_MOD_INVALID.
	ModInvalid = 0x00ffffffffffffff

	formatBlobHeaderLen = 24
	formatModifierLen   = 24
)

var ErrFormatBlob = errors.New("malformed format modifier blob")

// FormatModifier is one supported (fourcc format, modifier) pair.
type FormatModifier struct {
	Format   uint32
	Modifier uint64
}

// Fourcc packs a four character code.
func Fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

var (
	FormatXRGB8888 = Fourcc('X', 'R', '2', '4')
	FormatARGB8888 = Fourcc('A', 'R', '2', '4')
	FormatRGB565   = Fourcc('R', 'G', '1', '6')
	FormatNV12     = Fourcc('N', 'V', '1', '2')
)

// FormatName renders a fourcc as text, e.g. "XR24".
func FormatName(f uint32) string {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			b[i] = '?'
		}
	}
	return string(b)
}

func (fm FormatModifier) String() string {
	return fmt.Sprintf("%s:0x%x", FormatName(fm.Format), fm.Modifier)
}

// ParseFormatModifierBlob decodes struct drm_format_modifier_blob, the
// payload of the IN_FORMATS plane property. Pairs are ordered by format,
// then by modifier.
func ParseFormatModifierBlob(blob []byte) ([]FormatModifier, error) {
	if len(blob) < formatBlobHeaderLen {
		return nil, fmt.Errorf("%d byte header: %w", len(blob), ErrFormatBlob)
	}
	ne := binary.NativeEndian
	countFormats := ne.Uint32(blob[8:])
	formatsOffset := ne.Uint32(blob[12:])
	countModifiers := ne.Uint32(blob[16:])
	modifiersOffset := ne.Uint32(blob[20:])

	if uint64(formatsOffset)+uint64(countFormats)*4 > uint64(len(blob)) ||
		uint64(modifiersOffset)+uint64(countModifiers)*formatModifierLen > uint64(len(blob)) {
		return nil, fmt.Errorf("arrays past %d bytes: %w", len(blob), ErrFormatBlob)
	}

	formats := make([]uint32, countFormats)
	for i := range formats {
		formats[i] = ne.Uint32(blob[formatsOffset+uint32(i)*4:])
	}

	type modifier struct {
		formats  uint64
		offset   uint32
		modifier uint64
	}
	modifiers := make([]modifier, countModifiers)
	for i := range modifiers {
		m := blob[modifiersOffset+uint32(i)*formatModifierLen:]
		modifiers[i] = modifier{
			formats:  ne.Uint64(m[0:]),
			offset:   ne.Uint32(m[8:]),
			modifier: ne.Uint64(m[16:]),
		}
	}

	var out []FormatModifier
	for i := range formats {
		for _, m := range modifiers {
			idx := uint32(i)
			if idx < m.offset || idx >= m.offset+64 {
				continue
			}
			if m.formats&(1<<(idx-m.offset)) == 0 {
				continue
			}
			out = append(out, FormatModifier{Format: formats[i], Modifier: m.modifier})
		}
	}
	return out, nil
}

// LinearFormats pairs every format with the linear modifier, for planes
// without an IN_FORMATS property.
func LinearFormats(formats []uint32) []FormatModifier {
	out := make([]FormatModifier, 0, len(formats))
	for _, f := range formats {
		out = append(out, FormatModifier{Format: f, Modifier: ModLinear})
	}
	return out
}
