package kms

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Event types delivered on the device file.
const (
	EventVBlank        = 0x01
	EventFlipComplete  = 0x02
	EventCrtcSequence  = 0x03
	EventReadBufferLen = 4096

	eventHeaderLen = 8
	vblankEventLen = 32
)

var ErrShortEvent = errors.New("truncated drm event")

// Event is a decoded struct drm_event. VBlank and flip completions fill
// UserData, Sec, Usec, Sequence and CrtcID; crtc sequence events fill
// UserData, TimeNs and Sequence.
type Event struct {
	Type     uint32
	Length   uint32
	UserData uint64
	Sec      uint32
	Usec     uint32
	TimeNs   int64
	Sequence uint64
	CrtcID   uint32
}

// ParseEvents decodes every event packed in buf, as returned by a read on
// the device file.
func ParseEvents(buf []byte) ([]Event, error) {
	var events []Event
	for i := 0; i < len(buf); {
		if len(buf)-i < eventHeaderLen {
			return events, ErrShortEvent
		}
		ev := Event{
			Type:   binary.NativeEndian.Uint32(buf[i:]),
			Length: binary.NativeEndian.Uint32(buf[i+4:]),
		}
		if ev.Length < eventHeaderLen || i+int(ev.Length) > len(buf) {
			return events, fmt.Errorf("event type %d length %d at %d: %w",
				ev.Type, ev.Length, i, ErrShortEvent)
		}
		body := buf[i : i+int(ev.Length)]

		switch ev.Type {
		case EventVBlank, EventFlipComplete:
			if len(body) >= vblankEventLen {
				ev.UserData = binary.NativeEndian.Uint64(body[8:])
				ev.Sec = binary.NativeEndian.Uint32(body[16:])
				ev.Usec = binary.NativeEndian.Uint32(body[20:])
				ev.Sequence = uint64(binary.NativeEndian.Uint32(body[24:]))
				ev.CrtcID = binary.NativeEndian.Uint32(body[28:])
			}
		case EventCrtcSequence:
			if len(body) >= 32 {
				ev.UserData = binary.NativeEndian.Uint64(body[8:])
				ev.TimeNs = int64(binary.NativeEndian.Uint64(body[16:]))
				ev.Sequence = binary.NativeEndian.Uint64(body[24:])
			}
		}

		events = append(events, ev)
		i += int(ev.Length)
	}
	return events, nil
}

// ReadEvents performs one read of up to EventReadBufferLen bytes and
// decodes it. It blocks when nothing is queued.
func ReadEvents(fd uintptr) ([]Event, error) {
	var buf [EventReadBufferLen]byte
	n, err := unix.Read(int(fd), buf[:])
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	if n <= 0 {
		return nil, fmt.Errorf("read events: %w", ErrShortEvent)
	}
	return ParseEvents(buf[:n])
}
