package display

import (
	"fmt"
	"time"

	"github.com/NeowayLabs/kms"
	"github.com/NeowayLabs/kms/mode"
)

// DropEvents reads and discards every queued event without blocking and
// returns how many were dropped.
func (d *Display) DropEvents() int {
	n := 0
	for {
		pending, err := d.dev.EventPending()
		if err != nil {
			d.log.Warn().Err(err).Msg("poll events")
			return n
		}
		if !pending {
			return n
		}
		events, err := d.dev.ReadEvents()
		for _, ev := range events {
			d.log.Info().Uint32("type", ev.Type).Uint32("length", ev.Length).Msg("dropping event")
			n++
		}
		if err != nil {
			d.log.Warn().Err(err).Msg("read events")
			return n
		}
	}
}

// WaitForVBlankCount blocks until count vblanks passed on the crtc at
// crtcOffset. Errors go to the fatal handler.
func (d *Display) WaitForVBlankCount(crtcOffset int, count uint32) error {
	typ := uint32(kms.VBlankRelative) | kms.VBlankPipeFlag(crtcOffset)
	if _, err := d.dev.WaitVBlank(typ, count); err != nil {
		return d.fail(fmt.Errorf("wait %d vblanks on crtc %d: %w", count, crtcOffset, err))
	}
	return nil
}

// WaitForVBlank waits for the next vblank of p.
func (d *Display) WaitForVBlank(p *Pipe) error {
	return d.WaitForVBlankCount(p.CrtcOffset, 1)
}

// PageFlip queues a flip of p to fb. token comes back in the completion
// event when flags has mode.PageFlipEvent.
func (d *Display) PageFlip(p *Pipe, fb uint32, flags uint32, token uint64) error {
	d.log.Debug().Str("pipe", p.Name()).Uint32("fb", fb).Uint32("flags", flags).
		Uint64("token", token).Msg("page flip")
	if err := d.dev.PageFlip(p.CrtcID, fb, flags, token); err != nil {
		return fmt.Errorf("page flip pipe %s: %w", p.Name(), err)
	}
	return nil
}

// WaitForFlips waits for every request tracked by c, with the configured
// flip timeout. Errors go to the fatal handler.
func (d *Display) WaitForFlips(c *Correlator) error {
	return d.fail(c.Wait(d.flipTimeout))
}

// FlipRequest is one flip spanning one or more pipes. Each pipe completes
// with its own event; the event of the first pipe is tagged primary and
// kept as the timestamp of the whole request.
type FlipRequest struct {
	Pipes []*Pipe
	// Received counts completion events so far.
	Received int
	// Event is the last primary completion.
	Event kms.Event

	id uint64
}

// Token is the event user data for the pipe flagged primary or not.
func (r *FlipRequest) Token(primary bool) uint64 {
	t := r.id << 1
	if primary {
		t |= 1
	}
	return t
}

func (r *FlipRequest) Done() bool {
	return r.Received >= len(r.Pipes)
}

// Correlator matches completion events back to the requests that asked
// for them.
type Correlator struct {
	d       *Display
	next    uint64
	pending map[uint64]*FlipRequest
}

func (d *Display) NewCorrelator() *Correlator {
	return &Correlator{d: d, pending: make(map[uint64]*FlipRequest)}
}

// Track registers a request expecting one event per pipe.
func (c *Correlator) Track(pipes ...*Pipe) *FlipRequest {
	c.next++
	r := &FlipRequest{Pipes: pipes, id: c.next}
	c.pending[r.id] = r
	return r
}

// Outstanding is the number of requests still waiting for events.
func (c *Correlator) Outstanding() int {
	return len(c.pending)
}

// PageFlip flips every pipe of r to fb, asking for completion events.
// Nothing else is flipped once a pipe fails.
func (c *Correlator) PageFlip(r *FlipRequest, fb uint32, flags uint32) error {
	for n, p := range r.Pipes {
		if err := c.d.PageFlip(p, fb, flags|mode.PageFlipEvent, r.Token(n == 0)); err != nil {
			return err
		}
	}
	return nil
}

// Handle dispatches events to their requests and returns how many
// matched. Completed requests stop being tracked.
func (c *Correlator) Handle(events []kms.Event) int {
	matched := 0
	for _, ev := range events {
		if ev.Type != kms.EventFlipComplete && ev.Type != kms.EventVBlank {
			c.d.log.Debug().Uint32("type", ev.Type).Msg("ignoring event")
			continue
		}
		r, ok := c.pending[ev.UserData>>1]
		if !ok {
			c.d.log.Debug().Uint64("token", ev.UserData).Uint32("crtc", ev.CrtcID).Msg("unmatched event")
			continue
		}
		matched++
		r.Received++
		if ev.UserData&1 != 0 {
			r.Event = ev
		}
		if r.Done() {
			delete(c.pending, r.id)
		}
	}
	return matched
}

// Wait reads events until no request is outstanding. It fails with
// ErrFlipTimeout when timeout expires first.
func (c *Correlator) Wait(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for len(c.pending) > 0 {
		left := time.Until(deadline)
		if left <= 0 {
			return fmt.Errorf("%d requests after %v: %w", len(c.pending), timeout, ErrFlipTimeout)
		}
		ready, err := c.d.dev.WaitEvent(left)
		if err != nil {
			return err
		}
		if !ready {
			return fmt.Errorf("%d requests after %v: %w", len(c.pending), timeout, ErrFlipTimeout)
		}
		events, err := c.d.dev.ReadEvents()
		c.Handle(events)
		if err != nil {
			return err
		}
	}
	return nil
}
