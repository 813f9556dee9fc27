package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/NeowayLabs/kms/display"
	"github.com/NeowayLabs/kms/mode"
)

type modesetFlags struct {
	style string
	color string
	hold  time.Duration
}

func (f *modesetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.style, "style", "atomic", "commit style: legacy, universal or atomic")
	cmd.Flags().StringVar(&f.color, "color", "0x2060a0", "XRGB8888 fill color")
	cmd.Flags().DurationVar(&f.hold, "hold", 5*time.Second, "how long to keep the outputs lit")
}

// scanout is the pair of buffers shown on one pipe.
type scanout struct {
	pipe  *display.Pipe
	front int
	bufs  [2]*mode.DumbBuffer
}

func (s *scanout) back() *mode.DumbBuffer {
	return s.bufs[s.front^1]
}

func framebuffer(b *mode.DumbBuffer) *display.Framebuffer {
	return &display.Framebuffer{
		ID:     b.ID,
		Handle: b.Handle,
		Width:  b.Width,
		Height: b.Height,
		Format: mode.FormatXRGB8888,
	}
}

// light assigns pipes to every connected output and shows a filled
// buffer on each of them.
func light(s *session, style display.CommitStyle, color uint32) ([]*scanout, error) {
	chosen, err := assignPipes(s.d)
	if err != nil {
		return nil, err
	}

	var outs []*scanout
	for i, o := range chosen {
		if o == nil {
			continue
		}
		m := o.Mode()
		so := &scanout{pipe: s.d.Pipe(i)}
		for n := range so.bufs {
			b, err := mode.NewDumbBuffer(s.file, m.Hdisplay, m.Vdisplay)
			if err != nil {
				destroy(append(outs, so))
				return nil, fmt.Errorf("buffer for %s: %w", o, err)
			}
			b.Fill(color)
			so.bufs[n] = b
		}
		so.pipe.Primary().SetFB(framebuffer(so.bufs[0]))
		outs = append(outs, so)
		log.Info().Str("output", o.Name).Str("pipe", so.pipe.Name()).
			Str("mode", m.String()).Msg("lighting output")
	}
	if len(outs) == 0 {
		return nil, errors.New("no connected output could be assigned a pipe")
	}

	if err := s.d.TryCommit2(style); err != nil {
		destroy(outs)
		return nil, fmt.Errorf("%s commit: %w", style, err)
	}
	return outs, nil
}

// darken turns everything off again and releases the buffers.
func darken(s *session, style display.CommitStyle, outs []*scanout) {
	s.d.Reset()
	if err := s.d.TryCommit2(style); err != nil {
		log.Warn().Err(err).Msg("disable outputs")
	}
	destroy(outs)
}

func destroy(outs []*scanout) {
	for _, so := range outs {
		for _, b := range so.bufs {
			if b == nil {
				continue
			}
			if err := b.Destroy(); err != nil {
				log.Warn().Err(err).Uint32("fb", b.ID).Msg("destroy buffer")
			}
		}
	}
}

func newModesetCmd() *cobra.Command {
	var f modesetFlags
	cmd := &cobra.Command{
		Use:   "modeset",
		Short: "Light every connected output with a solid color",
		RunE: func(cmd *cobra.Command, _ []string) error {
			style, err := parseStyle(f.style)
			if err != nil {
				return err
			}
			color, err := strconv.ParseUint(f.color, 0, 32)
			if err != nil {
				return fmt.Errorf("color %q: %w", f.color, err)
			}

			s, err := openSession(true)
			if err != nil {
				return err
			}
			defer s.Close()

			outs, err := light(s, style, uint32(color))
			if err != nil {
				return err
			}
			defer darken(s, style, outs)

			select {
			case <-cmd.Context().Done():
			case <-time.After(f.hold):
			}
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newFlipCmd() *cobra.Command {
	var (
		f      modesetFlags
		frames int
	)
	cmd := &cobra.Command{
		Use:   "flip",
		Short: "Page flip every lit output between two buffers, cycling colors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			style, err := parseStyle(f.style)
			if err != nil {
				return err
			}
			s, err := openSession(true)
			if err != nil {
				return err
			}
			defer s.Close()

			outs, err := light(s, style, 0)
			if err != nil {
				return err
			}
			defer darken(s, style, outs)

			var (
				r, g, b       uint8
				rUp, gUp, bUp = true, true, true
			)
			start := time.Now()
			for i := 0; i < frames; i++ {
				if cmd.Context().Err() != nil {
					break
				}
				r = nextColor(&rUp, r, 20)
				g = nextColor(&gUp, g, 10)
				b = nextColor(&bUp, b, 5)
				color := uint32(r)<<16 | uint32(g)<<8 | uint32(b)

				if err := flip(s.d, style, outs, color); err != nil {
					return err
				}
			}
			elapsed := time.Since(start)
			log.Info().Int("frames", frames).Dur("elapsed", elapsed).
				Float64("fps", float64(frames)/elapsed.Seconds()).Msg("flips done")
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().IntVar(&frames, "frames", 120, "number of flips per output")
	return cmd
}

// flip paints the back buffers and shows them, waiting for every pipe to
// complete.
func flip(d *display.Display, style display.CommitStyle, outs []*scanout, color uint32) error {
	c := d.NewCorrelator()
	pipes := make([]*display.Pipe, 0, len(outs))
	for _, so := range outs {
		so.back().Fill(color)
		pipes = append(pipes, so.pipe)
	}

	if style == display.CommitAtomic {
		req := c.Track(pipes...)
		for _, so := range outs {
			so.pipe.Primary().SetFB(framebuffer(so.back()))
		}
		if err := d.TryCommitAtomic(mode.PageFlipEvent|mode.AtomicNonblock, req.Token(true)); err != nil {
			return err
		}
	} else {
		for _, so := range outs {
			req := c.Track(so.pipe)
			if err := c.PageFlip(req, so.back().ID, 0); err != nil {
				return err
			}
		}
	}

	if err := d.WaitForFlips(c); err != nil {
		return err
	}
	for _, so := range outs {
		so.front ^= 1
	}
	return nil
}

func nextColor(up *bool, cur uint8, mod int) uint8 {
	next := int(cur)
	if *up {
		next += mod
	} else {
		next -= mod
	}
	if next >= 0xff {
		*up = false
		next = 0xff
	} else if next <= 0 {
		*up = true
		next = 0
	}
	return uint8(next)
}
