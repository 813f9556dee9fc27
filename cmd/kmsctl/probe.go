package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/NeowayLabs/kms"
	"github.com/NeowayLabs/kms/display"
	"github.com/NeowayLabs/kms/mode"
)

func newProbeCmd() *cobra.Command {
	var dump bool
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "List pipes, planes and outputs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(false)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			if v, err := kms.GetVersion(s.file); err == nil {
				fmt.Fprintf(out, "driver %s %d.%d.%d (%s)\n", v.Name, v.Major, v.Minor, v.Patch, v.Desc)
			}
			printDisplay(out, s.d)
			if dump {
				cfg := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, DisableMethods: true}
				for _, o := range s.d.Outputs() {
					fmt.Fprintf(out, "\n%s modes:\n", o)
					cfg.Fdump(out, o.Modes)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dump, "dump", false, "dump the raw mode lines of every output")
	return cmd
}

func printDisplay(w io.Writer, d *display.Display) {
	fmt.Fprintf(w, "atomic: %v, cursor planes: %v\n", d.IsAtomic(), d.HasCursorPlane())
	for _, p := range d.Pipes() {
		state := "enabled"
		if !p.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(w, "pipe %s crtc %d %s\n", p.Name(), p.CrtcID, state)
		for _, pl := range p.Planes() {
			fmt.Fprintf(w, "  plane %d %-7s %s\n", pl.Index, pl.Type, formatList(pl.Formats))
		}
	}
	for _, o := range d.Outputs() {
		conn := "disconnected"
		if o.Connected() {
			conn = "connected"
		}
		m := o.DefaultMode()
		fmt.Fprintf(w, "output %s id %d %s pipes %#x default %s\n", o, o.ID, conn, o.ValidPipes, m.String())
	}
}

func formatList(fms []mode.FormatModifier) string {
	names := make([]string, 0, len(fms))
	seen := make(map[uint32]bool)
	for _, fm := range fms {
		if seen[fm.Format] {
			continue
		}
		seen[fm.Format] = true
		names = append(names, mode.FormatName(fm.Format))
	}
	return strings.Join(names, ",")
}

func newAssignCmd() *cobra.Command {
	var simple bool
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Show the output to pipe assignment for the connected outputs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(false)
			if err != nil {
				return err
			}
			defer s.Close()

			if simple {
				return printSimple(cmd.OutOrStdout(), s.file)
			}
			if _, err := assignPipes(s.d); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, o := range s.d.ConnectedOutputs() {
				if o.Pipe() == nil {
					fmt.Fprintf(out, "%s -> unassigned\n", o)
					continue
				}
				m := o.Mode()
				fmt.Fprintf(out, "%s -> pipe %s (%s)\n", o, o.Pipe().Name(), m.String())
			}
			if !s.d.OutputComboValid() {
				fmt.Fprintln(out, "warning: assignment does not satisfy the pipe constraints")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&simple, "simple", false, "use first fit crtc matching on the raw resources instead")
	return cmd
}

// printSimple matches connectors to crtcs in kernel order, keeping the
// crtc an encoder is already bound to when it is free.
func printSimple(w io.Writer, file *os.File) error {
	res, err := mode.GetResources(file)
	if err != nil {
		return err
	}
	used := make(map[uint32]bool)
	for _, id := range res.Connectors {
		conn, err := mode.GetConnectorCurrent(file, id)
		if err != nil {
			return err
		}
		var current *mode.Encoder
		if conn.EncoderID != 0 {
			current, _ = mode.GetEncoder(file, conn.EncoderID)
		}
		encoders := make([]*mode.Encoder, 0, len(conn.Encoders))
		for _, eid := range conn.Encoders {
			if enc, err := mode.GetEncoder(file, eid); err == nil {
				encoders = append(encoders, enc)
			}
		}

		mset, ok, err := mode.NewModeset(res, conn, current, encoders, used)
		if err != nil {
			fmt.Fprintf(w, "%s -> %v\n", conn.Name(), err)
			continue
		}
		if !ok {
			continue
		}
		used[mset.Crtc] = true
		fmt.Fprintf(w, "%s -> crtc %d (%dx%d)\n", conn.Name(), mset.Crtc, mset.Width, mset.Height)
	}
	return nil
}

// assignPipes applies the automatic assignment and returns the outputs
// indexed by pipe, nil for idle pipes.
func assignPipes(d *display.Display) ([]*display.Output, error) {
	chosen := d.PopulateOutputs()
	for i, o := range chosen {
		if o == nil {
			continue
		}
		if err := o.SetPipe(i); err != nil {
			return nil, fmt.Errorf("%s on pipe %s: %w", o, display.PipeName(i), err)
		}
	}
	return chosen, nil
}
