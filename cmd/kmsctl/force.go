package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newForceCmd() *cobra.Command {
	var hold time.Duration
	cmd := &cobra.Command{
		Use:   "force <connector> <on|on-digital|off|detect>",
		Short: "Force a connector state for a while, then restore detection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(false)
			if err != nil {
				return err
			}
			defer s.Close()

			o := s.d.Output(args[0])
			if o == nil {
				return fmt.Errorf("no connector named %q", args[0])
			}
			if err := s.d.ForceConnector(o, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s forced %s, connected: %v\n", o, args[1], o.Connected())

			if hold > 0 {
				select {
				case <-cmd.Context().Done():
				case <-time.After(hold):
				}
			}
			n := s.d.ResetConnectors()
			log.Info().Str("output", o.Name).Int("failed", n).Msg("connector detection restored")
			return nil
		},
	}
	cmd.Flags().DurationVar(&hold, "hold", 10*time.Second, "how long to keep the state forced")
	return cmd
}
