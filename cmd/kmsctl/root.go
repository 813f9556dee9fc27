package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/NeowayLabs/kms/internal/connattr"
)

var Fatal = FatalErrorHandler

type globalFlags struct {
	card     int
	logLevel string
}

var flags globalFlags

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "kmsctl",
		Short:         "Probe and program DRM/KMS displays",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().IntVar(&flags.card, "card", -1, "card number (env: KMS_CARD)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (env: KMS_LOG_LEVEL)")

	rootCmd.AddCommand(newProbeCmd())
	rootCmd.AddCommand(newAssignCmd())
	rootCmd.AddCommand(newModesetCmd())
	rootCmd.AddCommand(newFlipCmd())
	rootCmd.AddCommand(newForceCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func Execute() {
	rootCmd := NewRootCmd()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCmd.SetContext(ctx)
	rootCmd.SetOut(os.Stdout)

	err := rootCmd.Execute()
	// forced connectors must not outlive the process
	if n := connattr.Default.RestoreAll(); n > 0 {
		fmt.Fprintf(os.Stderr, "%d connector attributes could not be restored\n", n)
	}
	if err != nil {
		stop()
		Fatal(rootCmd, err.Error(), 1)
	}
}

func FatalErrorHandler(cmd *cobra.Command, msg string, code int) {
	if len(msg) > 0 {
		if !strings.HasSuffix(msg, "\n") {
			msg += "\n"
		}
		cmd.PrintErr(msg)
	}
	os.Exit(code)
}
