package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/NeowayLabs/kms"
	"github.com/NeowayLabs/kms/display"
	"github.com/NeowayLabs/kms/internal/config"
	"github.com/NeowayLabs/kms/internal/debugfs"
)

// session is an open card with its probed display.
type session struct {
	cfg  config.Config
	file *os.File
	fs   *debugfs.FS
	d    *display.Display
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if flags.card >= 0 {
		cfg.Card = flags.card
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	return cfg, nil
}

func openSession(master bool) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	file, err := kms.OpenCard(cfg.Card)
	if err != nil {
		return nil, fmt.Errorf("open card %d: %w", cfg.Card, err)
	}
	if master {
		if err := kms.SetMaster(file); err != nil {
			log.Warn().Err(err).Msg("not drm master, modesets will fail")
		}
	}

	s := &session{cfg: cfg, file: file}
	opts := []display.Option{
		display.WithLogger(log.Logger.With().Int("card", cfg.Card).Logger()),
		display.WithFatalHandler(func(err error) {
			log.Error().Err(err).Msg("display failure")
		}),
	}

	fs, err := debugfs.New(file, cfg.DebugfsRoot, cfg.SysfsRoot)
	if err != nil {
		log.Debug().Err(err).Msg("debugfs unavailable")
	} else {
		s.fs = fs
		opts = append(opts, display.WithDebugfs(fs))
	}

	limits, err := cfg.Joiner.Resolve()
	if err != nil {
		file.Close()
		return nil, err
	}
	if limits.MaxDotclock == 0 && s.fs != nil {
		if clk, err := s.fs.MaxDotclock(); err == nil {
			limits.MaxDotclock = clk
		}
	}
	opts = append(opts, display.WithConfig(cfg, limits))

	s.d, err = display.New(display.NewDevice(file), opts...)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("probe card %d: %w", cfg.Card, err)
	}
	return s, nil
}

func (s *session) Close() {
	if n := s.d.ResetConnectors(); n > 0 {
		log.Warn().Int("failed", n).Msg("connector reset incomplete")
	}
	if err := s.file.Close(); err != nil {
		log.Warn().Err(err).Msg("close card")
	}
}

func parseStyle(s string) (display.CommitStyle, error) {
	for _, style := range []display.CommitStyle{display.CommitLegacy, display.CommitUniversal, display.CommitAtomic} {
		if style.String() == s {
			return style, nil
		}
	}
	return 0, fmt.Errorf("unknown commit style %q", s)
}
