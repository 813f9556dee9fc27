package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Card        int    `envconfig:"KMS_CARD" default:"0"`
	LogLevel    string `envconfig:"KMS_LOG_LEVEL" default:"info"`
	DebugfsRoot string `envconfig:"KMS_DEBUGFS_ROOT" default:"/sys/kernel/debug"`
	SysfsRoot   string `envconfig:"KMS_SYSFS_ROOT" default:"/sys"`

	// Resolution selects the default mode: "highest"/"1", "lowest"/"0" or
	// empty for the preferred mode.
	Resolution  string        `envconfig:"KMS_RESOLUTION"`
	IgnoreHPD   bool          `envconfig:"KMS_IGNORE_HPD" default:"false"`
	FlipTimeout time.Duration `envconfig:"KMS_FLIP_TIMEOUT" default:"50ms"`

	Joiner Joiner
}

// Joiner holds the per pipe bandwidth limits. Zero values are filled from
// the limits file, then from debugfs.
type Joiner struct {
	LimitsFile     string `envconfig:"KMS_JOINER_LIMITS_FILE"`
	DisplayVersion int    `envconfig:"KMS_DISPLAY_VERSION" default:"0"`
	MaxHdisplay    int    `envconfig:"KMS_MAX_HDISPLAY_PER_PIPE" default:"0"`
	MaxDotclock    int    `envconfig:"KMS_MAX_DOTCLOCK" default:"0"`
}

func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Limits is one entry of the joiner limits file.
type Limits struct {
	MinDisplayVersion int `yaml:"min_display_version"`
	MaxHdisplay       int `yaml:"max_hdisplay"`
	MaxDotclock       int `yaml:"max_dotclock"`
}

// LimitsFile is the yaml joiner limits table:
//
//	limits:
//	  - min_display_version: 0
//	    max_hdisplay: 5120
//	  - min_display_version: 30
//	    max_hdisplay: 6144
type LimitsFile struct {
	Limits []Limits `yaml:"limits"`
}

// DefaultLimits mirrors the per pipe hdisplay limits of current hardware.
var DefaultLimits = LimitsFile{
	Limits: []Limits{
		{MinDisplayVersion: 0, MaxHdisplay: 5120},
		{MinDisplayVersion: 30, MaxHdisplay: 6144},
	},
}

func ParseLimits(data []byte) (LimitsFile, error) {
	var lf LimitsFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return LimitsFile{}, fmt.Errorf("parse joiner limits: %w", err)
	}
	return lf, nil
}

func LoadLimits(path string) (LimitsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LimitsFile{}, fmt.Errorf("read joiner limits: %w", err)
	}
	return ParseLimits(data)
}

// For returns the entry with the highest MinDisplayVersion not above
// version.
func (lf LimitsFile) For(version int) (Limits, bool) {
	var (
		best  Limits
		found bool
	)
	for _, l := range lf.Limits {
		if l.MinDisplayVersion > version {
			continue
		}
		if !found || l.MinDisplayVersion >= best.MinDisplayVersion {
			best, found = l, true
		}
	}
	return best, found
}

// Resolve merges the explicit environment limits over the limits file
// (or DefaultLimits when no file is configured).
func (j Joiner) Resolve() (Limits, error) {
	lf := DefaultLimits
	if j.LimitsFile != "" {
		var err error
		lf, err = LoadLimits(j.LimitsFile)
		if err != nil {
			return Limits{}, err
		}
	}

	l, _ := lf.For(j.DisplayVersion)
	if j.MaxHdisplay > 0 {
		l.MaxHdisplay = j.MaxHdisplay
	}
	if j.MaxDotclock > 0 {
		l.MaxDotclock = j.MaxDotclock
	}
	return l, nil
}
