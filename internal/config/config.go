// Package config reads the rethread HCL configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/sirupsen/logrus"
)

// DefaultFile is looked up in the working directory when no file is given.
const DefaultFile = "rethread.hcl"

type Config struct {
	Store   Store
	Persist Persist
	Log     Log
	Metrics Metrics
}

type Store struct {
	Path        string
	BusyTimeout time.Duration
}

type Persist struct {
	// AtomicReplace removes nested records and inserts threads in one
	// transaction.
	AtomicReplace bool
	// LockTimeout bounds the wait for the store lock. Zero fails at once.
	LockTimeout time.Duration
}

type Log struct {
	Level  string
	Format string // text or json
}

type Metrics struct {
	// Textfile receives the metrics in Prometheus text format after each
	// command. Empty disables it.
	Textfile string
}

func Default() Config {
	return Config{
		Store:   Store{Path: "rethread.db", BusyTimeout: 5 * time.Second},
		Persist: Persist{AtomicReplace: true, LockTimeout: 30 * time.Second},
		Log:     Log{Level: "info", Format: "text"},
	}
}

// file mirrors the HCL layout. Absent blocks and attributes keep defaults.
type file struct {
	Store *struct {
		Path        *string `hcl:"path,optional"`
		BusyTimeout *string `hcl:"busy_timeout,optional"`
	} `hcl:"store,block"`
	Persist *struct {
		AtomicReplace *bool   `hcl:"atomic_replace,optional"`
		LockTimeout   *string `hcl:"lock_timeout,optional"`
	} `hcl:"persist,block"`
	Log *struct {
		Level  *string `hcl:"level,optional"`
		Format *string `hcl:"format,optional"`
	} `hcl:"log,block"`
	Metrics *struct {
		Textfile *string `hcl:"textfile,optional"`
	} `hcl:"metrics,block"`
}

// Load reads the file at path on top of Default. An empty path returns the
// defaults. A missing file is an error matching fs.ErrNotExist.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, src)
}

// Parse decodes src as HCL (or HCL-flavoured JSON when filename ends in
// .json) on top of Default.
func Parse(filename string, src []byte) (Config, error) {
	var f file
	if err := hclsimple.Decode(filename, src, nil, &f); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", filename, err)
	}

	cfg := Default()
	var result *multierror.Error
	duration := func(name string, v *string, dst *time.Duration) {
		if v == nil {
			return
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
			return
		}
		if d < 0 {
			result = multierror.Append(result, fmt.Errorf("%s: negative duration %s", name, d))
			return
		}
		*dst = d
	}

	if s := f.Store; s != nil {
		if s.Path != nil {
			cfg.Store.Path = *s.Path
		}
		duration("store.busy_timeout", s.BusyTimeout, &cfg.Store.BusyTimeout)
	}
	if p := f.Persist; p != nil {
		if p.AtomicReplace != nil {
			cfg.Persist.AtomicReplace = *p.AtomicReplace
		}
		duration("persist.lock_timeout", p.LockTimeout, &cfg.Persist.LockTimeout)
	}
	if l := f.Log; l != nil {
		if l.Level != nil {
			cfg.Log.Level = *l.Level
		}
		if l.Format != nil {
			cfg.Log.Format = *l.Format
		}
	}
	if m := f.Metrics; m != nil && m.Textfile != nil {
		cfg.Metrics.Textfile = *m.Textfile
	}

	if err := cfg.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", filename, err)
	}
	return cfg, nil
}

// Validate checks values that flags may also set.
func (c Config) Validate() error {
	var result *multierror.Error
	if c.Store.Path == "" {
		result = multierror.Append(result, fmt.Errorf("store.path: must not be empty"))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		result = multierror.Append(result, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		result = multierror.Append(result, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	return result.ErrorOrNil()
}
