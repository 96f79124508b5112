package config

import (
	"fmt"
	"io"
	"os"

	"github.com/fusekit/fusekit/internal/bridge"
	"github.com/fusekit/fusekit/pkg/logging"
)

// Logger builds a logger from the logging section. A file output is
// opened for append and stays open for the life of the process.
func (c *Config) Logger() (*logging.Logger, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("logging.format: %w", err)
	}

	var out io.Writer
	switch c.Logging.Output {
	case "stdout":
		out = os.Stdout
	case "stderr", "":
		out = os.Stderr
	default:
		f, err := os.OpenFile(c.Logging.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("logging.output: %w", err)
		}
		out = f
	}

	log := logging.New(&logging.Config{
		Level:  level,
		Output: out,
		Format: format,
	})
	for component, name := range c.Logging.Components {
		lvl, err := logging.ParseLevel(name)
		if err != nil {
			return nil, fmt.Errorf("logging.components[%s]: %w", component, err)
		}
		log.SetComponentLevel(component, lvl)
	}
	return log, nil
}

// MountOptions renders the session options string into mount options.
func (c *Config) MountOptions() (*bridge.MountOptions, error) {
	opts := bridge.NewMountOptions()
	if c.Session.Options != "" {
		if err := opts.Parse(c.Session.Options); err != nil {
			return nil, fmt.Errorf("session.options: %w", err)
		}
	}
	return opts, nil
}
