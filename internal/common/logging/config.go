package logging

import (
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	FormatText = "text"
	FormatJson = "json"
)

var validLogFormats = map[string]bool{
	FormatText: true,
	FormatJson: true,
}

// Config defines harness logging configuration.
type Config struct {
	// Log level, e.g. info, debug
	Level string
	// Logging format, either text or json
	Format string
	// Count emitted log lines per level in the default prometheus registry
	Metrics bool
}

func (c Config) validate() error {
	if _, err := log.ParseLevel(strings.ToLower(c.Level)); err != nil {
		return errors.WithStack(err)
	}
	if _, ok := validLogFormats[c.Format]; !ok {
		formats := maps.Keys(validLogFormats)
		slices.Sort(formats)
		return errors.Errorf("unknown log format: %s.  Valid formats are %s", c.Format, formats)
	}
	return nil
}
