package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/weaveworks/promrus"
)

var hookOnce sync.Once

// ConfigureLogging sets up the standard logrus logger for a command line application.
func ConfigureLogging(config Config) error {
	if config.Level == "" {
		config.Level = "info"
	}
	if config.Format == "" {
		config.Format = FormatText
	}
	if err := config.validate(); err != nil {
		return err
	}
	level, _ := log.ParseLevel(strings.ToLower(config.Level))
	log.SetLevel(level)
	log.SetOutput(os.Stdout)
	if config.Format == FormatJson {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	}
	if config.Metrics {
		// promrus registers its counters globally, so the hook may only be created once per process.
		hookOnce.Do(func() {
			log.AddHook(promrus.MustNewPrometheusHook())
		})
	}
	return nil
}

// CommandLineFormatter prints only the message, for output meant to be read as-is.
type CommandLineFormatter struct{}

func (f *CommandLineFormatter) Format(entry *log.Entry) ([]byte, error) {
	return []byte(fmt.Sprintf("%s\n", entry.Message)), nil
}

// NewStreamLogger returns a logger that writes bare lines to out.
// Used to echo lines from services and the workload live.
func NewStreamLogger(out io.Writer) *log.Logger {
	return &log.Logger{
		Out:       out,
		Formatter: &CommandLineFormatter{},
		Hooks:     make(log.LevelHooks),
		Level:     log.InfoLevel,
	}
}

var NullLogger = &log.Logger{
	Out:       io.Discard,
	Formatter: new(log.TextFormatter),
	Hooks:     make(log.LevelHooks),
	Level:     log.PanicLevel,
}
