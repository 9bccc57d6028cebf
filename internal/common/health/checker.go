package health

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Checker reports whether something the harness depends on is usable.
type Checker interface {
	Check() error
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func() error

func (f CheckerFunc) Check() error {
	return f()
}

// NamedChecker prefixes failures of the wrapped checker with a name.
type NamedChecker struct {
	Name    string
	Checker Checker
}

func (c NamedChecker) Check() error {
	if err := c.Checker.Check(); err != nil {
		return errors.WithMessage(err, c.Name)
	}
	return nil
}

// WritableDirChecker checks that files can be created below Path, creating Path if needed.
type WritableDirChecker struct {
	Path string
}

func (c WritableDirChecker) Check() error {
	if err := os.MkdirAll(c.Path, 0o755); err != nil {
		return errors.WithStack(err)
	}
	probe := filepath.Join(c.Path, fmt.Sprintf(".probe-%s", uuid.NewString()))
	f, err := os.Create(probe)
	if err != nil {
		return errors.WithStack(err)
	}
	_ = f.Close()
	return errors.WithStack(os.Remove(probe))
}
