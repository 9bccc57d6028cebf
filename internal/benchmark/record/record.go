// Package record lays out the run directory that is handed to the reporting scripts.
package record

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
)

const (
	DataDir      = "data"
	ReportsDir   = "reports"
	LogsDir      = "logs"
	ArtifactsDir = "artifacts"

	DefaultRoot = "results"
	DefaultKind = "ai-benchmark"

	// TimestampFormat names run directories, e.g. 2026-02-08_04-33-25
	TimestampFormat = "2006-01-02_15-04-05"
	// IsoLocalFormat is used for timestamps inside the record.
	IsoLocalFormat = "2006-01-02T15:04:05.000000"

	maxCollisionSuffix = 1000
)

var Subdirectories = []string{DataDir, ReportsDir, LogsDir, ArtifactsDir}

// FormatTimestamp renders t as used in run directory names.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampFormat)
}

type Writer struct {
	root string
	kind string
}

// NewWriter creates a writer placing runs below <root>/<kind>.
func NewWriter(root, kind string) *Writer {
	if root == "" {
		root = DefaultRoot
	}
	if kind == "" {
		kind = DefaultKind
	}
	return &Writer{root: root, kind: kind}
}

// KindDir is the directory holding all runs of this kind.
func (w *Writer) KindDir() string {
	return filepath.Join(w.root, w.kind)
}

// CreateRunDirectory creates <root>/<kind>/<revision>/<timestamp>/ and its fixed subdirectories.
// If the directory already exists a numeric suffix is appended to the timestamp, so concurrent
// runs never share a directory.
func (w *Writer) CreateRunDirectory(revision, timestamp string) (string, error) {
	if err := validatePathComponent("revision", revision); err != nil {
		return "", err
	}
	if err := validatePathComponent("timestamp", timestamp); err != nil {
		return "", err
	}
	parent := filepath.Join(w.root, w.kind, revision)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", errors.WithStack(&harnesserrors.ErrDirectoryCreation{Path: parent, Cause: err})
	}

	var runDir string
	for i := 0; ; i++ {
		name := timestamp
		if i > 0 {
			name = fmt.Sprintf("%s-%d", timestamp, i)
		}
		candidate := filepath.Join(parent, name)
		err := os.Mkdir(candidate, 0o755)
		if err == nil {
			runDir = candidate
			break
		}
		if !os.IsExist(err) || i >= maxCollisionSuffix {
			return "", errors.WithStack(&harnesserrors.ErrDirectoryCreation{Path: candidate, Cause: err})
		}
	}
	for _, sub := range Subdirectories {
		path := filepath.Join(runDir, sub)
		if err := os.Mkdir(path, 0o755); err != nil {
			return "", errors.WithStack(&harnesserrors.ErrDirectoryCreation{Path: path, Cause: err})
		}
	}
	return runDir, nil
}

func validatePathComponent(name, value string) error {
	if value == "" {
		return errors.WithStack(&harnesserrors.ErrMissingConfiguration{Name: name})
	}
	if value == "." || value == ".." || strings.ContainsAny(value, `/\`) {
		return errors.WithStack(&harnesserrors.ErrConfiguration{Name: name, Value: value, Message: "must be usable as a single directory name"})
	}
	return nil
}

// WriteJSONFile writes v as indented JSON. The file is written under a temporary name and renamed,
// so readers never observe a partial document.
func WriteJSONFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	return writeFileAtomic(path, append(data, '\n'))
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.WithStack(err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.WithStack(err)
	}
	if err := tmp.Close(); err != nil {
		return errors.WithStack(err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.Rename(tmp.Name(), path))
}

// CopyFile copies src into the run directory at runDir/sub/name.
func CopyFile(runDir, sub, name, src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer in.Close()
	dst := filepath.Join(runDir, sub, name)
	out, err := os.Create(dst)
	if err != nil {
		return "", errors.WithStack(err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return "", errors.WithStack(err)
	}
	return dst, errors.WithStack(out.Close())
}
