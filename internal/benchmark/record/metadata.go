package record

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
)

const (
	MetadataFile         = "benchmark-metadata.json"
	ExecutionSummaryFile = "execution-summary.json"

	NoTag              = "no-tag"
	UnknownArtifact    = "unknown"
	DefaultTestType    = "Performance Benchmark"
	DefaultMetricsNote = "Spring Boot Actuator /actuator/prometheus"
)

// Metadata identifies a run. Image, Revision, Iterations and WarmupIterations are required;
// an empty Tag is recorded as "no-tag".
type Metadata struct {
	Image            string
	Revision         string
	Tag              string
	Iterations       *int
	WarmupIterations *int
	Generated        time.Time
	// Defaults to "Performance Benchmark"
	TestType string
	// Where the metrics were read from. Defaults to the Spring Boot actuator endpoint.
	MetricsSource string
}

// Validate reports the first missing required field.
func (m Metadata) Validate() error {
	switch {
	case m.Image == "":
		return errors.WithStack(&harnesserrors.ErrMissingConfiguration{Name: "image"})
	case m.Revision == "":
		return errors.WithStack(&harnesserrors.ErrMissingConfiguration{Name: "revision"})
	case m.Iterations == nil:
		return errors.WithStack(&harnesserrors.ErrMissingConfiguration{Name: "workload.iterations"})
	case m.WarmupIterations == nil:
		return errors.WithStack(&harnesserrors.ErrMissingConfiguration{Name: "workload.warmupIterations"})
	}
	return nil
}

// ArtifactName derives the application name from an image reference of the form
// <registry-or-owner>/<name>[:<tag>]. References without a '/' yield "unknown".
func ArtifactName(image string) string {
	parts := strings.Split(image, "/")
	if len(parts) < 2 {
		return UnknownArtifact
	}
	return strings.Split(parts[1], ":")[0]
}

// Identity is written to data/benchmark-metadata.json.
type Identity struct {
	ArtifactName  string `json:"artifactName"`
	GitCommitHash string `json:"gitCommitHash"`
	Tag           string `json:"tag"`
	DockerImage   string `json:"dockerImage"`
	Generated     string `json:"generated"`
	Test          string `json:"test"`
}

// ExecutionSummary is written to data/execution-summary.json. Response time and request totals are
// left for the reporting scripts, which derive them from the captured telemetry.
type ExecutionSummary struct {
	ExecutionTime       string  `json:"executionTime"`
	TestType            string  `json:"testType"`
	Source              string  `json:"source"`
	ArtifactName        string  `json:"artifactName"`
	GitCommitHash       string  `json:"gitCommitHash"`
	DockerImage         string  `json:"dockerImage"`
	AverageResponseTime float64 `json:"averageResponseTime"`
	TotalRequests       int     `json:"totalRequests"`
	TotalIterations     int     `json:"totalIterations"`
	WarmupIterations    int     `json:"warmupIterations"`
	RealIterations      int     `json:"realIterations"`
}

func (m Metadata) documents() (Identity, ExecutionSummary) {
	generated := m.Generated
	if generated.IsZero() {
		generated = time.Now()
	}
	tag := m.Tag
	if tag == "" {
		tag = NoTag
	}
	testType := m.TestType
	if testType == "" {
		testType = DefaultTestType
	}
	source := m.MetricsSource
	if source == "" {
		source = DefaultMetricsNote
	}
	artifact := ArtifactName(m.Image)
	timestamp := generated.Format(IsoLocalFormat)

	return Identity{
			ArtifactName:  artifact,
			GitCommitHash: m.Revision,
			Tag:           tag,
			DockerImage:   m.Image,
			Generated:     timestamp,
			Test:          testType,
		}, ExecutionSummary{
			ExecutionTime:    timestamp,
			TestType:         testType,
			Source:           source,
			ArtifactName:     artifact,
			GitCommitHash:    m.Revision,
			DockerImage:      m.Image,
			TotalIterations:  *m.Iterations + *m.WarmupIterations,
			WarmupIterations: *m.WarmupIterations,
			RealIterations:   *m.Iterations,
		}
}

// WriteMetadata writes the identity and execution summary documents into runDir/data.
func (w *Writer) WriteMetadata(runDir string, m Metadata) error {
	if err := m.Validate(); err != nil {
		return err
	}
	identity, summary := m.documents()
	if err := WriteJSONFile(filepath.Join(runDir, DataDir, MetadataFile), identity); err != nil {
		return errors.WithMessage(err, "error writing run metadata")
	}
	if err := WriteJSONFile(filepath.Join(runDir, DataDir, ExecutionSummaryFile), summary); err != nil {
		return errors.WithMessage(err, "error writing execution summary")
	}
	return nil
}
