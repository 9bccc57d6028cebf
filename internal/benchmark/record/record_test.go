package record

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
)

func intPtr(i int) *int { return &i }

func TestCreateRunDirectory_Layout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "results")
	w := NewWriter(root, "")

	runDir, err := w.CreateRunDirectory("abc123", "2026-02-08_04-33-25")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "ai-benchmark", "abc123", "2026-02-08_04-33-25"), runDir)
	for _, sub := range []string{"data", "reports", "logs", "artifacts"} {
		assert.DirExists(t, filepath.Join(runDir, sub))
	}
}

func TestCreateRunDirectory_DistinctTimestamps(t *testing.T) {
	w := NewWriter(t.TempDir(), "ai-benchmark")
	first, err := w.CreateRunDirectory("abc123", "2026-02-08_04-33-25")
	require.NoError(t, err)
	second, err := w.CreateRunDirectory("abc123", "2026-02-08_04-33-26")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestCreateRunDirectory_CollisionGetsSuffix(t *testing.T) {
	w := NewWriter(t.TempDir(), "ai-benchmark")
	first, err := w.CreateRunDirectory("abc123", "2026-02-08_04-33-25")
	require.NoError(t, err)
	second, err := w.CreateRunDirectory("abc123", "2026-02-08_04-33-25")
	require.NoError(t, err)
	assert.Equal(t, first+"-1", second)
}

func TestCreateRunDirectory_ConcurrentCallsNeverCollide(t *testing.T) {
	w := NewWriter(t.TempDir(), "ai-benchmark")
	const n = 20
	dirs := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			dir, err := w.CreateRunDirectory("abc123", "2026-02-08_04-33-25")
			assert.NoError(t, err)
			dirs[i] = dir
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, dir := range dirs {
		assert.False(t, seen[dir], dir)
		seen[dir] = true
	}
}

func TestCreateRunDirectory_Errors(t *testing.T) {
	w := NewWriter(t.TempDir(), "ai-benchmark")

	_, err := w.CreateRunDirectory("", "2026-02-08_04-33-25")
	var missing *harnesserrors.ErrMissingConfiguration
	assert.ErrorAs(t, err, &missing)

	_, err = w.CreateRunDirectory("../escape", "2026-02-08_04-33-25")
	var invalid *harnesserrors.ErrConfiguration
	assert.ErrorAs(t, err, &invalid)
}

func TestCreateRunDirectory_FilesystemFailure(t *testing.T) {
	root := filepath.Join(t.TempDir(), "results")
	require.NoError(t, os.WriteFile(root, []byte("not a directory"), 0o644))

	_, err := NewWriter(root, "ai-benchmark").CreateRunDirectory("abc123", "2026-02-08_04-33-25")
	var dirErr *harnesserrors.ErrDirectoryCreation
	require.ErrorAs(t, err, &dirErr)
	assert.Equal(t, harnesserrors.StageRecord, harnesserrors.StageFromError(err))
}

func TestWriteMetadata(t *testing.T) {
	w := NewWriter(t.TempDir(), "ai-benchmark")
	runDir, err := w.CreateRunDirectory("abc123", "2026-02-08_04-33-25")
	require.NoError(t, err)

	generated := time.Date(2026, 2, 8, 4, 33, 25, 123456000, time.Local)
	err = w.WriteMetadata(runDir, Metadata{
		Image:            "eaexist/subscription-killer-api:abc123",
		Revision:         "abc123",
		Iterations:       intPtr(1),
		WarmupIterations: intPtr(1),
		Generated:        generated,
	})
	require.NoError(t, err)

	var identity map[string]interface{}
	readJSON(t, filepath.Join(runDir, "data", "benchmark-metadata.json"), &identity)
	assert.Equal(t, map[string]interface{}{
		"artifactName":  "subscription-killer-api",
		"gitCommitHash": "abc123",
		"tag":           "no-tag",
		"dockerImage":   "eaexist/subscription-killer-api:abc123",
		"generated":     "2026-02-08T04:33:25.123456",
		"test":          "Performance Benchmark",
	}, identity)

	var summary map[string]interface{}
	readJSON(t, filepath.Join(runDir, "data", "execution-summary.json"), &summary)
	assert.Equal(t, map[string]interface{}{
		"executionTime":       "2026-02-08T04:33:25.123456",
		"testType":            "Performance Benchmark",
		"source":              "Spring Boot Actuator /actuator/prometheus",
		"artifactName":        "subscription-killer-api",
		"gitCommitHash":       "abc123",
		"dockerImage":         "eaexist/subscription-killer-api:abc123",
		"averageResponseTime": 0.0,
		"totalRequests":       0.0,
		"totalIterations":     2.0,
		"warmupIterations":    1.0,
		"realIterations":      1.0,
	}, summary)

	entries, err := os.ReadDir(filepath.Join(runDir, "data"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestWriteMetadata_RequiredFields(t *testing.T) {
	valid := Metadata{Image: "a/b:c", Revision: "abc", Iterations: intPtr(1), WarmupIterations: intPtr(0)}
	require.NoError(t, valid.Validate())

	tests := map[string]struct {
		mutate func(m *Metadata)
		field  string
	}{
		"image":    {mutate: func(m *Metadata) { m.Image = "" }, field: "image"},
		"revision": {mutate: func(m *Metadata) { m.Revision = "" }, field: "revision"},
		"measured": {mutate: func(m *Metadata) { m.Iterations = nil }, field: "workload.iterations"},
		"warmup":   {mutate: func(m *Metadata) { m.WarmupIterations = nil }, field: "workload.warmupIterations"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			m := valid
			tc.mutate(&m)
			runDir := t.TempDir()
			err := NewWriter(t.TempDir(), "").WriteMetadata(runDir, m)
			var missing *harnesserrors.ErrMissingConfiguration
			require.ErrorAs(t, err, &missing)
			assert.Equal(t, tc.field, missing.Name)
			assert.NoFileExists(t, filepath.Join(runDir, "data", MetadataFile))
		})
	}
}

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "subscription-killer-api", ArtifactName("eaexist/subscription-killer-api:abc123"))
	assert.Equal(t, "app", ArtifactName("owner/app"))
	assert.Equal(t, "unknown", ArtifactName("app:latest"))
}

func TestCopyFile(t *testing.T) {
	w := NewWriter(t.TempDir(), "")
	runDir, err := w.CreateRunDirectory("abc", "2026-02-08_04-33-25")
	require.NoError(t, err)
	src := filepath.Join(t.TempDir(), "out.log")
	require.NoError(t, os.WriteFile(src, []byte("test finished\n"), 0o644))

	dst, err := CopyFile(runDir, LogsDir, "workload.log", src)
	require.NoError(t, err)
	contents, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "test finished\n", string(contents))
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "2026-02-08_04-33-25", FormatTimestamp(time.Date(2026, 2, 8, 4, 33, 25, 0, time.UTC)))
}

func readJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}
