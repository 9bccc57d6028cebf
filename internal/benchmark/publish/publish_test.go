package publish

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/runcontext"
)

type stubStore struct {
	mu       sync.Mutex
	exists   bool
	made     []string
	objects  map[string]string
	putErr   error
	existErr error
}

func (s *stubStore) BucketExists(_ context.Context, _ string) (bool, error) {
	return s.exists, s.existErr
}

func (s *stubStore) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	s.made = append(s.made, bucket)
	return nil
}

func (s *stubStore) FPutObject(_ context.Context, _, key, file string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if s.putErr != nil {
		return minio.UploadInfo{}, s.putErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = map[string]string{}
	}
	s.objects[key] = opts.ContentType
	return minio.UploadInfo{Key: key}, nil
}

func runRecord(t *testing.T) (string, string) {
	root := t.TempDir()
	runDir := filepath.Join(root, "ai-benchmark", "abc123", "2026-02-08_04-33-25")
	for _, sub := range []string{"data", "reports", "logs", "artifacts"} {
		require.NoError(t, os.MkdirAll(filepath.Join(runDir, sub), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "data", "benchmark-metadata.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "logs", "workload.log"), []byte("test finished"), 0o644))
	return root, runDir
}

func TestObjectKey(t *testing.T) {
	p := &Publisher{config: Config{Prefix: "benchmarks"}}
	root := filepath.Join("results")

	key, err := p.ObjectKey(root, filepath.Join("results", "ai-benchmark", "abc123", "2026-02-08_04-33-25", "data", "raw-prometheus-metrics.json"))
	require.NoError(t, err)
	assert.Equal(t, "benchmarks/ai-benchmark/abc123/2026-02-08_04-33-25/data/raw-prometheus-metrics.json", key)

	p.config.Prefix = ""
	key, err = p.ObjectKey(root, filepath.Join("results", "ai-benchmark", "x.json"))
	require.NoError(t, err)
	assert.Equal(t, "ai-benchmark/x.json", key)

	_, err = p.ObjectKey(root, filepath.Join("elsewhere", "x.json"))
	assert.Error(t, err)
}

func TestPublish(t *testing.T) {
	root, runDir := runRecord(t)
	store := &stubStore{}
	p := &Publisher{config: Config{Enabled: true, Bucket: "runs"}, store: store}

	uploaded, err := p.Publish(runcontext.Background(), root, runDir)
	require.NoError(t, err)
	assert.Equal(t, 2, uploaded)
	assert.Equal(t, []string{"runs"}, store.made)

	keys := make([]string, 0, len(store.objects))
	for key := range store.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{
		"ai-benchmark/abc123/2026-02-08_04-33-25/data/benchmark-metadata.json",
		"ai-benchmark/abc123/2026-02-08_04-33-25/logs/workload.log",
	}, keys)
	assert.Equal(t, "application/json", store.objects["ai-benchmark/abc123/2026-02-08_04-33-25/data/benchmark-metadata.json"])
}

func TestPublish_ExistingBucketNotCreated(t *testing.T) {
	root, runDir := runRecord(t)
	store := &stubStore{exists: true}
	p := &Publisher{config: Config{Enabled: true, Bucket: "runs"}, store: store}
	_, err := p.Publish(runcontext.Background(), root, runDir)
	require.NoError(t, err)
	assert.Empty(t, store.made)
}

func TestPublish_Errors(t *testing.T) {
	root, runDir := runRecord(t)

	p := &Publisher{config: Config{Bucket: "runs"}, store: &stubStore{existErr: errors.New("connection refused")}}
	_, err := p.Publish(runcontext.Background(), root, runDir)
	assert.ErrorContains(t, err, "connection refused")

	p = &Publisher{config: Config{Bucket: "runs"}, store: &stubStore{exists: true, putErr: errors.New("access denied")}}
	uploaded, err := p.Publish(runcontext.Background(), root, runDir)
	assert.ErrorContains(t, err, "access denied")
	assert.Equal(t, 0, uploaded)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.NoError(t, Config{Enabled: true, Endpoint: "localhost:9000", Bucket: "runs"}.Validate())

	var missing *harnesserrors.ErrMissingConfiguration
	require.ErrorAs(t, Config{Enabled: true, Bucket: "runs"}.Validate(), &missing)
	assert.Equal(t, "publish.endpoint", missing.Name)
	require.ErrorAs(t, Config{Enabled: true, Endpoint: "localhost:9000"}.Validate(), &missing)
	assert.Equal(t, "publish.bucket", missing.Name)
}
