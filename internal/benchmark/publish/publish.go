// Package publish uploads a finished run record to an S3 compatible bucket.
package publish

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/harnesserrors"
	"github.com/EAexist/subscription-killer-api-benchmark/internal/common/runcontext"
)

type Config struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	Secure    bool
	// Prepended to every object key.
	Prefix string
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch {
	case c.Endpoint == "":
		return errors.WithStack(&harnesserrors.ErrMissingConfiguration{Name: "publish.endpoint"})
	case c.Bucket == "":
		return errors.WithStack(&harnesserrors.ErrMissingConfiguration{Name: "publish.bucket"})
	}
	return nil
}

// objectStore is the subset of *minio.Client used for uploads.
type objectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Publisher struct {
	config Config
	store  objectStore
}

func New(config Config) (*Publisher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.Secure,
		Region: config.Region,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "error creating object store client for %s", config.Endpoint)
	}
	return &Publisher{config: config, store: client}, nil
}

// ObjectKey maps a file of the run record to its key. The key mirrors the path of the file
// relative to the results root, so a bucket can be read by the same scripts as a local results directory.
func (p *Publisher) ObjectKey(root, file string) (string, error) {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return "", errors.WithStack(err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", errors.Errorf("%s is not below %s", file, root)
	}
	return path.Join(p.config.Prefix, rel), nil
}

// Publish uploads every file below runDir and returns the number of objects written.
func (p *Publisher) Publish(ctx *runcontext.Context, root, runDir string) (int, error) {
	if err := p.ensureBucket(ctx); err != nil {
		return 0, err
	}
	uploaded := 0
	err := filepath.WalkDir(runDir, func(file string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		key, err := p.ObjectKey(root, file)
		if err != nil {
			return err
		}
		opts := minio.PutObjectOptions{ContentType: contentType(file)}
		if _, err := p.store.FPutObject(ctx, p.config.Bucket, key, file, opts); err != nil {
			return errors.Wrapf(err, "error uploading %s", key)
		}
		ctx.Log.Debugf("Uploaded %s to %s/%s", file, p.config.Bucket, key)
		uploaded++
		return nil
	})
	if err != nil {
		return uploaded, errors.WithStack(err)
	}
	ctx.Log.Infof("Published %d files of %s to bucket %s", uploaded, runDir, p.config.Bucket)
	return uploaded, nil
}

func (p *Publisher) ensureBucket(ctx context.Context) error {
	exists, err := p.store.BucketExists(ctx, p.config.Bucket)
	if err != nil {
		return errors.Wrapf(err, "error checking bucket %s", p.config.Bucket)
	}
	if exists {
		return nil
	}
	err = p.store.MakeBucket(ctx, p.config.Bucket, minio.MakeBucketOptions{Region: p.config.Region})
	return errors.Wrapf(err, "error creating bucket %s", p.config.Bucket)
}

func contentType(file string) string {
	switch filepath.Ext(file) {
	case ".json":
		return "application/json"
	case ".log", ".prom", ".txt":
		return "text/plain; charset=utf-8"
	case ".csv":
		return "text/csv"
	case ".md":
		return "text/markdown"
	default:
		return "application/octet-stream"
	}
}
