// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package artifact retrieves execution artifacts (playbooks, variable
// files, private key material) from S3 object storage.
package artifact

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	internallog "github.com/tombee/gantry/internal/log"
	gantryerrors "github.com/tombee/gantry/pkg/errors"
)

// ObjectStore is the subset of the S3 API the fetcher depends on.
// *s3.Client satisfies it; tests substitute a fake.
type ObjectStore interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// FetchRecorder receives fetch outcomes for metrics. Optional.
type FetchRecorder interface {
	RecordArtifactFetch(ctx context.Context, outcome string)
}

// Config contains configuration for the artifact fetcher.
type Config struct {
	// Bucket is the S3 bucket holding all artifacts.
	Bucket string

	// Prefix is an optional key prefix applied to every lookup.
	Prefix string

	// Region overrides the SDK's default region resolution when non-empty.
	Region string
}

// Fetcher downloads artifacts from object storage into local files.
type Fetcher struct {
	store   ObjectStore
	bucket  string
	prefix  string
	logger  *slog.Logger
	metrics FetchRecorder
}

// New creates a Fetcher backed by a real S3 client using the default
// AWS credential chain.
func New(ctx context.Context, cfg Config) (*Fetcher, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, &gantryerrors.InfrastructureError{
			Op:    "load AWS configuration",
			Cause: err,
		}
	}

	return NewWithStore(s3.NewFromConfig(awsCfg), cfg), nil
}

// NewWithStore creates a Fetcher over an explicit object store.
// Used directly by tests.
func NewWithStore(store ObjectStore, cfg Config) *Fetcher {
	logger := internallog.WithComponent(internallog.New(internallog.FromEnv()), "artifact_fetcher")

	return &Fetcher{
		store:  store,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger,
	}
}

// SetMetrics sets the fetch outcome recorder.
func (f *Fetcher) SetMetrics(m FetchRecorder) {
	f.metrics = m
}

// JoinPrefix joins an optional key prefix to a key with exactly one
// separator. An empty prefix yields the key unchanged.
func JoinPrefix(prefix, key string) string {
	key = strings.TrimPrefix(key, "/")
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// Fetch downloads one object to destPath. The file is written via a
// temporary sibling and renamed into place, so a failed transfer never
// leaves a partial file and never clobbers a previous successful fetch.
func (f *Fetcher) Fetch(ctx context.Context, key, destPath string) error {
	return f.fetch(ctx, key, destPath, 0o644)
}

// FetchSecret downloads secret material to destPath with mode 0600. The
// restricted mode is applied to the temporary file before any bytes are
// written, so the content is never observable with wider permissions.
func (f *Fetcher) FetchSecret(ctx context.Context, key, destPath string) error {
	return f.fetch(ctx, key, destPath, 0o600)
}

func (f *Fetcher) fetch(ctx context.Context, key, destPath string, mode os.FileMode) error {
	fullKey := JoinPrefix(f.prefix, key)

	out, err := f.store.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		f.record(ctx, "error")
		return f.classify(fullKey, err)
	}
	defer out.Body.Close()

	tmp, err := os.OpenFile(destPath+".part", os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		f.record(ctx, "error")
		return &gantryerrors.InfrastructureError{
			Op:    "create artifact file",
			Cause: err,
		}
	}

	if _, err := io.Copy(tmp, out.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		f.record(ctx, "error")
		return &gantryerrors.ArtifactFetchError{
			Bucket: f.bucket,
			Key:    fullKey,
			Cause:  err,
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		f.record(ctx, "error")
		return &gantryerrors.InfrastructureError{
			Op:    "write artifact file",
			Cause: err,
		}
	}

	if err := os.Rename(tmp.Name(), destPath); err != nil {
		os.Remove(tmp.Name())
		f.record(ctx, "error")
		return &gantryerrors.InfrastructureError{
			Op:    "place artifact file",
			Cause: err,
		}
	}

	f.logger.Debug("fetched artifact",
		slog.String(internallog.BucketKey, f.bucket),
		slog.String(internallog.KeyKey, fullKey),
		slog.String("dest", filepath.Base(destPath)),
	)
	f.record(ctx, "success")
	return nil
}

// ListPlaybooks lists playbook basenames under keyPrefix, sorted.
// Only .yml/.yaml objects are returned.
func (f *Fetcher) ListPlaybooks(ctx context.Context, keyPrefix string) ([]string, error) {
	fullPrefix := JoinPrefix(f.prefix, keyPrefix)
	if fullPrefix != "" && !strings.HasSuffix(fullPrefix, "/") {
		fullPrefix += "/"
	}

	var names []string
	var continuation *string
	for {
		out, err := f.store.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(f.bucket),
			Prefix:            aws.String(fullPrefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, &gantryerrors.ArtifactFetchError{
				Bucket: f.bucket,
				Key:    fullPrefix,
				Cause:  err,
			}
		}

		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			name := strings.TrimPrefix(*obj.Key, fullPrefix)
			if strings.Contains(name, "/") {
				// Skip nested objects; only direct children are playbooks.
				continue
			}
			if strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml") {
				names = append(names, name)
			}
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuation = out.NextContinuationToken
	}

	sort.Strings(names)
	return names, nil
}

// classify maps an S3 error to the artifact error taxonomy.
func (f *Fetcher) classify(key string, err error) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return &gantryerrors.ArtifactNotFoundError{
			Bucket: f.bucket,
			Key:    key,
		}
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return &gantryerrors.ArtifactNotFoundError{
			Bucket: f.bucket,
			Key:    key,
		}
	}
	return &gantryerrors.ArtifactFetchError{
		Bucket: f.bucket,
		Key:    key,
		Cause:  err,
	}
}

func (f *Fetcher) record(ctx context.Context, outcome string) {
	if f.metrics != nil {
		f.metrics.RecordArtifactFetch(ctx, outcome)
	}
}
