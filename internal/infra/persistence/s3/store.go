// Package s3 stores entity documents as objects in an S3-compatible bucket
// (AWS S3 or MinIO).
//
//	<prefix>/<category>/<id>.json
//	<prefix>/single/<name>.json
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/zeebo/errs"

	"modstore/internal/persistence"
	"modstore/pkg/query"
)

// ID is the catalog id of the S3 backend.
const ID = "modstore:s3"

const (
	ext         = ".json"
	singleDir   = "single"
	contentType = "application/json"
)

// Error is the class of S3 backend errors.
var Error = errs.Class("s3")

// Config holds explicit construction parameters.
type Config struct {
	Region          string
	Bucket          string
	Prefix          string
	Endpoint        string // optional; if set enables custom endpoint (e.g. MinIO)
	AccessKeyID     string // optional (falls back to default credentials chain)
	SecretAccessKey string // optional
	SessionToken    string // optional
	PathStyle       bool
}

// Factory serves every category from one bucket.
type Factory struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ persistence.Factory = (*Factory)(nil)

// New creates an S3 factory from cfg.
func New(ctx context.Context, cfg Config) (*Factory, error) {
	if cfg.Bucket == "" {
		return nil, Error.New("bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Factory{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

// ID returns the catalog id.
func (f *Factory) ID() string { return ID }

// Name returns a human-readable label.
func (f *Factory) Name() string { return "S3" }

// Bucket returns the bucket name.
func (f *Factory) Bucket() string { return f.bucket }

// KeyedRepository returns the repository for c.
func (f *Factory) KeyedRepository(c persistence.Category) (persistence.KeyedRepository, error) {
	if err := persistence.ValidateID(string(c)); err != nil || string(c) == singleDir {
		return nil, persistence.Unsupported("s3: category %s", c)
	}
	return &keyedRepo{f: f, dir: f.key(string(c)) + "/"}, nil
}

// SingleRepository returns the repository for the named record.
func (f *Factory) SingleRepository(name string) (persistence.SingleRepository, error) {
	if err := persistence.ValidateID(name); err != nil {
		return nil, err
	}
	return &singleRepo{f: f, key: f.key(singleDir, name+ext)}, nil
}

// Close releases nothing; the SDK client holds no long-lived resources.
func (f *Factory) Close() error { return nil }

func (f *Factory) key(parts ...string) string {
	if f.prefix != "" {
		parts = append([]string{f.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

func (f *Factory) get(ctx context.Context, key string) (persistence.Raw, bool, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &f.bucket, Key: &key})
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, Error.New("get %s: %v", key, err)
	}
	defer func() { _ = out.Body.Close() }()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, Error.New("read %s: %v", key, err)
	}
	return persistence.Raw(body), true, nil
}

func (f *Factory) put(ctx context.Context, key string, raw persistence.Raw) error {
	ct := contentType
	_, err := f.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &f.bucket,
		Key:         &key,
		Body:        bytes.NewReader(raw),
		ContentType: &ct,
	})
	if err != nil {
		return Error.New("put %s: %v", key, err)
	}
	return nil
}

func (f *Factory) delete(ctx context.Context, key string) error {
	_, err := f.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &f.bucket, Key: &key})
	if err != nil && !isNotFound(err) {
		return Error.New("delete %s: %v", key, err)
	}
	return nil
}

func (f *Factory) exists(ctx context.Context, key string) (bool, error) {
	_, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &f.bucket, Key: &key})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, Error.New("head %s: %v", key, err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

type keyedRepo struct {
	f   *Factory
	dir string
}

func (r *keyedRepo) objectKey(id string) (string, error) {
	if err := persistence.ValidateID(id); err != nil {
		return "", err
	}
	return r.dir + id + ext, nil
}

func (r *keyedRepo) Get(ctx context.Context, id string) (persistence.Raw, bool, error) {
	key, err := r.objectKey(id)
	if err != nil {
		return nil, false, err
	}
	return r.f.get(ctx, key)
}

func (r *keyedRepo) Set(ctx context.Context, id string, raw persistence.Raw) error {
	key, err := r.objectKey(id)
	if err != nil {
		return err
	}
	return r.f.put(ctx, key, raw)
}

func (r *keyedRepo) Delete(ctx context.Context, id string) error {
	key, err := r.objectKey(id)
	if err != nil {
		return err
	}
	return r.f.delete(ctx, key)
}

func (r *keyedRepo) Exists(ctx context.Context, id string) (bool, error) {
	key, err := r.objectKey(id)
	if err != nil {
		return false, err
	}
	return r.f.exists(ctx, key)
}

// ListIDs pages through every object under the category prefix.
func (r *keyedRepo) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	var token *string
	for {
		out, err := r.f.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &r.f.bucket,
			Prefix:            aws.String(r.dir),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, Error.New("list %s: %v", r.dir, err)
		}
		for _, obj := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), r.dir)
			if strings.Contains(name, "/") || !strings.HasSuffix(name, ext) {
				continue
			}
			ids = append(ids, strings.TrimSuffix(name, ext))
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *keyedRepo) IDs(ctx context.Context, q query.Query) ([]string, error) {
	return persistence.ScanMatching(ctx, r, q)
}

type singleRepo struct {
	f   *Factory
	key string
}

func (r *singleRepo) Get(ctx context.Context) (persistence.Raw, bool, error) {
	return r.f.get(ctx, r.key)
}

func (r *singleRepo) Set(ctx context.Context, raw persistence.Raw) error {
	return r.f.put(ctx, r.key, raw)
}

func (r *singleRepo) Delete(ctx context.Context) error {
	return r.f.delete(ctx, r.key)
}
