package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"sunat-client/internal/shared/apierr"
	"sunat-client/internal/shared/storage/object"
	"sunat-client/internal/shared/util"
)

// api is the part of the S3 client the store needs.
type api interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store keeps retrieved archives in a bucket, one folder per RUC. Objects
// are encrypted with the given KMS key, or SSE-S3 when none is set.
type Store struct {
	api      api
	bucket   string
	prefix   string
	kmsKeyID string
}

// New loads the default AWS credential chain.
func New(ctx context.Context, region, bucket, prefix, kmsKeyID string) (*Store, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, apierr.Validation("S3_BUCKET is required when OBJECT_STORE=s3")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newWithClient(s3.NewFromConfig(cfg), bucket, prefix, kmsKeyID), nil
}

func newWithClient(c api, bucket, prefix, kmsKeyID string) *Store {
	return &Store{
		api:      c,
		bucket:   bucket,
		prefix:   strings.Trim(strings.TrimSpace(prefix), "/"),
		kmsKeyID: strings.TrimSpace(kmsKeyID),
	}
}

// Save uploads r as <prefix>/<ruc>/<fileName>. Backend archives are small, so
// the body is read whole to send its length and checksum up front.
func (s *Store) Save(ctx context.Context, ownerID, fileName string, r io.Reader) (object.Object, error) {
	name, err := util.SanitizeFileName(fileName)
	if err != nil {
		return object.Object{}, apierr.Wrap(apierr.KindValidation, err, "invalid file name")
	}
	owner, err := util.OwnerKey(ownerID)
	if err != nil {
		return object.Object{}, apierr.Wrap(apierr.KindValidation, err, "invalid RUC")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return object.Object{}, fmt.Errorf("read body: %w", err)
	}

	obj := object.Object{
		Key:         path.Join(owner, name),
		SizeBytes:   int64(len(data)),
		ContentType: contentTypeFor(name),
		SHA256:      util.Checksum(data),
	}
	in := &s3.PutObjectInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(s.objectKey(obj.Key)),
		Body:               bytes.NewReader(data),
		ContentLength:      aws.Int64(obj.SizeBytes),
		ContentType:        aws.String(obj.ContentType),
		ContentDisposition: aws.String(mime.FormatMediaType("attachment", map[string]string{"filename": name})),
		Metadata:           map[string]string{"sha256": obj.SHA256, "ruc": owner},
	}
	if s.kmsKeyID != "" {
		in.ServerSideEncryption = s3types.ServerSideEncryptionAwsKms
		in.SSEKMSKeyId = aws.String(s.kmsKeyID)
	} else {
		in.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	if _, err := s.api.PutObject(ctx, in); err != nil {
		return object.Object{}, fmt.Errorf("s3 put %s/%s: %w", s.bucket, aws.ToString(in.Key), err)
	}
	return obj, nil
}

// Open streams a saved archive back. A missing key is reported as not_found.
func (s *Store) Open(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	key := s.objectKey(storageKey)
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *s3types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, apierr.New(apierr.KindNotFound, "stored file %s not found", storageKey)
		}
		return nil, fmt.Errorf("s3 get %s/%s: %w", s.bucket, key, err)
	}
	return out.Body, nil
}

func (s *Store) objectKey(key string) string {
	key = strings.TrimLeft(key, "/")
	switch {
	case s.prefix == "":
		return key
	case key == "":
		return s.prefix
	default:
		return s.prefix + "/" + key
	}
}

// contentTypeFor picks the type from the extension; backend archives are
// zip files and PLE books are plain text.
func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".zip":
		return "application/zip"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}

var _ object.ObjectStore = (*Store)(nil)
