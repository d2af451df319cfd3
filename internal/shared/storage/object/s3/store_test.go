package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"sunat-client/internal/shared/apierr"
	"sunat-client/internal/shared/util"
)

type fakeS3 struct {
	objects map[string][]byte
	puts    []*s3.PutObjectInput
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[aws.ToString(in.Key)] = body
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix, key, want string
	}{
		{"", "20123456789/LE.zip", "20123456789/LE.zip"},
		{"sire", "20123456789/LE.zip", "sire/20123456789/LE.zip"},
		{"/sire/", "/20123456789/LE.zip", "sire/20123456789/LE.zip"},
	}
	for _, tt := range tests {
		s := newWithClient(&fakeS3{}, "bucket", tt.prefix, "")
		if got := s.objectKey(tt.key); got != tt.want {
			t.Fatalf("objectKey(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
		}
	}
}

func TestSaveAndOpen(t *testing.T) {
	fake := &fakeS3{}
	s := newWithClient(fake, "bucket", "/sire/", "kms-key")
	body := []byte("PK zip body")

	obj, err := s.Save(context.Background(), "20123456789", "LE20123456789202412.zip", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if obj.Key != "20123456789/LE20123456789202412.zip" || obj.SHA256 != util.Checksum(body) || obj.ContentType != "application/zip" {
		t.Fatalf("unexpected object %+v", obj)
	}

	in := fake.puts[0]
	if aws.ToString(in.Key) != "sire/20123456789/LE20123456789202412.zip" {
		t.Fatalf("unexpected key %q", aws.ToString(in.Key))
	}
	if in.ServerSideEncryption != s3types.ServerSideEncryptionAwsKms || aws.ToString(in.SSEKMSKeyId) != "kms-key" {
		t.Fatal("expected kms encryption")
	}
	if !strings.Contains(aws.ToString(in.ContentDisposition), "LE20123456789202412.zip") {
		t.Fatalf("unexpected disposition %q", aws.ToString(in.ContentDisposition))
	}

	rc, err := s.Open(context.Background(), obj.Key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, body) {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestOpenMissingIsNotFound(t *testing.T) {
	s := newWithClient(&fakeS3{}, "bucket", "", "")
	if _, err := s.Open(context.Background(), "20123456789/none.zip"); apierr.KindOf(err) != apierr.KindNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestSaveErrors(t *testing.T) {
	s := newWithClient(&fakeS3{err: errors.New("denied")}, "bucket", "", "")
	if _, err := s.Save(context.Background(), "20123456789", "a.zip", strings.NewReader("x")); err == nil || !strings.Contains(err.Error(), "bucket/20123456789/a.zip") {
		t.Fatalf("unexpected error %v", err)
	}
	if _, err := s.Save(context.Background(), "20123456789", "", strings.NewReader("x")); apierr.KindOf(err) != apierr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
