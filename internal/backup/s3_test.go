package backup

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestParseBucketURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		bucket  string
		prefix  string
		wantErr string
	}{
		{raw: "s3://metrics", bucket: "metrics"},
		{raw: " s3://metrics/tsnorm/prod/ ", bucket: "metrics", prefix: "tsnorm/prod"},
		{raw: "https://metrics/tsnorm", wantErr: "must start with s3://"},
		{raw: "s3:///tsnorm", wantErr: "has no bucket"},
	}
	for _, tt := range tests {
		bucket, prefix, err := parseBucketURL(tt.raw)
		if tt.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("parseBucketURL(%q) err = %v, want %q", tt.raw, err, tt.wantErr)
			}
			continue
		}
		if err != nil || bucket != tt.bucket || prefix != tt.prefix {
			t.Fatalf("parseBucketURL(%q) = %q, %q, %v", tt.raw, bucket, prefix, err)
		}
	}
}

func TestEndpointURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		endpoint string
		ssl      bool
		want     string
	}{
		{endpoint: "", want: ""},
		{endpoint: "minio:9000", want: "http://minio:9000"},
		{endpoint: "minio:9000", ssl: true, want: "https://minio:9000"},
		{endpoint: "http://minio:9000", ssl: true, want: "http://minio:9000"},
	}
	for _, tt := range tests {
		if got := endpointURL(tt.endpoint, tt.ssl); got != tt.want {
			t.Fatalf("endpointURL(%q, %v) = %q, want %q", tt.endpoint, tt.ssl, got, tt.want)
		}
	}
}

func TestS3Uploader_Command(t *testing.T) {
	t.Parallel()

	var gotArgs, gotEnv []string
	u, err := newS3Uploader(S3Config{
		BucketURL:    "s3://metrics/tsnorm",
		Endpoint:     "minio:9000",
		AccessKey:    "AK",
		SecretKey:    "SK",
		SessionToken: "TOK",
	}, func(_ context.Context, args, env []string) ([]byte, error) {
		gotArgs, gotEnv = args, env
		return nil, nil
	})
	if err != nil {
		t.Fatalf("newS3Uploader: %v", err)
	}

	if err := u.UploadFile(context.Background(), "/var/backups/tsnorm-1.json"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	want := []string{
		"s3", "cp", "/var/backups/tsnorm-1.json", "s3://metrics/tsnorm/tsnorm-1.json",
		"--region", "us-east-1", "--only-show-errors",
		"--content-type", "application/json",
		"--endpoint-url", "http://minio:9000",
	}
	if !slices.Equal(gotArgs, want) {
		t.Fatalf("args = %v\nwant %v", gotArgs, want)
	}
	for _, kv := range []string{"AWS_ACCESS_KEY_ID=AK", "AWS_SECRET_ACCESS_KEY=SK", "AWS_DEFAULT_REGION=us-east-1", "AWS_SESSION_TOKEN=TOK"} {
		if !slices.Contains(gotEnv, kv) {
			t.Fatalf("env %v missing %s", gotEnv, kv)
		}
	}

	if got := u.Destination("/x/tsnorm-2.duckdb"); got != "s3://metrics/tsnorm/tsnorm-2.duckdb" {
		t.Fatalf("Destination = %q", got)
	}
}

func TestS3Uploader_Errors(t *testing.T) {
	t.Parallel()

	if _, err := newS3Uploader(S3Config{BucketURL: "s3://metrics"}, nil); err == nil {
		t.Fatal("expected missing credentials error")
	}

	u, err := newS3Uploader(S3Config{BucketURL: "s3://metrics", AccessKey: "a", SecretKey: "b"},
		func(context.Context, []string, []string) ([]byte, error) {
			return []byte("AccessDenied\n"), errors.New("exit status 1")
		})
	if err != nil {
		t.Fatalf("newS3Uploader: %v", err)
	}
	err = u.UploadFile(context.Background(), "/x/tsnorm-1.duckdb")
	if err == nil || !strings.Contains(err.Error(), "AccessDenied") {
		t.Fatalf("err = %v, want command output", err)
	}
}
