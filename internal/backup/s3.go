package backup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
)

const defaultS3Region = "us-east-1"

// S3Config describes an S3 compatible upload target.
type S3Config struct {
	BucketURL    string // s3://bucket[/prefix]
	Endpoint     string // host[:port] or full URL for non-AWS stores
	Region       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	UseSSL       bool
}

// runFunc executes the aws CLI. Tests swap it out.
type runFunc func(ctx context.Context, args, env []string) ([]byte, error)

// S3Uploader copies files to S3 with `aws s3 cp`.
type S3Uploader struct {
	bucket string
	prefix string
	cfg    S3Config
	run    runFunc
}

// NewS3Uploader checks cfg and that the aws CLI is installed.
func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	u, err := newS3Uploader(cfg, execAWS)
	if err != nil {
		return nil, err
	}
	if _, err := exec.LookPath("aws"); err != nil {
		return nil, errors.New("s3: aws cli not found in PATH")
	}
	return u, nil
}

func newS3Uploader(cfg S3Config, run runFunc) (*S3Uploader, error) {
	bucket, prefix, err := parseBucketURL(cfg.BucketURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("s3: access key and secret key are required")
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = defaultS3Region
	}
	return &S3Uploader{bucket: bucket, prefix: prefix, cfg: cfg, run: run}, nil
}

// UploadFile copies localPath to the bucket under the configured prefix.
func (u *S3Uploader) UploadFile(ctx context.Context, localPath string) error {
	out, err := u.run(ctx, u.args(localPath), u.env())
	if err != nil {
		return fmt.Errorf("aws s3 cp %s: %w: %s", filepath.Base(localPath), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Destination is the object URL localPath uploads to.
func (u *S3Uploader) Destination(localPath string) string {
	key := filepath.Base(localPath)
	if u.prefix != "" {
		key = path.Join(u.prefix, key)
	}
	return "s3://" + u.bucket + "/" + key
}

func (u *S3Uploader) args(localPath string) []string {
	args := []string{"s3", "cp", localPath, u.Destination(localPath),
		"--region", u.cfg.Region, "--only-show-errors"}
	if strings.HasSuffix(localPath, manifestSuffix) {
		args = append(args, "--content-type", "application/json")
	}
	if ep := endpointURL(u.cfg.Endpoint, u.cfg.UseSSL); ep != "" {
		args = append(args, "--endpoint-url", ep)
	}
	return args
}

// env carries credentials to the child process only.
func (u *S3Uploader) env() []string {
	env := []string{
		"AWS_ACCESS_KEY_ID=" + u.cfg.AccessKey,
		"AWS_SECRET_ACCESS_KEY=" + u.cfg.SecretKey,
		"AWS_DEFAULT_REGION=" + u.cfg.Region,
	}
	if tok := strings.TrimSpace(u.cfg.SessionToken); tok != "" {
		env = append(env, "AWS_SESSION_TOKEN="+tok)
	}
	return env
}

func execAWS(ctx context.Context, args, env []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "aws", args...)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

func endpointURL(endpoint string, useSSL bool) string {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case endpoint == "":
		return ""
	case strings.Contains(endpoint, "://"):
		return endpoint
	case useSSL:
		return "https://" + endpoint
	default:
		return "http://" + endpoint
	}
}

func parseBucketURL(raw string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("s3: bad bucket url: %w", err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("s3: bucket url %q must start with s3://", raw)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("s3: bucket url %q has no bucket", raw)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}
