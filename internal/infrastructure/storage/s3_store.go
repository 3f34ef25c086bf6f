package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jonboulle/clockwork"

	"geodatenbezug/internal/domain"
	"geodatenbezug/internal/ports"
)

// DefaultPresignTTL is how long a returned download link stays valid.
const DefaultPresignTTL = 7 * 24 * time.Hour

// ObjectPutter is the subset of the S3 client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ObjectPresigner signs GET requests for stored artifacts.
type ObjectPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Downloader fetches the remote export archive.
type Downloader interface {
	Do(req *http.Request) (*http.Response, error)
}

// S3Options configures the artifact store.
type S3Options struct {
	Bucket     string
	Prefix     string
	PresignTTL time.Duration
	TempDir    string
	Clock      clockwork.Clock
	Location   *time.Location
}

// S3Store downloads finished exports and keeps a copy in an S3 bucket.
type S3Store struct {
	putter     ObjectPutter
	presigner  ObjectPresigner
	http       Downloader
	bucket     string
	prefix     string
	presignTTL time.Duration
	tempDir    string
	clock      clockwork.Clock
	location   *time.Location
}

var _ ports.ArtifactStore = (*S3Store)(nil)

// NewS3Store wires the S3 collaborators. A nil downloader gets a plain http.Client.
func NewS3Store(putter ObjectPutter, presigner ObjectPresigner, downloader Downloader, opts S3Options) *S3Store {
	s := &S3Store{
		putter:     putter,
		presigner:  presigner,
		http:       downloader,
		bucket:     opts.Bucket,
		prefix:     strings.Trim(opts.Prefix, "/"),
		presignTTL: opts.PresignTTL,
		tempDir:    opts.TempDir,
		clock:      opts.Clock,
		location:   opts.Location,
	}
	if s.http == nil {
		s.http = &http.Client{Timeout: 30 * time.Minute}
	}
	if s.presignTTL <= 0 {
		s.presignTTL = DefaultPresignTTL
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.location == nil {
		s.location = time.UTC
	}
	return s
}

// S3ClientConfig holds the connection settings for NewS3Client.
type S3ClientConfig struct {
	Region    string
	Endpoint  string
	PathStyle bool
}

// NewS3Client loads AWS credentials from the default chain.
func NewS3Client(ctx context.Context, cfg S3ClientConfig) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// Store downloads the archive behind downloadURL, uploads it and returns a presigned link.
func (s *S3Store) Store(ctx context.Context, topic domain.TopicStatus, downloadURL string) (string, error) {
	key := s.objectKey(topic)

	file, err := s.download(ctx, downloadURL)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = file.Close()
		_ = os.Remove(file.Name())
	}()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat download: %w", err)
	}

	_, err = s.putter.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/zip"),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	signed, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignTTL))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return signed.URL, nil
}

// objectKey returns <prefix>/<canton>/<base_topic>_<canton>_<yyyyMMddHHmm>.zip.
func (s *S3Store) objectKey(topic domain.TopicStatus) string {
	stamp := s.clock.Now().In(s.location).Format("200601021504")
	name := fmt.Sprintf("%s_%s_%s.zip", topic.BaseTopic, topic.Canton, stamp)
	return path.Join(s.prefix, topic.Canton, name)
}

// download writes the archive to a temporary file so the upload body is seekable.
func (s *S3Store) download(ctx context.Context, downloadURL string) (*os.File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: unexpected status %s", resp.Status)
	}

	file, err := os.CreateTemp(s.tempDir, "geodatenbezug-*.zip")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		_ = file.Close()
		_ = os.Remove(file.Name())
		return nil, fmt.Errorf("write download: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		_ = file.Close()
		_ = os.Remove(file.Name())
		return nil, fmt.Errorf("rewind download: %w", err)
	}
	return file, nil
}
