// Package reliability mirrors checkpoint files to S3-compatible object storage
// (AWS S3 or Cloudflare R2) so weights survive the loss of the training host.
package reliability

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// MirrorConfig configures the checkpoint mirror. An empty Bucket disables it.
type MirrorConfig struct {
	Bucket    string
	Endpoint  string // custom endpoint, e.g. https://<account>.r2.cloudflarestorage.com
	Region    string // "auto" for R2
	AccessKey string
	SecretKey string
	Prefix    string // key prefix, defaults to "checkpoints"
}

// objectStore is the subset of S3 the mirror needs.
type objectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, metadata map[string]string) error
	Download(ctx context.Context, key string, w io.WriterAt) (int64, error)
}

// CheckpointMirror uploads and downloads checkpoint files.
type CheckpointMirror struct {
	store  objectStore
	prefix string
	log    zerolog.Logger
}

// NewCheckpointMirror builds a mirror backed by S3. With no bucket configured
// the returned mirror is disabled and every call is a no-op.
func NewCheckpointMirror(ctx context.Context, cfg MirrorConfig, log zerolog.Logger) (*CheckpointMirror, error) {
	if cfg.Bucket == "" {
		return newCheckpointMirror(nil, cfg.Prefix, log), nil
	}

	store, err := newS3Store(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newCheckpointMirror(store, cfg.Prefix, log), nil
}

func newCheckpointMirror(store objectStore, prefix string, log zerolog.Logger) *CheckpointMirror {
	if prefix == "" {
		prefix = "checkpoints"
	}
	return &CheckpointMirror{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		log:    log.With().Str("service", "checkpoint_mirror").Logger(),
	}
}

// Enabled reports whether a bucket is configured.
func (m *CheckpointMirror) Enabled() bool {
	return m != nil && m.store != nil
}

// RemoteKey returns the object key a local checkpoint is stored under.
func (m *CheckpointMirror) RemoteKey(localPath string) string {
	return path.Join(m.prefix, filepath.Base(localPath))
}

// Upload copies a checkpoint file to the bucket and returns its key. A
// disabled mirror returns an empty key.
func (m *CheckpointMirror) Upload(ctx context.Context, localPath string) (string, error) {
	if !m.Enabled() {
		return "", nil
	}

	start := time.Now()
	checksum, err := fileChecksum(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to checksum %s: %w", localPath, err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer f.Close()

	key := m.RemoteKey(localPath)
	if err := m.store.Upload(ctx, key, f, map[string]string{"sha256": checksum}); err != nil {
		return "", fmt.Errorf("failed to upload checkpoint %s: %w", key, err)
	}

	m.log.Info().
		Str("key", key).
		Dur("duration_ms", time.Since(start)).
		Msg("Checkpoint mirrored")

	return key, nil
}

// Download fetches key into localPath, replacing any existing file.
func (m *CheckpointMirror) Download(ctx context.Context, key, localPath string) error {
	if !m.Enabled() {
		return fmt.Errorf("checkpoint mirror is not configured")
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	tmp := localPath + ".download"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	n, err := m.store.Download(ctx, key, f)
	closeErr := f.Close()
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to download checkpoint %s: %w", key, err)
	}
	if closeErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, closeErr)
	}
	if err := os.Rename(tmp, localPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move downloaded checkpoint into place: %w", err)
	}

	m.log.Info().Str("key", key).Int64("bytes", n).Str("path", localPath).Msg("Checkpoint downloaded")
	return nil
}

func fileChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// s3Store implements objectStore with the S3 transfer manager.
type s3Store struct {
	bucket     string
	uploader   *manager.Uploader
	downloader *manager.Downloader
}

func newS3Store(ctx context.Context, cfg MirrorConfig) (*s3Store, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load object storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &s3Store{
		bucket:     cfg.Bucket,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
	}, nil
}

func (s *s3Store) Upload(ctx context.Context, key string, body io.Reader, metadata map[string]string) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("application/msgpack"),
		Metadata:    metadata,
	})
	return err
}

func (s *s3Store) Download(ctx context.Context, key string, w io.WriterAt) (int64, error) {
	return s.downloader.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
}
