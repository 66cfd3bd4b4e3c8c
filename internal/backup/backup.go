// Package backup uploads periodic SQLite snapshots to S3-compatible storage.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Manager takes consistent snapshots of the database and uploads them.
type Manager struct {
	cfg      S3Config
	db       *sql.DB
	client   s3Client
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg S3Config, db *sql.DB, interval time.Duration, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		db:       db,
		interval: interval,
		logger:   logger,
	}
	if cfg.Bucket != "" && cfg.AccessKey != "" && cfg.SecretKey != "" {
		m.client = newS3Client(cfg)
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Enabled reports whether backups are configured.
func (m *Manager) Enabled() bool {
	return m.client != nil
}

// Start begins the scheduled backup loop. No-op when not configured.
func (m *Manager) Start(ctx context.Context) {
	if !m.Enabled() {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.RunOnce(ctx); err != nil {
					m.logger.Error("scheduled backup failed", "error", err)
				}
			}
		}
	}()
}

// Stop gracefully stops the backup loop.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
}

// RunOnce snapshots the database and uploads it.
func (m *Manager) RunOnce(ctx context.Context) error {
	if !m.Enabled() {
		return fmt.Errorf("backup not configured")
	}

	snapshot := filepath.Join(os.TempDir(), fmt.Sprintf("skredvarsel-backup-%d.db", time.Now().UnixNano()))
	defer os.Remove(snapshot)

	// VACUUM INTO produces a consistent copy without blocking writers.
	if _, err := m.db.ExecContext(ctx, `VACUUM INTO ?`, snapshot); err != nil {
		return fmt.Errorf("snapshot db: %w", err)
	}

	f, err := os.Open(snapshot)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	key := fmt.Sprintf("backups/skredvarsel-%s.db", time.Now().UTC().Format("2006-01-02T15-04-05"))
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}

	m.logger.Info("backup uploaded", "key", key)
	return nil
}
