package backup

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/skredvarsel/garmin-web/internal/database"
)

type fakeS3 struct {
	puts []s3.PutObjectInput
}

func (f *fakeS3) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, *input)
	return &s3.PutObjectOutput{}, nil
}

func TestRunOnceUploadsSnapshot(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	defer db.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(S3Config{Bucket: "backups"}, db, time.Hour, logger)
	fake := &fakeS3{}
	m.client = fake

	if err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if len(fake.puts) != 1 {
		t.Fatalf("puts = %d, want 1", len(fake.puts))
	}
	put := fake.puts[0]
	if *put.Bucket != "backups" {
		t.Errorf("bucket = %q", *put.Bucket)
	}
	if !strings.HasPrefix(*put.Key, "backups/skredvarsel-") || !strings.HasSuffix(*put.Key, ".db") {
		t.Errorf("key = %q", *put.Key)
	}

	// The uploaded body is a real SQLite file.
	header := make([]byte, 16)
	if _, err := io.ReadFull(put.Body, header); err != nil {
		t.Fatalf("read snapshot header: %v", err)
	}
	if !strings.HasPrefix(string(header), "SQLite format 3") {
		t.Errorf("header = %q, want SQLite magic", header)
	}
}

func TestManagerDisabledWithoutCredentials(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	defer db.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(S3Config{}, db, time.Hour, logger)

	if m.Enabled() {
		t.Error("manager without credentials should be disabled")
	}
	if err := m.RunOnce(context.Background()); err == nil {
		t.Error("RunOnce should fail when not configured")
	}

	// Start and Stop are no-ops when disabled.
	m.Start(context.Background())
	m.Stop()
}
