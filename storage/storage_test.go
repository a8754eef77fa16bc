package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestExportKey(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 891000000, time.FixedZone("CET", 3600))
	got := ExportKey("user-1", ts)
	want := "exports/user-1/20260304T040607.891Z.json"
	if got != want {
		t.Errorf("ExportKey = %q, want %q", got, want)
	}
	if !strings.HasPrefix(got, OwnerPrefix("user-1")) {
		t.Errorf("key %q does not start with owner prefix %q", got, OwnerPrefix("user-1"))
	}
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "exports/a/b.json", want: "exports/a/b.json"},
		{key: "exports/a/./b.json", want: "exports/a/b.json"},
		{key: "", wantErr: true},
		{key: "/etc/passwd", wantErr: true},
		{key: "../secret", wantErr: true},
		{key: "exports/../../secret", wantErr: true},
		{key: "exports\\a", wantErr: true},
		{key: ".", wantErr: true},
	}

	for _, tt := range tests {
		got, err := CleanKey(tt.key)
		if tt.wantErr {
			if err == nil {
				t.Errorf("CleanKey(%q) expected error, got %q", tt.key, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("CleanKey(%q) unexpected error: %v", tt.key, err)
			continue
		}
		if got != tt.want {
			t.Errorf("CleanKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestFilesystemRoundTrip(t *testing.T) {
	base := t.TempDir()
	s, err := New(Config{BasePath: base})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	key := "exports/local/one.json"

	if err := s.Save(ctx, key, []byte(`{"a":1}`), "application/json"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "exports", "local", "one.json")); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "exports", "local", "one.json.tmp")); !os.IsNotExist(err) {
		t.Errorf("temp file left behind")
	}

	data, err := s.Read(ctx, key)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("Read = %q", data)
	}

	if err := s.Save(ctx, key, []byte(`{"a":2}`), ""); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	data, _ = s.Read(ctx, key)
	if string(data) != `{"a":2}` {
		t.Errorf("Read after overwrite = %q", data)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read after delete: got %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Errorf("second Delete should be a no-op, got %v", err)
	}
}

func TestFilesystemRejectsEscapingKeys(t *testing.T) {
	s, err := New(Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if err := s.Save(ctx, "../outside.json", []byte("x"), ""); err == nil {
		t.Error("expected error saving outside the base path")
	}
	if _, err := s.Read(ctx, "/etc/hosts"); err == nil {
		t.Error("expected error reading an absolute key")
	}
}

func TestFilesystemHonorsCanceledContext(t *testing.T) {
	s, err := New(Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Save(ctx, "exports/x.json", []byte("x"), ""); !errors.Is(err, context.Canceled) {
		t.Errorf("Save with canceled ctx: got %v", err)
	}
}

func validS3Config(endpoint string) S3Config {
	return S3Config{
		Endpoint:        endpoint,
		Region:          "us-east-1",
		Bucket:          "test-bucket",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
	}
}

func TestNewS3StorageValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*S3Config)
	}{
		{"missing bucket", func(c *S3Config) { c.Bucket = "" }},
		{"missing region", func(c *S3Config) { c.Region = "" }},
		{"missing access key", func(c *S3Config) { c.AccessKeyID = "" }},
		{"missing secret", func(c *S3Config) { c.SecretAccessKey = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validS3Config("http://localhost:9000")
			tt.mutate(&cfg)
			if _, err := NewS3Storage(context.Background(), cfg); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}

	s, err := NewS3Storage(context.Background(), validS3Config("http://localhost:9000"))
	if err != nil {
		t.Fatalf("valid config: %v", err)
	}
	if s == nil {
		t.Fatal("expected storage to be non-nil")
	}
}

func TestS3ReadMissingKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/test-bucket/exports/local/missing.json" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
	}))
	defer server.Close()

	s, err := NewS3Storage(context.Background(), validS3Config(server.URL))
	if err != nil {
		t.Fatalf("NewS3Storage: %v", err)
	}

	_, err = s.Read(context.Background(), "exports/local/missing.json")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Read: got %v, want ErrNotFound", err)
	}
}

func TestS3ReadAndDelete(t *testing.T) {
	var deleted atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/test-bucket/exports/local/one.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"owner":"local"}`))
		case http.MethodDelete:
			deleted.Store(true)
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	}))
	defer server.Close()

	s, err := NewS3Storage(context.Background(), validS3Config(server.URL))
	if err != nil {
		t.Fatalf("NewS3Storage: %v", err)
	}

	data, err := s.Read(context.Background(), "exports/local/one.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != `{"owner":"local"}` {
		t.Errorf("Read = %q", data)
	}

	if err := s.Delete(context.Background(), "exports/local/one.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !deleted.Load() {
		t.Error("expected DELETE request")
	}
}

func TestS3RejectsInvalidKey(t *testing.T) {
	s, err := NewS3Storage(context.Background(), validS3Config("http://localhost:9000"))
	if err != nil {
		t.Fatalf("NewS3Storage: %v", err)
	}
	if err := s.Save(context.Background(), "../x", []byte("x"), ""); err == nil {
		t.Error("expected invalid key error")
	}
}

var (
	_ Archive = (*Storage)(nil)
	_ Archive = (*S3Storage)(nil)
)
