package objectstore

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func TestResolveBucketName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain name", "my-recordings", "my-recordings"},
		{"arn", "arn:aws:s3:::my-recordings", "my-recordings"},
		{"arn with empty name", "arn:aws:s3:::", "arn:aws:s3:::"},
		{"not an arn but contains colons", "weird:name", "weird:name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ResolveBucketName(tt.input); got != tt.want {
				t.Errorf("ResolveBucketName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// fakeS3 records puts and serves a fixed body for gets.
type fakeS3 struct {
	getBody string
	puts    map[string]putRecord
}

type putRecord struct {
	body        string
	contentType string
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.getBody))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	if f.puts == nil {
		f.puts = map[string]putRecord{}
	}
	ct := ""
	if params.ContentType != nil {
		ct = *params.ContentType
	}
	f.puts[*params.Key] = putRecord{body: string(body), contentType: ct}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func TestDownloadToFile(t *testing.T) {
	t.Parallel()

	fake := &fakeS3{getBody: "video bytes"}
	store := NewStoreWithClient(fake, "arn:aws:s3:::bucket")
	if store.Bucket() != "bucket" {
		t.Fatalf("Bucket() = %q, want %q", store.Bucket(), "bucket")
	}

	dest := filepath.Join(t.TempDir(), "recording.mp4")
	if err := store.DownloadToFile(context.Background(), "sessions/abc/raw.mp4", dest); err != nil {
		t.Fatalf("DownloadToFile: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != "video bytes" {
		t.Errorf("downloaded body = %q, want %q", data, "video bytes")
	}
}

func TestPutJSON(t *testing.T) {
	t.Parallel()

	fake := &fakeS3{}
	store := NewStoreWithClient(fake, "bucket")

	if err := store.PutJSON(context.Background(), "sessions/abc/quality.json", map[string]int{"score": 88}); err != nil {
		t.Fatalf("PutJSON: %v", err)
	}

	rec, ok := fake.puts["sessions/abc/quality.json"]
	if !ok {
		t.Fatal("no object stored at expected key")
	}
	if rec.contentType != "application/json" {
		t.Errorf("content type = %q, want application/json", rec.contentType)
	}
	var decoded map[string]int
	if err := json.Unmarshal([]byte(rec.body), &decoded); err != nil {
		t.Fatalf("stored body is not JSON: %v", err)
	}
	if decoded["score"] != 88 {
		t.Errorf("score = %d, want 88", decoded["score"])
	}
	if !strings.Contains(rec.body, "\n") {
		t.Error("body should be indented JSON")
	}
}

func TestUploadFile(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "audio.wav")
	if err := os.WriteFile(src, []byte("RIFFdata"), 0o644); err != nil {
		t.Fatal(err)
	}

	fake := &fakeS3{}
	store := NewStoreWithClient(fake, "bucket")
	if err := store.UploadFile(context.Background(), "sessions/abc/audio.wav", src, "audio/wav"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}

	rec := fake.puts["sessions/abc/audio.wav"]
	if rec.body != "RIFFdata" {
		t.Errorf("uploaded body = %q, want %q", rec.body, "RIFFdata")
	}
	if rec.contentType != "audio/wav" {
		t.Errorf("content type = %q, want audio/wav", rec.contentType)
	}
}
