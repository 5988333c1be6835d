package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "jobs/job-1/abc.html", "text/html", bytes.NewReader([]byte("<html/>")))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "mem://jobs/job-1/abc.html" {
		t.Fatalf("unexpected uri %s", uri)
	}

	body, ok := store.Object("jobs/job-1/abc.html")
	if !ok || string(body) != "<html/>" {
		t.Fatalf("stored object mismatch: ok=%v body=%q", ok, body)
	}
	if _, ok := store.Object("jobs/other"); ok {
		t.Fatal("unexpected object for unknown path")
	}
}

func TestBlobStorePutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	if _, err := store.PutObject(context.Background(), "", "text/html", bytes.NewReader(nil)); err == nil {
		t.Fatal("expected error for empty path")
	}
}
