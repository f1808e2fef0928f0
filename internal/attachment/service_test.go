package attachment

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

type storedBlob struct {
	data        []byte
	contentType string
}

type fakeBlobStore struct {
	mu    sync.Mutex
	blobs map[string]storedBlob
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: make(map[string]storedBlob)}
}

func (f *fakeBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = storedBlob{data: data, contentType: contentType}
	return nil
}

func (f *fakeBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blob, ok := f.blobs[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return blob.data, nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, key)
	return nil
}

func (f *fakeBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blobs[key]
	return ok, nil
}

func newTestService() (*Service, *fakeBlobStore) {
	store := newFakeBlobStore()
	return NewService(store, "https://cdn.example.com", 10*1024*1024), store
}

func TestUploadRoundTrip(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	payload := bytes.Repeat([]byte{0xAB}, 50*1024)
	url, err := svc.Upload(ctx, payload, "photo.jpg", 42)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if !strings.HasPrefix(url, "https://cdn.example.com/attachments/42/") {
		t.Fatalf("unexpected url %q", url)
	}
	if !strings.HasSuffix(url, ".jpg") {
		t.Fatalf("expected original extension preserved, got %q", url)
	}

	key := strings.TrimPrefix(url, "https://cdn.example.com/")
	data, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatal("stored bytes differ from upload")
	}

	store.mu.Lock()
	contentType := store.blobs[key].contentType
	store.mu.Unlock()
	if contentType != "image/jpeg" {
		t.Fatalf("expected image/jpeg content type, got %q", contentType)
	}
}

func TestUploadStoredNamesAreUnique(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Upload(ctx, []byte("a"), "notes.txt", 1)
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}
	second, err := svc.Upload(ctx, []byte("a"), "notes.txt", 1)
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct stored names for identical declared names")
	}
}

func TestUploadRejectsDisallowedExtension(t *testing.T) {
	svc, store := newTestService()

	for _, name := range []string{"virus.exe", "script.sh", "page.html", "noextension"} {
		if _, err := svc.Upload(context.Background(), []byte("x"), name, 1); !errors.Is(err, ErrInvalidFileType) {
			t.Fatalf("expected ErrInvalidFileType for %q, got %v", name, err)
		}
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.blobs) != 0 {
		t.Fatal("expected nothing stored for rejected uploads")
	}
}

func TestUploadRejectsEmptyAndOversized(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Upload(ctx, nil, "photo.jpg", 1); !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("expected ErrEmptyFile, got %v", err)
	}

	huge := make([]byte, 10*1024*1024+1)
	if _, err := svc.Upload(ctx, huge, "video.mp4", 1); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestDeleteAndExistsAcceptUploadURL(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	url, err := svc.Upload(ctx, []byte("doc"), "report.pdf", 9)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	exists, err := svc.Exists(ctx, url)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !exists {
		t.Fatal("expected uploaded blob to exist")
	}

	if err := svc.Delete(ctx, url); err != nil {
		t.Fatalf("delete: %v", err)
	}
	exists, _ = svc.Exists(ctx, url)
	if exists {
		t.Fatal("expected blob gone after delete")
	}
}
