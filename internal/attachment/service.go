// internal/attachment/service.go
// Validates and stores uploaded blobs

package attachment

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrEmptyFile       = errors.New("file is empty")
	ErrInvalidFileType = errors.New("file type not allowed")
	ErrFileTooLarge    = errors.New("file exceeds the maximum allowed size")
)

// allowedExtensions is the upload allow-list: images, video, audio and
// common document formats
var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".mp4":  true,
	".mov":  true,
	".webm": true,
	".mp3":  true,
	".wav":  true,
	".ogg":  true,
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".txt":  true,
}

// Service validates uploads and stores them in the blob store
type Service struct {
	store      BlobStore
	cdnBaseURL string
	maxSize    int64
}

// NewService creates the attachment service
func NewService(store BlobStore, cdnBaseURL string, maxSize int64) *Service {
	return &Service{
		store:      store,
		cdnBaseURL: strings.TrimRight(cdnBaseURL, "/"),
		maxSize:    maxSize,
	}
}

// Upload validates the payload and persists it under a collision-resistant
// stored name, returning a retrievable URL
func (s *Service) Upload(ctx context.Context, data []byte, declaredName string, uploaderID int64) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyFile
	}
	if int64(len(data)) > s.maxSize {
		return "", ErrFileTooLarge
	}

	ext := strings.ToLower(filepath.Ext(declaredName))
	if !allowedExtensions[ext] {
		return "", ErrInvalidFileType
	}

	key := fmt.Sprintf("attachments/%d/%s%s", uploaderID, uuid.New().String(), ext)

	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if err := s.store.Put(ctx, key, data, contentType); err != nil {
		return "", err
	}

	return s.cdnBaseURL + "/" + key, nil
}

// Delete removes a stored blob
func (s *Service) Delete(ctx context.Context, storedName string) error {
	return s.store.Delete(ctx, s.keyFromName(storedName))
}

// Exists reports whether a stored blob is present
func (s *Service) Exists(ctx context.Context, storedName string) (bool, error) {
	return s.store.Exists(ctx, s.keyFromName(storedName))
}

// keyFromName accepts either a bare stored key or a full URL produced by
// Upload
func (s *Service) keyFromName(storedName string) string {
	return strings.TrimPrefix(strings.TrimPrefix(storedName, s.cdnBaseURL), "/")
}
