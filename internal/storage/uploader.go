package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

const placeImagePrefix = "places"

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ImageUpload is a local image handed over for publishing.
type ImageUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Object identifies a published object.
type Object struct {
	Key string
	URL string
}

// Uploader publishes place images and returns their public URLs.
type Uploader struct {
	storage *Storage
	newKey  func() string
}

// NewUploader constructs an Uploader on top of the given storage.
func NewUploader(storage *Storage) *Uploader {
	return &Uploader{
		storage: storage,
		newKey:  uuid.NewString,
	}
}

// SupportedImageType reports whether contentType can be uploaded as a place image.
func SupportedImageType(contentType string) bool {
	_, ok := imageExtensions[normalizeContentType(contentType)]
	return ok
}

// Upload stores the image under a fresh key and returns its public location.
func (u *Uploader) Upload(ctx context.Context, image ImageUpload) (Object, error) {
	if len(image.Data) == 0 {
		return Object{}, errors.New("empty image data")
	}
	contentType := normalizeContentType(image.ContentType)
	ext, ok := imageExtensions[contentType]
	if !ok {
		return Object{}, fmt.Errorf("unsupported image type %q", image.ContentType)
	}

	key := path.Join(placeImagePrefix, u.newKey()+ext)
	if err := u.storage.Put(ctx, key, bytes.NewReader(image.Data), int64(len(image.Data)), contentType); err != nil {
		return Object{}, fmt.Errorf("put %s: %w", key, err)
	}

	return Object{Key: key, URL: u.storage.PublicURL(key)}, nil
}

// Remove deletes a previously uploaded object.
func (u *Uploader) Remove(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	return u.storage.Delete(ctx, key)
}

func normalizeContentType(contentType string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	return contentType
}
