package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/lugares/apiserver/internal/storage"
)

// Uploader records uploads in memory and serves them from a fake CDN host.
type Uploader struct {
	mu      sync.Mutex
	objects map[string]storage.ImageUpload
	next    int

	// UploadErr and RemoveErr, when set, fail the matching call.
	UploadErr error
	RemoveErr error
	// Removed lists the keys passed to Remove.
	Removed []string
}

func NewUploader() *Uploader {
	return &Uploader{objects: make(map[string]storage.ImageUpload)}
}

func (u *Uploader) Upload(ctx context.Context, image storage.ImageUpload) (storage.Object, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.UploadErr != nil {
		return storage.Object{}, u.UploadErr
	}
	u.next++
	key := fmt.Sprintf("places/test-%d", u.next)
	u.objects[key] = image
	return storage.Object{Key: key, URL: "https://cdn.test/" + key}, nil
}

func (u *Uploader) Remove(ctx context.Context, key string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Removed = append(u.Removed, key)
	if u.RemoveErr != nil {
		return u.RemoveErr
	}
	delete(u.objects, key)
	return nil
}

// Stored reports how many objects are currently held.
func (u *Uploader) Stored() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.objects)
}
