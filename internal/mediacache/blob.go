package mediacache

import (
	"sync"

	"tgmedia/pkg/media"

	"github.com/google/uuid"
)

// blobRegistry maps blob references to their bytes for the session lifetime.
// References are never revoked, so a prepared value stays valid for every holder.
type blobRegistry struct {
	scheme string

	mu    sync.RWMutex
	blobs map[string]media.Blob
	bytes int64
}

func newBlobRegistry(scheme string) *blobRegistry {
	return &blobRegistry{
		scheme: scheme,
		blobs:  make(map[string]media.Blob),
	}
}

func (r *blobRegistry) register(data []byte, mimeType string) string {
	ref := r.scheme + uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobs[ref] = media.Blob{Data: data, MIMEType: mimeType}
	r.bytes += int64(len(data))

	return ref
}

func (r *blobRegistry) get(ref string) (media.Blob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	blob, ok := r.blobs[ref]
	return blob, ok
}

func (r *blobRegistry) stats() (count int, bytes int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.blobs), r.bytes
}
