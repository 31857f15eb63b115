package telegram

import (
	"fmt"
	"strconv"
	"sync"

	"tgmedia/pkg/media"

	"github.com/gotd/td/tg"
)

type indexedDocument struct {
	id            int64
	accessHash    int64
	fileReference []byte
	mimeType      string
	size          int64
	thumbSizes    map[string]int64
}

// DocumentIndex stores Telegram file locations of documents discovered through
// sticker set and custom emoji lookups.
//
// Downloads resolve document keys back into input file locations through it.
type DocumentIndex struct {
	mu   sync.RWMutex
	byID map[string]indexedDocument
}

// NewDocumentIndex creates an empty, concurrency-safe document index.
func NewDocumentIndex() *DocumentIndex {
	return &DocumentIndex{byID: make(map[string]indexedDocument)}
}

// RememberDocument ingests one document. A newer sighting replaces the file
// reference of an older one.
func (i *DocumentIndex) RememberDocument(document *tg.Document) {
	if i == nil || document == nil {
		return
	}

	entry := indexedDocument{
		id:            document.ID,
		accessHash:    document.AccessHash,
		fileReference: append([]byte(nil), document.FileReference...),
		mimeType:      document.MimeType,
		size:          document.Size,
		thumbSizes:    make(map[string]int64),
	}
	for _, thumb := range document.Thumbs {
		switch typed := thumb.(type) {
		case *tg.PhotoSize:
			entry.thumbSizes[typed.Type] = int64(typed.Size)
		case *tg.PhotoCachedSize:
			entry.thumbSizes[typed.Type] = int64(len(typed.Bytes))
		case *tg.PhotoSizeProgressive:
			if count := len(typed.Sizes); count > 0 {
				entry.thumbSizes[typed.Type] = int64(typed.Sizes[count-1])
			}
		}
	}

	i.mu.Lock()
	i.byID[strconv.FormatInt(document.ID, 10)] = entry
	i.mu.Unlock()
}

// locatedDocument is one resolved download target.
type locatedDocument struct {
	location *tg.InputDocumentFileLocation
	// size is the expected byte length, zero when unknown.
	size     int64
	mimeType string
}

// Resolve returns the input location for a document reference.
func (i *DocumentIndex) Resolve(ref media.DocumentRef) (locatedDocument, error) {
	if i == nil {
		return locatedDocument{}, fmt.Errorf("resolve document: nil index")
	}

	i.mu.RLock()
	entry, ok := i.byID[ref.ID]
	i.mu.RUnlock()
	if !ok {
		return locatedDocument{}, fmt.Errorf("%w: %w: document %s is not indexed", media.ErrPermanent, media.ErrNotFound, ref.ID)
	}

	located := locatedDocument{
		location: &tg.InputDocumentFileLocation{
			ID:            entry.id,
			AccessHash:    entry.accessHash,
			FileReference: append([]byte(nil), entry.fileReference...),
		},
		size:     entry.size,
		mimeType: entry.mimeType,
	}
	if ref.ThumbSize != "" {
		thumbSize, exists := entry.thumbSizes[ref.ThumbSize]
		if !exists {
			return locatedDocument{}, fmt.Errorf("%w: %w: document %s has no %q preview", media.ErrPermanent, media.ErrNotFound, ref.ID, ref.ThumbSize)
		}
		located.location.ThumbSize = ref.ThumbSize
		located.size = thumbSize
		located.mimeType = ""
	}

	return located, nil
}

// Len returns the number of indexed documents.
func (i *DocumentIndex) Len() int {
	if i == nil {
		return 0
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	return len(i.byID)
}
