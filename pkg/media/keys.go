package media

import (
	"strings"
)

// Key identifies one requestable resource variant. It is the join key across the
// memory cache, the durable cache and in-flight deduplication.
type Key string

// Target selects which variant of an entity a key addresses.
type Target string

// Targets recognized by DocumentKey.
const (
	TargetMicro     Target = "micro"
	TargetPictogram Target = "pictogram"
	TargetInline    Target = "inline"
	TargetPreview   Target = "preview"
	TargetFull      Target = "full"
	TargetDownload  Target = "download"
)

const (
	// BucketMedia is the durable bucket for every non-avatar key.
	BucketMedia = "tgmedia-media"
	// BucketAvatars is the durable bucket for avatar keys.
	BucketAvatars = "tgmedia-avatars"

	documentKeyPrefix = "document"
	avatarKeyPrefix   = "avatar"
)

// DocumentKey derives the key for a document id and target. hasSmall reports
// whether the document carries an "s" sized preview, which micro and pictogram
// targets prefer over the regular preview.
func DocumentKey(id string, target Target, hasSmall bool) Key {
	base := documentKeyPrefix + id

	switch target {
	case TargetMicro, TargetPictogram:
		if hasSmall {
			return Key(base + "?size=s")
		}
		return Key(base + "?size=m")
	case TargetPreview:
		return Key(base + "?size=m")
	case TargetDownload:
		return Key(base + "?download")
	default:
		return Key(base)
	}
}

// StickerKey derives the key of one sticker variant.
func StickerKey(sticker Sticker, target Target) Key {
	return DocumentKey(sticker.ID, target, sticker.HasPreviewSize("s"))
}

// DocumentRef is the decoded form of a document key.
type DocumentRef struct {
	// ID is the document identifier.
	ID string
	// ThumbSize is the preview size type, empty for the document itself.
	ThumbSize string
	// Download reports a download variant.
	Download bool
}

// ParseDocumentKey decodes a key produced by DocumentKey.
func ParseDocumentKey(key Key) (DocumentRef, bool) {
	raw := string(key)
	if !strings.HasPrefix(raw, documentKeyPrefix) {
		return DocumentRef{}, false
	}
	raw = strings.TrimPrefix(raw, documentKeyPrefix)

	id, query, _ := strings.Cut(raw, "?")
	if id == "" {
		return DocumentRef{}, false
	}
	ref := DocumentRef{ID: id}
	switch {
	case query == "":
	case query == "download":
		ref.Download = true
	case strings.HasPrefix(query, "size="):
		ref.ThumbSize = strings.TrimPrefix(query, "size=")
		if ref.ThumbSize == "" {
			return DocumentRef{}, false
		}
	default:
		return DocumentRef{}, false
	}

	return ref, true
}

// BucketFor returns the durable bucket holding key.
func BucketFor(key Key) string {
	if strings.HasPrefix(string(key), avatarKeyPrefix) {
		return BucketAvatars
	}

	return BucketMedia
}
