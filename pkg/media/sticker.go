package media

// Thumbnail is an inline image shown before any fetched representation.
type Thumbnail struct {
	DataURI string
	Width   int
	Height  int
}

// PreviewSize is one server-side preview rendition of a document.
type PreviewSize struct {
	// Type is the size token ("s", "m", ...).
	Type   string
	Width  int
	Height int
	// Bytes is the encoded size when the server reports it.
	Bytes int
}

// Sticker carries the identifiers and thumbnail data used to derive keys.
type Sticker struct {
	ID            string
	Emoji         string
	IsLottie      bool
	IsVideo       bool
	IsCustomEmoji bool
	Width         int
	Height        int
	// Thumbnail is nil when the sticker has no inline thumbnail.
	Thumbnail    *Thumbnail
	PreviewSizes []PreviewSize
	// SetShortName names the sticker set the sticker belongs to.
	SetShortName string
}

// HasPreviewSize reports whether the sticker carries a preview of sizeType.
func (s Sticker) HasPreviewSize(sizeType string) bool {
	for _, size := range s.PreviewSizes {
		if size.Type == sizeType {
			return true
		}
	}

	return false
}

// IsStatic reports whether the sticker is neither animated nor video.
func (s Sticker) IsStatic() bool {
	return !s.IsLottie && !s.IsVideo
}

// ThumbnailURI returns the inline thumbnail data URI, or empty.
func (s Sticker) ThumbnailURI() string {
	if s.Thumbnail == nil {
		return ""
	}

	return s.Thumbnail.DataURI
}

// StickerSet describes a set and the thumbnail variants it offers.
type StickerSet struct {
	ID               string
	ShortName        string
	Title            string
	HasThumbnail     bool
	HasStaticThumb   bool
	HasAnimatedThumb bool
	HasVideoThumb    bool
	// ThumbCustomEmojiID is the document used as an animated cover, if any.
	ThumbCustomEmojiID string
	// ShouldUseTextColor marks sets tinted with the surrounding text color.
	ShouldUseTextColor bool
	Stickers           []Sticker
}
