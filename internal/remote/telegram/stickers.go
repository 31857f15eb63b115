package telegram

import (
	"strconv"

	"tgmedia/pkg/media"

	"github.com/gotd/td/tg"
)

const (
	mimeLottie = "application/x-tgsticker"
	mimeWebM   = "video/webm"
)

// mapDocument converts one sticker or custom emoji document. Documents of any
// other kind are rejected.
func mapDocument(document *tg.Document, setShortName string) (media.Sticker, bool) {
	if document == nil {
		return media.Sticker{}, false
	}

	sticker := media.Sticker{
		ID:           strconv.FormatInt(document.ID, 10),
		IsLottie:     document.MimeType == mimeLottie,
		IsVideo:      document.MimeType == mimeWebM,
		SetShortName: setShortName,
	}

	isSticker := false
	for _, attribute := range document.Attributes {
		switch typed := attribute.(type) {
		case *tg.DocumentAttributeSticker:
			isSticker = true
			sticker.Emoji = typed.Alt
		case *tg.DocumentAttributeCustomEmoji:
			isSticker = true
			sticker.IsCustomEmoji = true
			sticker.Emoji = typed.Alt
		case *tg.DocumentAttributeImageSize:
			sticker.Width, sticker.Height = typed.W, typed.H
		case *tg.DocumentAttributeVideo:
			sticker.Width, sticker.Height = typed.W, typed.H
		}
	}
	if !isSticker {
		return media.Sticker{}, false
	}

	for _, thumb := range document.Thumbs {
		switch typed := thumb.(type) {
		case *tg.PhotoPathSize:
			if dataURI := pathThumbDataURI(typed.Bytes); dataURI != "" {
				sticker.Thumbnail = &media.Thumbnail{
					DataURI: dataURI,
					Width:   sticker.Width,
					Height:  sticker.Height,
				}
			}
		case *tg.PhotoSize:
			sticker.PreviewSizes = append(sticker.PreviewSizes, media.PreviewSize{
				Type: typed.Type, Width: typed.W, Height: typed.H, Bytes: typed.Size,
			})
		case *tg.PhotoCachedSize:
			sticker.PreviewSizes = append(sticker.PreviewSizes, media.PreviewSize{
				Type: typed.Type, Width: typed.W, Height: typed.H, Bytes: len(typed.Bytes),
			})
		case *tg.PhotoSizeProgressive:
			size := media.PreviewSize{Type: typed.Type, Width: typed.W, Height: typed.H}
			if count := len(typed.Sizes); count > 0 {
				size.Bytes = typed.Sizes[count-1]
			}
			sticker.PreviewSizes = append(sticker.PreviewSizes, size)
		}
	}

	return sticker, true
}

// mapStickerSet converts a sticker set and its documents. Animated and video
// covers arrive as thumbs of type "a" and "v".
func mapStickerSet(set tg.StickerSet, documents []tg.DocumentClass) media.StickerSet {
	thumbs, _ := set.GetThumbs()
	thumbDocumentID, hasThumbDocument := set.GetThumbDocumentID()

	mapped := media.StickerSet{
		ID:                 strconv.FormatInt(set.ID, 10),
		ShortName:          set.ShortName,
		Title:              set.Title,
		HasThumbnail:       len(thumbs) > 0 || hasThumbDocument,
		ShouldUseTextColor: set.TextColor,
	}
	for _, thumb := range thumbs {
		switch thumbType(thumb) {
		case "a":
			mapped.HasAnimatedThumb = true
		case "v":
			mapped.HasVideoThumb = true
		case "":
		default:
			mapped.HasStaticThumb = true
		}
	}
	if hasThumbDocument {
		mapped.ThumbCustomEmojiID = strconv.FormatInt(thumbDocumentID, 10)
	}

	for _, documentClass := range documents {
		document, ok := documentClass.(*tg.Document)
		if !ok {
			continue
		}
		if sticker, ok := mapDocument(document, set.ShortName); ok {
			mapped.Stickers = append(mapped.Stickers, sticker)
		}
	}

	return mapped
}

func thumbType(thumb tg.PhotoSizeClass) string {
	switch typed := thumb.(type) {
	case *tg.PhotoSize:
		return typed.Type
	case *tg.PhotoCachedSize:
		return typed.Type
	case *tg.PhotoSizeProgressive:
		return typed.Type
	default:
		return ""
	}
}

// mimeForFileType resolves the MIME type of a downloaded file, preferring the
// server-reported storage type over the document's declared type.
func mimeForFileType(fileType tg.StorageFileTypeClass, declared string) string {
	switch fileType.(type) {
	case *tg.StorageFileJpeg:
		return "image/jpeg"
	case *tg.StorageFilePng:
		return "image/png"
	case *tg.StorageFileWebp:
		return "image/webp"
	case *tg.StorageFileGif:
		return "image/gif"
	case *tg.StorageFileMp4:
		return "video/mp4"
	case *tg.StorageFileMov:
		return "video/quicktime"
	default:
		return declared
	}
}
