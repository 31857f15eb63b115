package stickerview

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"tgmedia/pkg/media"
)

const coverLetterCount = 2

// CoverInput is everything EvaluateCover needs for one sticker set cover.
type CoverInput struct {
	Set          media.StickerSet
	Capabilities Capabilities
	Intersecting bool
	NoPlay       bool
	Lookup       func(key media.Key) (media.Prepared, bool)
}

// CoverKind names how a cover is drawn.
type CoverKind int

// Cover kinds.
const (
	CoverLetters CoverKind = iota
	CoverImage
	CoverAnimated
)

// CoverDecision is the outcome of one cover evaluation.
type CoverDecision struct {
	// StaticKey is the first sticker's preview used when the set falls back to a static cover.
	StaticKey media.Key
	// MediaKey is the custom emoji document used as the cover.
	MediaKey media.Key
	// FallbackToStatic reports that the set thumbnail cannot be shown on this device.
	FallbackToStatic bool
	// NeedsStickers reports that the set's stickers must be loaded first.
	NeedsStickers bool
	// Play reports whether an animated cover should play.
	Play     bool
	Requests []Request
	Kind     CoverKind
	Media    media.Prepared
	Letters  string
}

// EvaluateCover picks the representation of a sticker set cover. Sets with only a
// static thumbnail, and video thumbnails on devices without WebM, fall back to the
// first sticker's preview; other thumbnails use the set's custom emoji document.
func EvaluateCover(input CoverInput) CoverDecision {
	set := input.Set
	lookup := input.Lookup
	if lookup == nil {
		lookup = func(media.Key) (media.Prepared, bool) { return media.Prepared{}, false }
	}

	hasOnlyStaticThumb := set.HasStaticThumb && !set.HasVideoThumb && !set.HasAnimatedThumb &&
		set.ThumbCustomEmojiID == ""

	decision := CoverDecision{
		FallbackToStatic: hasOnlyStaticThumb ||
			(set.HasVideoThumb && !input.Capabilities.WebMSupported && !set.HasAnimatedThumb),
		NeedsStickers: input.Intersecting && len(set.Stickers) == 0,
		Play:          input.Intersecting && !input.NoPlay,
	}

	if decision.FallbackToStatic && len(set.Stickers) > 0 {
		decision.StaticKey = media.StickerKey(set.Stickers[0], media.TargetPreview)
	}
	if ((set.HasThumbnail && !decision.FallbackToStatic) || set.HasAnimatedThumb) && set.ThumbCustomEmojiID != "" {
		decision.MediaKey = media.DocumentKey(set.ThumbCustomEmojiID, media.TargetFull, false)
	}

	var staticMedia, coverMedia media.Prepared
	hasStatic, hasCover := false, false
	if decision.StaticKey != "" {
		staticMedia, hasStatic = lookup(decision.StaticKey)
	}
	if decision.MediaKey != "" {
		coverMedia, hasCover = lookup(decision.MediaKey)
	}

	if input.Intersecting {
		if decision.StaticKey != "" && !hasStatic {
			decision.Requests = append(decision.Requests, Request{Key: decision.StaticKey, Format: media.FormatBlobURL})
		}
		if decision.MediaKey != "" && !hasCover {
			decision.Requests = append(decision.Requests, Request{Key: decision.MediaKey, Format: media.FormatBlobURL})
		}
	}

	ready := set.ThumbCustomEmojiID != "" || hasCover || hasStatic
	switch {
	case !ready:
		decision.Kind = CoverLetters
		decision.Letters = FirstLetters(set.Title, coverLetterCount)
	case set.HasAnimatedThumb:
		decision.Kind = CoverAnimated
		decision.Media = coverMedia
	default:
		decision.Kind = CoverImage
		if hasCover {
			decision.Media = coverMedia
		} else {
			decision.Media = staticMedia
		}
	}

	return decision
}

// FirstLetters returns the first letter of up to count words of phrase,
// ignoring punctuation.
func FirstLetters(phrase string, count int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return r
	}, phrase)

	var letters strings.Builder
	for index, word := range strings.Fields(cleaned) {
		if index >= count {
			break
		}
		r, _ := utf8.DecodeRuneInString(word)
		letters.WriteRune(r)
	}

	return letters.String()
}
