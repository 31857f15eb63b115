// Package stickerview decides, per rendered sticker, which representation to
// request and which to display as visibility and device signals change.
package stickerview

import (
	"tgmedia/pkg/media"
)

// State is the resolution stage of one rendered item.
type State int

const (
	// StateIdle means nothing is requested and at most the inline thumbnail is shown.
	StateIdle State = iota
	// StatePreviewPending means the preview has been requested and is not yet available.
	StatePreviewPending
	// StatePreviewReady means the preview is the displayed representation.
	StatePreviewReady
	// StateFullMediaPending means full media has been requested and is not yet displayable.
	StateFullMediaPending
	// StateFullMediaReady means full media is displayed.
	StateFullMediaReady
)

// String returns a stable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreviewPending:
		return "preview_pending"
	case StatePreviewReady:
		return "preview_ready"
	case StateFullMediaPending:
		return "full_media_pending"
	case StateFullMediaReady:
		return "full_media_ready"
	default:
		return "unknown"
	}
}

// Rule identifies which decision rule shaped a Decision.
type Rule int

const (
	// RuleProgressive is the default: preview first, then full media.
	RuleProgressive Rule = iota
	// RuleUnsupportedVideo forces preview for video the device cannot play.
	RuleUnsupportedVideo
	// RuleStaticSmall forces preview for static stickers rendered small.
	RuleStaticSmall
	// RulePlaybackDisabled forces preview when the caller disabled playback.
	RulePlaybackDisabled
	// RuleIdenticalKey skips full media whose key equals the resolved preview key.
	RuleIdenticalKey
)

// String returns a stable name for the rule.
func (r Rule) String() string {
	switch r {
	case RuleProgressive:
		return "progressive"
	case RuleUnsupportedVideo:
		return "unsupported_video"
	case RuleStaticSmall:
		return "static_small"
	case RulePlaybackDisabled:
		return "playback_disabled"
	case RuleIdenticalKey:
		return "identical_key"
	default:
		return "unknown"
	}
}

// Source names the representation currently displayed.
type Source int

// Display sources, from least to most detailed.
const (
	SourceNone Source = iota
	SourceThumbnail
	SourcePreview
	SourceFull
)

// Capabilities describes what the device can play.
type Capabilities struct {
	WebMSupported bool
	Mobile        bool
}

// Options are caller overrides for one rendered item.
type Options struct {
	// FullMediaKey overrides the key used for full media.
	FullMediaKey media.Key
	// IsSmall marks list-size rendering.
	IsSmall bool
	// NoLoad suppresses every fetch.
	NoLoad bool
	// NoPlay disables playback.
	NoPlay bool
	// NoVideoOnMobile suppresses video playback on mobile devices.
	NoVideoOnMobile bool
	// CustomColor tints the sticker; previews are not fetched for tinted stickers.
	CustomColor string
}

// Signals are the visibility and player signals of one rendered item.
type Signals struct {
	IntersectingForLoading bool
	IntersectingForPlaying bool
	// HasIntersectedForPlaying latches once the item was ever intersecting for playing.
	HasIntersectedForPlaying bool
	PlayerReady              bool
	VideoBroken              bool
}

// Input is everything Evaluate needs for one decision.
type Input struct {
	Sticker      media.Sticker
	Options      Options
	Capabilities Capabilities
	Signals      Signals
	// Lookup returns a resolved value for key, from any cache level the caller knows.
	Lookup func(key media.Key) (media.Prepared, bool)
}

// Request is one key the item needs resolved.
type Request struct {
	Key    media.Key
	Format media.Format
}

// Display is what the item shows right now.
type Display struct {
	Source Source
	// Media is set for SourcePreview and SourceFull.
	Media media.Prepared
	// ThumbnailURI is set for SourceThumbnail.
	ThumbnailURI string
}

// Decision is the outcome of one evaluation.
type Decision struct {
	State        State
	Rule         Rule
	PreviewKey   media.Key
	FullKey      media.Key
	ForcePreview bool
	SkipFull     bool
	// MountPlayer reports that full media should be handed to a player so it can
	// signal readiness.
	MountPlayer bool
	Requests    []Request
	Display     Display
}

// Evaluate applies the decision rules in priority order:
//  1. video the device cannot play forces preview,
//  2. a static sticker rendered small forces preview,
//  3. disabled playback forces preview,
//  4. full media whose key equals an already resolved preview key is skipped,
//  5. otherwise preview then full media as visibility allows.
func Evaluate(input Input) Decision {
	sticker := input.Sticker
	opts := input.Options
	signals := input.Signals
	lookup := input.Lookup
	if lookup == nil {
		lookup = func(media.Key) (media.Prepared, bool) { return media.Prepared{}, false }
	}

	decision := Decision{
		PreviewKey: media.StickerKey(sticker, media.TargetPreview),
		FullKey:    opts.FullMediaKey,
	}
	if decision.FullKey == "" {
		decision.FullKey = media.StickerKey(sticker, media.TargetFull)
	}

	isStatic := sticker.IsStatic()
	isUnsupportedVideo := sticker.IsVideo &&
		(!input.Capabilities.WebMSupported || (opts.NoVideoOnMobile && input.Capabilities.Mobile))

	switch {
	case isUnsupportedVideo:
		decision.ForcePreview = true
		decision.Rule = RuleUnsupportedVideo
	case isStatic && opts.IsSmall:
		decision.ForcePreview = true
		decision.Rule = RuleStaticSmall
	case !isStatic && opts.NoPlay:
		decision.ForcePreview = true
		decision.Rule = RulePlaybackDisabled
	}

	intersectingForPlaying := signals.IntersectingForPlaying && signals.IntersectingForLoading
	readyToMountFull := signals.HasIntersectedForPlaying || intersectingForPlaying
	shouldLoad := signals.IntersectingForLoading && !opts.NoLoad

	preview, hasPreview := lookup(decision.PreviewKey)
	if !decision.ForcePreview && decision.FullKey == decision.PreviewKey && hasPreview {
		decision.Rule = RuleIdenticalKey
	}
	decision.SkipFull = decision.ForcePreview || (decision.FullKey == decision.PreviewKey && hasPreview)

	shouldLoadPreview := shouldLoad && opts.CustomColor == "" && !hasPreview &&
		(!readyToMountFull || decision.ForcePreview)
	if shouldLoadPreview {
		decision.Requests = append(decision.Requests, Request{Key: decision.PreviewKey, Format: media.FormatBlobURL})
	}

	var full media.Prepared
	hasFull := false
	if !decision.SkipFull {
		full, hasFull = lookup(decision.FullKey)
	}
	shouldLoadFull := shouldLoad && readyToMountFull && !decision.SkipFull && !hasFull
	if shouldLoadFull {
		decision.Requests = append(decision.Requests, Request{Key: decision.FullKey, Format: media.FormatBlobURL})
	}

	decision.MountPlayer = readyToMountFull && !decision.SkipFull && hasFull && !signals.VideoBroken
	fullReady := decision.MountPlayer && (isStatic || signals.PlayerReady)

	switch {
	case fullReady:
		decision.Display = Display{Source: SourceFull, Media: full}
	case hasPreview:
		decision.Display = Display{Source: SourcePreview, Media: preview}
	case sticker.ThumbnailURI() != "":
		decision.Display = Display{Source: SourceThumbnail, ThumbnailURI: sticker.ThumbnailURI()}
	default:
		decision.Display = Display{Source: SourceNone}
	}

	switch {
	case fullReady:
		decision.State = StateFullMediaReady
	case shouldLoadFull || decision.MountPlayer:
		decision.State = StateFullMediaPending
	case hasPreview:
		decision.State = StatePreviewReady
	case shouldLoadPreview:
		decision.State = StatePreviewPending
	default:
		decision.State = StateIdle
	}

	return decision
}
