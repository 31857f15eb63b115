package stickerview

import (
	"context"
	"errors"
	"sync"
	"testing"

	"tgmedia/pkg/media"

	"github.com/google/go-cmp/cmp"
)

type stubResolver struct {
	mu     sync.Mutex
	cached map[media.Key]media.Prepared
	errs   map[media.Key]error
	calls  []media.Key
}

func newStubResolver() *stubResolver {
	return &stubResolver{
		cached: make(map[media.Key]media.Prepared),
		errs:   make(map[media.Key]error),
	}
}

func (r *stubResolver) Cached(key media.Key) (media.Prepared, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prepared, ok := r.cached[key]
	return prepared, ok
}

func (r *stubResolver) Fetch(ctx context.Context, key media.Key, format media.Format) (media.Prepared, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, key)
	if err := ctx.Err(); err != nil {
		return media.Prepared{}, err
	}
	if err := r.errs[key]; err != nil {
		return media.Prepared{}, err
	}
	return media.Prepared{Format: format, URL: "blob:" + string(key)}, nil
}

func (r *stubResolver) fetched() []media.Key {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]media.Key(nil), r.calls...)
}

func animatedSticker() media.Sticker {
	return media.Sticker{
		ID:        "100",
		IsLottie:  true,
		Thumbnail: &media.Thumbnail{DataURI: "data:image/svg+xml;utf8,thumb"},
	}
}

func requestKeys(decision Decision) []media.Key {
	keys := make([]media.Key, 0, len(decision.Requests))
	for _, request := range decision.Requests {
		keys = append(keys, request.Key)
	}
	return keys
}

// TestEvaluateRules verifies the priority order of the forcing rules.
func TestEvaluateRules(t *testing.T) {
	t.Parallel()

	video := media.Sticker{ID: "1", IsVideo: true}
	static := media.Sticker{ID: "2"}
	lottie := media.Sticker{ID: "3", IsLottie: true}
	playing := Signals{IntersectingForLoading: true, IntersectingForPlaying: true}

	tests := []struct {
		name             string
		sticker          media.Sticker
		options          Options
		capabilities     Capabilities
		wantRule         Rule
		wantForcePreview bool
	}{
		{
			name:             "video without webm support",
			sticker:          video,
			capabilities:     Capabilities{WebMSupported: false},
			wantRule:         RuleUnsupportedVideo,
			wantForcePreview: true,
		},
		{
			name:             "video suppressed on mobile",
			sticker:          video,
			options:          Options{NoVideoOnMobile: true},
			capabilities:     Capabilities{WebMSupported: true, Mobile: true},
			wantRule:         RuleUnsupportedVideo,
			wantForcePreview: true,
		},
		{
			name:         "video allowed on desktop",
			sticker:      video,
			options:      Options{NoVideoOnMobile: true},
			capabilities: Capabilities{WebMSupported: true},
			wantRule:     RuleProgressive,
		},
		{
			name:             "unsupported video wins over playback disabled",
			sticker:          video,
			options:          Options{NoPlay: true},
			capabilities:     Capabilities{WebMSupported: false},
			wantRule:         RuleUnsupportedVideo,
			wantForcePreview: true,
		},
		{
			name:             "static small",
			sticker:          static,
			options:          Options{IsSmall: true},
			capabilities:     Capabilities{WebMSupported: true},
			wantRule:         RuleStaticSmall,
			wantForcePreview: true,
		},
		{
			name:         "static large ignores no play",
			sticker:      static,
			options:      Options{NoPlay: true},
			capabilities: Capabilities{WebMSupported: true},
			wantRule:     RuleProgressive,
		},
		{
			name:             "animated with playback disabled",
			sticker:          lottie,
			options:          Options{NoPlay: true},
			capabilities:     Capabilities{WebMSupported: true},
			wantRule:         RulePlaybackDisabled,
			wantForcePreview: true,
		},
		{
			name:         "animated small still progresses",
			sticker:      lottie,
			options:      Options{IsSmall: true},
			capabilities: Capabilities{WebMSupported: true},
			wantRule:     RuleProgressive,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			decision := Evaluate(Input{
				Sticker:      testCase.sticker,
				Options:      testCase.options,
				Capabilities: testCase.capabilities,
				Signals:      playing,
			})
			if decision.Rule != testCase.wantRule {
				t.Fatalf("rule = %s, want %s", decision.Rule, testCase.wantRule)
			}
			if decision.ForcePreview != testCase.wantForcePreview {
				t.Fatalf("force preview = %v, want %v", decision.ForcePreview, testCase.wantForcePreview)
			}
			if testCase.wantForcePreview {
				want := []media.Key{decision.PreviewKey}
				if diff := cmp.Diff(want, requestKeys(decision)); diff != "" {
					t.Fatalf("requests mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}

// TestEvaluateIdleWithoutLoadingIntersection verifies nothing is requested off-screen.
func TestEvaluateIdleWithoutLoadingIntersection(t *testing.T) {
	t.Parallel()

	decision := Evaluate(Input{
		Sticker:      animatedSticker(),
		Capabilities: Capabilities{WebMSupported: true},
		Signals:      Signals{IntersectingForPlaying: true},
	})
	if decision.State != StateIdle {
		t.Fatalf("state = %s, want idle", decision.State)
	}
	if len(decision.Requests) != 0 {
		t.Fatalf("requests = %v, want none", decision.Requests)
	}
	if decision.Display.Source != SourceThumbnail {
		t.Fatalf("display = %v, want thumbnail", decision.Display.Source)
	}
}

// TestEvaluateNoLoadSuppressesFetches verifies the no-load override.
func TestEvaluateNoLoadSuppressesFetches(t *testing.T) {
	t.Parallel()

	decision := Evaluate(Input{
		Sticker:      animatedSticker(),
		Options:      Options{NoLoad: true},
		Capabilities: Capabilities{WebMSupported: true},
		Signals:      Signals{IntersectingForLoading: true, IntersectingForPlaying: true},
	})
	if len(decision.Requests) != 0 {
		t.Fatalf("requests = %v, want none", decision.Requests)
	}
}

// TestEvaluateCustomColorSkipsPreview verifies tinted stickers go straight to full media.
func TestEvaluateCustomColorSkipsPreview(t *testing.T) {
	t.Parallel()

	decision := Evaluate(Input{
		Sticker:      animatedSticker(),
		Options:      Options{CustomColor: "#ff0000"},
		Capabilities: Capabilities{WebMSupported: true},
		Signals:      Signals{IntersectingForLoading: true},
	})
	if len(decision.Requests) != 0 {
		t.Fatalf("requests = %v, want none before playing intersection", decision.Requests)
	}
}

// TestEvaluateIdenticalKeySkip verifies no full fetch when full and preview share a resolved key.
func TestEvaluateIdenticalKeySkip(t *testing.T) {
	t.Parallel()

	sticker := animatedSticker()
	previewKey := media.StickerKey(sticker, media.TargetPreview)
	resolver := newStubResolver()
	resolver.cached[previewKey] = media.Prepared{Format: media.FormatBlobURL, URL: "blob:preview"}

	item := NewItem(resolver, sticker, Options{FullMediaKey: previewKey}, Capabilities{WebMSupported: true})
	decision := item.SetVisibility(context.Background(), true, true)
	item.Wait()

	if decision.Rule != RuleIdenticalKey {
		t.Fatalf("rule = %s, want identical_key", decision.Rule)
	}
	if !decision.SkipFull {
		t.Fatal("expected full media to be skipped")
	}
	if len(decision.Requests) != 0 {
		t.Fatalf("requests = %v, want none", decision.Requests)
	}
	if got := resolver.fetched(); len(got) != 0 {
		t.Fatalf("fetches = %v, want none", got)
	}
	if decision.Display.Source != SourcePreview || decision.Display.Media.URL != "blob:preview" {
		t.Fatalf("display = %+v, want cached preview", decision.Display)
	}
}

// TestItemFallbackOrdering walks an animated sticker from off-screen to playing.
func TestItemFallbackOrdering(t *testing.T) {
	t.Parallel()

	sticker := animatedSticker()
	previewKey := media.StickerKey(sticker, media.TargetPreview)
	fullKey := media.StickerKey(sticker, media.TargetFull)
	resolver := newStubResolver()
	ctx := context.Background()

	var changes []State
	var changesMu sync.Mutex
	item := NewItem(resolver, sticker, Options{}, Capabilities{WebMSupported: true},
		WithOnChange(func(decision Decision) {
			changesMu.Lock()
			defer changesMu.Unlock()
			changes = append(changes, decision.State)
		}))

	decision := item.Decision()
	if decision.State != StateIdle || decision.Display.Source != SourceThumbnail {
		t.Fatalf("initial = %s/%v, want idle/thumbnail", decision.State, decision.Display.Source)
	}
	if len(resolver.fetched()) != 0 {
		t.Fatal("idle item issued a fetch")
	}

	decision = item.SetVisibility(ctx, true, false)
	if decision.State != StatePreviewPending {
		t.Fatalf("state = %s, want preview_pending", decision.State)
	}
	if diff := cmp.Diff([]media.Key{previewKey}, requestKeys(decision)); diff != "" {
		t.Fatalf("requests mismatch (-want +got):\n%s", diff)
	}
	item.Wait()
	decision = item.Decision()
	if decision.State != StatePreviewReady || decision.Display.Source != SourcePreview {
		t.Fatalf("after preview = %s/%v, want preview_ready/preview", decision.State, decision.Display.Source)
	}

	decision = item.SetVisibility(ctx, true, true)
	if decision.State != StateFullMediaPending {
		t.Fatalf("state = %s, want full_media_pending", decision.State)
	}
	if diff := cmp.Diff([]media.Key{fullKey}, requestKeys(decision)); diff != "" {
		t.Fatalf("requests mismatch (-want +got):\n%s", diff)
	}
	item.Wait()
	decision = item.Decision()
	if decision.State != StateFullMediaPending || decision.Display.Source != SourcePreview {
		t.Fatalf("before player ready = %s/%v, want full_media_pending/preview", decision.State, decision.Display.Source)
	}
	if !decision.MountPlayer {
		t.Fatal("expected player to be mounted once full media resolved")
	}

	decision = item.MarkPlayerReady(ctx)
	if decision.State != StateFullMediaReady || decision.Display.Source != SourceFull {
		t.Fatalf("after player ready = %s/%v, want full_media_ready/full", decision.State, decision.Display.Source)
	}
	if decision.Display.Media.URL != "blob:"+string(fullKey) {
		t.Fatalf("full url = %q", decision.Display.Media.URL)
	}

	if diff := cmp.Diff([]media.Key{previewKey, fullKey}, resolver.fetched()); diff != "" {
		t.Fatalf("fetch order mismatch (-want +got):\n%s", diff)
	}
	changesMu.Lock()
	defer changesMu.Unlock()
	if diff := cmp.Diff([]State{StatePreviewReady, StateFullMediaPending}, changes); diff != "" {
		t.Fatalf("change notifications mismatch (-want +got):\n%s", diff)
	}
}

// TestItemStaticStickerNeedsNoPlayer verifies static full media displays without a player signal.
func TestItemStaticStickerNeedsNoPlayer(t *testing.T) {
	t.Parallel()

	sticker := media.Sticker{ID: "5"}
	resolver := newStubResolver()
	item := NewItem(resolver, sticker, Options{}, Capabilities{WebMSupported: true})

	item.SetVisibility(context.Background(), true, true)
	item.Wait()

	decision := item.Decision()
	if decision.State != StateFullMediaReady || decision.Display.Source != SourceFull {
		t.Fatalf("decision = %s/%v, want full_media_ready/full", decision.State, decision.Display.Source)
	}
}

// TestItemKeepsLastGoodRepresentationOnFailure verifies graceful degradation.
func TestItemKeepsLastGoodRepresentationOnFailure(t *testing.T) {
	t.Parallel()

	sticker := animatedSticker()
	fullKey := media.StickerKey(sticker, media.TargetFull)
	resolver := newStubResolver()
	resolver.errs[fullKey] = errors.New("retrieval failed")
	ctx := context.Background()
	item := NewItem(resolver, sticker, Options{}, Capabilities{WebMSupported: true})

	item.SetVisibility(ctx, true, false)
	item.Wait()
	item.SetVisibility(ctx, true, true)
	item.Wait()

	decision := item.Decision()
	if decision.Display.Source != SourcePreview {
		t.Fatalf("display = %v, want preview after full failure", decision.Display.Source)
	}

	item.SetVisibility(ctx, true, true)
	item.Wait()
	if got := countKey(resolver.fetched(), fullKey); got != 1 {
		t.Fatalf("full fetches while visible = %d, want 1", got)
	}

	item.SetVisibility(ctx, false, false)
	item.SetVisibility(ctx, true, true)
	item.Wait()
	if got := countKey(resolver.fetched(), fullKey); got != 2 {
		t.Fatalf("full fetches after re-entering = %d, want 2", got)
	}
}

// TestItemFetchesOutliveSignalContext verifies a cancelled signal context does
// not fail the fetches it started.
func TestItemFetchesOutliveSignalContext(t *testing.T) {
	t.Parallel()

	sticker := animatedSticker()
	resolver := newStubResolver()
	item := NewItem(resolver, sticker, Options{}, Capabilities{WebMSupported: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	item.SetVisibility(ctx, true, false)
	item.Wait()

	decision := item.Decision()
	if decision.Display.Source != SourcePreview {
		t.Fatalf("display = %v, want preview resolved despite cancelled context", decision.Display.Source)
	}
}

// TestItemVideoBrokenFallsBack verifies a broken video returns to the preview.
func TestItemVideoBrokenFallsBack(t *testing.T) {
	t.Parallel()

	sticker := media.Sticker{ID: "6", IsVideo: true}
	resolver := newStubResolver()
	ctx := context.Background()
	item := NewItem(resolver, sticker, Options{}, Capabilities{WebMSupported: true})

	item.SetVisibility(ctx, true, false)
	item.Wait()
	item.SetVisibility(ctx, true, true)
	item.Wait()
	item.MarkPlayerReady(ctx)

	decision := item.MarkVideoBroken(ctx)
	if decision.Display.Source != SourcePreview {
		t.Fatalf("display = %v, want preview", decision.Display.Source)
	}
	if decision.MountPlayer {
		t.Fatal("broken video must not be mounted")
	}
}

func countKey(keys []media.Key, key media.Key) int {
	count := 0
	for _, candidate := range keys {
		if candidate == key {
			count++
		}
	}
	return count
}
