package stickerview

import (
	"context"
	"log/slog"
	"sync"

	"tgmedia/pkg/media"
)

// Resolver is the part of the media cache an item depends on.
type Resolver interface {
	Cached(key media.Key) (media.Prepared, bool)
	Fetch(ctx context.Context, key media.Key, format media.Format) (media.Prepared, error)
}

// Item drives the decision rules for one rendered sticker. It issues the
// requested fetches, remembers what resolved and re-evaluates as signals change.
// A failed fetch leaves the last good representation on display; the key is
// retried only after the item leaves and re-enters the loading viewport.
type Item struct {
	resolver     Resolver
	sticker      media.Sticker
	options      Options
	capabilities Capabilities
	logger       *slog.Logger
	onChange     func(Decision)

	mu       sync.Mutex
	signals  Signals
	resolved map[media.Key]media.Prepared
	pending  map[media.Key]struct{}
	failed   map[media.Key]error
	last     Decision
	fetches  sync.WaitGroup
}

// ItemOption configures an Item.
type ItemOption func(*Item)

// WithItemLogger configures the item logger.
func WithItemLogger(logger *slog.Logger) ItemOption {
	return func(item *Item) {
		if logger != nil {
			item.logger = logger
		}
	}
}

// WithOnChange registers a callback invoked with the new decision after every
// fetch the item issued settles.
func WithOnChange(fn func(Decision)) ItemOption {
	return func(item *Item) {
		item.onChange = fn
	}
}

// NewItem creates an idle item.
func NewItem(
	resolver Resolver,
	sticker media.Sticker,
	options Options,
	capabilities Capabilities,
	itemOptions ...ItemOption,
) *Item {
	item := &Item{
		resolver:     resolver,
		sticker:      sticker,
		options:      options,
		capabilities: capabilities,
		logger:       slog.Default(),
		resolved:     make(map[media.Key]media.Prepared),
		pending:      make(map[media.Key]struct{}),
		failed:       make(map[media.Key]error),
	}
	for _, option := range itemOptions {
		option(item)
	}
	item.last = item.evaluateLocked()

	return item
}

// SetVisibility updates both viewport thresholds and starts any fetch the new
// decision requests.
func (i *Item) SetVisibility(ctx context.Context, intersectingForLoading bool, intersectingForPlaying bool) Decision {
	return i.update(ctx, func(signals *Signals) {
		signals.IntersectingForLoading = intersectingForLoading
		signals.IntersectingForPlaying = intersectingForPlaying
	})
}

// MarkPlayerReady records that the player rendered its first frame.
func (i *Item) MarkPlayerReady(ctx context.Context) Decision {
	return i.update(ctx, func(signals *Signals) {
		signals.PlayerReady = true
	})
}

// MarkVideoBroken records that the video element failed to play.
func (i *Item) MarkVideoBroken(ctx context.Context) Decision {
	return i.update(ctx, func(signals *Signals) {
		signals.VideoBroken = true
	})
}

// Decision returns the latest decision.
func (i *Item) Decision() Decision {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.last
}

// Wait blocks until every fetch the item issued has settled.
func (i *Item) Wait() {
	i.fetches.Wait()
}

func (i *Item) update(ctx context.Context, mutate func(*Signals)) Decision {
	i.mu.Lock()
	mutate(&i.signals)
	if i.signals.IntersectingForLoading && i.signals.IntersectingForPlaying {
		i.signals.HasIntersectedForPlaying = true
	}
	if !i.signals.IntersectingForLoading {
		clear(i.failed)
	}
	decision := i.evaluateLocked()
	i.last = decision
	starts := i.claimLocked(decision)
	i.mu.Unlock()

	i.start(ctx, starts)

	return decision
}

func (i *Item) evaluateLocked() Decision {
	return Evaluate(Input{
		Sticker:      i.sticker,
		Options:      i.options,
		Capabilities: i.capabilities,
		Signals:      i.signals,
		Lookup: func(key media.Key) (media.Prepared, bool) {
			if prepared, ok := i.resolved[key]; ok {
				return prepared, true
			}
			if i.resolver == nil {
				return media.Prepared{}, false
			}
			return i.resolver.Cached(key)
		},
	})
}

// claimLocked marks requested keys as pending and returns the ones to start.
func (i *Item) claimLocked(decision Decision) []Request {
	starts := make([]Request, 0, len(decision.Requests))
	for _, request := range decision.Requests {
		if _, busy := i.pending[request.Key]; busy {
			continue
		}
		if _, failed := i.failed[request.Key]; failed {
			continue
		}
		i.pending[request.Key] = struct{}{}
		starts = append(starts, request)
	}

	return starts
}

func (i *Item) start(ctx context.Context, requests []Request) {
	if i.resolver == nil {
		return
	}

	// Fetches outlive the signal that started them.
	ctx = context.WithoutCancel(ctx)
	for _, request := range requests {
		i.fetches.Add(1)
		go func(request Request) {
			defer i.fetches.Done()
			prepared, err := i.resolver.Fetch(ctx, request.Key, request.Format)
			i.settle(ctx, request, prepared, err)
		}(request)
	}
}

func (i *Item) settle(ctx context.Context, request Request, prepared media.Prepared, err error) {
	i.mu.Lock()
	delete(i.pending, request.Key)
	if err != nil {
		i.failed[request.Key] = err
		i.logger.DebugContext(ctx, "sticker media unavailable",
			"sticker", i.sticker.ID,
			"key", request.Key,
			"error", err,
		)
	} else {
		i.resolved[request.Key] = prepared
	}
	decision := i.evaluateLocked()
	i.last = decision
	starts := i.claimLocked(decision)
	onChange := i.onChange
	i.mu.Unlock()

	i.start(ctx, starts)
	if onChange != nil {
		onChange(decision)
	}
}
