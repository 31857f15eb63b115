// Package remote routes media downloads to the configured remote fetchers.
package remote

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"tgmedia/pkg/media"
)

// Runtime is one built fetcher together with the key prefixes it serves and its
// optional session lifecycle.
type Runtime struct {
	Fetcher media.Fetcher
	// Prefixes are the key prefixes routed to Fetcher. An empty prefix matches
	// every key and acts as the fallback.
	Prefixes []string
	// Start opens a long-lived session. Nil when the fetcher needs none.
	Start func(ctx context.Context) error
	// Shutdown closes the session and releases resources. Nil when not needed.
	Shutdown func(ctx context.Context) error
	// Stickers loads sticker set metadata. Nil when the fetcher cannot.
	Stickers StickerSource
}

// StickerSource loads sticker sets and makes their documents downloadable.
type StickerSource interface {
	LoadStickerSet(ctx context.Context, shortName string) (media.StickerSet, error)
}

// Route binds one named runtime into a Router.
type Route struct {
	Name    string
	Runtime Runtime
}

type prefixRoute struct {
	prefix  string
	name    string
	fetcher media.Fetcher
}

// Router dispatches each download to the fetcher with the longest matching key prefix.
type Router struct {
	routes []prefixRoute
	names  []string
}

// NewRouter creates a router over routes. Every prefix may be claimed by one route only.
func NewRouter(routes []Route) (*Router, error) {
	owners := make(map[string]string)
	names := make([]string, 0, len(routes))
	seenNames := make(map[string]struct{}, len(routes))
	var prefixRoutes []prefixRoute
	for _, route := range routes {
		if route.Name == "" {
			return nil, fmt.Errorf("new remote router: missing route name")
		}
		if _, exists := seenNames[route.Name]; exists {
			return nil, fmt.Errorf("new remote router: duplicate route name %s", route.Name)
		}
		seenNames[route.Name] = struct{}{}
		if route.Runtime.Fetcher == nil {
			return nil, fmt.Errorf("new remote router route %s: nil fetcher", route.Name)
		}

		prefixes := route.Runtime.Prefixes
		if len(prefixes) == 0 {
			prefixes = []string{""}
		}
		for _, prefix := range prefixes {
			if owner, exists := owners[prefix]; exists {
				return nil, fmt.Errorf("new remote router route %s: prefix %q already routed to %s", route.Name, prefix, owner)
			}
			owners[prefix] = route.Name
			prefixRoutes = append(prefixRoutes, prefixRoute{
				prefix:  prefix,
				name:    route.Name,
				fetcher: route.Runtime.Fetcher,
			})
		}
		names = append(names, route.Name)
	}

	sort.SliceStable(prefixRoutes, func(i, j int) bool {
		return len(prefixRoutes[i].prefix) > len(prefixRoutes[j].prefix)
	})
	sort.Strings(names)

	return &Router{routes: prefixRoutes, names: names}, nil
}

// Download routes request to its fetcher. Keys no route accepts fail with
// media.ErrNoFetcher.
func (r *Router) Download(
	ctx context.Context,
	request media.Request,
	onProgress media.ProgressFunc,
) (media.Payload, error) {
	name, fetcher, err := r.Resolve(request.Key)
	if err != nil {
		return media.Payload{}, err
	}

	payload, err := fetcher.Download(ctx, request, onProgress)
	if err != nil {
		return media.Payload{}, fmt.Errorf("route %s download %s: %w", name, request.Key, err)
	}

	return payload, nil
}

// Resolve returns the name and fetcher serving key.
func (r *Router) Resolve(key media.Key) (string, media.Fetcher, error) {
	for _, route := range r.routes {
		if strings.HasPrefix(string(key), route.prefix) {
			return route.name, route.fetcher, nil
		}
	}

	return "", nil, fmt.Errorf("%w: %s", media.ErrNoFetcher, key)
}

// Names returns the routed fetcher names in sorted order.
func (r *Router) Names() []string {
	names := make([]string, len(r.names))
	copy(names, r.names)

	return names
}
