package media

import "errors"

var (
	// ErrEmptyKey indicates that a resolution was requested without a resource key.
	ErrEmptyKey = errors.New("media: empty resource key")
	// ErrUnknownFormat indicates a format value outside the declared variants.
	ErrUnknownFormat = errors.New("media: unknown format")
	// ErrRetrievalFailed indicates that the retry budget for a remote download was exhausted.
	ErrRetrievalFailed = errors.New("media: retrieval failed")
	// ErrNoFetcher indicates that no remote fetcher accepts a key.
	ErrNoFetcher = errors.New("media: no fetcher for key")
	// ErrUnsafeContent indicates a payload whose MIME type is not allowed without opt-in.
	ErrUnsafeContent = errors.New("media: unsafe content")
	// ErrNotFound indicates that a remote resource does not exist.
	ErrNotFound = errors.New("media: resource not found")
	// ErrPermanent marks a download failure that retrying cannot fix.
	ErrPermanent = errors.New("media: permanent failure")
)
