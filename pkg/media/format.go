package media

import (
	"fmt"
	"strings"
)

// Format selects the representation a resolution produces.
type Format int

const (
	// FormatBlobURL produces an in-session blob reference to the fetched bytes.
	FormatBlobURL Format = iota + 1
	// FormatText produces the fetched bytes decoded as text.
	FormatText
	// FormatRaw produces the fetched bytes unchanged.
	FormatRaw
	// FormatProgressive produces a streaming URL without fetching anything.
	FormatProgressive
	// FormatDownloadURL produces a download URL without fetching anything.
	FormatDownloadURL
)

// CacheType is the durable-cache serialization kind for one format.
type CacheType string

const (
	// CacheTypeBlob stores bytes together with their MIME type.
	CacheTypeBlob CacheType = "blob"
	// CacheTypeText stores UTF-8 text.
	CacheTypeText CacheType = "text"
	// CacheTypeRaw stores opaque bytes.
	CacheTypeRaw CacheType = "raw"
)

// Cacheability describes when a fetched payload may be written to the durable cache.
type Cacheability int

const (
	// CacheNever marks formats that never reach the durable cache.
	CacheNever Cacheability = iota
	// CacheAlways marks formats that are always persisted.
	CacheAlways
	// CacheIfSmall marks formats persisted only under the configured size ceiling.
	CacheIfSmall
)

// Behavior is the per-format dispatch table entry.
type Behavior struct {
	// CacheType is the durable serialization kind. Empty for URL formats.
	CacheType CacheType
	// SynthesizesURL reports that the format resolves to a URL without any I/O.
	SynthesizesURL bool
	// Cacheability gates durable writes after a remote download.
	Cacheability Cacheability
}

// Behavior returns the dispatch entry for f. Every declared format is matched
// explicitly; an undeclared value yields ErrUnknownFormat.
func (f Format) Behavior() (Behavior, error) {
	switch f {
	case FormatBlobURL:
		return Behavior{CacheType: CacheTypeBlob, Cacheability: CacheIfSmall}, nil
	case FormatText:
		return Behavior{CacheType: CacheTypeText, Cacheability: CacheAlways}, nil
	case FormatRaw:
		return Behavior{CacheType: CacheTypeRaw, Cacheability: CacheAlways}, nil
	case FormatProgressive:
		return Behavior{SynthesizesURL: true, Cacheability: CacheNever}, nil
	case FormatDownloadURL:
		return Behavior{SynthesizesURL: true, Cacheability: CacheNever}, nil
	default:
		return Behavior{}, fmt.Errorf("%w: %d", ErrUnknownFormat, int(f))
	}
}

// String returns the configuration token of f.
func (f Format) String() string {
	switch f {
	case FormatBlobURL:
		return "blob"
	case FormatText:
		return "text"
	case FormatRaw:
		return "raw"
	case FormatProgressive:
		return "progressive"
	case FormatDownloadURL:
		return "download"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ParseFormat resolves a configuration token into a Format.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "blob", "blob_url", "bloburl":
		return FormatBlobURL, nil
	case "text":
		return FormatText, nil
	case "raw":
		return FormatRaw, nil
	case "progressive":
		return FormatProgressive, nil
	case "download", "download_url":
		return FormatDownloadURL, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, raw)
	}
}
