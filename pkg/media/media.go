package media

import (
	"bytes"
	"context"
	"mime"
	"strings"
)

// Prepared is the value handed to renderers for one resolved key. It is immutable
// once produced and lives for the whole session.
type Prepared struct {
	// Format is the representation this value carries.
	Format Format
	// URL is set for FormatBlobURL, FormatProgressive and FormatDownloadURL.
	URL string
	// Text is set for FormatText.
	Text string
	// Raw is set for FormatRaw.
	Raw []byte
	// MIMEType is the content type of the underlying bytes when known.
	MIMEType string
	// Size is the byte length of the underlying payload when known.
	Size int
}

// Value returns the representation selected by Format.
func (p Prepared) Value() any {
	switch p.Format {
	case FormatText:
		return p.Text
	case FormatRaw:
		return p.Raw
	default:
		return p.URL
	}
}

// Clone returns a copy of p that shares no bytes with it.
func (p Prepared) Clone() Prepared {
	p.Raw = bytes.Clone(p.Raw)
	return p
}

// Blob is the payload behind one blob reference.
type Blob struct {
	Data     []byte
	MIMEType string
}

// Clone returns a copy of b that shares no bytes with it.
func (b Blob) Clone() Blob {
	b.Data = bytes.Clone(b.Data)
	return b
}

// Payload is the raw result of a durable read or a remote download.
type Payload struct {
	// Data holds the resource bytes.
	Data []byte
	// MIMEType is the declared content type, possibly empty.
	MIMEType string
}

// Clone returns a copy of p that shares no bytes with it.
func (p Payload) Clone() Payload {
	p.Data = bytes.Clone(p.Data)
	return p
}

// Request describes one remote download.
type Request struct {
	// Key is the resource being downloaded.
	Key Key
	// Format is the representation the caller asked for.
	Format Format
	// AllowUnsafe permits HTML payloads.
	AllowUnsafe bool
}

// ProgressFunc receives download progress as a percentage in [0, 100].
type ProgressFunc func(percent float64)

// DurableCache persists fetched payloads across sessions.
type DurableCache interface {
	// Fetch returns a stored payload. A miss, including a stored entry of another
	// cache type or a disallowed unsafe entry, is reported as found=false with nil error.
	Fetch(ctx context.Context, bucket string, key Key, cacheType CacheType, allowUnsafe bool) (Payload, bool, error)
	// Save stores payload under bucket and key.
	Save(ctx context.Context, bucket string, key Key, cacheType CacheType, payload Payload) error
}

// Fetcher downloads resources from a remote origin.
type Fetcher interface {
	// Download fetches one resource and reports progress through onProgress when non-nil.
	Download(ctx context.Context, request Request, onProgress ProgressFunc) (Payload, error)
}

// IsUnsafeMIME reports whether a content type must not be served without explicit opt-in.
func IsUnsafeMIME(mimeType string) bool {
	if mimeType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(mimeType))
	}

	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
