package telegram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"tgmedia/pkg/media"

	"github.com/dustin/go-humanize"
	"github.com/gotd/td/tg"
	"golang.org/x/sync/singleflight"
)

const setLookupTimeout = 30 * time.Second

// rpc is the subset of the Telegram API the fetcher calls.
type rpc interface {
	MessagesGetStickerSet(ctx context.Context, request *tg.MessagesGetStickerSetRequest) (tg.MessagesStickerSetClass, error)
	MessagesGetCustomEmojiDocuments(ctx context.Context, documentID []int64) ([]tg.DocumentClass, error)
}

// fileStreamer downloads one file location into output.
type fileStreamer interface {
	Stream(ctx context.Context, location tg.InputFileLocationClass, output io.Writer) (tg.StorageFileTypeClass, error)
}

// connection is the live RPC surface of an authorized session.
type connection struct {
	rpc   rpc
	files fileStreamer
}

// Fetcher downloads sticker documents and their previews over MTProto and
// loads sticker set metadata. Documents must be discovered through
// LoadStickerSet or LoadCustomEmoji before their keys can be downloaded.
type Fetcher struct {
	connect func(ctx context.Context) (connection, error)
	index   *DocumentIndex
	logger  *slog.Logger
	sets    singleflight.Group
}

func newFetcher(
	connect func(ctx context.Context) (connection, error),
	index *DocumentIndex,
	logger *slog.Logger,
) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Fetcher{connect: connect, index: index, logger: logger}
}

// Download fetches the document or preview addressed by a document key.
func (f *Fetcher) Download(
	ctx context.Context,
	request media.Request,
	onProgress media.ProgressFunc,
) (media.Payload, error) {
	ref, ok := media.ParseDocumentKey(request.Key)
	if !ok {
		return media.Payload{}, fmt.Errorf("%w: %s is not a document key", media.ErrNoFetcher, request.Key)
	}
	located, err := f.index.Resolve(ref)
	if err != nil {
		return media.Payload{}, err
	}
	conn, err := f.connect(ctx)
	if err != nil {
		return media.Payload{}, err
	}

	var buffer bytes.Buffer
	if located.size > 0 {
		buffer.Grow(int(located.size))
	}
	writer := &progressWriter{output: &buffer, total: located.size, report: onProgress}
	fileType, err := conn.files.Stream(ctx, located.location, writer)
	if err != nil {
		return media.Payload{}, mapRPCError("download document "+ref.ID, err)
	}

	mimeType := mimeForFileType(fileType, located.mimeType)
	if !request.AllowUnsafe && media.IsUnsafeMIME(mimeType) {
		return media.Payload{}, fmt.Errorf("%w: document %s is %s", media.ErrUnsafeContent, ref.ID, mimeType)
	}
	if onProgress != nil {
		onProgress(100)
	}
	f.logger.DebugContext(ctx, "telegram document downloaded",
		"document_id", ref.ID,
		"thumb_size", ref.ThumbSize,
		"size", humanize.Bytes(uint64(buffer.Len())),
	)

	return media.Payload{Data: buffer.Bytes(), MIMEType: mimeType}, nil
}

// LoadStickerSet fetches a sticker set by short name and indexes its documents.
// Concurrent lookups of one set share a single request that outlives the
// callers' cancellation.
func (f *Fetcher) LoadStickerSet(ctx context.Context, shortName string) (media.StickerSet, error) {
	shortName = strings.TrimSpace(shortName)
	if shortName == "" {
		return media.StickerSet{}, fmt.Errorf("load sticker set: empty short name")
	}

	results := f.sets.DoChan(shortName, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), setLookupTimeout)
		defer cancel()
		return f.fetchStickerSet(lookupCtx, shortName)
	})

	select {
	case result := <-results:
		if result.Err != nil {
			return media.StickerSet{}, result.Err
		}
		return result.Val.(media.StickerSet), nil
	case <-ctx.Done():
		return media.StickerSet{}, fmt.Errorf("load sticker set %s: %w", shortName, ctx.Err())
	}
}

func (f *Fetcher) fetchStickerSet(ctx context.Context, shortName string) (media.StickerSet, error) {
	conn, err := f.connect(ctx)
	if err != nil {
		return media.StickerSet{}, fmt.Errorf("load sticker set %s: %w", shortName, err)
	}

	response, err := conn.rpc.MessagesGetStickerSet(ctx, &tg.MessagesGetStickerSetRequest{
		Stickerset: &tg.InputStickerSetShortName{ShortName: shortName},
	})
	if err != nil {
		return media.StickerSet{}, mapRPCError("load sticker set "+shortName, err)
	}

	stickerSet, ok := response.(*tg.MessagesStickerSet)
	if !ok || stickerSet == nil {
		return media.StickerSet{}, fmt.Errorf("load sticker set %s: unexpected response %T", shortName, response)
	}
	f.rememberDocuments(stickerSet.Documents)

	mapped := mapStickerSet(stickerSet.Set, stickerSet.Documents)
	f.logger.DebugContext(ctx, "telegram sticker set loaded",
		"short_name", shortName,
		"stickers", len(mapped.Stickers),
	)

	return mapped, nil
}

// LoadCustomEmoji fetches custom emoji documents by id and indexes them.
func (f *Fetcher) LoadCustomEmoji(ctx context.Context, ids []string) ([]media.Sticker, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	documentIDs := make([]int64, 0, len(ids))
	for _, id := range ids {
		parsed, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("load custom emoji: parse id %q: %w", id, err)
		}
		documentIDs = append(documentIDs, parsed)
	}

	conn, err := f.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("load custom emoji: %w", err)
	}
	documents, err := conn.rpc.MessagesGetCustomEmojiDocuments(ctx, documentIDs)
	if err != nil {
		return nil, mapRPCError("load custom emoji", err)
	}
	f.rememberDocuments(documents)

	stickers := make([]media.Sticker, 0, len(documents))
	for _, documentClass := range documents {
		document, ok := documentClass.(*tg.Document)
		if !ok {
			continue
		}
		if sticker, ok := mapDocument(document, ""); ok {
			stickers = append(stickers, sticker)
		}
	}

	return stickers, nil
}

func (f *Fetcher) rememberDocuments(documents []tg.DocumentClass) {
	for _, documentClass := range documents {
		if document, ok := documentClass.(*tg.Document); ok {
			f.index.RememberDocument(document)
		}
	}
}

// progressWriter reports the share of an expected total written so far.
type progressWriter struct {
	output  io.Writer
	total   int64
	written int64
	report  media.ProgressFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n, err := w.output.Write(p)
	w.written += int64(n)
	if w.report != nil && w.total > 0 {
		w.report(min(float64(w.written)*100/float64(w.total), 100))
	}

	return n, err
}
