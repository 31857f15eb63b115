package mediacache

import (
	"log/slog"
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// Stats is a point-in-time view of cache activity.
type Stats struct {
	MemoryEntries  int
	Blobs          int
	BlobBytes      int64
	InFlight       int
	DurableHits    int64
	DurableMisses  int64
	RemoteAttempts int64
	RemoteFailures int64
	Saves          int64
	SaveFailures   int64
	SkippedSaves   int64
}

// LogValue renders the stats as a structured log group.
func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("memory_entries", s.MemoryEntries),
		slog.Int("blobs", s.Blobs),
		slog.String("blob_bytes", humanize.Bytes(uint64(max(s.BlobBytes, 0)))),
		slog.Int("in_flight", s.InFlight),
		slog.Int64("durable_hits", s.DurableHits),
		slog.Int64("durable_misses", s.DurableMisses),
		slog.Int64("remote_attempts", s.RemoteAttempts),
		slog.Int64("remote_failures", s.RemoteFailures),
		slog.Int64("saves", s.Saves),
		slog.Int64("save_failures", s.SaveFailures),
		slog.Int64("skipped_saves", s.SkippedSaves),
	)
}

type counters struct {
	durableHits    atomic.Int64
	durableMisses  atomic.Int64
	remoteAttempts atomic.Int64
	remoteFailures atomic.Int64
	saves          atomic.Int64
	saveFailures   atomic.Int64
	skippedSaves   atomic.Int64
}
