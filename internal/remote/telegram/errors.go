package telegram

import (
	"fmt"
	"strings"

	"tgmedia/pkg/media"

	"github.com/gotd/td/tgerr"
)

// mapRPCError classifies Telegram RPC failures. Missing or invalid resources
// become media.ErrNotFound; everything else is returned wrapped.
func mapRPCError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if retryAfter, ok := tgerr.AsFloodWait(err); ok {
		return fmt.Errorf("%s: flood wait %s: %w", operation, retryAfter, err)
	}

	rpcErr, ok := tgerr.As(err)
	if !ok {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if isMissingResource(rpcErr) {
		return fmt.Errorf("%s: %w: %w", operation, media.ErrNotFound, err)
	}

	return fmt.Errorf("%s: %w", operation, err)
}

func isMissingResource(rpcErr *tgerr.Error) bool {
	if rpcErr == nil || rpcErr.Code != 400 {
		return false
	}

	switch strings.ToUpper(strings.TrimSpace(rpcErr.Type)) {
	case "STICKERSET_INVALID", "DOCUMENT_INVALID", "FILE_ID_INVALID", "LOCATION_INVALID", "EMOTICON_INVALID":
		return true
	default:
		return false
	}
}
