// Package telegram downloads sticker and custom emoji documents over MTProto
// through one long-lived gotd session.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"tgmedia/internal/remote"

	"github.com/gotd/contrib/middleware/floodwait"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/downloader"
)

// Type is the fetcher definition type token for Telegram fetchers.
const Type = "telegram"

// BuildRuntimeFromConfig builds one Telegram fetcher runtime from its config payload.
func BuildRuntimeFromConfig(name string, logger *slog.Logger, rawConfig []byte) (remote.Runtime, error) {
	cfg, err := parseRuntimeConfig(rawConfig)
	if err != nil {
		return remote.Runtime{}, fmt.Errorf("parse telegram runtime config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	sessionStorage, err := newGotdSessionStorage(cfg.sessionFile)
	if err != nil {
		return remote.Runtime{}, fmt.Errorf("new gotd session storage: %w", err)
	}

	waiter := floodwait.NewWaiter().WithCallback(func(ctx context.Context, wait floodwait.FloodWait) {
		logger.WarnContext(ctx, "telegram flood wait", "fetcher", name, "duration", wait.Duration)
	})
	client := gotdtelegram.NewClient(cfg.appID, cfg.appHash, gotdtelegram.Options{
		SessionStorage: sessionStorage,
		Middlewares:    []gotdtelegram.Middleware{waiter},
	})

	files := downloader.NewDownloader()
	session := newSession(
		floodWaitClient{client: client, waiter: waiter},
		func(ctx context.Context) error {
			return authenticateGotdClient(ctx, logger, client, cfg)
		},
		func() connection {
			api := client.API()
			return connection{
				rpc:   api,
				files: gotdFiles{api: api, downloader: files, threads: cfg.threads},
			}
		},
		logger,
		cfg,
	)
	fetcher := newFetcher(session.connect, NewDocumentIndex(), logger)

	return remote.Runtime{
		Fetcher:  fetcher,
		Prefixes: append([]string(nil), cfg.prefixes...),
		Start:    session.Start,
		Shutdown: session.Shutdown,
		Stickers: fetcher,
	}, nil
}
