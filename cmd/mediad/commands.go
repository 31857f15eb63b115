package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"text/tabwriter"

	"tgmedia/internal/mediacache"
	"tgmedia/internal/stickerview"
	"tgmedia/pkg/media"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const progressSubscriber = "mediad"

var knownTargets = []media.Target{
	media.TargetMicro,
	media.TargetPictogram,
	media.TargetInline,
	media.TargetPreview,
	media.TargetFull,
	media.TargetDownload,
}

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "mediad",
		Short:         "Resolve and cache Telegram sticker media",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"config file path (defaults to $"+envConfigFile+", then "+defaultConfigFilePath+")")

	root.AddCommand(
		newGetCommand(opts),
		newPrefetchCommand(opts),
		newStickersCommand(opts),
	)

	return root
}

// withApplication loads configuration, wires and starts the application, runs
// fn and always closes the application afterwards.
func withApplication(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, app *application) error) error {
	regs, err := newRegistries()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts.configPath, regs)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.logLevel}))

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApplication(ctx, logger, cfg, regs)
	if err != nil {
		return err
	}
	if err := app.start(ctx); err != nil {
		return errors.Join(err, app.close(context.WithoutCancel(ctx)))
	}

	runErr := fn(ctx, app)
	closeErr := app.close(context.WithoutCancel(ctx))

	return errors.Join(runErr, closeErr)
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	var (
		formatName  string
		outPath     string
		allowUnsafe bool
	)

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Resolve one media key and write its bytes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := media.ParseFormat(formatName)
			if err != nil {
				return err
			}
			key := media.Key(strings.TrimSpace(args[0]))

			return withApplication(cmd, opts, func(ctx context.Context, app *application) error {
				data, err := runGet(ctx, app, key, format, allowUnsafe)
				if err != nil {
					return err
				}
				if outPath != "" {
					if err := os.WriteFile(outPath, data, 0o644); err != nil {
						return fmt.Errorf("write %s: %w", outPath, err)
					}
					return nil
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&formatName, "format", "blob", "representation: blob, text, raw, progressive or download")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the result to a file instead of stdout")
	cmd.Flags().BoolVar(&allowUnsafe, "unsafe", false, "allow HTML payloads")

	return cmd
}

// runGet resolves key and returns the bytes of the prepared value. URL formats
// that carry no bytes yield the URL itself.
func runGet(
	ctx context.Context,
	app *application,
	key media.Key,
	format media.Format,
	allowUnsafe bool,
) ([]byte, error) {
	prepared, ok := app.cache.Cached(key)
	if !ok || prepared.Format != format {
		resolveOptions := []mediacache.ResolveOption{
			mediacache.WithProgress(progressSubscriber, func(percent float64) {
				app.logger.DebugContext(ctx, "download progress", "key", key, "percent", percent)
			}),
		}
		if allowUnsafe {
			resolveOptions = append(resolveOptions, mediacache.WithUnsafeContent())
		}

		var err error
		prepared, err = app.cache.Fetch(ctx, key, format, resolveOptions...)
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", key, err)
		}
	}

	data, err := preparedBytes(app.cache, prepared)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	app.logger.InfoContext(ctx, "media resolved",
		"key", key,
		"format", prepared.Format.String(),
		"mime_type", prepared.MIMEType,
		"size", humanize.Bytes(uint64(prepared.Size)),
	)

	return data, nil
}

func preparedBytes(cache *mediacache.Cache, prepared media.Prepared) ([]byte, error) {
	switch prepared.Format {
	case media.FormatBlobURL:
		blob, ok := cache.Blob(prepared.URL)
		if !ok {
			return nil, fmt.Errorf("blob %s is not registered", prepared.URL)
		}
		return blob.Data, nil
	case media.FormatText:
		return []byte(prepared.Text), nil
	case media.FormatRaw:
		return prepared.Raw, nil
	default:
		return []byte(prepared.URL + "\n"), nil
	}
}

func newPrefetchCommand(opts *rootOptions) *cobra.Command {
	var (
		setName     string
		targetNames []string
		formatName  string
		workers     int
		webm        bool
	)

	cmd := &cobra.Command{
		Use:   "prefetch [key...]",
		Short: "Resolve many keys concurrently into the caches",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := media.ParseFormat(formatName)
			if err != nil {
				return err
			}
			targets, err := parseTargets(targetNames)
			if err != nil {
				return err
			}

			return withApplication(cmd, opts, func(ctx context.Context, app *application) error {
				keys := make([]media.Key, 0, len(args))
				for _, arg := range args {
					keys = append(keys, media.Key(strings.TrimSpace(arg)))
				}
				if setName != "" {
					source, err := app.stickerSource()
					if err != nil {
						return err
					}
					set, err := source.LoadStickerSet(ctx, setName)
					if err != nil {
						return err
					}
					keys = append(keys, stickerSetKeys(set, targets, stickerview.Capabilities{WebMSupported: webm})...)
				}
				if len(keys) == 0 {
					return fmt.Errorf("prefetch: no keys given")
				}

				limit := workers
				if limit <= 0 {
					limit = app.cfg.prefetchWorkers
				}
				return runPrefetch(ctx, app, keys, format, limit)
			})
		},
	}
	cmd.Flags().StringVar(&setName, "set", "", "sticker set short name whose keys are prefetched")
	cmd.Flags().StringSliceVar(&targetNames, "target", []string{string(media.TargetPreview), string(media.TargetFull)},
		"sticker targets derived for --set")
	cmd.Flags().StringVar(&formatName, "format", "blob", "representation: blob, text or raw")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent resolutions (defaults to prefetch_workers)")
	cmd.Flags().BoolVar(&webm, "webm", true, "device plays WebM video covers")

	return cmd
}

// runPrefetch resolves keys with at most limit concurrent resolutions. Failures
// are logged and counted; only cancellation stops the batch early.
func runPrefetch(ctx context.Context, app *application, keys []media.Key, format media.Format, limit int) error {
	keys = uniqueKeys(keys)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)

	var failed atomic.Int64
	for _, key := range keys {
		if _, ok := app.cache.Cached(key); ok {
			continue
		}
		group.Go(func() error {
			if _, err := app.cache.Fetch(groupCtx, key, format); err != nil {
				if ctxErr := groupCtx.Err(); ctxErr != nil {
					return ctxErr
				}
				failed.Add(1)
				app.logger.WarnContext(groupCtx, "prefetch failed", "key", key, "error", err)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return fmt.Errorf("prefetch: %w", err)
	}

	if count := failed.Load(); count > 0 {
		return fmt.Errorf("prefetch: %d of %d keys failed", count, len(keys))
	}
	app.logger.InfoContext(ctx, "prefetch finished", "keys", len(keys))

	return nil
}

func newStickersCommand(opts *rootOptions) *cobra.Command {
	var (
		setName string
		webm    bool
		small   bool
	)

	cmd := &cobra.Command{
		Use:   "stickers",
		Short: "List a sticker set with its keys and load plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(setName) == "" {
				return fmt.Errorf("--set is required")
			}

			return withApplication(cmd, opts, func(ctx context.Context, app *application) error {
				source, err := app.stickerSource()
				if err != nil {
					return err
				}
				set, err := source.LoadStickerSet(ctx, setName)
				if err != nil {
					return err
				}

				return writeStickerSet(cmd.OutOrStdout(), set, stickerview.Capabilities{WebMSupported: webm}, small, app.cache.Cached)
			})
		},
	}
	cmd.Flags().StringVar(&setName, "set", "", "sticker set short name")
	cmd.Flags().BoolVar(&webm, "webm", true, "device plays WebM video stickers")
	cmd.Flags().BoolVar(&small, "small", false, "plan for list-size rendering")

	return cmd
}

// writeStickerSet prints the set cover plan and, per sticker, the keys and the
// rule a visible item would load by.
func writeStickerSet(
	out io.Writer,
	set media.StickerSet,
	capabilities stickerview.Capabilities,
	small bool,
	lookup func(media.Key) (media.Prepared, bool),
) error {
	cover := stickerview.EvaluateCover(stickerview.CoverInput{
		Set:          set,
		Capabilities: capabilities,
		Intersecting: true,
		Lookup:       lookup,
	})
	if _, err := fmt.Fprintf(out, "%s (%s) %d stickers\ncover: media=%s static=%s letters=%q\n",
		set.Title, set.ShortName, len(set.Stickers), cover.MediaKey, cover.StaticKey, cover.Letters); err != nil {
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tEMOJI\tKIND\tRULE\tPREVIEW\tFULL")
	for _, sticker := range set.Stickers {
		decision := stickerview.Evaluate(stickerview.Input{
			Sticker:      sticker,
			Options:      stickerview.Options{IsSmall: small},
			Capabilities: capabilities,
			Signals: stickerview.Signals{
				IntersectingForLoading:   true,
				IntersectingForPlaying:   true,
				HasIntersectedForPlaying: true,
			},
			Lookup: lookup,
		})
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			sticker.ID, sticker.Emoji, stickerKind(sticker), decision.Rule, decision.PreviewKey, decision.FullKey)
	}

	return writer.Flush()
}

func stickerKind(sticker media.Sticker) string {
	switch {
	case sticker.IsLottie:
		return "lottie"
	case sticker.IsVideo:
		return "video"
	default:
		return "static"
	}
}

// stickerSetKeys derives the keys a client showing set would request: every
// sticker in each target plus the cover.
func stickerSetKeys(set media.StickerSet, targets []media.Target, capabilities stickerview.Capabilities) []media.Key {
	keys := make([]media.Key, 0, len(set.Stickers)*len(targets)+2)
	cover := stickerview.EvaluateCover(stickerview.CoverInput{
		Set:          set,
		Capabilities: capabilities,
		Intersecting: true,
	})
	for _, request := range cover.Requests {
		keys = append(keys, request.Key)
	}
	for _, sticker := range set.Stickers {
		for _, target := range targets {
			keys = append(keys, media.StickerKey(sticker, target))
		}
	}

	return uniqueKeys(keys)
}

func parseTargets(raw []string) ([]media.Target, error) {
	targets := make([]media.Target, 0, len(raw))
	for _, name := range raw {
		target := media.Target(strings.ToLower(strings.TrimSpace(name)))
		known := false
		for _, candidate := range knownTargets {
			if candidate == target {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown target %q", name)
		}
		targets = append(targets, target)
	}

	return targets, nil
}

func uniqueKeys(keys []media.Key) []media.Key {
	seen := make(map[media.Key]struct{}, len(keys))
	unique := keys[:0:0]
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, key)
	}

	return unique
}
