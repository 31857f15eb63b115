package telegram

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/gotd/contrib/middleware/floodwait"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
)

// errSessionClosed indicates that the session ended before or while a caller waited.
var errSessionClosed = errors.New("telegram: session closed")

// runner executes fn inside a connected lifecycle. It is satisfied by the
// flood-wait wrapped gotd client.
type runner interface {
	Run(ctx context.Context, fn func(runCtx context.Context) error) error
}

// Session keeps one authenticated Telegram connection open in the background
// and hands its RPC client to downloads once authorization completes.
type Session struct {
	runner       runner
	authenticate func(ctx context.Context) error
	connection   func() connection
	logger       *slog.Logger
	cfg          parsedRuntimeConfig

	mu      sync.Mutex
	ready   chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
	runErr  error
	started bool
}

func newSession(
	r runner,
	authenticate func(ctx context.Context) error,
	conn func() connection,
	logger *slog.Logger,
	cfg parsedRuntimeConfig,
) *Session {
	return &Session{
		runner:       r,
		authenticate: authenticate,
		connection:   conn,
		logger:       logger,
		cfg:          cfg,
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start opens the connection in the background and waits until it is
// authorized, the ready timeout passes or ctx ends.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("start telegram session: already started")
	}
	s.started = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(runCtx)

	waitCtx, waitCancel := context.WithTimeout(ctx, s.cfg.readyTimeout+s.cfg.authTimeout)
	defer waitCancel()
	if err := s.await(waitCtx); err != nil {
		cancel()
		return fmt.Errorf("start telegram session: %w", err)
	}
	s.logger.InfoContext(ctx, "telegram session ready", "session_file", s.cfg.sessionFile)

	return nil
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	err := s.runner.Run(ctx, func(runCtx context.Context) error {
		if err := s.authenticate(runCtx); err != nil {
			return fmt.Errorf("authenticate gotd client: %w", err)
		}
		close(s.ready)
		<-runCtx.Done()
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("telegram session stopped", "error", err)
	}

	s.mu.Lock()
	s.runErr = err
	s.mu.Unlock()
}

// await blocks until the session is authorized. A session that already ended
// reports its run error.
func (s *Session) await(ctx context.Context) error {
	select {
	case <-s.ready:
		select {
		case <-s.done:
			return errSessionClosed
		default:
			return nil
		}
	case <-s.done:
		s.mu.Lock()
		err := s.runErr
		s.mu.Unlock()
		if err != nil {
			return fmt.Errorf("%w: %w", errSessionClosed, err)
		}
		return errSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// connect waits for readiness and returns the live RPC surface.
func (s *Session) connect(ctx context.Context) (connection, error) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return connection{}, fmt.Errorf("connect telegram session: not started")
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.readyTimeout)
	defer cancel()
	if err := s.await(waitCtx); err != nil {
		return connection{}, fmt.Errorf("connect telegram session: %w", err)
	}

	return s.connection(), nil
}

// Shutdown closes the connection and waits for the background run to exit.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}
	cancel()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown telegram session: %w", ctx.Err())
	}
}

// floodWaitClient runs a gotd client under the flood-wait middleware.
type floodWaitClient struct {
	client *gotdtelegram.Client
	waiter *floodwait.Waiter
}

func (c floodWaitClient) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	return c.waiter.Run(ctx, func(waitCtx context.Context) error {
		return c.client.Run(waitCtx, fn)
	})
}

// gotdFiles streams files through the gotd downloader.
type gotdFiles struct {
	api        *tg.Client
	downloader *downloader.Downloader
	threads    int
}

func (f gotdFiles) Stream(
	ctx context.Context,
	location tg.InputFileLocationClass,
	output io.Writer,
) (tg.StorageFileTypeClass, error) {
	return f.downloader.Download(f.api, location).WithThreads(f.threads).Stream(ctx, output)
}

func authenticateGotdClient(
	ctx context.Context,
	logger *slog.Logger,
	client *gotdtelegram.Client,
	cfg parsedRuntimeConfig,
) error {
	if client == nil {
		return fmt.Errorf("authenticate gotd client: nil client")
	}

	authCtx, cancel := context.WithTimeout(ctx, cfg.authTimeout)
	defer cancel()

	status, err := client.Auth().Status(authCtx)
	if err != nil {
		return fmt.Errorf("check auth status: %w", err)
	}
	if status.Authorized {
		logger.Info("telegram session restored from local storage", "session_file", cfg.sessionFile)
		return nil
	}

	if cfg.botToken != "" {
		if _, err := client.Auth().Bot(authCtx, cfg.botToken); err != nil {
			return fmt.Errorf("authenticate bot: %w", err)
		}
		logger.Info("telegram authorized with bot token", "session_file", cfg.sessionFile)
		return nil
	}

	phone := strings.TrimSpace(cfg.phone)
	if phone == "" {
		return fmt.Errorf("telegram phone number or bot token is required for login")
	}

	codeAuthenticator := auth.CodeAuthenticatorFunc(func(_ context.Context, _ *tg.AuthSentCode) (string, error) {
		code, err := telegramAuthCode(cfg.code)
		if err != nil {
			return "", fmt.Errorf("resolve login code: %w", err)
		}
		return code, nil
	})

	var authenticator auth.UserAuthenticator = auth.CodeOnly(phone, codeAuthenticator)
	if password := strings.TrimSpace(cfg.password); password != "" {
		authenticator = auth.Constant(phone, password, codeAuthenticator)
	}

	flow := auth.NewFlow(authenticator, auth.SendCodeOptions{})
	if err := client.Auth().IfNecessary(authCtx, flow); err != nil {
		return fmt.Errorf("authenticate user: %w", err)
	}
	logger.Info("telegram authorized with user flow", "session_file", cfg.sessionFile)

	return nil
}

func telegramAuthCode(configuredCode string) (string, error) {
	if code := strings.TrimSpace(configuredCode); code != "" {
		return code, nil
	}

	stdinInfo, err := os.Stdin.Stat()
	if err != nil {
		return "", fmt.Errorf("read stdin status: %w", err)
	}
	if stdinInfo.Mode()&os.ModeCharDevice == 0 {
		return "", fmt.Errorf("telegram code is empty and stdin is not interactive")
	}

	fmt.Fprint(os.Stdout, "Enter Telegram login code: ")
	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read login code: %w", err)
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("empty login code")
	}

	return code, nil
}
