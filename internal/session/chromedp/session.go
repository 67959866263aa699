// Package chromedp opens Chrome browsing sessions the agent can attach to
// over the DevTools protocol.
package chromedp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
)

// Config controls browser launches.
type Config struct {
	// ExecPath overrides the Chrome binary lookup.
	ExecPath          string        `mapstructure:"exec_path"`
	StartTimeout      time.Duration `mapstructure:"start_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	StopTimeout       time.Duration `mapstructure:"stop_timeout"`
}

// Factory launches Chrome processes through a chromedp ExecAllocator.
type Factory struct {
	cfg    Config
	logger *zap.Logger
}

var _ scrape.SessionFactory = (*Factory)(nil)

// NewFactory returns a Factory with defaults applied.
func NewFactory(cfg Config, logger *zap.Logger) *Factory {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 60 * time.Second
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{cfg: cfg, logger: logger.Named("session")}
}

// Open starts a browser for spec and waits until it is ready.
func (f *Factory) Open(ctx context.Context, spec scrape.SessionSpec) (scrape.Session, error) {
	logger := f.logger.With(zap.String("session_id", spec.ID))
	if spec.ProfileDir != "" {
		if err := os.MkdirAll(spec.ProfileDir, 0o750); err != nil {
			return nil, fmt.Errorf("create profile dir: %w", err)
		}
		removed, err := CleanRestoreFiles(spec.ProfileDir)
		if err != nil {
			logger.Warn("profile cleanup incomplete", zap.Error(err))
		}
		if len(removed) > 0 {
			logger.Info("removed tab restore files", zap.Strings("paths", removed))
		}
	}

	port, err := freePort()
	if err != nil {
		return nil, err
	}

	opts := f.allocatorOptions(spec, port)
	// The browser outlives the Open call; Stop and Kill own its lifetime.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(logger.Sugar().Errorf),
	)

	if err := f.start(ctx, browserCtx, browserCancel, spec); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	logger.Info("browser started",
		zap.Int("debug_port", port),
		zap.Bool("headless", spec.Headless),
		zap.String("profile_dir", spec.ProfileDir),
		zap.Bool("proxy", spec.Proxy != ""),
	)
	return &Session{
		endpoint:      "http://127.0.0.1:" + strconv.Itoa(port),
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		navTimeout:    f.cfg.NavigationTimeout,
		stopTimeout:   f.cfg.StopTimeout,
		logger:        logger,
	}, nil
}

// start launches Chrome and applies the session overrides. The first Run
// binds the browser process to the context it receives, so it gets
// browserCtx itself and the timeout is enforced by canceling that context.
func (f *Factory) start(ctx, browserCtx context.Context, browserCancel context.CancelFunc, spec scrape.SessionSpec) error {
	launched := make(chan error, 1)
	go func() { launched <- chromedp.Run(browserCtx) }()

	timer := time.NewTimer(f.cfg.StartTimeout)
	defer timer.Stop()
	select {
	case err := <-launched:
		if err != nil {
			return err
		}
	case <-timer.C:
		browserCancel()
		return fmt.Errorf("timed out after %s", f.cfg.StartTimeout)
	case <-ctx.Done():
		browserCancel()
		return ctx.Err()
	}

	actions := startActions(spec)
	if len(actions) == 0 {
		return nil
	}
	actCtx, cancel := context.WithTimeout(browserCtx, f.cfg.StartTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(actCtx, actions...); err != nil {
		return fmt.Errorf("apply locale overrides: %w", err)
	}
	return nil
}

// startActions pins the Accept-Language of the first tab to the session
// locale; the command-line flag alone does not reach every request.
func startActions(spec scrape.SessionSpec) []chromedp.Action {
	if spec.Locale == "" {
		return nil
	}
	actions := []chromedp.Action{
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": spec.Locale}),
	}
	if spec.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(spec.UserAgent).WithAcceptLanguage(spec.Locale))
	}
	return actions
}

func (f *Factory) allocatorOptions(spec scrape.SessionSpec, port int) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("remote-debugging-port", strconv.Itoa(port)),
		chromedp.Flag("enable-automation", false),
	)
	if spec.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false), chromedp.Flag("hide-scrollbars", false))
	}
	if f.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ExecPath))
	}
	if spec.ProfileDir != "" {
		opts = append(opts, chromedp.UserDataDir(spec.ProfileDir))
	}
	if spec.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(spec.Proxy))
	}
	if spec.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(spec.UserAgent))
	}
	if spec.Locale != "" {
		opts = append(opts, chromedp.Flag("lang", spec.Locale))
	}
	for _, arg := range spec.Args {
		if name, value, ok := parseFlag(arg); ok {
			opts = append(opts, chromedp.Flag(name, value))
		}
	}
	return opts
}

// parseFlag turns "--name=value" into ("name", "value") and "--name" into
// ("name", true).
func parseFlag(arg string) (string, any, bool) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	if arg == "" {
		return "", nil, false
	}
	if name, value, found := strings.Cut(arg, "="); found {
		return name, value, true
	}
	return arg, true, true
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("reserve debug port: %w", err)
	}
	defer func() {
		_ = l.Close()
	}()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address %T", l.Addr())
	}
	return addr.Port, nil
}

// Session is a running Chrome instance.
type Session struct {
	endpoint      string
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	navTimeout    time.Duration
	stopTimeout   time.Duration
	logger        *zap.Logger

	stopOnce sync.Once
	stopErr  error
	killOnce sync.Once
}

var _ scrape.Session = (*Session)(nil)

// Endpoint returns the DevTools HTTP endpoint.
func (s *Session) Endpoint() string {
	return s.endpoint
}

// CurrentURL returns the location of the active tab.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// Navigate loads url in the active tab and waits for the body.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.browserCtx, s.navTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Stop asks the browser to close, waiting at most the stop timeout.
func (s *Session) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		done := make(chan error, 1)
		go func() {
			done <- chromedp.Cancel(s.browserCtx)
		}()
		timer := time.NewTimer(s.stopTimeout)
		defer timer.Stop()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.stopErr = fmt.Errorf("close browser: %w", err)
			}
		case <-timer.C:
			s.stopErr = fmt.Errorf("close browser: timed out after %s", s.stopTimeout)
		case <-ctx.Done():
			s.stopErr = fmt.Errorf("close browser: %w", ctx.Err())
		}
	})
	return s.stopErr
}

// Kill tears down the browser process and its allocator.
func (s *Session) Kill() error {
	s.killOnce.Do(func() {
		s.browserCancel()
		s.allocCancel()
		s.logger.Debug("browser killed")
	})
	return nil
}
