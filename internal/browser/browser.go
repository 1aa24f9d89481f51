// Package browser owns the headless Chrome session used to screenshot the quote element.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

var (
	// ErrNavigationTimeout means the price element never appeared.
	ErrNavigationTimeout = errors.New("browser: price element not found before timeout")
	// ErrBrowserFault covers session level automation failures.
	ErrBrowserFault = errors.New("browser: session fault")
)

// Options parameterise the Chrome launch.
type Options struct {
	ExecPath     string
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	Headless     bool
	NoSandbox    bool
}

// Element refers to a located DOM node inside the session that produced it.
type Element struct {
	Selector string
	nodeID   cdp.NodeID
}

// Session is a live browser handle.
type Session interface {
	FetchPriceElement(ctx context.Context, url, selector string, timeout time.Duration) (Element, error)
	Screenshot(ctx context.Context, el Element, path string) error
	Close() error
}

// Opener launches new sessions.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// Launcher opens ChromeSession instances with fixed options.
type Launcher struct {
	opts   Options
	logger zerolog.Logger
}

// NewLauncher constructs a Launcher.
func NewLauncher(opts Options, logger zerolog.Logger) *Launcher {
	return &Launcher{opts: opts, logger: logger}
}

// Open implements Opener.
func (l *Launcher) Open(ctx context.Context) (Session, error) {
	return Open(ctx, l.opts, l.logger)
}

// ChromeSession drives one Chrome process through chromedp.
type ChromeSession struct {
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	logger      zerolog.Logger

	closeOnce sync.Once
}

// Open launches Chrome and waits for it to come up.
func Open(ctx context.Context, opts Options, logger zerolog.Logger) (*ChromeSession, error) {
	width, height := opts.WindowWidth, opts.WindowHeight
	if width <= 0 || height <= 0 {
		width, height = 1920, 1080
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(width, height),
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("no-sandbox", opts.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	log := logger.With().Str("component", "browser").Logger()

	// The allocator must outlive the caller's ctx; Close tears it down.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, v ...interface{}) {
			log.Debug().Msgf("chrome: "+format, v...)
		}),
	)

	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("%w: launch chrome: %v", ErrBrowserFault, err)
	}

	log.Info().Int("width", width).Int("height", height).Bool("headless", opts.Headless).Msg("browser session started")

	return &ChromeSession{
		allocCancel: allocCancel,
		ctx:         browserCtx,
		cancel:      cancel,
		logger:      log,
	}, nil
}

// FetchPriceElement navigates to url and waits up to timeout for selector.
func (s *ChromeSession) FetchPriceElement(ctx context.Context, url, selector string, timeout time.Duration) (Element, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	runCtx, cancel := s.runContext(ctx, timeout)
	defer cancel()

	var nodes []*cdp.Node
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.Nodes(selector, &nodes, chromedp.ByQuery),
	)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return Element{}, fmt.Errorf("%w: %s after %s", ErrNavigationTimeout, selector, timeout)
		}
		if ctx.Err() != nil {
			return Element{}, ctx.Err()
		}
		return Element{}, fmt.Errorf("%w: navigate %s: %v", ErrBrowserFault, url, err)
	}
	if len(nodes) == 0 {
		return Element{}, fmt.Errorf("%w: %s matched no nodes", ErrNavigationTimeout, selector)
	}

	s.logger.Debug().Str("url", url).Str("selector", selector).Msg("price element located")
	return Element{Selector: selector, nodeID: nodes[0].NodeID}, nil
}

// Screenshot renders just el into a PNG at path.
func (s *ChromeSession) Screenshot(ctx context.Context, el Element, path string) error {
	if el.nodeID == 0 {
		return fmt.Errorf("%w: element not located", ErrBrowserFault)
	}

	runCtx, cancel := s.runContext(ctx, 30*time.Second)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(runCtx, chromedp.Screenshot([]cdp.NodeID{el.nodeID}, &buf, chromedp.ByNodeID)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: screenshot %s: %v", ErrBrowserFault, el.Selector, err)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create screenshot dir: %w", err)
		}
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}

	s.logger.Debug().Str("path", path).Int("bytes", len(buf)).Msg("element screenshot written")
	return nil
}

// Close releases the browser process. Repeated calls are no-ops.
func (s *ChromeSession) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.allocCancel()
		s.logger.Info().Msg("browser session closed")
	})
	return nil
}

// runContext derives a context from the browser context that also ends when
// the caller's ctx ends or timeout elapses.
func (s *ChromeSession) runContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

var (
	_ Session = (*ChromeSession)(nil)
	_ Opener  = (*Launcher)(nil)
)
