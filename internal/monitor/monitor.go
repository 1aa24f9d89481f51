// Package monitor runs the capture loop: screenshot, OCR, parse, store.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"pricewatcher/internal/browser"
	"pricewatcher/internal/ocr"
	"pricewatcher/internal/parser"
	"pricewatcher/internal/scheduler"
	"pricewatcher/internal/storage"
)

const screenshotStamp = "20060102_150405"

// Options configure capture attempts.
type Options struct {
	URL              string
	Selector         string
	Timeout          time.Duration
	ScreenshotDir    string
	ScreenshotPrefix string
	KeepScreenshots  bool
}

// Monitor orchestrates the browser, OCR engine and record store.
type Monitor struct {
	scheduler  *scheduler.Scheduler
	opener     browser.Opener
	recognizer ocr.Recognizer
	store      storage.RecordStore
	opts       Options
	logger     zerolog.Logger
	now        func() time.Time

	state atomic.Int32
}

// New constructs the monitor. sched may be nil when only CaptureOnce is used.
func New(opts Options, sched *scheduler.Scheduler, opener browser.Opener, recognizer ocr.Recognizer, store storage.RecordStore, logger zerolog.Logger) *Monitor {
	if opts.ScreenshotPrefix == "" {
		opts.ScreenshotPrefix = "capture"
	}
	return &Monitor{
		scheduler:  sched,
		opener:     opener,
		recognizer: recognizer,
		store:      store,
		opts:       opts,
		logger:     logger.With().Str("component", "monitor").Logger(),
		now:        time.Now,
	}
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

func (m *Monitor) setState(s State) {
	if prev := State(m.state.Swap(int32(s))); prev != s {
		m.logger.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("state transition")
	}
}

// Run opens a session and captures once per interval until ctx is cancelled
// (returns nil) or a fatal error occurs (returns it).
func (m *Monitor) Run(ctx context.Context) error {
	if m.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}

	session, err := m.opener.Open(ctx)
	if err != nil {
		m.setState(StateStopped)
		return fmt.Errorf("open browser session: %w", err)
	}
	m.logger.Info().Msg("browser initialized")
	m.setState(StateRunning)

	l := &loop{m: m, session: session}
	defer func() {
		l.close()
		m.setState(StateStopped)
	}()

	err = m.scheduler.Run(ctx, l.tick)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		m.logger.Info().Msg("monitoring stopped by user")
		return nil
	}
	return err
}

// CaptureOnce opens a fresh session, performs a single attempt keeping the
// screenshot on disk, and closes the session again.
func (m *Monitor) CaptureOnce(ctx context.Context) (storage.PriceRecord, error) {
	session, err := m.opener.Open(ctx)
	if err != nil {
		return storage.PriceRecord{}, captureErr(OutcomeBrowserFault, err)
	}
	defer closeSession(session, m.logger)

	path := m.screenshotPath(m.opts.ScreenshotPrefix)
	rec, err := m.attempt(ctx, session, path)
	if err != nil {
		m.logFailure(err)
		return storage.PriceRecord{}, err
	}
	m.logger.Info().Str("screenshot", path).Msg("screenshot retained")
	return rec, nil
}

// attempt runs navigate → screenshot → recognize → parse → store once.
func (m *Monitor) attempt(ctx context.Context, session browser.Session, shotPath string) (storage.PriceRecord, error) {
	el, err := session.FetchPriceElement(ctx, m.opts.URL, m.opts.Selector, m.opts.Timeout)
	if err != nil {
		if ctx.Err() != nil {
			return storage.PriceRecord{}, ctx.Err()
		}
		if errors.Is(err, browser.ErrNavigationTimeout) {
			return storage.PriceRecord{}, captureErr(OutcomeNavigationTimeout, err)
		}
		return storage.PriceRecord{}, captureErr(OutcomeBrowserFault, err)
	}

	capturedAt := m.now()

	if err := session.Screenshot(ctx, el, shotPath); err != nil {
		if ctx.Err() != nil {
			return storage.PriceRecord{}, ctx.Err()
		}
		return storage.PriceRecord{}, captureErr(OutcomeBrowserFault, err)
	}

	text, err := m.recognizer.Recognize(ctx, shotPath)
	if err != nil {
		if ctx.Err() != nil {
			return storage.PriceRecord{}, ctx.Err()
		}
		return storage.PriceRecord{}, captureErr(OutcomeRecognitionFailure, err)
	}

	fields := parser.Parse(text)
	if !fields.Valid() {
		return storage.PriceRecord{}, &CaptureError{
			Outcome: OutcomeRecognitionFailure,
			Text:    text,
			Err:     errors.New("no price in recognized text"),
		}
	}

	rec := fields.Record(capturedAt)
	if err := m.store.Append(ctx, rec); err != nil {
		return storage.PriceRecord{}, captureErr(OutcomeStorageFault, err)
	}

	m.logger.Info().
		Str("price", rec.Price.StringFixed(2)).
		Str("change", rec.ChangeString()).
		Str("percent_change", rec.PercentString()).
		Msg(FormatRecord(rec))
	return rec, nil
}

func (m *Monitor) logFailure(err error) {
	var cerr *CaptureError
	if !errors.As(err, &cerr) {
		m.logger.Error().Err(err).Msg("error during capture")
		return
	}

	switch cerr.Outcome {
	case OutcomeNavigationTimeout:
		m.logger.Error().Err(cerr.Err).Str("outcome", cerr.Outcome.String()).Msg("timeout waiting for price element to load")
	case OutcomeRecognitionFailure:
		m.logger.Warn().Err(cerr.Err).Str("outcome", cerr.Outcome.String()).Str("text", cerr.Text).Msg("failed to extract valid price from text")
	default:
		m.logger.Error().Err(cerr.Err).Str("outcome", cerr.Outcome.String()).Msg("error during capture")
	}
}

func (m *Monitor) screenshotPath(prefix string) string {
	name := fmt.Sprintf("%s_%s.png", prefix, m.now().Format(screenshotStamp))
	return filepath.Join(m.opts.ScreenshotDir, name)
}

// FormatRecord renders the one-line success summary.
func FormatRecord(rec storage.PriceRecord) string {
	change := "n/a"
	if rec.Change.Valid {
		change = rec.Change.Decimal.StringFixed(2)
		if rec.Change.Decimal.Sign() >= 0 {
			change = "+" + change
		}
	}
	percent := "n/a"
	if rec.PercentChange != nil {
		percent = *rec.PercentChange
	}
	return fmt.Sprintf("Price: $%s | Change: %s (%s)", rec.Price.StringFixed(2), change, percent)
}

// loop holds the single live session for one Run invocation.
type loop struct {
	m       *Monitor
	session browser.Session
}

func (l *loop) tick(ctx context.Context, n int) error {
	m := l.m

	if l.session == nil {
		if !l.reopen(ctx) {
			m.logger.Warn().Int("tick", n).Msg("no browser session; iteration skipped")
			return nil
		}
	}

	shot := m.screenshotPath("temp_screenshot")
	_, err := m.attempt(ctx, l.session, shot)
	if !m.opts.KeepScreenshots {
		removeScreenshot(shot, m.logger)
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}

	m.logFailure(err)

	var cerr *CaptureError
	if !errors.As(err, &cerr) {
		return err
	}
	if cerr.Outcome.Fatal() {
		return err
	}
	if cerr.Outcome.ResetsSession() {
		m.setState(StateDegraded)
		closeSession(l.session, m.logger)
		l.session = nil
		l.reopen(ctx)
	}
	return nil
}

func (l *loop) reopen(ctx context.Context) bool {
	m := l.m
	m.setState(StateDegraded)

	session, err := m.opener.Open(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to reinitialize browser")
		return false
	}
	l.session = session
	m.setState(StateRunning)
	m.logger.Info().Msg("browser reinitialized")
	return true
}

func (l *loop) close() {
	if l.session != nil {
		closeSession(l.session, l.m.logger)
		l.session = nil
	}
}

func closeSession(s browser.Session, logger zerolog.Logger) {
	if err := s.Close(); err != nil {
		logger.Debug().Err(err).Msg("ignoring browser close error")
	}
}

func removeScreenshot(path string, logger zerolog.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Str("path", path).Msg("failed to remove temporary screenshot")
	}
}
