package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"pricewatcher/internal/browser"
	"pricewatcher/internal/config"
	"pricewatcher/internal/monitor"
	"pricewatcher/internal/ocr"
	"pricewatcher/internal/scheduler"
	"pricewatcher/internal/storage"
)

// ErrAlreadyRunning is returned when another monitor holds the database lock.
var ErrAlreadyRunning = errors.New("another monitor instance holds the advisory lock")

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newLauncher() *browser.Launcher {
	cfg := a.Config.Browser
	return browser.NewLauncher(browser.Options{
		ExecPath:     cfg.ExecPath,
		UserAgent:    cfg.UserAgent,
		WindowWidth:  cfg.WindowWidth,
		WindowHeight: cfg.WindowHeight,
		Headless:     cfg.Headless,
		NoSandbox:    cfg.NoSandbox,
	}, a.Logger)
}

func (a *App) newRecognizer() *ocr.Tesseract {
	cfg := a.Config.OCR
	return ocr.NewTesseract(ocr.Options{
		Language:   cfg.Language,
		PSM:        cfg.PSM,
		Whitelist:  cfg.Whitelist,
		Preprocess: cfg.Preprocess,
		Scale:      cfg.Scale,
	}, a.Logger)
}

func (a *App) monitorOptions() monitor.Options {
	return monitor.Options{
		URL:              a.Config.Browser.URL,
		Selector:         a.Config.Browser.Selector,
		Timeout:          a.Config.Browser.Timeout,
		ScreenshotDir:    a.Config.Monitor.ScreenshotDir,
		ScreenshotPrefix: a.Config.Monitor.ScreenshotPrefix,
		KeepScreenshots:  a.Config.Monitor.KeepScreenshots,
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	store, err := storage.OpenStore(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// recordStore builds the CSV primary plus the optional PostgreSQL mirror.
func (a *App) recordStore(ctx context.Context) (storage.RecordStore, func(), error) {
	csvStore := storage.NewCSVStore(a.Config.Storage.CSVPath)

	db, closeDB, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if db == nil {
		return storage.NewMulti(csvStore, a.Logger), func() {}, nil
	}
	return storage.NewMulti(csvStore, a.Logger, db), closeDB, nil
}

// Run executes the long-running monitoring loop.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	csvStore := storage.NewCSVStore(a.Config.Storage.CSVPath)
	db, closeDB, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	var store storage.RecordStore = storage.NewMulti(csvStore, a.Logger)
	if db != nil {
		defer closeDB()

		unlock, err := a.acquireLock(ctx, db)
		if err != nil {
			return err
		}
		if unlock != nil {
			defer unlock()
		}
		store = storage.NewMulti(csvStore, a.Logger, db)
	} else {
		a.Logger.Debug().Msg("database.dsn not configured; postgres mirror disabled")
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Monitor.Interval,
		StartupDelay: a.Config.Monitor.StartupDelay,
		Immediate:    true,
	}, a.Logger)

	mon := monitor.New(a.monitorOptions(), sched, a.newLauncher(), a.newRecognizer(), store, a.Logger)

	a.Logger.Info().
		Str("url", a.Config.Browser.URL).
		Dur("interval", a.Config.Monitor.Interval).
		Str("csv", csvStore.Path()).
		Msgf("starting stock price monitoring (%s intervals)", a.Config.Monitor.Interval)

	if err := mon.Run(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("program terminated due to error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// Capture performs one capture with a fresh browser and keeps the screenshot.
func (a *App) Capture(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.recordStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	mon := monitor.New(a.monitorOptions(), nil, a.newLauncher(), a.newRecognizer(), store, a.Logger)
	if _, err := mon.CaptureOnce(ctx); err != nil {
		return fmt.Errorf("capture failed: %w", err)
	}
	return nil
}

func (a *App) acquireLock(ctx context.Context, locker storage.AdvisoryLocker) (func(), error) {
	key := a.Config.Database.AdvisoryLockKey
	if key == 0 {
		return nil, nil
	}
	unlock, acquired, err := locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, ErrAlreadyRunning
	}
	return unlock, nil
}

// history returns the database when configured, otherwise the CSV file.
func (a *App) history(ctx context.Context) (storage.HistoryReader, func(), error) {
	db, closeDB, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if db != nil {
		return db, closeDB, nil
	}
	return storage.NewCSVStore(a.Config.Storage.CSVPath), func() {}, nil
}

// ExportOptions hold parameters for exporting historical records.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
