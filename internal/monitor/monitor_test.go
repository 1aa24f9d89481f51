package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatcher/internal/browser"
	"pricewatcher/internal/scheduler"
	"pricewatcher/internal/storage"
)

type fakeSession struct {
	id       int
	fetchErr error
	shotErr  error
	closed   int
	shots    []string
}

func (s *fakeSession) FetchPriceElement(ctx context.Context, url, selector string, timeout time.Duration) (browser.Element, error) {
	if s.fetchErr != nil {
		return browser.Element{}, s.fetchErr
	}
	return browser.Element{Selector: selector}, nil
}

func (s *fakeSession) Screenshot(ctx context.Context, el browser.Element, path string) error {
	if s.shotErr != nil {
		return s.shotErr
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	s.shots = append(s.shots, path)
	return os.WriteFile(path, []byte("png"), 0o644)
}

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

type fakeOpener struct {
	sessions []*fakeSession
	failAt   map[int]error
	opens    int
}

func (o *fakeOpener) Open(ctx context.Context) (browser.Session, error) {
	o.opens++
	if err, ok := o.failAt[o.opens]; ok {
		return nil, err
	}
	s := &fakeSession{id: o.opens}
	o.sessions = append(o.sessions, s)
	return s, nil
}

func (o *fakeOpener) last() *fakeSession {
	return o.sessions[len(o.sessions)-1]
}

type scriptedRecognizer struct {
	texts []string
	errs  []error
	calls int
}

func (r *scriptedRecognizer) Recognize(ctx context.Context, path string) (string, error) {
	i := r.calls
	r.calls++
	if i < len(r.errs) && r.errs[i] != nil {
		return "", r.errs[i]
	}
	if i < len(r.texts) {
		return r.texts[i], nil
	}
	return "", nil
}

type memoryStore struct {
	records []storage.PriceRecord
	err     error
}

func (s *memoryStore) Append(ctx context.Context, rec storage.PriceRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func newTestMonitor(t *testing.T, opener browser.Opener, rec *scriptedRecognizer, store storage.RecordStore) *Monitor {
	t.Helper()
	opts := Options{
		URL:              "https://example.com/quote",
		Selector:         "div[data-last-price]",
		Timeout:          time.Second,
		ScreenshotDir:    t.TempDir(),
		ScreenshotPrefix: "nvidia_stock",
	}
	sched := scheduler.New(scheduler.Options{Interval: time.Millisecond, Immediate: true}, zerolog.Nop())
	return New(opts, sched, opener, rec, store, zerolog.Nop())
}

func startLoop(t *testing.T, m *Monitor) *loop {
	t.Helper()
	session, err := m.opener.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	m.setState(StateRunning)
	return &loop{m: m, session: session}
}

func TestTickStoresValidCapture(t *testing.T) {
	opener := &fakeOpener{}
	store := &memoryStore{}
	rec := &scriptedRecognizer{texts: []string{"NVDA $138.74 -0.66 Today -0.47% Volume 45.2M"}}
	m := newTestMonitor(t, opener, rec, store)
	l := startLoop(t, m)

	if err := l.tick(context.Background(), 1); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(store.records) != 1 {
		t.Fatalf("expected one record, got %d", len(store.records))
	}
	got := store.records[0]
	if !got.Price.Equal(decimal.RequireFromString("138.74")) {
		t.Fatalf("price = %s", got.Price)
	}
	if !got.Change.Valid || got.Change.Decimal.String() != "-0.66" {
		t.Fatalf("change = %+v", got.Change)
	}
	if got.PercentChange == nil || *got.PercentChange != "-0.47%" {
		t.Fatalf("percent = %v", got.PercentChange)
	}
	if m.State() != StateRunning {
		t.Fatalf("state = %s", m.State())
	}

	shots := opener.last().shots
	if len(shots) != 1 {
		t.Fatalf("expected one screenshot, got %d", len(shots))
	}
	if _, err := os.Stat(shots[0]); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("temporary screenshot should be removed, stat err = %v", err)
	}
}

func TestTickStoresWithoutChangeOrPercent(t *testing.T) {
	opener := &fakeOpener{}
	store := &memoryStore{}
	rec := &scriptedRecognizer{texts: []string{"$1,234.50"}}
	m := newTestMonitor(t, opener, rec, store)
	l := startLoop(t, m)

	if err := l.tick(context.Background(), 1); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(store.records) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(store.records))
	}
	if store.records[0].Change.Valid || store.records[0].PercentChange != nil {
		t.Fatal("change and percent should be null")
	}
}

func TestTickDiscardsTextWithoutPrice(t *testing.T) {
	opener := &fakeOpener{}
	store := &memoryStore{}
	rec := &scriptedRecognizer{texts: []string{"NVDA — Volume 45.2M"}}
	m := newTestMonitor(t, opener, rec, store)
	l := startLoop(t, m)
	first := l.session

	if err := l.tick(context.Background(), 1); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(store.records) != 0 {
		t.Fatalf("no record expected, got %d", len(store.records))
	}
	if l.session != first || opener.opens != 1 {
		t.Fatal("recognition failure must keep the session")
	}
	if opener.last().closed != 0 {
		t.Fatal("session should not be closed")
	}
}

func TestTickRecognizerErrorKeepsSession(t *testing.T) {
	opener := &fakeOpener{}
	store := &memoryStore{}
	rec := &scriptedRecognizer{errs: []error{errors.New("tesseract: bad image")}}
	m := newTestMonitor(t, opener, rec, store)
	l := startLoop(t, m)

	if err := l.tick(context.Background(), 1); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if opener.opens != 1 || len(store.records) != 0 {
		t.Fatalf("opens=%d records=%d", opener.opens, len(store.records))
	}
}

func TestNavigationTimeoutRecreatesSession(t *testing.T) {
	opener := &fakeOpener{}
	store := &memoryStore{}
	rec := &scriptedRecognizer{texts: []string{"$10.00", "$11.00"}}
	m := newTestMonitor(t, opener, rec, store)
	l := startLoop(t, m)

	first := opener.last()
	first.fetchErr = fmt.Errorf("%w: div", browser.ErrNavigationTimeout)

	if err := l.tick(context.Background(), 1); err != nil {
		t.Fatalf("tick N: %v", err)
	}
	if len(store.records) != 0 {
		t.Fatal("tick N must not store a record")
	}
	if first.closed != 1 {
		t.Fatalf("old session should be closed once, closed=%d", first.closed)
	}
	if opener.opens != 2 || l.session == browser.Session(first) {
		t.Fatal("a fresh session should be opened")
	}
	if m.State() != StateRunning {
		t.Fatalf("state after reopen = %s", m.State())
	}

	if err := l.tick(context.Background(), 2); err != nil {
		t.Fatalf("tick N+1: %v", err)
	}
	if len(store.records) != 1 {
		t.Fatalf("tick N+1 on fresh session should store, got %d", len(store.records))
	}
	if rec.calls != 1 {
		t.Fatalf("recognizer should only run on tick N+1, calls=%d", rec.calls)
	}
}

func TestBrowserFaultRecreatesSession(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestMonitor(t, opener, &scriptedRecognizer{}, &memoryStore{})
	l := startLoop(t, m)
	opener.last().shotErr = fmt.Errorf("%w: target closed", browser.ErrBrowserFault)

	if err := l.tick(context.Background(), 1); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if opener.opens != 2 {
		t.Fatalf("expected reopen after browser fault, opens=%d", opener.opens)
	}
}

func TestReopenFailureStaysDegraded(t *testing.T) {
	opener := &fakeOpener{failAt: map[int]error{2: errors.New("chrome missing")}}
	store := &memoryStore{}
	rec := &scriptedRecognizer{texts: []string{"$42.00"}}
	m := newTestMonitor(t, opener, rec, store)
	l := startLoop(t, m)
	opener.last().fetchErr = errors.New("websocket closed")

	if err := l.tick(context.Background(), 1); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if l.session != nil {
		t.Fatal("session should be nil after failed reopen")
	}
	if m.State() != StateDegraded {
		t.Fatalf("state = %s, want degraded", m.State())
	}

	if err := l.tick(context.Background(), 2); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if opener.opens != 3 || m.State() != StateRunning {
		t.Fatalf("next tick should reopen; opens=%d state=%s", opener.opens, m.State())
	}
	if len(store.records) != 1 {
		t.Fatalf("expected capture on reopened session, got %d", len(store.records))
	}
}

func TestStorageFaultIsFatal(t *testing.T) {
	opener := &fakeOpener{}
	store := &memoryStore{err: errors.New("read-only filesystem")}
	rec := &scriptedRecognizer{texts: []string{"$10.00"}}
	m := newTestMonitor(t, opener, rec, store)
	l := startLoop(t, m)

	err := l.tick(context.Background(), 1)
	var cerr *CaptureError
	if !errors.As(err, &cerr) || cerr.Outcome != OutcomeStorageFault {
		t.Fatalf("expected storage fault, got %v", err)
	}
}

func TestRunStopsOnCancelAndClosesSession(t *testing.T) {
	opener := &fakeOpener{}
	store := &memoryStore{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &cancellingRecognizer{after: 3, cancel: cancel}
	opts := Options{URL: "u", Selector: "s", Timeout: time.Second, ScreenshotDir: t.TempDir()}
	sched := scheduler.New(scheduler.Options{Interval: time.Millisecond, Immediate: true}, zerolog.Nop())
	m := New(opts, sched, opener, rec, store, zerolog.Nop())

	if err := m.Run(ctx); err != nil {
		t.Fatalf("interrupt should end cleanly, got %v", err)
	}
	if m.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", m.State())
	}
	if opener.last().closed != 1 {
		t.Fatal("session should be closed on stop")
	}
	if len(store.records) < 2 {
		t.Fatalf("expected records before cancel, got %d", len(store.records))
	}
	for i := 1; i < len(store.records); i++ {
		if store.records[i].Timestamp.Before(store.records[i-1].Timestamp) {
			t.Fatal("records must be appended in capture order")
		}
	}
}

func TestRunReturnsFatalError(t *testing.T) {
	opener := &fakeOpener{}
	store := &memoryStore{err: errors.New("disk full")}
	rec := &scriptedRecognizer{texts: []string{"$10.00"}}
	m := newTestMonitor(t, opener, rec, store)

	err := m.Run(context.Background())
	if err == nil {
		t.Fatal("expected fatal storage error")
	}
	if m.State() != StateStopped || opener.last().closed != 1 {
		t.Fatal("session should be released on fatal error")
	}
}

func TestRunFailsWhenInitialOpenFails(t *testing.T) {
	opener := &fakeOpener{failAt: map[int]error{1: errors.New("no chrome")}}
	m := newTestMonitor(t, opener, &scriptedRecognizer{}, &memoryStore{})

	if err := m.Run(context.Background()); err == nil {
		t.Fatal("expected error when the browser cannot start")
	}
	if m.State() != StateStopped {
		t.Fatalf("state = %s", m.State())
	}
}

func TestCaptureOnceRetainsScreenshot(t *testing.T) {
	opener := &fakeOpener{}
	store := &memoryStore{}
	rec := &scriptedRecognizer{texts: []string{"$138.74 +0.66 Today +0.47%"}}
	m := newTestMonitor(t, opener, rec, store)
	m.now = func() time.Time { return time.Date(2024, 11, 20, 14, 3, 5, 0, time.Local) }

	got, err := m.CaptureOnce(context.Background())
	if err != nil {
		t.Fatalf("capture once: %v", err)
	}
	if got.Price.String() != "138.74" {
		t.Fatalf("price = %s", got.Price)
	}

	want := filepath.Join(m.opts.ScreenshotDir, "nvidia_stock_20241120_140305.png")
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("screenshot should be retained at %s: %v", want, err)
	}
	if opener.last().closed != 1 {
		t.Fatal("one-shot session should be closed")
	}
}

func TestCaptureOnceReportsOutcome(t *testing.T) {
	opener := &fakeOpener{}
	m := newTestMonitor(t, opener, &scriptedRecognizer{texts: []string{"garbage"}}, &memoryStore{})

	_, err := m.CaptureOnce(context.Background())
	var cerr *CaptureError
	if !errors.As(err, &cerr) || cerr.Outcome != OutcomeRecognitionFailure {
		t.Fatalf("expected recognition failure, got %v", err)
	}
	if cerr.Text != "garbage" {
		t.Fatalf("failure should carry OCR text, got %q", cerr.Text)
	}
}

func TestFormatRecord(t *testing.T) {
	pct := "-0.47%"
	rec := storage.PriceRecord{
		Price:         decimal.RequireFromString("138.74"),
		Change:        decimal.NewNullDecimal(decimal.RequireFromString("-0.66")),
		PercentChange: &pct,
	}
	if got := FormatRecord(rec); got != "Price: $138.74 | Change: -0.66 (-0.47%)" {
		t.Fatalf("unexpected summary %q", got)
	}

	rec.Change = decimal.NewNullDecimal(decimal.RequireFromString("1.5"))
	rec.PercentChange = nil
	if got := FormatRecord(rec); got != "Price: $138.74 | Change: +1.50 (n/a)" {
		t.Fatalf("unexpected summary %q", got)
	}
}

type cancellingRecognizer struct {
	after  int
	calls  int
	cancel context.CancelFunc
}

func (r *cancellingRecognizer) Recognize(ctx context.Context, path string) (string, error) {
	r.calls++
	if r.calls >= r.after {
		r.cancel()
	}
	return fmt.Sprintf("$%d.00", 100+r.calls), nil
}
