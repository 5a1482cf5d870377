package tracker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oberliner3/jhnyc-sub000/models"
)

type fakeTransport struct {
	mu      sync.Mutex
	fail    bool
	sent    []models.TrackingBatch
	beacons []models.TrackingBatch
	calls   int
}

func (f *fakeTransport) Send(_ context.Context, batch models.TrackingBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errors.New("network down")
	}
	f.sent = append(f.sent, batch)
	return nil
}

func (f *fakeTransport) Beacon(batch models.TrackingBatch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beacons = append(f.beacons, batch)
}

func (f *fakeTransport) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTransport) sentBatches() []models.TrackingBatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.TrackingBatch(nil), f.sent...)
}

func testConfig() Config {
	cfg := DefaultConfig("http://localhost:8080/api/experience-tracking")
	cfg.ScrollDebounce = 0
	cfg.FlushInterval = time.Hour
	return cfg
}

func newTestTracker(t *testing.T, cfg Config) (*Tracker, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	tr, err := New(cfg, WithTransport(ft))
	require.NoError(t, err)
	tr.Navigate(PageContext{URL: "https://shop.example.com/products/mug", Title: "Mug"})
	return tr, ft
}

func eventNames(events []models.TrackingEvent) []string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.EventName
	}
	return names
}

func TestTrackRequiresTypeAndName(t *testing.T) {
	tr, _ := newTestTracker(t, testConfig())

	assert.ErrorIs(t, tr.Track(models.TrackingEvent{EventType: models.EventCustom}), ErrInvalidEvent)
	assert.ErrorIs(t, tr.Track(models.TrackingEvent{EventName: "x"}), ErrInvalidEvent)
}

func TestNoTransportBelowBatchSize(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 10
	tr, ft := newTestTracker(t, cfg)

	for i := 0; i < 5; i++ {
		require.NoError(t, tr.Track(models.TrackingEvent{EventType: models.EventCustom, EventName: "tick"}))
	}

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, ft.callCount())
	assert.Equal(t, 6, tr.Queue().Len()) // page_view + 5
	assert.Equal(t, StateAccumulating, tr.Queue().State())
}

func TestSizeTriggeredFlush(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 3
	cfg.MaxQueueSize = 10
	tr, ft := newTestTracker(t, cfg)

	require.NoError(t, tr.Track(models.TrackingEvent{EventType: models.EventCustom, EventName: "a"}))
	require.NoError(t, tr.Track(models.TrackingEvent{EventType: models.EventCustom, EventName: "b"}))

	assert.Eventually(t, func() bool { return len(ft.sentBatches()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"page_view", "a", "b"}, eventNames(ft.sentBatches()[0].Events))
}

func TestIntervalFlush(t *testing.T) {
	cfg := testConfig()
	cfg.FlushInterval = 10 * time.Millisecond
	tr, ft := newTestTracker(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Start(ctx)
	defer tr.Stop(context.Background())

	assert.Eventually(t, func() bool { return len(ft.sentBatches()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateEmpty, tr.Queue().State())
}

func TestFailedFlushRequeuesInOrder(t *testing.T) {
	tr, ft := newTestTracker(t, testConfig())
	for _, name := range []string{"one", "two", "three"} {
		require.NoError(t, tr.Track(models.TrackingEvent{EventType: models.EventCustom, EventName: name}))
	}

	ft.setFail(true)
	err := tr.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"page_view", "one", "two", "three"}, eventNames(tr.Queue().Events()))
	assert.Equal(t, StateAccumulating, tr.Queue().State())

	require.NoError(t, tr.Track(models.TrackingEvent{EventType: models.EventCustom, EventName: "four"}))

	ft.setFail(false)
	require.NoError(t, tr.Flush(context.Background()))

	batches := ft.sentBatches()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"page_view", "one", "two", "three", "four"}, eventNames(batches[0].Events))
	assert.Equal(t, 0, tr.Queue().Len())
}

func TestAutoFlushWaitsForBackoff(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	cfg := testConfig()
	cfg.RetryInitialInterval = time.Minute
	ft := &fakeTransport{fail: true}
	tr, err := New(cfg, WithTransport(ft), WithClock(clock))
	require.NoError(t, err)
	require.NoError(t, tr.Track(models.TrackingEvent{EventType: models.EventCustom, EventName: "x"}))

	require.Error(t, tr.Flush(context.Background()))
	assert.Equal(t, 1, ft.callCount())

	ft.setFail(false)
	tr.autoFlush(context.Background(), "interval")
	assert.Equal(t, 1, ft.callCount(), "automatic flush should wait out the backoff")

	mu.Lock()
	now = now.Add(5 * time.Minute)
	mu.Unlock()
	tr.autoFlush(context.Background(), "interval")
	assert.Equal(t, 2, ft.callCount())
	assert.Len(t, ft.sentBatches(), 1)
}

func TestEventsDroppedAfterMaxRetries(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	tr, ft := newTestTracker(t, cfg)
	ft.setFail(true)

	require.Error(t, tr.Flush(context.Background()))
	assert.Equal(t, 1, tr.Queue().Len())
	require.Error(t, tr.Flush(context.Background()))
	assert.Equal(t, 0, tr.Queue().Len())
}

func TestQueueBoundDropsOldest(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 2
	cfg.MaxQueueSize = 3
	ft := &fakeTransport{fail: true}
	tr, err := New(cfg, WithTransport(ft))
	require.NoError(t, err)

	q := tr.Queue()
	for _, name := range []string{"a", "b", "c", "d"} {
		q.Push(models.TrackingEvent{EventName: name})
	}
	assert.Equal(t, []string{"b", "c", "d"}, eventNames(q.Events()))
}

func TestScrollThresholdsOncePerPage(t *testing.T) {
	tr, _ := newTestTracker(t, testConfig())

	positions := []float64{100, 300, 200, 550, 900, 1000, 400}
	for _, top := range positions {
		tr.ObserveScroll(ScrollPosition{ScrollTop: top, ScrollHeight: 2000, ViewportHeight: 1000})
	}

	var depths []float64
	for _, ev := range tr.Queue().Events() {
		if ev.EventType == models.EventScroll {
			depths = append(depths, ev.ScrollDepth)
		}
	}
	assert.Equal(t, []float64{25, 50, 75, 90}, depths)
	assert.Equal(t, 100.0, tr.MaxScrollDepth())

	tr.Navigate(PageContext{URL: "https://shop.example.com/cart"})
	tr.ObserveScroll(ScrollPosition{ScrollTop: 300, ScrollHeight: 2000, ViewportHeight: 1000})
	var after []float64
	for _, ev := range tr.Queue().Events() {
		if ev.EventType == models.EventScroll && ev.PageURL == "https://shop.example.com/cart" {
			after = append(after, ev.ScrollDepth)
		}
	}
	assert.Equal(t, []float64{25}, after)
}

func TestScrollNeverReportsUnreachedThreshold(t *testing.T) {
	samples := [][]float64{
		{10, 20, 24.9},
		{49.99, 50},
		{0, 76, 74},
	}
	for _, seq := range samples {
		s := newScrollState([]int{25, 50, 75, 90})
		var max float64
		var reported []int
		for _, d := range seq {
			if d > max {
				max = d
			}
			reported = append(reported, s.record(d)...)
		}
		seen := map[int]bool{}
		for _, th := range reported {
			assert.False(t, seen[th], "threshold %d reported twice", th)
			seen[th] = true
			assert.LessOrEqual(t, float64(th), max)
		}
	}
}

func TestScrollDebounce(t *testing.T) {
	cfg := testConfig()
	cfg.ScrollDebounce = 20 * time.Millisecond
	tr, _ := newTestTracker(t, cfg)

	tr.ObserveScroll(ScrollPosition{ScrollTop: 300, ScrollHeight: 2000, ViewportHeight: 1000})
	tr.ObserveScroll(ScrollPosition{ScrollTop: 800, ScrollHeight: 2000, ViewportHeight: 1000})

	scrolls := func() int {
		n := 0
		for _, ev := range tr.Queue().Events() {
			if ev.EventType == models.EventScroll {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 0, scrolls())
	assert.Eventually(t, func() bool { return scrolls() == 3 }, time.Second, 5*time.Millisecond)
}

func TestStaleScrollCallbackIsIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.ScrollDebounce = time.Hour
	tr, _ := newTestTracker(t, cfg)

	tr.ObserveScroll(ScrollPosition{ScrollTop: 1000, ScrollHeight: 2000, ViewportHeight: 1000})
	tr.mu.Lock()
	stale := tr.scrollGen
	tr.mu.Unlock()

	tr.Navigate(PageContext{URL: "https://shop.example.com/cart"})
	tr.ObserveScroll(ScrollPosition{ScrollTop: 300, ScrollHeight: 2000, ViewportHeight: 1000})

	// A callback from the old page's timer that fired late must not apply
	// its depth to the new page or forget the newer timer.
	tr.processScroll(stale)

	for _, ev := range tr.Queue().Events() {
		assert.NotEqual(t, models.EventScroll, ev.EventType)
	}
	assert.Equal(t, 0.0, tr.MaxScrollDepth())
	tr.mu.Lock()
	assert.NotNil(t, tr.scrollTimer)
	tr.mu.Unlock()

	require.NoError(t, tr.Stop(context.Background()))
}

func TestScrollDepth(t *testing.T) {
	assert.Equal(t, 50.0, ScrollPosition{ScrollTop: 500, ScrollHeight: 2000, ViewportHeight: 1000}.Depth())
	assert.Equal(t, 100.0, ScrollPosition{ScrollTop: 0, ScrollHeight: 800, ViewportHeight: 1000}.Depth())
	assert.Equal(t, 100.0, ScrollPosition{ScrollTop: 1200, ScrollHeight: 2000, ViewportHeight: 1000}.Depth())
	assert.Equal(t, 0.0, ScrollPosition{ScrollTop: -20, ScrollHeight: 2000, ViewportHeight: 1000}.Depth())
}

func TestClickCapture(t *testing.T) {
	tr, _ := newTestTracker(t, testConfig())

	ok := tr.Click(ClickTarget{
		Element: Element{TagName: "BUTTON", ID: "buy-button", Text: "  Buy now  "},
		X:       10, Y: 20,
	})
	require.True(t, ok)

	events := tr.Queue().Events()
	ev := events[len(events)-1]
	assert.Equal(t, models.EventClick, ev.EventType)
	assert.Equal(t, "#buy-button", ev.ElementSelector)
	assert.Equal(t, "Buy now", ev.ElementText)
	assert.Equal(t, &models.Position{X: 10, Y: 20}, ev.ElementPosition)
}

func TestClickIgnoreList(t *testing.T) {
	tr, _ := newTestTracker(t, testConfig())
	before := tr.Queue().Len()

	assert.False(t, tr.Click(ClickTarget{Element: Element{TagName: "script"}}))
	assert.False(t, tr.Click(ClickTarget{Element: Element{TagName: "a", Classes: []string{"no-track"}}}))
	assert.False(t, tr.Click(ClickTarget{
		Element:   Element{TagName: "span"},
		Ancestors: []Element{{TagName: "div"}, {TagName: "section", Attributes: map[string]string{"data-no-track": ""}}},
	}))
	assert.Equal(t, before, tr.Queue().Len())

	assert.True(t, tr.Click(ClickTarget{Element: Element{TagName: "a", Classes: []string{"nav", "primary"}}}))
	events := tr.Queue().Events()
	assert.Equal(t, "a.nav.primary", events[len(events)-1].ElementSelector)
}

func TestFormCaptureUsesNearestForm(t *testing.T) {
	tr, _ := newTestTracker(t, testConfig())

	form := Element{TagName: "form", ID: "checkout", Attributes: map[string]string{"action": "/checkout", "name": "co"}}
	field := Element{TagName: "input", Attributes: map[string]string{"name": "email", "type": "email"}}

	tr.Form(FormSignal{Kind: FormFocus, Field: field, Ancestors: []Element{{TagName: "div"}, form}})
	tr.Form(FormSignal{Kind: FormChange, Field: field, Ancestors: []Element{form}})
	tr.Form(FormSignal{Kind: FormSubmit, Field: form})

	var forms []models.TrackingEvent
	for _, ev := range tr.Queue().Events() {
		if ev.EventType == models.EventFormInteraction {
			forms = append(forms, ev)
		}
	}
	require.Len(t, forms, 3)
	assert.Equal(t, []string{"form_focus", "form_change", "form_submit"}, eventNames(forms))
	for _, ev := range forms {
		assert.Equal(t, "checkout", ev.FormID)
		assert.Equal(t, "/checkout", ev.FormAction)
	}
	assert.Equal(t, "email", forms[0].FormFieldName)
	assert.Equal(t, "email", forms[0].FormFieldType)
	assert.Empty(t, forms[2].FormFieldName)
}

func TestWebVitalsAndErrors(t *testing.T) {
	tr, _ := newTestTracker(t, testConfig())

	tr.WebVital("lcp", 2100)
	tr.WebVital("CLS", 0.05)
	tr.CaptureError(ErrorSignal{Message: "boom", Stack: "at x", Source: "app.js", Line: 10, Column: 4})
	tr.CaptureError(ErrorSignal{Rejection: true, Message: "rejected"})

	events := tr.Queue().Events()[1:]
	require.Len(t, events, 4)
	assert.Equal(t, "LCP", events[0].MetricName)
	assert.Equal(t, 2100.0, events[0].MetricValue)
	assert.Equal(t, models.EventPerformance, events[1].EventType)
	assert.Equal(t, "app.js:10:4", events[2].ErrorSource)
	assert.Equal(t, "unhandled_rejection", events[3].EventName)
	assert.Empty(t, events[3].ErrorSource)
}

func TestPageHiddenEmitsExitAndFlushes(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	ft := &fakeTransport{}
	tr, err := New(testConfig(), WithTransport(ft), WithClock(clock))
	require.NoError(t, err)
	tr.Navigate(PageContext{URL: "https://shop.example.com/"})
	tr.ObserveScroll(ScrollPosition{ScrollTop: 600, ScrollHeight: 2000, ViewportHeight: 1000})

	mu.Lock()
	now = now.Add(42 * time.Second)
	mu.Unlock()
	tr.PageHidden()

	assert.Equal(t, 0, tr.Queue().Len())
	assert.Empty(t, ft.beacons)
	sent := ft.sentBatches()
	require.Len(t, sent, 1)
	events := sent[0].Events
	exit := events[len(events)-1]
	assert.Equal(t, models.EventPageExit, exit.EventType)
	assert.Equal(t, int64(42000), exit.TimeOnPage)
	assert.Equal(t, 60.0, exit.MaxScrollDepth)
}

func TestPageHiddenFailureKeepsEventsQueued(t *testing.T) {
	ft := &fakeTransport{fail: true}
	tr, err := New(testConfig(), WithTransport(ft))
	require.NoError(t, err)
	tr.Navigate(PageContext{URL: "https://shop.example.com/"})
	require.True(t, tr.Click(ClickTarget{Element: Element{TagName: "button", ID: "buy-button"}}))

	tr.PageHidden()

	assert.Equal(t, 1, ft.callCount())
	assert.Empty(t, ft.beacons)
	assert.Equal(t, []string{"page_view", "click", "page_exit"}, eventNames(tr.Queue().Events()))

	ft.setFail(false)
	require.NoError(t, tr.Flush(context.Background()))
	sent := ft.sentBatches()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"page_view", "click", "page_exit"}, eventNames(sent[0].Events))
}

func TestUnloadUsesBeacon(t *testing.T) {
	tr, ft := newTestTracker(t, testConfig())

	tr.Unload()

	assert.Equal(t, 0, tr.Queue().Len())
	assert.Equal(t, 0, ft.callCount())
	require.Len(t, ft.beacons, 1)
	assert.Equal(t, []string{"page_view"}, eventNames(ft.beacons[0].Events))
}

func TestEnrichment(t *testing.T) {
	session, persistent := NewMemoryStorage(), NewMemoryStorage()
	persistent.Set(anonymousIDKey, "anon-1")
	ft := &fakeTransport{}
	tr, err := New(testConfig(), WithTransport(ft), WithStorage(session, persistent))
	require.NoError(t, err)

	tr.Navigate(PageContext{
		URL:           "https://shop.example.com/?utm_source=newsletter&utm_medium=email&utm_campaign=spring",
		Title:         "Home",
		Referrer:      "https://mail.example.com/",
		UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth: 1280, ViewportHeight: 720,
	})
	tr.Identify("user-7")
	require.NoError(t, tr.Track(models.TrackingEvent{EventType: models.EventCustom, EventName: "hello"}))

	events := tr.Queue().Events()
	ev := events[len(events)-1]
	assert.Equal(t, "anon-1", ev.AnonymousID)
	assert.NotEmpty(t, ev.SessionID)
	sid, _ := session.Get(sessionIDKey)
	assert.Equal(t, sid, ev.SessionID)
	assert.Equal(t, "user-7", ev.UserID)
	assert.Empty(t, events[0].UserID, "page_view was tracked before Identify")
	assert.Equal(t, "Home", ev.PageTitle)
	require.NotNil(t, ev.Attribution)
	assert.Equal(t, "newsletter", ev.Attribution.UTMSource)
	assert.Equal(t, "spring", ev.Attribution.UTMCampaign)
	assert.Equal(t, "https://mail.example.com/", ev.Attribution.Referrer)
	require.NotNil(t, ev.Device)
	assert.Equal(t, "desktop", ev.Device.DeviceType)
	assert.Equal(t, 1280, ev.Device.ViewportWidth)
	assert.Equal(t, ev.ClientTimestamp.UnixMilli(), ev.Timestamp)
}

func TestResetStartsNewSessionKeepsAnonymousID(t *testing.T) {
	tr, ft := newTestTracker(t, testConfig())
	tr.Identify("u1")
	anon := tr.Identity().AnonymousID()
	first := tr.Identity().SessionID()

	tr.Reset()
	require.NoError(t, tr.Track(models.TrackingEvent{EventType: models.EventCustom, EventName: "after"}))

	assert.NotEqual(t, first, tr.Identity().SessionID())
	assert.Equal(t, anon, tr.Identity().AnonymousID())
	assert.Empty(t, tr.Identity().UserID())

	require.NoError(t, tr.Flush(context.Background()))
	batches := ft.sentBatches()
	require.Len(t, batches, 2, "batches never mix sessions")
	for _, b := range batches {
		for _, ev := range b.Events {
			assert.Equal(t, b.SessionInfo.SessionID, ev.SessionID)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
endpoint: https://shop.example.com/api/experience-tracking
batch_size: 20
flush_interval: 5s
scroll_thresholds: [90, 25, 50, 25]
ignore_selectors: ["#cookie-banner", "button.secondary"]
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.FlushInterval)
	assert.Equal(t, []int{25, 50, 90}, cfg.ScrollThresholds)
	assert.Equal(t, 1000, cfg.MaxQueueSize)
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig("not a url")
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig("https://shop.example.com/api/experience-tracking")
	cfg.IgnoreSelectors = []string{"div > a"}
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig("https://shop.example.com/api/experience-tracking")
	cfg.ScrollThresholds = []int{150}
	assert.Error(t, cfg.Validate())
}

func TestSelectorParsing(t *testing.T) {
	list, err := parseSelectorList(`a.nav[data-role="menu"], #promo`)
	require.NoError(t, err)
	require.Len(t, list, 2)

	menu := Element{TagName: "A", Classes: []string{"nav"}, Attributes: map[string]string{"data-role": "menu"}}
	assert.True(t, list[0].matches(menu))
	menu.Attributes["data-role"] = "footer"
	assert.False(t, list[0].matches(menu))
	assert.True(t, list[1].matches(Element{TagName: "div", ID: "promo"}))

	_, err = parseSelector("[unterminated")
	assert.Error(t, err)
}
