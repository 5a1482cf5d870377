// Package tracker is the client side of experience tracking: it turns
// interaction signals into enriched events, buffers them and delivers them
// in batches to the ingestion endpoint.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/oberliner3/jhnyc-sub000/metrics"
	"github.com/oberliner3/jhnyc-sub000/models"
)

// ErrInvalidEvent is returned by Track when the type or name is missing.
var ErrInvalidEvent = errors.New("event type and name are required")

// Tracker owns one tab's queue, identity and page state.
type Tracker struct {
	cfg       Config
	transport Transport
	identity  *Identity
	enricher  *Enricher
	queue     *Queue
	ignore    ignoreList
	now       func() time.Time

	mu            sync.Mutex
	page          PageContext
	pageStart     time.Time
	scroll        scrollState
	scrollTimer   *time.Timer
	scrollGen     uint64
	pendingScroll ScrollPosition
	backoff       *backoff.ExponentialBackOff
	retryAt       time.Time

	// one send in flight at a time
	sendMu sync.Mutex

	loopMu     sync.Mutex
	stopLoop   context.CancelFunc
	loopDone   chan struct{}
	sizeFlushQ chan struct{}
}

type Option func(*Tracker)

// WithTransport replaces the default HTTP transport.
func WithTransport(t Transport) Option {
	return func(tr *Tracker) { tr.transport = t }
}

// WithStorage sets the session-scoped and persistent identity stores.
func WithStorage(session, persistent Storage) Option {
	return func(tr *Tracker) { tr.identity = NewIdentity(session, persistent) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(tr *Tracker) { tr.now = now }
}

// WithHTTPClient sets the client used by the default transport.
func WithHTTPClient(c *http.Client) Option {
	return func(tr *Tracker) {
		tr.transport = NewHTTPTransport(tr.cfg.Endpoint, c, tr.cfg.BeaconTimeout)
	}
}

// New builds a tracker. The config is validated first.
func New(cfg Config, opts ...Option) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Tracker{
		cfg:        cfg,
		queue:      NewQueue(cfg.MaxQueueSize),
		ignore:     newIgnoreList(cfg.IgnoreSelectors),
		now:        time.Now,
		scroll:     newScrollState(cfg.ScrollThresholds),
		sizeFlushQ: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.transport == nil {
		t.transport = NewHTTPTransport(cfg.Endpoint, &http.Client{Timeout: cfg.RequestTimeout}, cfg.BeaconTimeout)
	}
	if t.identity == nil {
		t.identity = NewIdentity(NewMemoryStorage(), NewMemoryStorage())
	}
	t.enricher = NewEnricher(t.identity, t.currentPage, t.now)
	t.pageStart = t.now()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RetryInitialInterval
	b.MaxInterval = cfg.RetryMaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	t.backoff = b

	return t, nil
}

func (t *Tracker) currentPage() PageContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.page
}

// Queue exposes the underlying queue for inspection.
func (t *Tracker) Queue() *Queue {
	return t.queue
}

// Identity exposes the identifiers used by the tracker.
func (t *Tracker) Identity() *Identity {
	return t.identity
}

// Start runs the periodic flush loop until ctx is done or Stop is called.
func (t *Tracker) Start(ctx context.Context) {
	t.loopMu.Lock()
	defer t.loopMu.Unlock()
	if t.stopLoop != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	t.stopLoop = cancel
	t.loopDone = make(chan struct{})

	go func() {
		defer close(t.loopDone)

		var tick <-chan time.Time
		if t.cfg.FlushInterval > 0 {
			ticker := time.NewTicker(t.cfg.FlushInterval)
			defer ticker.Stop()
			tick = ticker.C
		}
		for {
			select {
			case <-tick:
				t.autoFlush(ctx, "interval")
			case <-t.sizeFlushQ:
				t.autoFlush(ctx, "size")
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the flush loop, cancels a pending scroll sample and makes a
// final flush attempt.
func (t *Tracker) Stop(ctx context.Context) error {
	t.loopMu.Lock()
	cancel, done := t.stopLoop, t.loopDone
	t.stopLoop, t.loopDone = nil, nil
	t.loopMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	t.mu.Lock()
	t.scrollGen++
	if t.scrollTimer != nil {
		t.scrollTimer.Stop()
		t.scrollTimer = nil
	}
	t.mu.Unlock()

	return t.Flush(ctx)
}

// Identify links subsequent events to an authenticated user.
func (t *Tracker) Identify(userID string) {
	t.identity.SetUserID(userID)
}

// Reset drops the user link and starts a new session.
func (t *Tracker) Reset() {
	t.identity.Reset()
}

// Track enriches a partial event and queues it. Reaching the batch size
// schedules a flush.
func (t *Tracker) Track(partial models.TrackingEvent) error {
	if partial.EventType == "" || partial.EventName == "" {
		return ErrInvalidEvent
	}

	ev := t.enricher.Enrich(partial)
	n := t.queue.Push(ev)
	metrics.TrackerEventsQueued.Inc()

	if n >= t.cfg.BatchSize {
		t.requestSizeFlush()
	}
	return nil
}

func (t *Tracker) requestSizeFlush() {
	t.loopMu.Lock()
	running := t.stopLoop != nil
	t.loopMu.Unlock()

	if running {
		select {
		case t.sizeFlushQ <- struct{}{}:
		default:
		}
		return
	}
	go t.autoFlush(context.Background(), "size")
}

// Flush sends everything queued now, ignoring any retry backoff.
func (t *Tracker) Flush(ctx context.Context) error {
	return t.flush(ctx, "manual")
}

// autoFlush is the timer/size path; it waits out the backoff after failures.
func (t *Tracker) autoFlush(ctx context.Context, trigger string) {
	t.mu.Lock()
	wait := !t.retryAt.IsZero() && t.now().Before(t.retryAt)
	t.mu.Unlock()
	if wait {
		metrics.TrackerFlushes.WithLabelValues(trigger, "deferred").Inc()
		return
	}
	if err := t.flush(ctx, trigger); err != nil {
		log.Debug().Err(err).Str("trigger", trigger).Msg("tracker flush failed")
	}
}

func (t *Tracker) flush(ctx context.Context, trigger string) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	items := t.queue.Drain()
	if len(items) == 0 {
		t.queue.Done()
		return nil
	}

	chunks := t.chunk(items)
	for i, chunk := range chunks {
		batch := t.buildBatch(chunk)
		if err := t.transport.Send(ctx, batch); err != nil {
			var failed []queuedEvent
			for _, c := range chunks[i:] {
				failed = append(failed, c...)
			}
			dropped := t.queue.Requeue(failed, t.cfg.MaxRetries)
			t.scheduleRetry()
			metrics.TrackerFlushes.WithLabelValues(trigger, "failed").Inc()
			return fmt.Errorf("flush %d events (%d dropped): %w", len(failed), dropped, err)
		}
	}

	t.queue.Done()
	t.mu.Lock()
	t.backoff.Reset()
	t.retryAt = time.Time{}
	t.mu.Unlock()
	metrics.TrackerFlushes.WithLabelValues(trigger, "sent").Inc()
	return nil
}

func (t *Tracker) scheduleRetry() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retryAt = t.now().Add(t.backoff.NextBackOff())
}

// flushBeacon drains the queue through the fire-and-forget path.
func (t *Tracker) flushBeacon() {
	items := t.queue.Drain()
	defer t.queue.Done()
	if len(items) == 0 {
		return
	}
	for _, chunk := range t.chunk(items) {
		t.transport.Beacon(t.buildBatch(chunk))
	}
	metrics.TrackerFlushes.WithLabelValues("beacon", "sent").Inc()
}

// chunk splits items into batches of at most BatchSize that never mix
// sessions, keeping capture order.
func (t *Tracker) chunk(items []queuedEvent) [][]queuedEvent {
	var chunks [][]queuedEvent
	var cur []queuedEvent
	for _, it := range items {
		if len(cur) > 0 && (len(cur) >= t.cfg.BatchSize || cur[0].event.SessionID != it.event.SessionID) {
			chunks = append(chunks, cur)
			cur = nil
		}
		cur = append(cur, it)
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}

func (t *Tracker) buildBatch(items []queuedEvent) models.TrackingBatch {
	events := make([]models.TrackingEvent, len(items))
	for i, it := range items {
		events[i] = it.event
	}
	first := events[0]
	info := models.SessionInfo{
		SessionID:   first.SessionID,
		AnonymousID: first.AnonymousID,
		UserID:      first.UserID,
	}
	return models.TrackingBatch{
		Events:      events,
		SessionInfo: info,
		Timestamp:   t.now().UnixMilli(),
		BatchID:     "batch_" + uuid.NewString(),
	}
}
