package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oberliner3/jhnyc-sub000/models"
	"github.com/oberliner3/jhnyc-sub000/utils"
)

const maxElementText = 100

// ClickTarget is a clicked element and its ancestors, nearest first.
type ClickTarget struct {
	Element   Element
	Ancestors []Element
	X, Y      int
}

// Form interaction kinds.
const (
	FormFocus  = "focus"
	FormChange = "change"
	FormSubmit = "submit"
)

// FormSignal is one focus, change or submit on a form field (or the form
// itself for submit).
type FormSignal struct {
	Kind      string
	Field     Element
	Ancestors []Element
}

// ErrorSignal is an uncaught error or unhandled promise rejection.
type ErrorSignal struct {
	Rejection bool
	Message   string
	Stack     string
	Source    string
	Line      int
	Column    int
}

// Navigate switches to a new page: scroll thresholds and time-on-page start
// over, and a page_view is recorded.
func (t *Tracker) Navigate(page PageContext) {
	t.mu.Lock()
	t.page = page
	t.pageStart = t.now()
	t.scroll.reset()
	t.scrollGen++
	t.pendingScroll = ScrollPosition{}
	if t.scrollTimer != nil {
		t.scrollTimer.Stop()
		t.scrollTimer = nil
	}
	t.mu.Unlock()

	_ = t.Track(models.TrackingEvent{
		EventType: models.EventPageView,
		EventName: "page_view",
	})
}

// Click records a click unless the element or one of its ancestors matches
// the ignore list. It reports whether an event was queued.
func (t *Tracker) Click(target ClickTarget) bool {
	if t.ignore.ignored(target.Element, target.Ancestors) {
		return false
	}

	el := target.Element
	props := map[string]any{"tagName": el.tag()}
	if href, ok := el.Attributes["href"]; ok {
		props["href"] = href
	}

	err := t.Track(models.TrackingEvent{
		EventType:       models.EventClick,
		EventName:       "click",
		ElementSelector: selectorFor(el),
		ElementText:     utils.Truncate(el.Text, maxElementText),
		ElementPosition: &models.Position{X: target.X, Y: target.Y},
		ContentID:       el.Attributes["data-content-id"],
		ProductID:       el.Attributes["data-product-id"],
		Properties:      props,
	})
	return err == nil
}

// ObserveScroll feeds a scroll sample. Samples are debounced; once the
// page settles, every threshold reached for the first time is reported.
func (t *Tracker) ObserveScroll(pos ScrollPosition) {
	t.mu.Lock()
	t.pendingScroll = pos
	t.scrollGen++
	gen := t.scrollGen
	if t.cfg.ScrollDebounce <= 0 {
		t.mu.Unlock()
		t.processScroll(gen)
		return
	}
	if t.scrollTimer != nil {
		t.scrollTimer.Stop()
	}
	t.scrollTimer = time.AfterFunc(t.cfg.ScrollDebounce, func() { t.processScroll(gen) })
	t.mu.Unlock()
}

// processScroll applies the pending sample. A callback from a timer that was
// superseded by a newer sample or a navigation finds a different generation
// and does nothing.
func (t *Tracker) processScroll(gen uint64) {
	t.mu.Lock()
	if gen != t.scrollGen {
		t.mu.Unlock()
		return
	}
	depth := t.pendingScroll.Depth()
	crossed := t.scroll.record(depth)
	t.scrollTimer = nil
	t.mu.Unlock()

	for _, th := range crossed {
		_ = t.Track(models.TrackingEvent{
			EventType:   models.EventScroll,
			EventName:   fmt.Sprintf("scroll_%d", th),
			ScrollDepth: float64(th),
			Properties:  map[string]any{"actualDepth": depth},
		})
	}
}

// MaxScrollDepth is the deepest scroll seen on the current page.
func (t *Tracker) MaxScrollDepth() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scroll.maxDepth
}

// Form records a form interaction tagged with the nearest enclosing form.
// Field values are never captured.
func (t *Tracker) Form(sig FormSignal) {
	ev := models.TrackingEvent{
		EventType: models.EventFormInteraction,
		EventName: "form_" + sig.Kind,
	}

	form, ok := nearestForm(sig.Field, sig.Ancestors)
	if ok {
		ev.FormID = form.ID
		if ev.FormID == "" {
			ev.FormID = form.Attributes["id"]
		}
		ev.FormName = form.Attributes["name"]
		ev.FormAction = form.Attributes["action"]
	}
	if sig.Field.tag() != "form" {
		ev.FormFieldName = sig.Field.Attributes["name"]
		ev.FormFieldType = sig.Field.Attributes["type"]
		if ev.FormFieldType == "" {
			ev.FormFieldType = sig.Field.tag()
		}
	}
	_ = t.Track(ev)
}

func nearestForm(field Element, ancestors []Element) (Element, bool) {
	if field.tag() == "form" {
		return field, true
	}
	for _, a := range ancestors {
		if a.tag() == "form" {
			return a, true
		}
	}
	return Element{}, false
}

// WebVital records one Core Web Vitals sample (LCP, INP, FID, CLS, ...).
func (t *Tracker) WebVital(name string, value float64) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return
	}
	_ = t.Track(models.TrackingEvent{
		EventType:   models.EventPerformance,
		EventName:   name,
		MetricName:  name,
		MetricValue: value,
	})
}

// CaptureError records an uncaught error or unhandled rejection.
func (t *Tracker) CaptureError(sig ErrorSignal) {
	name := "javascript_error"
	if sig.Rejection {
		name = "unhandled_rejection"
	}
	ev := models.TrackingEvent{
		EventType:    models.EventError,
		EventName:    name,
		ErrorMessage: sig.Message,
		ErrorStack:   sig.Stack,
	}
	if sig.Source != "" {
		ev.ErrorSource = fmt.Sprintf("%s:%d:%d", sig.Source, sig.Line, sig.Column)
	}
	_ = t.Track(ev)
}

// PageHidden records a page_exit with time on page and max scroll depth,
// then flushes. A hidden tab is still alive, so a failed send goes back on
// the queue like any other flush.
func (t *Tracker) PageHidden() {
	t.mu.Lock()
	timeOnPage := t.now().Sub(t.pageStart).Milliseconds()
	maxDepth := t.scroll.maxDepth
	t.mu.Unlock()

	_ = t.Track(models.TrackingEvent{
		EventType:      models.EventPageExit,
		EventName:      "page_exit",
		TimeOnPage:     timeOnPage,
		MaxScrollDepth: maxDepth,
	})

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.RequestTimeout)
	defer cancel()
	if err := t.flush(ctx, "hidden"); err != nil {
		log.Debug().Err(err).Msg("tracker: flush on page hide failed, events requeued")
	}
}

// Unload is the last chance to deliver queued events during page teardown.
// It goes through the beacon and is best effort.
func (t *Tracker) Unload() {
	t.flushBeacon()
}

// ProductView records a product detail view.
func (t *Tracker) ProductView(productID, title string, priceCents int64) {
	_ = t.Track(models.TrackingEvent{
		EventType: models.EventEcommerce,
		EventName: "product_view",
		ProductID: productID,
		Properties: map[string]any{
			"title":      title,
			"priceCents": priceCents,
		},
	})
}

// AddToCart records a cart addition.
func (t *Tracker) AddToCart(productID, variantID string, quantity int, priceCents int64) {
	_ = t.Track(models.TrackingEvent{
		EventType: models.EventEcommerce,
		EventName: "add_to_cart",
		ProductID: productID,
		Properties: map[string]any{
			"variantId":  variantID,
			"quantity":   quantity,
			"priceCents": priceCents,
		},
	})
}

// Purchase records a completed checkout.
func (t *Tracker) Purchase(orderNumber string, totalCents int64, currency string) {
	_ = t.Track(models.TrackingEvent{
		EventType: models.EventEcommerce,
		EventName: "purchase",
		ContentID: orderNumber,
		Properties: map[string]any{
			"totalCents": totalCents,
			"currency":   currency,
		},
	})
}
