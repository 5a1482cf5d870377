package tracker

import (
	"net/url"
	"sync"
	"time"

	"github.com/oberliner3/jhnyc-sub000/models"
	"github.com/oberliner3/jhnyc-sub000/utils"
)

// PageContext describes the page currently shown in the tab.
type PageContext struct {
	URL            string
	Title          string
	Referrer       string
	UserAgent      string
	Language       string
	ViewportWidth  int
	ViewportHeight int
	ScreenWidth    int
	ScreenHeight   int
}

// Enricher attaches identity and context to partial events.
type Enricher struct {
	identity *Identity
	page     func() PageContext
	now      func() time.Time

	mu       sync.Mutex
	uaString string
	uaInfo   models.DeviceInfo
}

func NewEnricher(identity *Identity, page func() PageContext, now func() time.Time) *Enricher {
	return &Enricher{identity: identity, page: page, now: now}
}

// Enrich returns a copy of ev with identifiers, page defaults, device info,
// attribution and timestamps filled in. Missing optional signals are left out.
func (e *Enricher) Enrich(ev models.TrackingEvent) models.TrackingEvent {
	page := e.page()

	ev.SessionID = e.identity.SessionID()
	ev.AnonymousID = e.identity.AnonymousID()
	if uid := e.identity.UserID(); uid != "" {
		ev.UserID = uid
	}

	if ev.PageURL == "" {
		ev.PageURL = page.URL
	}
	if ev.PageTitle == "" {
		ev.PageTitle = page.Title
	}
	if ev.Referrer == "" {
		ev.Referrer = page.Referrer
	}

	if device := e.device(page); device != (models.DeviceInfo{}) {
		ev.Device = &device
	}
	if attr := attribution(ev.PageURL, page.Referrer); !attr.IsZero() {
		ev.Attribution = &attr
	}

	now := e.now().UTC()
	ev.ClientTimestamp = now
	ev.Timestamp = now.UnixMilli()
	return ev
}

func (e *Enricher) device(page PageContext) models.DeviceInfo {
	var info models.DeviceInfo
	if page.UserAgent != "" {
		e.mu.Lock()
		if e.uaString != page.UserAgent {
			e.uaString = page.UserAgent
			e.uaInfo = utils.ParseDevice(page.UserAgent)
		}
		info = e.uaInfo
		e.mu.Unlock()
	}
	info.Language = page.Language
	info.ViewportWidth = page.ViewportWidth
	info.ViewportHeight = page.ViewportHeight
	info.ScreenWidth = page.ScreenWidth
	info.ScreenHeight = page.ScreenHeight
	return info
}

func attribution(pageURL, referrer string) models.Attribution {
	attr := models.Attribution{Referrer: referrer}
	u, err := url.Parse(pageURL)
	if err != nil {
		return attr
	}
	q := u.Query()
	attr.UTMSource = q.Get("utm_source")
	attr.UTMMedium = q.Get("utm_medium")
	attr.UTMCampaign = q.Get("utm_campaign")
	attr.UTMTerm = q.Get("utm_term")
	attr.UTMContent = q.Get("utm_content")
	return attr
}
