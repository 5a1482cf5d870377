// api/models/experience.go
package models

import (
	"encoding/json"
	"time"
)

// Event types emitted by the experience tracker.
const (
	EventPageView        = "page_view"
	EventPageExit        = "page_exit"
	EventClick           = "click"
	EventScroll          = "scroll"
	EventFormInteraction = "form_interaction"
	EventError           = "error"
	EventPerformance     = "performance"
	EventEcommerce       = "ecommerce"
	EventCustom          = "custom"
)

// Position is an element's on-screen coordinate at the time of a click.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// DeviceInfo is a best-effort description of the visitor's device.
type DeviceInfo struct {
	DeviceType     string `json:"deviceType,omitempty"`
	Browser        string `json:"browser,omitempty"`
	OS             string `json:"os,omitempty"`
	UserAgent      string `json:"userAgent,omitempty"`
	Language       string `json:"language,omitempty"`
	ViewportWidth  int    `json:"viewportWidth,omitempty"`
	ViewportHeight int    `json:"viewportHeight,omitempty"`
	ScreenWidth    int    `json:"screenWidth,omitempty"`
	ScreenHeight   int    `json:"screenHeight,omitempty"`
}

// Attribution holds campaign parameters parsed from the landing URL.
type Attribution struct {
	UTMSource   string `json:"utmSource,omitempty"`
	UTMMedium   string `json:"utmMedium,omitempty"`
	UTMCampaign string `json:"utmCampaign,omitempty"`
	UTMTerm     string `json:"utmTerm,omitempty"`
	UTMContent  string `json:"utmContent,omitempty"`
	Referrer    string `json:"referrer,omitempty"`
}

// IsZero reports whether no attribution signal was present.
func (a Attribution) IsZero() bool {
	return a == Attribution{}
}

// TrackingEvent is one observed interaction.
type TrackingEvent struct {
	EventType   string `json:"eventType"`
	EventName   string `json:"eventName"`
	SessionID   string `json:"sessionId"`
	AnonymousID string `json:"anonymousId"`
	UserID      string `json:"userId,omitempty"`

	PageURL   string `json:"pageUrl,omitempty"`
	PageTitle string `json:"pageTitle,omitempty"`
	Referrer  string `json:"referrer,omitempty"`

	ElementSelector string    `json:"elementSelector,omitempty"`
	ElementText     string    `json:"elementText,omitempty"`
	ElementPosition *Position `json:"elementPosition,omitempty"`

	ScrollDepth    float64 `json:"scrollDepth,omitempty"`
	MaxScrollDepth float64 `json:"maxScrollDepth,omitempty"`
	TimeOnPage     int64   `json:"timeOnPage,omitempty"` // milliseconds

	FormID        string `json:"formId,omitempty"`
	FormName      string `json:"formName,omitempty"`
	FormFieldName string `json:"formFieldName,omitempty"`
	FormFieldType string `json:"formFieldType,omitempty"`
	FormAction    string `json:"formAction,omitempty"`

	ErrorMessage string `json:"errorMessage,omitempty"`
	ErrorStack   string `json:"errorStack,omitempty"`
	ErrorSource  string `json:"errorSource,omitempty"`

	ProductID string `json:"productId,omitempty"`
	ContentID string `json:"contentId,omitempty"`

	MetricName  string  `json:"metricName,omitempty"`
	MetricValue float64 `json:"metricValue,omitempty"`

	Properties  map[string]any `json:"properties,omitempty"`
	Device      *DeviceInfo    `json:"device,omitempty"`
	Attribution *Attribution   `json:"attribution,omitempty"`

	ClientTimestamp time.Time  `json:"clientTimestamp"`
	Timestamp       int64      `json:"timestamp"`
	ServerTimestamp *time.Time `json:"serverTimestamp,omitempty"`
}

// SessionInfo is the identity snapshot sent along with every batch.
type SessionInfo struct {
	SessionID   string `json:"sessionId"`
	UserID      string `json:"userId,omitempty"`
	AnonymousID string `json:"anonymousId"`
}

// TrackingBatch is the request body of POST /api/experience-tracking.
type TrackingBatch struct {
	Events      []TrackingEvent `json:"events"`
	SessionInfo SessionInfo     `json:"sessionInfo"`
	Timestamp   int64           `json:"timestamp"`
	BatchID     string          `json:"batchId"`
}

// GeoInfo is the coarse location attached to stored events and sessions.
type GeoInfo struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
}

// ExperienceEventRow is the flat shape written to the event store.
type ExperienceEventRow struct {
	EventID         string
	BatchID         string
	EventType       string
	EventName       string
	SessionID       string
	AnonymousID     string
	UserID          string
	PageURL         string
	PageTitle       string
	Referrer        string
	ElementSelector string
	ElementText     string
	ElementX        int32
	ElementY        int32
	ScrollDepth     float64
	MaxScrollDepth  float64
	TimeOnPageMs    int64
	FormID          string
	FormName        string
	FormFieldName   string
	FormFieldType   string
	FormAction      string
	ErrorMessage    string
	ErrorStack      string
	ErrorSource     string
	ProductID       string
	ContentID       string
	MetricName      string
	MetricValue     float64
	DeviceType      string
	Browser         string
	OS              string
	ViewportWidth   int32
	ViewportHeight  int32
	ScreenWidth     int32
	ScreenHeight    int32
	UTMSource       string
	UTMMedium       string
	UTMCampaign     string
	UTMTerm         string
	UTMContent      string
	IPAddress       string
	Country         string
	Region          string
	City            string
	Properties      json.RawMessage
	ClientTimestamp time.Time
	ServerTimestamp time.Time
}

// UserSession is the server-side record of one browser session.
type UserSession struct {
	SessionID      string     `json:"sessionId"`
	AnonymousID    string     `json:"anonymousId"`
	UserID         *string    `json:"userId,omitempty"`
	Device         DeviceInfo `json:"device"`
	Geo            GeoInfo    `json:"geo"`
	IPAddress      string     `json:"ipAddress"`
	FirstSeenAt    time.Time  `json:"firstSeenAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	IsActive       bool       `json:"isActive"`
}
