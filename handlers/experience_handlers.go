// api/handlers/experience_handlers.go
package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/oberliner3/jhnyc-sub000/metrics"
	"github.com/oberliner3/jhnyc-sub000/middleware"
	"github.com/oberliner3/jhnyc-sub000/models"
	"github.com/oberliner3/jhnyc-sub000/store"
	"github.com/oberliner3/jhnyc-sub000/utils"
)

// EventWriter bulk-inserts flattened events.
type EventWriter interface {
	InsertExperienceEvents(ctx context.Context, rows []models.ExperienceEventRow) error
}

// SessionRepository is the session lookup/insert/touch surface used on ingest.
type SessionRepository interface {
	FindSession(ctx context.Context, sessionID string) (*models.UserSession, error)
	InsertSession(ctx context.Context, sess *models.UserSession) error
	TouchSession(ctx context.Context, sessionID string, userID *string, at time.Time) error
}

type ExperienceHandlers struct {
	Events   EventWriter
	Sessions SessionRepository
	Geo      *utils.GeoLocator
	Now      func() time.Time
}

func NewExperienceHandlers(events EventWriter, sessions SessionRepository, geo *utils.GeoLocator) *ExperienceHandlers {
	return &ExperienceHandlers{Events: events, Sessions: sessions, Geo: geo, Now: time.Now}
}

// ingestRequest keeps events raw so a missing or non-array value can be told
// apart from a malformed event.
type ingestRequest struct {
	Events      json.RawMessage    `json:"events"`
	SessionInfo models.SessionInfo `json:"sessionInfo"`
	Timestamp   int64              `json:"timestamp"`
	BatchID     string             `json:"batchId"`
}

// requestMeta is what the server adds to every event of one request.
type requestMeta struct {
	BatchID    string
	IP         string
	Geo        models.GeoInfo
	UADevice   models.DeviceInfo
	ReceivedAt time.Time
}

func badBatch(c *gin.Context) {
	metrics.IngestBatches.WithLabelValues("invalid").Inc()
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid or empty events array"})
}

// IngestEvents handles POST /api/experience-tracking. Resending a batch
// inserts its events again; there is no deduplication by batch id.
func (h *ExperienceHandlers) IngestEvents(c *gin.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("experience tracking: unexpected failure")
			metrics.IngestBatches.WithLabelValues("error").Inc()
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal server error"})
		}
	}()

	body, err := c.GetRawData()
	if err != nil {
		badBatch(c)
		return
	}
	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		log.Debug().Err(err).Msg("experience tracking: malformed body")
		badBatch(c)
		return
	}
	raw := bytes.TrimSpace(req.Events)
	if len(raw) == 0 || raw[0] != '[' {
		badBatch(c)
		return
	}
	var events []models.TrackingEvent
	if err := json.Unmarshal(raw, &events); err != nil || len(events) == 0 {
		badBatch(c)
		return
	}

	batch := models.TrackingBatch{
		Events:      events,
		SessionInfo: req.SessionInfo,
		Timestamp:   req.Timestamp,
		BatchID:     req.BatchID,
	}
	if batch.BatchID == "" {
		batch.BatchID = "batch_" + uuid.NewString()
	}
	if id, ok := middleware.UserID(c); ok && batch.SessionInfo.UserID == "" {
		batch.SessionInfo.UserID = strconv.Itoa(id)
	}

	ip := utils.ClientIP(c.Request)
	meta := requestMeta{
		BatchID:    batch.BatchID,
		IP:         ip,
		Geo:        h.Geo.Locate(c.Request, ip),
		UADevice:   utils.ParseDevice(c.Request.UserAgent()),
		ReceivedAt: h.Now().UTC(),
	}

	rows := make([]models.ExperienceEventRow, 0, len(events))
	for _, ev := range events {
		rows = append(rows, toEventRow(ev, batch.SessionInfo, meta))
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	if err := h.Events.InsertExperienceEvents(ctx, rows); err != nil {
		log.Error().Err(err).Str("batch_id", batch.BatchID).Int("events", len(rows)).Msg("experience tracking: failed to store events")
		metrics.IngestBatches.WithLabelValues("store_failed").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to store events"})
		return
	}
	metrics.IngestEvents.Add(float64(len(rows)))

	if err := upsertSession(ctx, h.Sessions, batch, meta); err != nil {
		log.Warn().Err(err).Str("batch_id", batch.BatchID).Str("session_id", batch.SessionInfo.SessionID).Msg("experience tracking: session upsert failed")
		metrics.SessionUpsertFailures.Inc()
	}

	metrics.IngestBatches.WithLabelValues("ok").Inc()
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"processedEvents": len(rows),
		"batchId":         batch.BatchID,
	})
}

// toEventRow flattens one event. The row's session id is the batch's, falling
// back to the event's own when the batch carries none.
func toEventRow(ev models.TrackingEvent, info models.SessionInfo, meta requestMeta) models.ExperienceEventRow {
	row := models.ExperienceEventRow{
		EventID:         uuid.NewString(),
		BatchID:         meta.BatchID,
		EventType:       ev.EventType,
		EventName:       ev.EventName,
		SessionID:       firstNonEmpty(info.SessionID, ev.SessionID),
		AnonymousID:     firstNonEmpty(ev.AnonymousID, info.AnonymousID),
		UserID:          firstNonEmpty(ev.UserID, info.UserID),
		PageURL:         ev.PageURL,
		PageTitle:       ev.PageTitle,
		Referrer:        ev.Referrer,
		ElementSelector: ev.ElementSelector,
		ElementText:     utils.Truncate(ev.ElementText, 500),
		ScrollDepth:     ev.ScrollDepth,
		MaxScrollDepth:  ev.MaxScrollDepth,
		TimeOnPageMs:    ev.TimeOnPage,
		FormID:          ev.FormID,
		FormName:        ev.FormName,
		FormFieldName:   ev.FormFieldName,
		FormFieldType:   ev.FormFieldType,
		FormAction:      ev.FormAction,
		ErrorMessage:    ev.ErrorMessage,
		ErrorStack:      ev.ErrorStack,
		ErrorSource:     ev.ErrorSource,
		ProductID:       ev.ProductID,
		ContentID:       ev.ContentID,
		MetricName:      ev.MetricName,
		MetricValue:     ev.MetricValue,
		IPAddress:       meta.IP,
		Country:         meta.Geo.Country,
		Region:          meta.Geo.Region,
		City:            meta.Geo.City,
		Properties:      []byte("{}"),
		ServerTimestamp: meta.ReceivedAt,
	}

	if ev.ElementPosition != nil {
		row.ElementX = int32(ev.ElementPosition.X)
		row.ElementY = int32(ev.ElementPosition.Y)
	}

	device := meta.UADevice
	if ev.Device != nil {
		device = mergeDevice(*ev.Device, meta.UADevice)
	}
	row.DeviceType = device.DeviceType
	row.Browser = device.Browser
	row.OS = device.OS
	row.ViewportWidth = int32(device.ViewportWidth)
	row.ViewportHeight = int32(device.ViewportHeight)
	row.ScreenWidth = int32(device.ScreenWidth)
	row.ScreenHeight = int32(device.ScreenHeight)

	if ev.Attribution != nil {
		row.UTMSource = ev.Attribution.UTMSource
		row.UTMMedium = ev.Attribution.UTMMedium
		row.UTMCampaign = ev.Attribution.UTMCampaign
		row.UTMTerm = ev.Attribution.UTMTerm
		row.UTMContent = ev.Attribution.UTMContent
	}

	if len(ev.Properties) > 0 {
		if props, err := json.Marshal(ev.Properties); err == nil {
			row.Properties = props
		}
	}

	switch {
	case !ev.ClientTimestamp.IsZero():
		row.ClientTimestamp = ev.ClientTimestamp.UTC()
	case ev.Timestamp > 0:
		row.ClientTimestamp = time.UnixMilli(ev.Timestamp).UTC()
	default:
		row.ClientTimestamp = meta.ReceivedAt
	}
	return row
}

// mergeDevice fills blanks in the client-reported device from the parsed
// User-Agent header.
func mergeDevice(reported, fromUA models.DeviceInfo) models.DeviceInfo {
	if reported.DeviceType == "" {
		reported.DeviceType = fromUA.DeviceType
	}
	if reported.Browser == "" {
		reported.Browser = fromUA.Browser
	}
	if reported.OS == "" {
		reported.OS = fromUA.OS
	}
	if reported.UserAgent == "" {
		reported.UserAgent = fromUA.UserAgent
	}
	return reported
}

// upsertSession records the batch's session: an unseen session id is
// inserted as active, a known one gets its last activity bumped and the
// user linked when the batch names one.
func upsertSession(ctx context.Context, repo SessionRepository, batch models.TrackingBatch, meta requestMeta) error {
	sessionID := firstNonEmpty(batch.SessionInfo.SessionID, batch.Events[0].SessionID)
	if sessionID == "" || repo == nil {
		return nil
	}

	var userID *string
	if uid := firstNonEmpty(batch.SessionInfo.UserID, batch.Events[0].UserID); uid != "" {
		userID = &uid
	}

	_, err := repo.FindSession(ctx, sessionID)
	switch {
	case err == nil:
		return repo.TouchSession(ctx, sessionID, userID, meta.ReceivedAt)
	case !errors.Is(err, store.ErrSessionNotFound):
		return err
	}

	first := batch.Events[0]
	device := meta.UADevice
	if first.Device != nil {
		device = mergeDevice(*first.Device, meta.UADevice)
	}
	return repo.InsertSession(ctx, &models.UserSession{
		SessionID:      sessionID,
		AnonymousID:    firstNonEmpty(batch.SessionInfo.AnonymousID, first.AnonymousID),
		UserID:         userID,
		Device:         device,
		Geo:            meta.Geo,
		IPAddress:      meta.IP,
		FirstSeenAt:    meta.ReceivedAt,
		LastActivityAt: meta.ReceivedAt,
		IsActive:       true,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
