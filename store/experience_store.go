// api/store/experience_store.go
package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oberliner3/jhnyc-sub000/database"
	"github.com/oberliner3/jhnyc-sub000/models"
	"github.com/oberliner3/jhnyc-sub000/utils"
)

type ExperienceStore struct {
	DB *database.ClickHouseClient
}

func NewExperienceStore(chClient *database.ClickHouseClient) *ExperienceStore {
	return &ExperienceStore{
		DB: chClient,
	}
}

// InsertExperienceEvents writes all rows in a single ClickHouse batch. Either
// the whole batch is sent or an error is returned.
func (s *ExperienceStore) InsertExperienceEvents(ctx context.Context, rows []models.ExperienceEventRow) error {
	if len(rows) == 0 {
		return nil
	}

	// Column order must match experience_events in database/clickhouse.go.
	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO experience_events (
			event_id, batch_id, event_type, event_name, session_id, anonymous_id, user_id,
			page_url, page_title, referrer, element_selector, element_text, element_x, element_y,
			scroll_depth, max_scroll_depth, time_on_page_ms,
			form_id, form_name, form_field_name, form_field_type, form_action,
			error_message, error_stack, error_source, product_id, content_id,
			metric_name, metric_value, device_type, browser, os,
			viewport_width, viewport_height, screen_width, screen_height,
			utm_source, utm_medium, utm_campaign, utm_term, utm_content,
			ip_address, country, region, city, properties, client_timestamp, server_timestamp
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, r := range rows {
		err := batch.Append(
			r.EventID, r.BatchID, r.EventType, r.EventName, r.SessionID, r.AnonymousID, r.UserID,
			r.PageURL, r.PageTitle, r.Referrer, r.ElementSelector, r.ElementText, r.ElementX, r.ElementY,
			r.ScrollDepth, r.MaxScrollDepth, r.TimeOnPageMs,
			r.FormID, r.FormName, r.FormFieldName, r.FormFieldType, r.FormAction,
			r.ErrorMessage, r.ErrorStack, r.ErrorSource, r.ProductID, r.ContentID,
			r.MetricName, r.MetricValue, r.DeviceType, r.Browser, r.OS,
			r.ViewportWidth, r.ViewportHeight, r.ScreenWidth, r.ScreenHeight,
			r.UTMSource, r.UTMMedium, r.UTMCampaign, r.UTMTerm, r.UTMContent,
			r.IPAddress, r.Country, r.Region, r.City, string(r.Properties),
			r.ClientTimestamp, r.ServerTimestamp,
		)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append event %s to batch: %w", r.EventID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Debug().Int("rows", len(rows)).Str("batch_id", rows[0].BatchID).Msg("inserted experience events")
	return nil
}

func (s *ExperienceStore) GetEventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventTypeFilter string) ([]models.EventTypeCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	args := []interface{}{start, end}
	selectCols := fmt.Sprintf("toStartOf%s(server_timestamp) AS time_bucket, count() AS total_events", interval)
	groupByCols := "time_bucket"
	whereClause := "WHERE server_timestamp >= ? AND server_timestamp <= ?"
	orderByCols := "time_bucket ASC"
	isFilteringByType := eventTypeFilter != ""

	if isFilteringByType {
		selectCols += ", event_type"
		groupByCols += ", event_type"
		whereClause += " AND event_type = ?"
		args = append(args, eventTypeFilter)
		orderByCols += ", event_type ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM experience_events
		%s
		GROUP BY %s
		ORDER BY %s
	`, selectCols, whereClause, groupByCols, orderByCols)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts over time: %w", err)
	}
	defer rows.Close()

	var results []models.EventTypeCountByTime
	for rows.Next() {
		var (
			timeBucket  time.Time
			count       uint64
			eventTypeDB string
			current     models.EventTypeCountByTime
		)

		if isFilteringByType {
			if err := rows.Scan(&timeBucket, &count, &eventTypeDB); err != nil {
				log.Warn().Err(err).Msg("scanning event counts row")
				continue
			}
			current.EventType = &eventTypeDB
		} else {
			if err := rows.Scan(&timeBucket, &count); err != nil {
				log.Warn().Err(err).Msg("scanning event counts row")
				continue
			}
		}

		current.Time = timeBucket
		current.Count = count
		results = append(results, current)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during event counts over time query: %w", err)
	}
	return results, nil
}

// GetUniqueVisitorsOverTime counts distinct anonymous ids per bucket.
func (s *ExperienceStore) GetUniqueVisitorsOverTime(ctx context.Context, interval string, start, end time.Time) ([]models.EventTypeCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	query := fmt.Sprintf(`
		SELECT toStartOf%s(server_timestamp) AS time_bucket, uniq(anonymous_id) AS visitors
		FROM experience_events
		WHERE server_timestamp >= ? AND server_timestamp <= ?
		GROUP BY time_bucket
		ORDER BY time_bucket ASC
	`, interval)

	rows, err := s.DB.Conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query unique visitors over time: %w", err)
	}
	defer rows.Close()

	var results []models.EventTypeCountByTime
	for rows.Next() {
		var timeBucket time.Time
		var visitors uint64
		if err := rows.Scan(&timeBucket, &visitors); err != nil {
			log.Warn().Err(err).Msg("scanning unique visitors row")
			continue
		}
		results = append(results, models.EventTypeCountByTime{Time: timeBucket, Count: visitors})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for unique visitors: %w", err)
	}
	return results, nil
}

func (s *ExperienceStore) GetTopPages(ctx context.Context, start, end time.Time, limit uint64) ([]models.TopPathResult, error) {
	if limit == 0 {
		limit = 10
	}

	query := `
		SELECT page_url, count() AS view_count
		FROM experience_events
		WHERE event_type = 'page_view' AND server_timestamp >= ? AND server_timestamp <= ?
		GROUP BY page_url
		ORDER BY view_count DESC
		LIMIT ?
	`
	rows, err := s.DB.Conn.Query(ctx, query, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top pages: %w", err)
	}
	defer rows.Close()

	var results []models.TopPathResult
	for rows.Next() {
		var page string
		var count uint64
		if err := rows.Scan(&page, &count); err != nil {
			log.Warn().Err(err).Msg("scanning top pages row")
			continue
		}
		results = append(results, models.TopPathResult{PagePath: page, Count: count})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top pages: %w", err)
	}
	return results, nil
}

// GetAverageTimeOnPage averages time_on_page_ms over page_exit events,
// optionally for one page URL.
func (s *ExperienceStore) GetAverageTimeOnPage(ctx context.Context, pageURL string, start, end time.Time) (float64, error) {
	query := `SELECT avg(time_on_page_ms) FROM experience_events
		WHERE event_type = 'page_exit' AND server_timestamp >= ? AND server_timestamp <= ?`
	args := []interface{}{start, end}
	if pageURL != "" {
		query += ` AND page_url = ?`
		args = append(args, pageURL)
	}

	var avg float64
	if err := s.DB.Conn.QueryRow(ctx, query, args...).Scan(&avg); err != nil {
		return 0, fmt.Errorf("failed to query average time on page: %w", err)
	}
	// avg() over no rows is NaN, which JSON cannot carry.
	if math.IsNaN(avg) {
		return 0, nil
	}
	return avg, nil
}

// GetWebVitals summarizes performance events per metric name.
func (s *ExperienceStore) GetWebVitals(ctx context.Context, start, end time.Time) ([]models.WebVitalSummary, error) {
	query := `
		SELECT metric_name, avg(metric_value), quantile(0.75)(metric_value), count()
		FROM experience_events
		WHERE event_type = 'performance' AND metric_name != '' AND server_timestamp >= ? AND server_timestamp <= ?
		GROUP BY metric_name
		ORDER BY metric_name ASC
	`
	rows, err := s.DB.Conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query web vitals: %w", err)
	}
	defer rows.Close()

	var results []models.WebVitalSummary
	for rows.Next() {
		var v models.WebVitalSummary
		if err := rows.Scan(&v.MetricName, &v.Average, &v.P75, &v.Samples); err != nil {
			log.Warn().Err(err).Msg("scanning web vitals row")
			continue
		}
		results = append(results, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for web vitals: %w", err)
	}
	return results, nil
}
