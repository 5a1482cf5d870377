package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oberliner3/jhnyc-sub000/models"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionStore keeps one row per browser session in user_sessions.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) FindSession(ctx context.Context, sessionID string) (*models.UserSession, error) {
	query := `
		SELECT session_id, anonymous_id, user_id, device_type, browser, os, user_agent,
		       screen_width, screen_height, ip_address, country, region, city,
		       first_seen_at, last_activity_at, is_active
		FROM user_sessions
		WHERE session_id = $1;
	`
	sess := &models.UserSession{}
	var userID sql.NullString
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&sess.SessionID,
		&sess.AnonymousID,
		&userID,
		&sess.Device.DeviceType,
		&sess.Device.Browser,
		&sess.Device.OS,
		&sess.Device.UserAgent,
		&sess.Device.ScreenWidth,
		&sess.Device.ScreenHeight,
		&sess.IPAddress,
		&sess.Geo.Country,
		&sess.Geo.Region,
		&sess.Geo.City,
		&sess.FirstSeenAt,
		&sess.LastActivityAt,
		&sess.IsActive,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	if userID.Valid {
		sess.UserID = &userID.String
	}
	return sess, nil
}

// InsertSession creates the row. A concurrent insert of the same session id
// turns into an activity update.
func (s *SessionStore) InsertSession(ctx context.Context, sess *models.UserSession) error {
	query := `
		INSERT INTO user_sessions (
			session_id, anonymous_id, user_id, device_type, browser, os, user_agent,
			screen_width, screen_height, ip_address, country, region, city,
			first_seen_at, last_activity_at, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (session_id) DO UPDATE SET last_activity_at = EXCLUDED.last_activity_at, is_active = TRUE;
	`
	_, err := s.db.ExecContext(ctx, query,
		sess.SessionID,
		sess.AnonymousID,
		nullString(sess.UserID),
		orUnknown(sess.Device.DeviceType),
		orUnknown(sess.Device.Browser),
		orUnknown(sess.Device.OS),
		sess.Device.UserAgent,
		sess.Device.ScreenWidth,
		sess.Device.ScreenHeight,
		sess.IPAddress,
		orUnknown(sess.Geo.Country),
		orUnknown(sess.Geo.Region),
		orUnknown(sess.Geo.City),
		sess.FirstSeenAt,
		sess.LastActivityAt,
		sess.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", sess.SessionID, err)
	}
	return nil
}

// TouchSession bumps last activity and links the user when one is given.
func (s *SessionStore) TouchSession(ctx context.Context, sessionID string, userID *string, at time.Time) error {
	query := `
		UPDATE user_sessions
		SET last_activity_at = $2, user_id = COALESCE($3, user_id), is_active = TRUE
		WHERE session_id = $1;
	`
	res, err := s.db.ExecContext(ctx, query, sessionID, at, nullString(userID))
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", sessionID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// CountActiveSessions counts active sessions seen since the given time.
func (s *SessionStore) CountActiveSessions(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_sessions WHERE is_active AND last_activity_at >= $1;`, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return n, nil
}

// DeactivateIdleSessions marks sessions with no activity since before as
// inactive and returns how many changed.
func (s *SessionStore) DeactivateIdleSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_sessions SET is_active = FALSE WHERE is_active AND last_activity_at < $1;`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate idle sessions: %w", err)
	}
	return res.RowsAffected()
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
