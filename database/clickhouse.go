package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog/log"
)

type ClickHouseOptions struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

type ClickHouseClient struct {
	Conn clickhouse.Conn
}

const experienceEventsDDL = `
CREATE TABLE IF NOT EXISTS experience_events (
	event_id String,
	batch_id String,
	event_type LowCardinality(String),
	event_name String,
	session_id String,
	anonymous_id String,
	user_id String,
	page_url String,
	page_title String,
	referrer String,
	element_selector String,
	element_text String,
	element_x Int32,
	element_y Int32,
	scroll_depth Float64,
	max_scroll_depth Float64,
	time_on_page_ms Int64,
	form_id String,
	form_name String,
	form_field_name String,
	form_field_type String,
	form_action String,
	error_message String,
	error_stack String,
	error_source String,
	product_id String,
	content_id String,
	metric_name LowCardinality(String),
	metric_value Float64,
	device_type LowCardinality(String),
	browser LowCardinality(String),
	os LowCardinality(String),
	viewport_width Int32,
	viewport_height Int32,
	screen_width Int32,
	screen_height Int32,
	utm_source String,
	utm_medium String,
	utm_campaign String,
	utm_term String,
	utm_content String,
	ip_address String,
	country LowCardinality(String),
	region String,
	city String,
	properties String,
	client_timestamp DateTime64(3, 'UTC'),
	server_timestamp DateTime64(3, 'UTC')
) ENGINE = MergeTree
PARTITION BY toYYYYMM(server_timestamp)
ORDER BY (event_type, server_timestamp, session_id)`

func NewClickHouseDB(opts ClickHouseOptions) (*ClickHouseClient, error) {
	if opts.Host == "" || opts.Port == 0 || opts.Database == "" {
		return nil, fmt.Errorf("CLICKHOUSE_HOST, CLICKHOUSE_NATIVE_PORT, or CLICKHOUSE_DB_NAME environment variables are not set")
	}

	options := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", opts.Host, opts.Port)},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "storefront-api", Version: "1.0.0"}},
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: time.Second * 5,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse via Native TCP: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log.Info().Str("host", opts.Host).Msg("Successfully connected to ClickHouse database via Native TCP")
	return &ClickHouseClient{Conn: conn}, nil
}

// EnsureSchema creates the experience_events table when it does not exist yet.
func (c *ClickHouseClient) EnsureSchema(ctx context.Context) error {
	if err := c.Conn.Exec(ctx, experienceEventsDDL); err != nil {
		return fmt.Errorf("failed to create experience_events table: %w", err)
	}
	return nil
}

func (c *ClickHouseClient) Close() {
	if c.Conn != nil {
		c.Conn.Close()
		log.Info().Msg("ClickHouse connection closed")
	}
}

func (c *ClickHouseClient) Ping(ctx context.Context) error {
	return c.Conn.Ping(ctx)
}
