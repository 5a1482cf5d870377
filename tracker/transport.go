package tracker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/oberliner3/jhnyc-sub000/models"
)

// Transport delivers batches to the ingestion endpoint.
type Transport interface {
	// Send posts one batch and reports whether the server accepted it.
	Send(ctx context.Context, batch models.TrackingBatch) error
	// Beacon fires a batch without waiting for, or ever seeing, the outcome.
	// Delivery is lossy.
	Beacon(batch models.TrackingBatch)
}

// HTTPTransport posts JSON batches over HTTP.
type HTTPTransport struct {
	endpoint      string
	client        *http.Client
	beaconTimeout time.Duration
	beacons       sync.WaitGroup
}

func NewHTTPTransport(endpoint string, client *http.Client, beaconTimeout time.Duration) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if beaconTimeout <= 0 {
		beaconTimeout = 2 * time.Second
	}
	return &HTTPTransport{endpoint: endpoint, client: client, beaconTimeout: beaconTimeout}
}

func (t *HTTPTransport) Send(ctx context.Context, batch models.TrackingBatch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch %s: %w", batch.BatchID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send batch %s: %w", batch.BatchID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("send batch %s: unexpected status %d", batch.BatchID, resp.StatusCode)
	}
	return nil
}

func (t *HTTPTransport) Beacon(batch models.TrackingBatch) {
	t.beacons.Add(1)
	go func() {
		defer t.beacons.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.beaconTimeout)
		defer cancel()
		if err := t.Send(ctx, batch); err != nil {
			log.Debug().Err(err).Str("batch_id", batch.BatchID).Msg("beacon delivery failed")
		}
	}()
}

// Wait blocks until in-flight beacons have finished or timed out.
func (t *HTTPTransport) Wait() {
	t.beacons.Wait()
}
