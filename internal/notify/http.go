package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/config"
	"github.com/chaitanyaBytes/solana-grpc-indexer/internal/logging"
)

const (
	httpTimeout  = 30 * time.Second
	httpRetries  = 3
	httpBaseWait = time.Second
)

// HTTPEmitter POSTs commit events to an endpoint, journaling every event
// locally first so the chain survives endpoint outages.
type HTTPEmitter struct {
	endpoint  string
	client    *http.Client
	journal   *journal
	log       *slog.Logger
	retryWait time.Duration
}

// NewHTTPEmitter creates an emitter for the configured endpoint.
func NewHTTPEmitter(cfg config.NotifyConfig) (*HTTPEmitter, error) {
	j, err := openJournal(cfg.Path)
	if err != nil {
		return nil, err
	}
	return &HTTPEmitter{
		endpoint:  cfg.Endpoint,
		client:    &http.Client{Timeout: httpTimeout},
		journal:   j,
		log:       logging.Component("notify"),
		retryWait: httpBaseWait,
	}, nil
}

// EmitCommit seals the event, journals it, then POSTs it with retries.
func (e *HTTPEmitter) EmitCommit(ctx context.Context, ev Event) error {
	seal(&ev, e.journal.lastHash())

	// Journal before the POST: the local record is the source of truth if
	// the endpoint is down.
	if err := e.journal.append(&ev); err != nil {
		e.log.Warn("journal append failed", "event_id", ev.EventID, "error", err)
	}

	if err := e.postWithRetry(ctx, &ev); err != nil {
		return fmt.Errorf("post commit event: %w", err)
	}

	e.log.Debug("emitted commit event",
		"event_id", ev.EventID,
		"batch_id", ev.Batch.BatchID,
		"event_hash", ev.Chain.EventHash,
	)
	return nil
}

func (e *HTTPEmitter) postWithRetry(ctx context.Context, ev *Event) error {
	var lastErr error
	delay := e.retryWait

	for attempt := 1; attempt <= httpRetries; attempt++ {
		err := e.post(ctx, ev)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt < httpRetries {
			e.log.Warn("commit event post failed, retrying",
				"attempt", attempt,
				"retries", httpRetries,
				"delay", delay.String(),
				"error", err,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", httpRetries, lastErr)
}

func (e *HTTPEmitter) post(ctx context.Context, ev *Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
}

// Close closes the journal.
func (e *HTTPEmitter) Close() error {
	return e.journal.Close()
}
