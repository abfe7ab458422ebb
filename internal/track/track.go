package track

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Tracker records product analytics events. Implementations must never
// block or fail the request path; delivery is best effort.
type Tracker interface {
	// Track records an event for the identity. It returns immediately;
	// delivery happens in the background.
	Track(distinctID, event string, properties map[string]any)
}

// Noop is a Tracker that drops all events.
type Noop struct{}

// Track implements Tracker.
func (Noop) Track(string, string, map[string]any) {}

const (
	eventPrefix    = "mcp:"
	trackerTimeout = 5 * time.Minute
	maxBackoff     = 60 * time.Second
)

// HTTPTracker posts events to an analytics ingestion endpoint with
// exponential backoff and jitter on retryable statuses.
type HTTPTracker struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTPTracker constructs an HTTPTracker.
func NewHTTPTracker(endpoint, token string) *HTTPTracker {
	return &HTTPTracker{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Track implements Tracker. Events are delivered from a goroutine so
// callers never wait on the analytics backend.
func (t *HTTPTracker) Track(distinctID, event string, properties map[string]any) {
	if t == nil || t.endpoint == "" {
		return
	}
	go t.deliver(distinctID, eventPrefix+event, properties)
}

func (t *HTTPTracker) deliver(distinctID, event string, properties map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), trackerTimeout)
	defer cancel()

	payload := map[string]any{
		"event": event,
		"properties": mergeProperties(properties, map[string]any{
			"distinct_id": distinctID,
			"$insert_id":  uuid.NewString(),
			"time":        time.Now().UnixMilli(),
		}),
	}
	body, errMarshal := json.Marshal([]map[string]any{payload})
	if errMarshal != nil {
		log.WithError(errMarshal).Warn("tracker: marshal event")
		return
	}

	backoff := 2 * time.Second
	for {
		errSend := t.send(ctx, body)
		if errSend == nil {
			return
		}
		retryable, ok := errSend.(*statusError)
		if ok && !retryable.retryable {
			log.WithError(errSend).WithField("event", event).Warn("tracker: event rejected")
			return
		}

		jitter := time.Duration(rand.Intn(4000)+1000) * time.Millisecond
		select {
		case <-ctx.Done():
			log.WithError(errSend).WithField("event", event).Warn("tracker: event dropped")
			return
		case <-time.After(backoff + jitter):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

func (t *HTTPTracker) send(ctx context.Context, body []byte) error {
	req, errNew := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if errNew != nil {
		return errNew
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Basic "+t.token)
	}

	resp, errDo := t.client.Do(req)
	if errDo != nil {
		return errDo
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &statusError{code: resp.StatusCode, retryable: isRetryable(resp.StatusCode)}
}

type statusError struct {
	code      int
	retryable bool
}

func (e *statusError) Error() string {
	return fmt.Sprintf("tracker: status %d", e.code)
}

// isRetryable follows the ingestion API guidance: back off on 429 and
// transient 5xx, drop on client errors.
func isRetryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable:
		return true
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return false
	}
	return status >= 500
}

func mergeProperties(base, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
