// Package gong is a thin client for the upstream Gong REST API using
// signed requests.
package gong

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.gong.io"

// Call is one entry from the call listing endpoint.
type Call struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Scheduled string `json:"scheduled"`
	Started   string `json:"started"`
	Duration  int    `json:"duration"`
}

// CallsPage is the response of the call listing endpoint.
type CallsPage struct {
	Calls   []Call          `json:"calls"`
	Records json.RawMessage `json:"records,omitempty"`
}

// CallTranscript holds the transcript payload of a single call.
type CallTranscript struct {
	CallID     string          `json:"callId"`
	Transcript json.RawMessage `json:"transcript"`
}

// TranscriptsPage is the response of the transcript endpoint.
type TranscriptsPage struct {
	CallTranscripts []CallTranscript `json:"callTranscripts"`
	Records         json.RawMessage  `json:"records,omitempty"`
}

// Client signs and sends requests to the upstream API.
type Client struct {
	baseURL   string
	accessKey string
	secretKey string
	client    *http.Client
	nowFn     func() time.Time
}

// NewClient constructs a Client. An empty baseURL selects the public
// endpoint.
func NewClient(baseURL, accessKey, secretKey string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		accessKey: accessKey,
		secretKey: secretKey,
		client:    &http.Client{Timeout: 30 * time.Second},
		nowFn:     time.Now,
	}
}

// ListCalls fetches calls scheduled in [from, to].
func (c *Client) ListCalls(ctx context.Context, from, to time.Time) (*CallsPage, error) {
	query := url.Values{}
	query.Set("fromDateTime", from.UTC().Format(time.RFC3339))
	query.Set("toDateTime", to.UTC().Format(time.RFC3339))

	var page CallsPage
	if errDo := c.do(ctx, http.MethodGet, "/v2/calls", query, nil, &page); errDo != nil {
		return nil, errDo
	}
	return &page, nil
}

// RetrieveTranscripts fetches transcripts for the given call ids.
func (c *Client) RetrieveTranscripts(ctx context.Context, callIDs []string) (*TranscriptsPage, error) {
	body := map[string]any{
		"filter": map[string]any{
			"callIds": callIDs,
		},
		"contentSelector": map[string]any{
			"exposedFields": map[string]any{
				"includeEntities":            true,
				"includeInteractionsSummary": true,
				"includeTrackers":            true,
			},
		},
	}

	var page TranscriptsPage
	if errDo := c.do(ctx, http.MethodPost, "/v2/calls/transcript", nil, body, &page); errDo != nil {
		return nil, errDo
	}
	return &page, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		encoded, errMarshal := json.Marshal(body)
		if errMarshal != nil {
			return fmt.Errorf("gong: encode request: %w", errMarshal)
		}
		payload = encoded
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, errReq := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if errReq != nil {
		return fmt.Errorf("gong: build request: %w", errReq)
	}

	timestamp := c.nowFn().UTC().Format(time.RFC3339)
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.accessKey+":"+c.secretKey)))
	req.Header.Set("X-Gong-AccessKey", c.accessKey)
	req.Header.Set("X-Gong-Timestamp", timestamp)
	req.Header.Set("X-Gong-Signature", c.sign(method, path, timestamp, payload))
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, errDo := c.client.Do(req)
	if errDo != nil {
		return fmt.Errorf("gong: %s %s: %w", method, path, errDo)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gong: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if errDecode := json.NewDecoder(resp.Body).Decode(out); errDecode != nil {
		return fmt.Errorf("gong: decode response: %w", errDecode)
	}
	return nil
}

// sign computes the request signature over the method, path, timestamp
// and serialized body joined by newlines.
func (c *Client) sign(method, path, timestamp string, payload []byte) string {
	if payload == nil {
		payload = []byte("{}")
	}
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	fmt.Fprintf(mac, "%s\n%s\n%s\n%s", method, path, timestamp, payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
