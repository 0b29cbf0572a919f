package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/alfredjeanlab/contestfeed/internal/feed"
	"github.com/alfredjeanlab/contestfeed/internal/model"
)

// maxLineBytes bounds a single NDJSON feed line.
const maxLineBytes = 16 << 20

// HTTPClient implements AdminClient using the contestfeed HTTP API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Feed ---

func (c *HTTPClient) Tail(ctx context.Context, req *TailRequest, fn func(feed.Record) error) error {
	q := url.Values{}
	if req.SinceID != "" {
		q.Set("since_id", req.SinceID)
	}
	if len(req.Types) > 0 {
		q.Set("types", strings.Join(req.Types, ","))
	}
	if req.Strict {
		q.Set("strict", "true")
	}
	if req.NoStream {
		q.Set("stream", "false")
	}
	path := "/api/contests/" + url.PathEscape(req.ContestID) + "/event-feed"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue // keepalive
		}
		var rec feed.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("decoding record: %w", err)
		}
		if err := fn(rec); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("reading feed: %w", err)
	}
	return nil
}

// --- Contests ---

func (c *HTTPClient) GetContest(ctx context.Context, contestID string) (map[string]any, error) {
	var out map[string]any
	if err := c.doJSON(ctx, http.MethodGet, "/api/contests/"+url.PathEscape(contestID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) GetState(ctx context.Context, contestID string) (*model.ContestState, error) {
	var state model.ContestState
	if err := c.doJSON(ctx, http.MethodGet, "/api/contests/"+url.PathEscape(contestID)+"/state", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *HTTPClient) GetStatus(ctx context.Context, contestID string) (*model.ContestStats, error) {
	var stats model.ContestStats
	if err := c.doJSON(ctx, http.MethodGet, "/api/contests/"+url.PathEscape(contestID)+"/status", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// SetStartTime sends the contest start time change and returns the
// server's confirmation message.
func (c *HTTPClient) SetStartTime(ctx context.Context, req *SetStartTimeRequest) (string, error) {
	body := map[string]any{
		"id":         req.ContestID,
		"start_time": req.StartTime,
	}
	if req.Force {
		body["force"] = true
	}
	var msg string
	if err := c.doJSON(ctx, http.MethodPatch, "/api/contests/"+url.PathEscape(req.ContestID), body, &msg); err != nil {
		return "", err
	}
	return msg, nil
}

// --- Roster ---

func (c *HTTPClient) ListFeeds(ctx context.Context, contestID string) (*FeedsResponse, error) {
	path := "/api/feeds"
	if contestID != "" {
		path += "?contest=" + url.QueryEscape(contestID)
	}
	var resp FeedsResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	return resp, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var (
		bodyReader  io.Reader
		contentType string
	)
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
		contentType = "application/json"
	}

	resp, err := c.do(ctx, method, path, bodyReader, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// readAPIError builds an APIError from an error response. The server
// answers either {"error": "..."} or a bare JSON string.
func readAPIError(resp *http.Response) error {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}
	var msg string
	if json.Unmarshal(respBody, &msg) == nil && msg != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
}
