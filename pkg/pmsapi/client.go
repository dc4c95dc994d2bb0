// Package pmsapi is the HTTP client for the property-management source
// API. The pipeline core only sees the Fetch/FetchPage contract; auth,
// envelopes and branch tokens are handled here.
package pmsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/staywise/dwh-pipeline/pkg/models"
)

// Client talks to the source API. A branch token is the base token
// suffixed with the branch id, which is how the source scopes requests.
type Client struct {
	BaseURL   string
	BaseToken string
	HTTP      *http.Client
	PageLimit int
}

const defaultPageLimit = 1000

// NewClient builds a client with a 60s transport timeout. Callers still
// bound whole extractions with their own context deadlines.
func NewClient(baseURL, baseToken string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		BaseToken: baseToken,
		HTTP:      &http.Client{Timeout: 60 * time.Second},
		PageLimit: defaultPageLimit,
	}
}

// envelope is the source's standard response shape. Some endpoints
// return a bare JSON array instead; both are accepted.
type envelope struct {
	Data       []models.Record `json:"data"`
	Pagination *struct {
		Total int `json:"total"`
		Limit int `json:"limit"`
		Page  int `json:"page"`
	} `json:"pagination"`
}

// Fetch performs a single unpaginated request.
func (c *Client) Fetch(ctx context.Context, branchID int, endpoint string, params map[string]interface{}) ([]models.Record, error) {
	body, err := c.get(ctx, branchID, endpoint, params)
	if err != nil {
		return nil, err
	}
	return decodeRecords(body)
}

// FetchPage fetches one page. The cursor is the 1-based page number; a
// nil cursor means the first page, a nil next cursor means done. The
// source signals exhaustion with an empty data array.
func (c *Client) FetchPage(ctx context.Context, branchID int, endpoint string, params map[string]interface{}, cursor interface{}) ([]models.Record, interface{}, error) {
	page := 1
	if cursor != nil {
		p, ok := cursor.(int)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected cursor type %T", cursor)
		}
		page = p
	}

	merged := make(map[string]interface{}, len(params)+2)
	for k, v := range params {
		merged[k] = v
	}
	if _, ok := merged["limit"]; !ok {
		merged["limit"] = c.PageLimit
	}
	merged["page"] = page

	body, err := c.get(ctx, branchID, endpoint, merged)
	if err != nil {
		return nil, nil, err
	}
	records, err := decodeRecords(body)
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, nil
	}
	return records, page + 1, nil
}

func (c *Client) get(ctx context.Context, branchID int, endpoint string, params map[string]interface{}) ([]byte, error) {
	u := c.BaseURL + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	for k, v := range params {
		q.Set(k, fmt.Sprintf("%v", v))
	}
	req.URL.RawQuery = q.Encode()

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.branchToken(branchID))

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("GET %s: read body: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d: %s", endpoint, resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func (c *Client) branchToken(branchID int) string {
	return fmt.Sprintf("%s|%d", c.BaseToken, branchID)
}

func decodeRecords(body []byte) ([]models.Record, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var records []models.Record
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return records, nil
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return env.Data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
