package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SectionRecord is the body of one section append.
type SectionRecord struct {
	SessionID       string  `json:"session_id"`
	PageName        string  `json:"page_name"`
	SectionName     string  `json:"section_name"`
	PreviousSection *string `json:"previous_section"`
	Duration        int64   `json:"duration"`
}

// APIError is a non-2xx answer from the sessions API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("sessions api: status %d", e.Status)
	}
	return fmt.Sprintf("sessions api: status %d: %s: %s", e.Status, e.Code, e.Message)
}

// Client talks to the public sessions routes.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// CreateSession registers a new visitor and returns the issued session id.
func (c *Client) CreateSession(ctx context.Context, pageName, sectionName string) (string, error) {
	var resp struct {
		SessionID string    `json:"session_id"`
		CreatedAt time.Time `json:"created_at"`
	}
	err := c.post(ctx, "/sessions", map[string]string{
		"page_name":    pageName,
		"section_name": sectionName,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("sessions api: empty session id")
	}
	return resp.SessionID, nil
}

func (c *Client) RecordSection(ctx context.Context, rec SectionRecord) error {
	return c.post(ctx, "/sessions/sections", rec, nil)
}

func (c *Client) post(ctx context.Context, path string, body, dest any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var errBody struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.NewDecoder(resp.Body).Decode(&errBody) == nil {
			apiErr.Code = errBody.Code
			apiErr.Message = errBody.Error
		}
		return apiErr
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
