package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"io.eduverse/notifysync/internal/domain"
	"io.eduverse/notifysync/internal/metrics"
)

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for a fixed token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// APIError is a non-2xx response from the notification API.
type APIError struct {
	Status  int
	Method  string
	Path    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("notification api %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("notification api %s %s: status %d", e.Method, e.Path, e.Status)
}

// Is lets errors.Is(err, domain.ErrUnauthorized) match 401 responses.
func (e *APIError) Is(target error) bool {
	return target == domain.ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// Client implements domain.Source over the eduVerse REST API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

var _ domain.Source = (*Client)(nil)

// New creates a Client. baseURL is the API root that /notifications hangs off.
func New(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// --- wire shapes ---

type listMeta struct {
	HasMore     bool    `json:"hasMore"`
	LastID      *string `json:"lastId"`
	UnreadCount *int    `json:"unreadCount"`
}

type listResponse struct {
	Data []domain.Notification `json:"data"`
	Meta *listMeta             `json:"meta"`
}

type countResponse struct {
	Count int `json:"count"`
}

type markReadRequest struct {
	IDs []string `json:"ids,omitempty"`
}

// List fetches one page. An empty cursor requests the newest page.
func (c *Client) List(ctx context.Context, cursor string, limit int) (page *domain.Page, err error) {
	defer observe("list", time.Now(), &err)

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var raw json.RawMessage
	if err = c.do(ctx, http.MethodGet, "/notifications?"+q.Encode(), nil, &raw); err != nil {
		return nil, err
	}
	return decodePage(raw)
}

// UnreadCount returns the server's unread count.
func (c *Client) UnreadCount(ctx context.Context) (count int, err error) {
	defer observe("unread_count", time.Now(), &err)

	var resp countResponse
	if err = c.do(ctx, http.MethodGet, "/notifications/unread-count", nil, &resp); err != nil {
		return 0, err
	}
	if resp.Count < 0 {
		return 0, nil
	}
	return resp.Count, nil
}

// MarkRead marks ids as read; with no ids the server marks everything.
func (c *Client) MarkRead(ctx context.Context, ids []string) (err error) {
	defer observe("mark_read", time.Now(), &err)

	var body any
	if len(ids) > 0 {
		body = markReadRequest{IDs: ids}
	}
	return c.do(ctx, http.MethodPatch, "/notifications/read", body, nil)
}

// MarkAllRead marks every notification as read.
func (c *Client) MarkAllRead(ctx context.Context) (err error) {
	defer observe("mark_all_read", time.Now(), &err)
	return c.do(ctx, http.MethodPatch, "/notifications/read-all", nil, nil)
}

// Delete removes one notification.
func (c *Client) Delete(ctx context.Context, id string) (err error) {
	defer observe("delete", time.Now(), &err)
	if id == "" {
		return errors.New("delete notification: empty id")
	}
	return c.do(ctx, http.MethodDelete, "/notifications/"+url.PathEscape(id), nil, nil)
}

// decodePage accepts {data, meta} or a bare array. Missing meta means no
// further pages and no cursor.
func decodePage(raw json.RawMessage) (*domain.Page, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return &domain.Page{}, nil
	}

	if trimmed[0] == '[' {
		var items []domain.Notification
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode notification list: %w", err)
		}
		return &domain.Page{Items: items}, nil
	}

	var resp listResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, fmt.Errorf("decode notification list: %w", err)
	}

	page := &domain.Page{Items: resp.Data}
	if resp.Meta != nil {
		page.HasMore = resp.Meta.HasMore
		if resp.Meta.LastID != nil {
			page.LastID = *resp.Meta.LastID
		}
		page.UnreadCount = resp.Meta.UnreadCount
	}
	return page, nil
}

// do builds the request, attaches auth and decodes a JSON response into result.
// A nil result discards the body.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Status:  resp.StatusCode,
			Method:  method,
			Path:    stripQuery(path),
			Message: errorMessage(respBody),
		}
	}

	if result == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("decoding response %s %s: %w", method, path, err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		return e.Error
	}
	return ""
}

func stripQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}

// observe is deferred with a pointer so it sees the final named error.
func observe(op string, start time.Time, errp *error) {
	metrics.ObserveRequest(op, start, *errp)
}
