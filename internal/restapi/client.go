// Package restapi talks to the request/response side of the service: person
// enrichment for the inbox and persisted skip decisions.
package restapi

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// PersonInfo is enrichment data for one conversation partner.
type PersonInfo struct {
	PersonUUID           string `json:"person_uuid"`
	Name                 string `json:"name"`
	MatchPercentage      int    `json:"match_percentage"`
	ImageUUID            string `json:"image_uuid"`
	ImageBlurhash        string `json:"image_blurhash"`
	Verified             bool   `json:"verified"`
	ConversationLocation string `json:"conversation_location"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client is a thin resty wrapper authenticated with a session bearer token.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// New creates a client for baseURL.
func New(baseURL, sessionToken string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if sessionToken != "" {
		h.SetAuthToken(sessionToken)
	}
	return &Client{http: h, logger: logger}
}

// SetSessionToken replaces the bearer token used on subsequent requests.
func (c *Client) SetSessionToken(token string) {
	c.http.SetAuthToken(token)
}

// InboxInfo fetches enrichment for the given people in one request. People the
// service does not know are simply absent from the result.
func (c *Client) InboxInfo(ctx context.Context, personUUIDs []string) ([]PersonInfo, error) {
	if personUUIDs == nil {
		personUUIDs = []string{}
	}
	var out []PersonInfo
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"person_uuids": personUUIDs}).
		SetResult(&out).
		ForceContentType("application/json").
		Post("/inbox-info")
	if err != nil {
		return nil, fmt.Errorf("inbox info: %w", err)
	}
	if resp.IsError() {
		return nil, statusError(resp)
	}
	c.logger.Debug("inbox info fetched", zap.Int("requested", len(personUUIDs)), zap.Int("returned", len(out)))
	return out, nil
}

// Skip hides a person, optionally reporting them with a reason.
func (c *Client) Skip(ctx context.Context, personUUID, reportReason string) error {
	return c.post(ctx, "/skip/by-uuid/"+url.PathEscape(personUUID), map[string]string{"report_reason": reportReason})
}

// Unskip reverses a previous Skip.
func (c *Client) Unskip(ctx context.Context, personUUID string) error {
	return c.post(ctx, "/unskip/by-uuid/"+url.PathEscape(personUUID), nil)
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post(path)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	if resp.IsError() {
		return statusError(resp)
	}
	return nil
}

func statusError(resp *resty.Response) error {
	return &StatusError{
		Method: resp.Request.Method,
		Path:   resp.Request.URL,
		Code:   resp.StatusCode(),
		Body:   resp.String(),
	}
}
