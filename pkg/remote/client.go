package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/simple-draft-sync/pkg/core"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://127.0.0.1:8080"

// Client talks to the remote services over HTTP.
type Client struct {
	baseURL    string
	tokens     core.TokenProvider
	httpClient *http.Client
	logger     *slog.Logger
}

var (
	_ core.DocumentService = (*Client)(nil)
	_ core.JobService      = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client for baseURL. A nil provider means every call fails
// with core.ErrUnauthenticated.
func New(baseURL string, tokens core.TokenProvider, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token resolves the current bearer token, failing when none is available.
func (c *Client) Token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", core.ErrUnauthenticated
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrUnauthenticated, err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", core.ErrUnauthenticated
	}
	return token, nil
}

type createRequest struct {
	Fields *core.Fields `json:"fields"`
}

// CreateDocument creates a document with initial fields.
func (c *Client) CreateDocument(ctx context.Context, fields *core.Fields) (*core.Document, error) {
	if fields == nil {
		fields = &core.Fields{}
	}
	var doc core.Document
	if err := c.doJSON(ctx, http.MethodPost, "/documents", "", createRequest{Fields: fields}, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetDocument fetches the server copy of a document.
func (c *Client) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	var doc core.Document
	if err := c.doJSON(ctx, http.MethodGet, "/documents/"+url.PathEscape(id), id, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// UpdateDocument writes a partial update based on req.Version.
func (c *Client) UpdateDocument(ctx context.Context, id string, req core.UpdateRequest) (*core.Document, error) {
	var doc core.Document
	err := c.doJSON(ctx, http.MethodPut, "/documents/"+url.PathEscape(id), id, req, &doc)
	if err != nil {
		var conflict *core.ConflictError
		if errors.As(err, &conflict) {
			conflict.LocalVersion = req.Version
		}
		return nil, err
	}
	return &doc, nil
}

type submitResponse struct {
	JobID string `json:"jobId"`
}

// SubmitDocument starts the remote job for a document and returns its id.
func (c *Client) SubmitDocument(ctx context.Context, id string) (string, error) {
	var out submitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/documents/"+url.PathEscape(id)+"/submit", id, nil, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", &core.RemoteError{StatusCode: http.StatusOK, Message: "submit response has no jobId"}
	}
	return out.JobID, nil
}

// DeleteDocument deletes a document.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/documents/"+url.PathEscape(id), id, nil, nil)
}

// ListDocuments lists one page of documents.
func (c *Client) ListDocuments(ctx context.Context, opts core.ListOptions) (*core.DocumentList, error) {
	q := url.Values{}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	path := "/documents"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out core.DocumentList
	if err := c.doJSON(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetJob fetches the current status of a job.
func (c *Client) GetJob(ctx context.Context, id string) (*core.JobUpdate, error) {
	var u core.JobUpdate
	if err := c.doJSON(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), "", nil, &u); err != nil {
		return nil, err
	}
	if u.JobID == "" {
		u.JobID = id
	}
	u.Source = core.SourcePoll
	return &u, nil
}

// CancelJob asks the job service to cancel a job.
func (c *Client) CancelJob(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/jobs/"+url.PathEscape(id)+"/cancel", "", nil, nil)
}

// RetryJob asks the job service to rerun a failed job.
func (c *Client) RetryJob(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/jobs/"+url.PathEscape(id)+"/retry", "", nil, nil)
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

type conflictPayload struct {
	CurrentVersion int64        `json:"currentVersion"`
	CurrentFields  *core.Fields `json:"currentFields"`
}

func (c *Client) doJSON(ctx context.Context, method, requestPath, docID string, body, out any) error {
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}

	var bodyBytes []byte
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	refreshed := false
	for {
		status, payload, err := c.send(ctx, method, requestPath, token, bodyBytes)
		if err != nil {
			return err
		}

		switch {
		case status >= 200 && status <= 299:
			if out == nil || len(payload) == 0 {
				return nil
			}
			if err := json.Unmarshal(payload, out); err != nil {
				return fmt.Errorf("decode %s %s: %w", method, requestPath, err)
			}
			return nil

		case status == http.StatusUnauthorized:
			refresher, ok := c.tokens.(core.TokenRefresher)
			if !ok || refreshed {
				return core.ErrUnauthenticated
			}
			refreshed = true
			token, err = refresher.Refresh(ctx)
			if err != nil || strings.TrimSpace(token) == "" {
				return core.ErrUnauthenticated
			}
			c.logger.Debug("retrying request with refreshed token", "method", method, "path", requestPath)
			continue

		case status == http.StatusConflict:
			var cp conflictPayload
			_ = json.Unmarshal(payload, &cp)
			return &core.ConflictError{
				DocumentID:     docID,
				CurrentVersion: cp.CurrentVersion,
				CurrentFields:  cp.CurrentFields,
			}
		}

		var ep errorPayload
		_ = json.Unmarshal(payload, &ep)
		msg := ep.Message
		if msg == "" {
			msg = ep.Error
		}
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &core.RemoteError{StatusCode: status, Code: ep.Code, Message: msg}
	}
}

func (c *Client) send(ctx context.Context, method, requestPath, token string, bodyBytes []byte) (int, []byte, error) {
	var bodyReader io.Reader
	if bodyBytes != nil {
		bodyReader = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Correlation-Id", uuid.New().String())
	req.Header.Set("Accept", "application/json")
	if bodyBytes != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}
		return 0, nil, &core.NetworkError{Op: method + " " + requestPath, Err: err}
	}
	payload, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return 0, nil, &core.NetworkError{Op: method + " " + requestPath, Err: err}
	}
	return resp.StatusCode, payload, nil
}
