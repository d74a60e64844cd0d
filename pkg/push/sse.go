package push

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/jdziat/simple-draft-sync/pkg/core"
)

// SSE is a core.PushSource reading Server-Sent Events.
type SSE struct {
	baseURL string
	tokens  core.TokenProvider
	opts    options
}

var _ core.PushSource = (*SSE)(nil)

// NewSSE creates an SSE source for the service at baseURL.
func NewSSE(baseURL string, tokens core.TokenProvider, opts ...Option) *SSE {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &SSE{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		opts:    o,
	}
}

// Subscribe opens a stream for jobID.
func (s *SSE) Subscribe(ctx context.Context, jobID string) (<-chan core.JobUpdate, error) {
	return subscribe(ctx, s.opts, jobID, s.tokens, s.dial)
}

func (s *SSE) dial(ctx context.Context, jobID, token string) (stream, error) {
	endpoint := s.baseURL + "/events?jobId=" + url.QueryEscape(jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.opts.httpClient.Do(req)
	if err != nil {
		return nil, &core.NetworkError{Op: "open event stream", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, &core.RemoteError{StatusCode: resp.StatusCode, Message: "event stream refused"}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &sseStream{body: resp.Body, scanner: scanner, logger: s.opts.logger}, nil
}

type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	logger  *slog.Logger
}

// Next returns the next decodable data event. Comment lines and malformed
// payloads are skipped.
func (s *sseStream) Next(ctx context.Context) (core.JobUpdate, error) {
	var data []string
	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case line == "":
			if len(data) == 0 {
				continue
			}
			var u core.JobUpdate
			err := json.Unmarshal([]byte(strings.Join(data, "\n")), &u)
			data = data[:0]
			if err != nil {
				s.logger.Warn("skipping malformed push message", "error", err)
				continue
			}
			return u, nil
		case strings.HasPrefix(line, ":"):
			// keepalive
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := s.scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return core.JobUpdate{}, ctx.Err()
		}
		return core.JobUpdate{}, fmt.Errorf("read event stream: %w", err)
	}
	return core.JobUpdate{}, errStreamClosed
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
