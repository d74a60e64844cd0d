package push

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/jdziat/simple-draft-sync/pkg/core"
)

// WebSocket is a core.PushSource reading JSON messages from a WebSocket.
type WebSocket struct {
	baseURL string
	tokens  core.TokenProvider
	opts    options
}

var _ core.PushSource = (*WebSocket)(nil)

// NewWebSocket creates a WebSocket source for the service at baseURL.
// http(s) and ws(s) base URLs are both accepted.
func NewWebSocket(baseURL string, tokens core.TokenProvider, opts ...Option) *WebSocket {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &WebSocket{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		opts:    o,
	}
}

// Subscribe opens a stream for jobID.
func (w *WebSocket) Subscribe(ctx context.Context, jobID string) (<-chan core.JobUpdate, error) {
	return subscribe(ctx, w.opts, jobID, w.tokens, w.dial)
}

func (w *WebSocket) dial(ctx context.Context, jobID, token string) (stream, error) {
	endpoint := w.baseURL + "/events/ws?jobId=" + url.QueryEscape(jobID)
	conn, resp, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient: w.opts.httpClient,
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, &core.RemoteError{StatusCode: resp.StatusCode, Message: "websocket upgrade refused"}
		}
		return nil, &core.NetworkError{Op: "dial websocket", Err: err}
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Next(ctx context.Context) (core.JobUpdate, error) {
	var u core.JobUpdate
	if err := wsjson.Read(ctx, s.conn, &u); err != nil {
		return core.JobUpdate{}, err
	}
	return u, nil
}

func (s *wsStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
