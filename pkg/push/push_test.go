package push

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/jdziat/simple-draft-sync/pkg/core"
)

func receive(t *testing.T, ch <-chan core.JobUpdate) core.JobUpdate {
	t.Helper()
	select {
	case u, ok := <-ch:
		require.True(t, ok, "channel closed early")
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for push update")
		return core.JobUpdate{}
	}
}

func waitClosed(t *testing.T, ch <-chan core.JobUpdate) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after cancel")
		}
	}
}

func sseHandler(t *testing.T, conns *atomic.Int32, hold bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := conns.Add(1)
		jobID := r.URL.Query().Get("jobId")
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprintf(w, "data: {\"jobId\":\"other\",\"status\":\"RUNNING\",\"progress\":99}\n\n")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprintf(w, "data: {\"jobId\":%q,\"status\":\"RUNNING\",\"progress\":%d}\n\n", jobID, n*10)
		flusher.Flush()

		if hold {
			<-r.Context().Done()
		}
	}
}

func TestSSE_DeliversMatchingUpdates(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(sseHandler(t, &conns, true))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	src := NewSSE(srv.URL, core.StaticToken("tok"), WithReconnectDelay(10*time.Millisecond))
	ch, err := src.Subscribe(ctx, "j1")
	require.NoError(t, err)

	u := receive(t, ch)
	assert.Equal(t, "j1", u.JobID)
	assert.Equal(t, core.JobRunning, u.Status)
	assert.Equal(t, 10, u.Progress)
	assert.Equal(t, core.SourcePush, u.Source)

	cancel()
	waitClosed(t, ch)
}

func TestSSE_ReconnectsAfterDrop(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(sseHandler(t, &conns, false))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := NewSSE(srv.URL, core.StaticToken("tok"), WithReconnectDelay(10*time.Millisecond))
	ch, err := src.Subscribe(ctx, "j1")
	require.NoError(t, err)

	first := receive(t, ch)
	second := receive(t, ch)
	assert.Equal(t, 10, first.Progress)
	assert.Equal(t, 20, second.Progress)
	assert.GreaterOrEqual(t, conns.Load(), int32(2))
}

func TestSSE_MissingTokenFailsSubscribe(t *testing.T) {
	src := NewSSE("http://127.0.0.1:1", core.StaticToken(""))
	_, err := src.Subscribe(context.Background(), "j1")
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
}

func TestSSE_RetriesRefusedStream(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	src := NewSSE(srv.URL, core.StaticToken("tok"), WithReconnectDelay(5*time.Millisecond))
	ch, err := src.Subscribe(ctx, "j1")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return attempts.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	waitClosed(t, ch)
}

func TestWebSocket_DeliversAndReconnects(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		jobID := r.URL.Query().Get("jobId")
		ctx := r.Context()

		_ = wsjson.Write(ctx, conn, map[string]any{"jobId": "other", "status": "COMPLETED", "progress": 100})
		_ = wsjson.Write(ctx, conn, map[string]any{
			"jobId":    jobID,
			"status":   "RUNNING",
			"progress": int(n) * 25,
		})
		// Drop the connection to force a reconnect.
		conn.Close(websocket.StatusGoingAway, "restart")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	src := NewWebSocket(srv.URL, core.StaticToken("tok"), WithReconnectDelay(10*time.Millisecond))
	ch, err := src.Subscribe(ctx, "j7")
	require.NoError(t, err)

	first := receive(t, ch)
	second := receive(t, ch)
	assert.Equal(t, "j7", first.JobID)
	assert.Equal(t, 25, first.Progress)
	assert.Equal(t, 50, second.Progress)
	assert.Equal(t, core.SourcePush, second.Source)

	cancel()
	waitClosed(t, ch)
}

func TestWebSocket_ErrorPayloadDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = wsjson.Write(r.Context(), conn, map[string]any{
			"jobId":  "j1",
			"status": "FAILED",
			"error":  map[string]string{"code": "MODEL", "message": "model unavailable"},
		})
		// Block until the client goes away.
		_, _, _ = conn.Read(context.Background())
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := NewWebSocket(srv.URL, core.StaticToken("tok")).Subscribe(ctx, "j1")
	require.NoError(t, err)

	u := receive(t, ch)
	assert.Equal(t, core.JobFailed, u.Status)
	require.NotNil(t, u.Error)
	assert.Equal(t, "MODEL", u.Error.Code)
}
