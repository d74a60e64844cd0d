package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/jdziat/simple-draft-sync/pkg/core"
)

// streamSSE pushes job updates as Server-Sent Events, starting with the
// current state.
func (s *Server) streamSSE(c *gin.Context) {
	jobID := c.Query("jobId")
	updates, unsubscribe := s.subscribe(jobID)
	defer unsubscribe()
	current, ok := s.Job(jobID)
	if !ok {
		abortError(c, http.StatusNotFound, "NOT_FOUND", "job not found")
		return
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(u core.JobUpdate) bool {
		data, err := json.Marshal(u)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		w.Flush()
		return true
	}
	if !send(current) {
		return
	}

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			w.Flush()
		case u := <-updates:
			if !send(u) {
				return
			}
		}
	}
}

// streamWebSocket pushes job updates as JSON text messages.
func (s *Server) streamWebSocket(c *gin.Context) {
	jobID := c.Query("jobId")
	updates, unsubscribe := s.subscribe(jobID)
	defer unsubscribe()
	current, ok := s.Job(jobID)
	if !ok {
		abortError(c, http.StatusNotFound, "NOT_FOUND", "job not found")
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx := conn.CloseRead(s.ctx)
	if err := wsjson.Write(ctx, conn, current); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case u := <-updates:
			if err := wsjson.Write(ctx, conn, u); err != nil {
				return
			}
		}
	}
}
