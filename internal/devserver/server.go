// Package devserver is an in-memory implementation of the document and job
// services. It backs the CLI serve command and the end-to-end tests.
package devserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jdziat/simple-draft-sync/pkg/core"
)

// Option configures a Server.
type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAutoRun makes submitted jobs progress on their own, 25% per step.
func WithAutoRun(step time.Duration) Option {
	return func(s *Server) {
		if step > 0 {
			s.autoStep = step
		}
	}
}

// WithKeepAlive sets the interval of SSE keepalive comments.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.keepAlive = d
		}
	}
}

type job struct {
	update     core.JobUpdate
	documentID string
	createdAt  time.Time
}

// Server holds documents, jobs and push subscribers.
type Server struct {
	token     string
	logger    *slog.Logger
	autoStep  time.Duration
	keepAlive time.Duration
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	docs map[string]*core.Document
	jobs map[string]*job
	subs map[string]map[chan core.JobUpdate]struct{}

	router *gin.Engine
}

// New creates a Server.
func New(opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		logger:    slog.Default(),
		keepAlive: 15 * time.Second,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		docs:      make(map[string]*core.Document),
		jobs:      make(map[string]*job),
		subs:      make(map[string]map[chan core.JobUpdate]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close stops auto-running jobs and disconnects push subscribers.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests(), s.authenticate())

	docs := r.Group("/documents")
	{
		docs.POST("", s.createDocument)
		docs.GET("", s.listDocuments)
		docs.GET("/:id", s.getDocument)
		docs.PUT("/:id", s.updateDocument)
		docs.DELETE("/:id", s.deleteDocument)
		docs.POST("/:id/submit", s.submitDocument)
	}

	jobs := r.Group("/jobs")
	{
		jobs.GET("/:id", s.getJob)
		jobs.POST("/:id/cancel", s.cancelJob)
		jobs.POST("/:id/retry", s.retryJob)
	}

	r.GET("/events", s.streamSSE)
	r.GET("/events/ws", s.streamWebSocket)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"correlation_id", c.GetHeader("X-Correlation-Id"),
		)
	}
}

func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.token == "" || c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		if c.GetHeader("Authorization") != "Bearer "+s.token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHENTICATED", "message": "missing or invalid token"})
			return
		}
		c.Next()
	}
}

func (s *Server) newDocument(fields *core.Fields) *core.Document {
	now := s.now()
	if fields == nil {
		fields = &core.Fields{}
	}
	doc := &core.Document{
		ID:        uuid.NewString(),
		Version:   1,
		Status:    core.DocumentDraft,
		Fields:    fields.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.docs[doc.ID] = doc
	s.mu.Unlock()
	return doc.Clone()
}

func (s *Server) listLocked(status core.DocumentStatus) []*core.Document {
	out := make([]*core.Document, 0, len(s.docs))
	for _, d := range s.docs {
		if status != "" && d.Status != status {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// startJob creates a pending job for docID.
func (s *Server) startJob(docID string) string {
	now := s.now()
	id := "job-" + uuid.NewString()
	s.mu.Lock()
	s.jobs[id] = &job{
		update:     core.JobUpdate{JobID: id, Status: core.JobPending, LastUpdate: now},
		documentID: docID,
		createdAt:  now,
	}
	s.mu.Unlock()
	if s.autoStep > 0 {
		s.run(id)
	}
	return id
}

func (s *Server) run(jobID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.autoStep)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
			}
			s.mu.Lock()
			j, ok := s.jobs[jobID]
			if !ok || j.update.Status.IsTerminal() {
				s.mu.Unlock()
				return
			}
			progress := j.update.Progress + 25
			status := core.JobRunning
			if progress >= 100 {
				progress, status = 100, core.JobCompleted
			}
			s.mu.Unlock()
			_ = s.AdvanceJob(jobID, status, progress, nil)
		}
	}()
}

// AdvanceJob moves a job to status and progress and pushes the change.
// Terminal jobs refuse further changes.
func (s *Server) AdvanceJob(jobID string, status core.JobStatus, progress int, jobErr *core.JobError) error {
	s.mu.Lock()
	j, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("devserver: unknown job %s", jobID)
	}
	if j.update.Status.IsTerminal() {
		s.mu.Unlock()
		return fmt.Errorf("devserver: job %s already %s", jobID, j.update.Status)
	}
	j.update.Status = status
	j.update.Progress = progress
	j.update.Error = jobErr
	j.update.LastUpdate = s.now()
	u := j.update
	s.publishLocked(u)
	s.mu.Unlock()
	s.logger.Debug("job advanced", "job_id", jobID, "status", status, "progress", progress)
	return nil
}

// Job returns the current state of a job.
func (s *Server) Job(jobID string) (core.JobUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return core.JobUpdate{}, false
	}
	return j.update, true
}

// Jobs lists the ids of jobs started for docID, oldest first.
func (s *Server) Jobs(docID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*job
	for _, j := range s.jobs {
		if j.documentID == docID {
			list = append(list, j)
		}
	}
	sort.Slice(list, func(a, b int) bool { return list[a].createdAt.Before(list[b].createdAt) })
	ids := make([]string, len(list))
	for i, j := range list {
		ids[i] = j.update.JobID
	}
	return ids
}

// Document returns a copy of the stored document.
func (s *Server) Document(id string) (*core.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// EditDocument applies fields as if another client wrote them, bumping the
// version.
func (s *Server) EditDocument(id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("devserver: unknown document %s", id)
	}
	d.Fields.Merge(fields)
	d.Version++
	d.UpdatedAt = s.now()
	return nil
}

// SetDocumentVersion overrides the stored version of a document.
func (s *Server) SetDocumentVersion(id string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("devserver: unknown document %s", id)
	}
	d.Version = version
	return nil
}

func (s *Server) subscribe(jobID string) (chan core.JobUpdate, func()) {
	ch := make(chan core.JobUpdate, 16)
	s.mu.Lock()
	if s.subs[jobID] == nil {
		s.subs[jobID] = make(map[chan core.JobUpdate]struct{})
	}
	s.subs[jobID][ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.subs[jobID], ch)
		if len(s.subs[jobID]) == 0 {
			delete(s.subs, jobID)
		}
		s.mu.Unlock()
	}
}

// publishLocked fans u out to the job's subscribers, dropping it for any
// subscriber whose buffer is full.
func (s *Server) publishLocked(u core.JobUpdate) {
	for ch := range s.subs[u.JobID] {
		select {
		case ch <- u:
		default:
			s.logger.Warn("push subscriber too slow, dropping update", "job_id", u.JobID)
		}
	}
}

// Subscribers reports how many push connections follow jobID.
func (s *Server) Subscribers(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[jobID])
}
