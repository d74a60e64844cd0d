package devserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jdziat/simple-draft-sync/pkg/core"
	"github.com/jdziat/simple-draft-sync/pkg/security"
)

type createRequest struct {
	Fields *core.Fields `json:"fields"`
}

type updateRequest struct {
	Version     int64               `json:"version"`
	Fields      *core.Fields        `json:"fields"`
	Status      core.DocumentStatus `json:"status"`
	CompletedAt *time.Time          `json:"completedAt"`
}

func abortError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": message})
}

func (s *Server) createDocument(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := security.ValidateFields(req.Fields.Map()); err != nil {
		abortError(c, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", err.Error())
		return
	}
	c.JSON(http.StatusCreated, s.newDocument(req.Fields))
}

func (s *Server) listDocuments(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	s.mu.Lock()
	all := s.listLocked(core.DocumentStatus(c.Query("status")))
	s.mu.Unlock()

	start := (page - 1) * limit
	end := start + limit
	if start > len(all) {
		start = len(all)
	}
	if end > len(all) {
		end = len(all)
	}
	c.JSON(http.StatusOK, core.DocumentList{
		Documents: all[start:end],
		Total:     len(all),
		Page:      page,
		Limit:     limit,
	})
}

func (s *Server) getDocument(c *gin.Context) {
	doc, ok := s.Document(c.Param("id"))
	if !ok {
		abortError(c, http.StatusNotFound, "NOT_FOUND", "document not found")
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) updateDocument(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[c.Param("id")]
	if !ok {
		abortError(c, http.StatusNotFound, "NOT_FOUND", "document not found")
		return
	}
	if req.Version != d.Version {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"currentVersion": d.Version,
			"currentFields":  d.Fields.Clone(),
		})
		return
	}
	if req.Fields != nil {
		d.Fields.Merge(req.Fields.Map())
	}
	if req.Status != "" {
		d.Status = req.Status
	}
	if req.CompletedAt != nil {
		at := *req.CompletedAt
		d.CompletedAt = &at
	}
	d.Version++
	d.UpdatedAt = s.now()
	c.JSON(http.StatusOK, d.Clone())
}

func (s *Server) deleteDocument(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	_, ok := s.docs[id]
	delete(s.docs, id)
	s.mu.Unlock()
	if !ok {
		abortError(c, http.StatusNotFound, "NOT_FOUND", "document not found")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) submitDocument(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	d, ok := s.docs[id]
	if ok {
		now := s.now()
		d.Status = core.DocumentSubmitted
		d.SubmittedAt = &now
	}
	s.mu.Unlock()
	if !ok {
		abortError(c, http.StatusNotFound, "NOT_FOUND", "document not found")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": s.startJob(id)})
}

func (s *Server) getJob(c *gin.Context) {
	u, ok := s.Job(c.Param("id"))
	if !ok {
		abortError(c, http.StatusNotFound, "NOT_FOUND", "job not found")
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *Server) cancelJob(c *gin.Context) {
	id := c.Param("id")
	u, ok := s.Job(id)
	if !ok {
		abortError(c, http.StatusNotFound, "NOT_FOUND", "job not found")
		return
	}
	if !u.Status.IsTerminal() {
		_ = s.AdvanceJob(id, core.JobCancelled, u.Progress, nil)
	}
	c.JSON(http.StatusOK, gin.H{"jobId": id, "status": core.JobCancelled})
}

func (s *Server) retryJob(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		abortError(c, http.StatusNotFound, "NOT_FOUND", "job not found")
		return
	}
	if j.update.Status != core.JobFailed && j.update.Status != core.JobCancelled {
		s.mu.Unlock()
		abortError(c, http.StatusBadRequest, "NOT_RETRYABLE", "only failed or cancelled jobs can be retried")
		return
	}
	j.update = core.JobUpdate{JobID: id, Status: core.JobPending, LastUpdate: s.now()}
	s.publishLocked(j.update)
	s.mu.Unlock()

	if s.autoStep > 0 {
		s.run(id)
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": id, "status": core.JobPending})
}
