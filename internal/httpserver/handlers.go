package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/pulse/internal/engine"
	"github.com/tinytelemetry/pulse/internal/journal"
	"github.com/tinytelemetry/pulse/internal/model"
)

const defaultWindow = time.Hour

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"uptime":   time.Since(s.startTime).String(),
		"buffered": s.tel.Store().Len(),
	})
}

// recordStatus maps a Result to an HTTP status.
func recordStatus(res model.Result, created int) int {
	switch res.Status {
	case model.StatusRecorded:
		return created
	case model.StatusNotFound:
		return http.StatusNotFound
	default:
		return http.StatusUnprocessableEntity
	}
}

func (s *Server) handleRecordMetric(c *gin.Context) {
	var in model.MetricInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing type/name field"})
		return
	}
	res := s.tel.Record(in)
	c.JSON(recordStatus(res, http.StatusCreated), res)
}

func (s *Server) handleStartTimer(c *gin.Context) {
	var req struct {
		Name string            `json:"name" binding:"required"`
		Tags map[string]string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing name field"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": s.tel.StartTimer(req.Name, req.Tags)})
}

func (s *Server) handleEndTimer(c *gin.Context) {
	var req struct {
		Type     model.MetricType  `json:"type"`
		Unit     string            `json:"unit"`
		Tags     map[string]string `json:"tags"`
		Metadata map[string]any    `json:"metadata"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}
	}

	var opts []engine.MetricOption
	if req.Type != "" {
		opts = append(opts, engine.WithType(req.Type))
	}
	if req.Unit != "" {
		opts = append(opts, engine.WithUnit(req.Unit))
	}
	if len(req.Tags) > 0 {
		opts = append(opts, engine.WithTags(req.Tags))
	}
	if len(req.Metadata) > 0 {
		opts = append(opts, engine.WithMetadata(req.Metadata))
	}

	res := s.tel.EndTimer(c.Param("id"), opts...)
	c.JSON(recordStatus(res, http.StatusOK), res)
}

func (s *Server) handleIncrementCounter(c *gin.Context) {
	var req struct {
		Delta *int64 `json:"delta"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}
	}
	delta := int64(1)
	if req.Delta != nil {
		delta = *req.Delta
	}
	name := c.Param("name")
	c.JSON(http.StatusOK, gin.H{"name": name, "value": s.tel.IncrementCounter(name, delta)})
}

func (s *Server) handleOpenSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.tel.OpenSessions())
}

func (s *Server) handleStartSession(c *gin.Context) {
	var req struct {
		Name     string            `json:"name" binding:"required"`
		Tags     map[string]string `json:"tags"`
		Metadata map[string]any    `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing name field"})
		return
	}
	c.JSON(http.StatusCreated, s.tel.StartSession(req.Name, req.Tags, req.Metadata))
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, ok := s.tel.Session(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleEndSession(c *gin.Context) {
	sess, ok := s.tel.EndSession(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

// parseWindow reads ?start and ?end as RFC3339 times. Missing values default
// to the last hour.
func parseWindow(c *gin.Context) (time.Time, time.Time, error) {
	end := time.Now()
	if v := c.Query("end"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
		}
		end = t
	}
	start := end.Add(-defaultWindow)
	if v := c.Query("start"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
		}
		start = t
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start %s is after end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return start, end, nil
}

func (s *Server) handleAnalytics(c *gin.Context) {
	start, end, err := parseWindow(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.tel.GetAnalytics(start, end))
}

func (s *Server) handleSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.tel.GetSnapshot())
}

func (s *Server) handleAlerts(c *gin.Context) {
	unresolved, _ := strconv.ParseBool(c.DefaultQuery("unresolved", "false"))
	c.JSON(http.StatusOK, s.tel.Alerts(unresolved))
}

func (s *Server) handleResolveAlert(c *gin.Context) {
	a, ok := s.tel.ResolveAlert(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	c.JSON(http.StatusOK, a)
}

// handleExport streams the metrics in the window as JSON lines, zstd
// compressed when ?compress=true (or by server default).
func (s *Server) handleExport(c *gin.Context) {
	start, end, err := parseWindow(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	compress := s.cfg.Compress
	if v := c.Query("compress"); v != "" {
		if compress, err = strconv.ParseBool(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid compress flag"})
			return
		}
	}

	metrics := s.tel.Store().Range(start, end)
	contentType := "application/x-ndjson"
	if compress {
		contentType = "application/zstd"
	}
	c.Header("Content-Type", contentType)
	c.Header("X-Metric-Count", strconv.Itoa(len(metrics)))
	c.Status(http.StatusOK)
	if err := journal.Encode(c.Writer, metrics, compress); err != nil {
		_ = c.Error(err)
	}
}

func (s *Server) handleClear(c *gin.Context) {
	s.tel.Clear()
	c.Status(http.StatusNoContent)
}
