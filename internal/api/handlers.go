package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mikeyg42/motioncam/internal/events"
	"github.com/mikeyg42/motioncam/internal/pipeline"
	"github.com/mikeyg42/motioncam/internal/recorder"
	"github.com/mikeyg42/motioncam/internal/storage"
	"github.com/mikeyg42/motioncam/internal/zones"
)

type zonesRequest struct {
	Zones []zones.Zone `json:"zones"`
}

type sourceRequest struct {
	Source string `json:"source" binding:"required"`
}

// ClipInfo describes a clip on disk.
type ClipInfo struct {
	Name        string    `json:"name"`
	DisplayTime string    `json:"display_time,omitempty"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"mod_time"`
	Comment     string    `json:"comment"`
	Labels      []string  `json:"labels,omitempty"`
}

func (s *Server) handleFeed(h http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not available"})
			return
		}
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{}
	for name, hc := range s.deps.Health {
		if err := hc.HealthCheck(c.Request.Context()); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	resp := gin.H{
		"status":                  "ok",
		"motion_detection_active": s.deps.State.MotionDetectionEnabled(),
		"checks":                  checks,
	}
	if s.deps.Camera != nil {
		src, running := s.deps.Camera.Current()
		resp["capturing"] = running
		resp["source"] = src
	}
	if status != http.StatusOK {
		resp["status"] = "degraded"
	}
	c.JSON(status, resp)
}

func (s *Server) handleStats(c *gin.Context) {
	if s.deps.Stats == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.deps.Stats())
}

func (s *Server) handleGetZones(c *gin.Context) {
	zs := s.deps.State.Zones()
	if zs == nil {
		zs = []zones.Zone{}
	}
	c.JSON(http.StatusOK, gin.H{"zones": zs})
}

// handleSetZones replaces the zone set. Reversed corners are accepted and
// normalized at use; negative coordinates are rejected.
func (s *Server) handleSetZones(c *gin.Context) {
	var req zonesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid zones payload: " + err.Error()})
		return
	}
	for i, z := range req.Zones {
		if z.StartX < 0 || z.StartY < 0 || z.EndX < 0 || z.EndY < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "negative coordinates", "index": i})
			return
		}
	}

	s.deps.State.SetZones(req.Zones)
	s.logger.Info("Exclusion zones updated", zap.Int("count", len(req.Zones)))
	s.deps.Publish.Publish(events.Event{Type: events.ZonesChanged})
	c.JSON(http.StatusOK, gin.H{"status": "ok", "count": len(req.Zones)})
}

func (s *Server) handleClearZones(c *gin.Context) {
	s.deps.State.ClearZones()
	s.logger.Info("Exclusion zones cleared")
	s.deps.Publish.Publish(events.Event{Type: events.ZonesChanged})
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleGetMotion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"motion_detection_active": s.deps.State.MotionDetectionEnabled()})
}

func (s *Server) handleToggleMotion(c *gin.Context) {
	active := s.deps.State.ToggleMotionDetection()
	s.logger.Info("Motion detection toggled", zap.Bool("active", active))
	s.deps.Publish.Publish(events.Event{Type: events.MotionToggled, Enabled: &active})
	c.JSON(http.StatusOK, gin.H{"motion_detection_active": active})
}

func (s *Server) handleGetSource(c *gin.Context) {
	if s.deps.Camera == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "camera not available"})
		return
	}
	src, running := s.deps.Camera.Current()
	c.JSON(http.StatusOK, gin.H{"source": src, "running": running})
}

func (s *Server) handleSwitchSource(c *gin.Context) {
	if s.deps.Camera == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "camera not available"})
		return
	}
	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source is required"})
		return
	}
	if err := s.deps.Camera.Switch(req.Source); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"source": req.Source, "running": true})
}

func (s *Server) handleStopSource(c *gin.Context) {
	if s.deps.Camera == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "camera not available"})
		return
	}
	if err := s.deps.Camera.Stop(); err != nil {
		if errors.Is(err, pipeline.ErrNotRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"running": false})
}

// handleListClips lists clips on disk, newest first. Comments come from the
// catalog when one is configured, otherwise from the files themselves.
func (s *Server) handleListClips(c *gin.Context) {
	entries, err := os.ReadDir(s.cfg.ClipsDir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	records := map[string]storage.ClipRecord{}
	if s.deps.Catalog != nil {
		recs, err := s.deps.Catalog.ListClips(c.Request.Context(), 1000)
		if err != nil {
			s.logger.Warn("Catalog unavailable for clip listing", zap.Error(err))
		}
		for _, r := range recs {
			records[r.Name] = r
		}
	}

	clips := make([]ClipInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), s.cfg.ClipExtension) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		ci := ClipInfo{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()}
		if dt, err := recorder.DisplayTime(e.Name()); err == nil {
			ci.DisplayTime = dt
		}
		if rec, ok := records[e.Name()]; ok {
			ci.Comment = rec.Comment
			ci.Labels = rec.Labels
		} else if s.deps.Comments != nil {
			if comment, err := s.deps.Comments.ReadComment(c.Request.Context(), filepath.Join(s.cfg.ClipsDir, e.Name())); err == nil {
				ci.Comment = comment
			}
		}
		clips = append(clips, ci)
	}

	sort.Slice(clips, func(i, j int) bool { return clips[i].Name > clips[j].Name })
	c.JSON(http.StatusOK, gin.H{"clips": clips})
}

func (s *Server) clipPath(c *gin.Context) (string, bool) {
	name := c.Param("name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid clip name"})
		return "", false
	}
	return filepath.Join(s.cfg.ClipsDir, name), true
}

func (s *Server) handleGetClip(c *gin.Context) {
	path, ok := s.clipPath(c)
	if !ok {
		return
	}
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "clip not found"})
		return
	}
	c.File(path)
}

func (s *Server) handleDeleteClip(c *gin.Context) {
	path, ok := s.clipPath(c)
	if !ok {
		return
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "clip not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if s.deps.Catalog != nil {
		if err := s.deps.Catalog.DeleteClip(c.Request.Context(), filepath.Base(path)); err != nil {
			s.logger.Warn("Failed to remove clip from catalog", zap.Error(err))
		}
	}
	s.logger.Info("Clip deleted", zap.String("clip", path))
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
