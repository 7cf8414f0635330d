package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/scalytics/core-orchestrator/lifecycle"
	"github.com/scalytics/core-orchestrator/policy"
	"github.com/scalytics/core-orchestrator/store"
)

func (s *Server) getAirGapped(c *gin.Context) {
	airGapped, _ := s.db.GetBoolSetting(store.SettingAirGappedMode, false)
	c.JSON(http.StatusOK, gin.H{"airGapped": airGapped})
}

func (s *Server) putAirGapped(c *gin.Context) {
	var body struct {
		AirGapped bool `json:"airGapped"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		s.sendErrorResponse(c, http.StatusBadRequest, "invalid_request_error: "+err.Error())
		return
	}

	privacy, _ := s.db.GetBoolSetting(store.SettingGlobalPrivacyMode, false)
	targetPrivacy := privacy || body.AirGapped

	if err := s.policy.ApplyProviderAndKeyRules(targetPrivacy, body.AirGapped); err != nil {
		s.sendErrorResponse(c, http.StatusInternalServerError, "internal: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"airGapped": body.AirGapped})
}

func (s *Server) getPrivacy(c *gin.Context) {
	enabled, _ := s.db.GetBoolSetting(store.SettingGlobalPrivacyMode, false)
	c.JSON(http.StatusOK, gin.H{"enabled": enabled})
}

// putPrivacy is the privacy-only controller of spec §4.4/§6: it computes the
// target (privacy, airGap) pair and delegates to the Policy Engine, leaving
// putAirGapped as the separate air-gap controller over the same engine.
func (s *Server) putPrivacy(c *gin.Context) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		s.sendErrorResponse(c, http.StatusBadRequest, "invalid_request_error: "+err.Error())
		return
	}

	airGapped, _ := s.db.GetBoolSetting(store.SettingAirGappedMode, false)
	// Disabling privacy also disables air-gap (spec §4.4 coupling rule);
	// enabling privacy alone leaves any existing air-gap state untouched.
	targetAirGap := airGapped && body.Enabled

	if err := s.policy.ApplyProviderAndKeyRules(body.Enabled, targetAirGap); err != nil {
		s.sendErrorResponse(c, http.StatusInternalServerError, "internal: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": body.Enabled})
}

func (s *Server) getScalyticsAPI(c *gin.Context) {
	enabled, _, _ := s.db.GetSetting(store.SettingScalyticsAPIEnabled)
	windowMS, _, _ := s.db.GetSetting(store.SettingScalyticsAPIRateLimitWindowMS)
	max, _, _ := s.db.GetSetting(store.SettingScalyticsAPIRateLimitMax)
	c.JSON(http.StatusOK, gin.H{
		"scalytics_api_enabled":              enabled,
		"scalytics_api_rate_limit_window_ms": windowMS,
		"scalytics_api_rate_limit_max":       max,
	})
}

func (s *Server) putScalyticsAPI(c *gin.Context) {
	var body struct {
		Enabled        string `json:"scalytics_api_enabled"`
		RateWindowMS   int    `json:"scalytics_api_rate_limit_window_ms"`
		RateLimitMax   int    `json:"scalytics_api_rate_limit_max"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		s.sendErrorResponse(c, http.StatusBadRequest, "invalid_request_error: "+err.Error())
		return
	}
	if body.Enabled != "true" && body.Enabled != "false" {
		s.sendErrorResponse(c, http.StatusBadRequest, "invalid_request_error: scalytics_api_enabled must be \"true\" or \"false\"")
		return
	}
	if body.RateWindowMS <= 0 {
		s.sendErrorResponse(c, http.StatusBadRequest, "invalid_request_error: scalytics_api_rate_limit_window_ms must be > 0")
		return
	}
	if body.RateLimitMax < 0 {
		s.sendErrorResponse(c, http.StatusBadRequest, "invalid_request_error: scalytics_api_rate_limit_max must be >= 0")
		return
	}

	_ = s.db.SetSetting(store.SettingScalyticsAPIEnabled, body.Enabled)
	_ = s.db.SetSetting(store.SettingScalyticsAPIRateLimitWindowMS, strconv.Itoa(body.RateWindowMS))
	_ = s.db.SetSetting(store.SettingScalyticsAPIRateLimitMax, strconv.Itoa(body.RateLimitMax))
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getPreferredEmbeddingModel(c *gin.Context) {
	v, ok, _ := s.db.GetSetting(store.SettingPreferredLocalEmbeddingModel)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"preferred_local_embedding_model_id": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"preferred_local_embedding_model_id": v})
}

func (s *Server) putPreferredEmbeddingModel(c *gin.Context) {
	var body struct {
		PreferredLocalEmbeddingModelID *int64 `json:"preferred_local_embedding_model_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		s.sendErrorResponse(c, http.StatusBadRequest, "invalid_request_error: "+err.Error())
		return
	}

	if body.PreferredLocalEmbeddingModelID == nil {
		_ = s.db.SetSetting(store.SettingPreferredLocalEmbeddingModel, "")
		c.JSON(http.StatusOK, gin.H{"preferred_local_embedding_model_id": nil})
		return
	}

	model, err := s.db.GetModel(*body.PreferredLocalEmbeddingModelID)
	if err != nil {
		s.sendErrorResponse(c, http.StatusNotFound, "not_found: model does not exist")
		return
	}
	if model.ExternalProviderID != nil {
		s.sendErrorResponse(c, http.StatusBadRequest, "invalid_request_error: model is not local")
		return
	}
	if !model.IsEmbeddingModel {
		s.sendErrorResponse(c, http.StatusBadRequest, "invalid_request_error: model is not embedding-capable")
		return
	}

	_ = s.db.SetSetting(store.SettingPreferredLocalEmbeddingModel, strconv.FormatInt(model.ID, 10))
	c.JSON(http.StatusOK, gin.H{"preferred_local_embedding_model_id": model.ID})
}

func (s *Server) putLocalToolStatus(c *gin.Context) {
	toolName := c.Param("toolName")
	var body struct {
		IsActive bool `json:"isActive"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		s.sendErrorResponse(c, http.StatusBadRequest, "invalid_request_error: "+err.Error())
		return
	}

	if toolName == "scalytics_search" && body.IsActive {
		if err := s.policy.ActivateSearchTool(); err != nil {
			if _, ok := err.(policy.ErrPreconditionFailed); ok {
				s.sendErrorResponse(c, http.StatusBadRequest, err.Error())
				return
			}
			s.sendErrorResponse(c, http.StatusInternalServerError, "internal: "+err.Error())
			return
		}
	}

	provider, err := s.db.GetProviderByName(toolName)
	if err == nil {
		provider.IsActive = body.IsActive
		_, _ = s.db.UpsertProvider(provider)
	}

	c.JSON(http.StatusOK, gin.H{"toolName": toolName, "isActive": body.IsActive})
}

func (s *Server) activateModel(c *gin.Context) {
	idParam := c.Param("id")
	modelID, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil {
		s.sendErrorResponse(c, http.StatusBadRequest, "invalid_request_error: id must be an integer")
		return
	}

	activationID, err := s.manager.Activate(modelID, "")
	if err != nil {
		switch err {
		case lifecycle.ErrUnsupportedFormat:
			s.sendErrorResponse(c, http.StatusBadRequest, "invalid_request_error: unsupported model format")
		case lifecycle.ErrNotLocal:
			s.sendErrorResponse(c, http.StatusBadRequest, "invalid_request_error: model is not local")
		case lifecycle.ErrModelNotFoundOnDisk:
			s.sendErrorResponse(c, http.StatusNotFound, "not_found: model not found on disk")
		default:
			s.sendErrorResponse(c, http.StatusNotFound, "not_found: "+err.Error())
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"activationId": activationID, "status": "activating"})
}

func (s *Server) deactivateModel(c *gin.Context) {
	s.manager.Deactivate()
	s.poolStatusCache.invalidate()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// poolStatus serves the LMLM status snapshot of spec §6, memoized for up to
// 60s (spec §5's readiness cache) and invalidated immediately on any
// activation state change rather than waiting out the TTL.
func (s *Server) poolStatus(c *gin.Context) {
	body := s.poolStatusCache.getOrCompute(func() gin.H {
		status := s.manager.Status()
		body := gin.H{
			"activeModelId":    status.ActiveModelID,
			"isProcessRunning": status.IsProcessRunning,
			"status":           string(status.State),
		}
		models, err := s.db.ListModels()
		if err == nil {
			names := make([]string, 0, len(models))
			for _, m := range models {
				names = append(names, m.Name)
			}
			body["availableModels"] = names
		}
		return body
	})
	c.JSON(http.StatusOK, body)
}

func (s *Server) sendLogs(c *gin.Context) {
	entries := s.logger.Tail(200)
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) streamLogs(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ch, unsubscribe := s.logger.Subscribe()
	defer unsubscribe()

	flusher, canFlush := c.Writer.(http.Flusher)
	for {
		select {
		case entry, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "data: [%s] %s %s\n\n", entry.Time.Format("15:04:05"), entry.Level, entry.Line)
			if canFlush {
				flusher.Flush()
			}
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
