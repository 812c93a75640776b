package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"proxy-gateway/pkg/models"
	"proxy-gateway/pkg/scoring"

	"github.com/gin-gonic/gin"
)

type reportBody struct {
	ProxyID      int64  `json:"proxy_id"`
	ProxyIP      string `json:"proxy_ip"`
	Status       string `json:"status"`
	LatencyMs    int64  `json:"latency_ms"`
	TargetDomain string `json:"target_domain"`
}

// handleReport serves POST /v1/proxy/report: the feedback loop. The scoring
// transition is applied atomically in the store, then the report is appended
// to the usage log. Only an acknowledgement goes back, no derived state, so
// the contract survives formula changes.
func (s *Server) handleReport(c *gin.Context) {
	var body reportBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}

	if body.Status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required field: status"})
		return
	}
	if !models.IsValidStatus(body.Status) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid status. Allowed: %s", strings.Join(models.ValidStatuses, ", ")),
		})
		return
	}

	ctx := c.Request.Context()

	proxyID := body.ProxyID
	if proxyID == 0 && body.ProxyIP != "" {
		proxy, err := s.registry.FindProxyByIP(ctx, body.ProxyIP)
		if err == nil {
			proxyID = proxy.ID
		} else if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Error("Report IP lookup error", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
			return
		}
	}
	if proxyID == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Proxy not found"})
		return
	}

	rep := scoring.Report{
		Status:    scoring.Status(body.Status),
		LatencyMs: body.LatencyMs,
	}
	if err := s.registry.ApplyReport(ctx, proxyID, rep, s.cfg.ScoringConfig); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Proxy not found"})
			return
		}
		s.logger.Error("Report error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	entry := &models.UsageLog{
		ProxyID:      proxyID,
		TargetDomain: body.TargetDomain,
		Status:       body.Status,
		LatencyMs:    body.LatencyMs,
	}
	if err := s.registry.InsertUsageLog(ctx, entry); err != nil {
		s.logger.Error("Usage log insert failed", "proxyID", proxyID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
