package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"proxy-gateway/pkg/selection"

	"github.com/gin-gonic/gin"
)

// handleGetProxy serves GET /v1/proxy: one healthy proxy matching the query,
// as a relay grant when relay mode is on, or the real connection otherwise.
func (s *Server) handleGetProxy(c *gin.Context) {
	// "proxy" is an alias for "type"; either works.
	proxyType := strings.ToLower(c.Query("type"))
	if proxyType == "" {
		proxyType = strings.ToLower(c.Query("proxy"))
	}

	req := selection.Request{
		Country:   c.Query("country"),
		Type:      proxyType,
		Protocol:  c.Query("protocol"),
		Anonymity: c.Query("anonymity"),
		Provider:  c.Query("provider"),
		Strategy:  c.DefaultQuery("strategy", "random"),
		Sticky:    c.Query("sticky") == "true",
	}

	if raw := c.Query("ttl"); raw != "" {
		ttl, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid ttl. Must be an integer between 1 and 1440 (minutes).",
			})
			return
		}
		req.TTLMinutes = &ttl
	}

	// Optional advisory hint when the caller names a target. The hint only
	// fills provider/type gaps; explicit filters always win.
	if target := c.Query("target"); target != "" && s.advisor != nil {
		decision := s.advisor.Recommend(c.Request.Context(), target, c.Query("country"), c.Query("script"))
		req.Hint = &selection.Hint{
			Provider: decision.RecommendedProvider,
			Type:     decision.RecommendedType,
		}
	}

	result, err := s.selector.Select(c.Request.Context(), req)
	if err != nil {
		var validationErr *selection.ValidationError
		var notFoundErr *selection.NotFoundError
		switch {
		case errors.As(err, &validationErr):
			c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Msg})
		case errors.As(err, &notFoundErr):
			c.JSON(http.StatusNotFound, gin.H{
				"error":    "No matching proxy found",
				"criteria": notFoundErr.Criteria,
			})
		default:
			s.logger.Error("Proxy fetch error", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		}
		return
	}

	p := result.Proxy

	metadata := gin.H{
		"id":           p.ID,
		"country":      p.Country,
		"type":         p.ProxyType,
		"provider":     p.Provider,
		"session_type": p.SessionType,
		"score":        p.Score,
	}
	if result.Sticky {
		metadata["sessttl_minutes"] = result.SessTTLMinutes
	}

	// Relay mode: the caller gets a token-based URL pointing at the relay;
	// the real provider URL stays server-side.
	if s.issuer != nil {
		grant, err := s.issuer.Issue(p, result.ProxyURL, result.Sticky, result.SessTTLMinutes)
		if err != nil {
			s.logger.Error("Relay token issue failed", "proxyID", p.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"proxy_url":  grant.ProxyURL,
			"expires_at": grant.ExpiresAt,
			"connection": grant.Conn,
			"metadata":   metadata,
		})
		return
	}

	// Direct mode: hand out the real connection info.
	c.JSON(http.StatusOK, gin.H{
		"proxy_url": result.ProxyURL,
		"connection": gin.H{
			"scheme":   p.Protocol,
			"host":     p.IP,
			"port":     strconv.Itoa(p.Port),
			"username": result.EffectiveUsername,
			"password": p.Password,
		},
		"metadata": metadata,
	})
}

// handleProviders serves GET /v1/providers: the pool catalog grouped by
// provider with live counts.
func (s *Server) handleProviders(c *gin.Context) {
	rows, err := s.registry.ProviderCatalog(c.Request.Context())
	if err != nil {
		s.logger.Error("Providers catalog error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	type providerEntry struct {
		Provider string `json:"provider"`
		Types    []any  `json:"types"`
	}

	var order []string
	grouped := make(map[string]*providerEntry)
	for _, row := range rows {
		entry, ok := grouped[row.Provider]
		if !ok {
			entry = &providerEntry{Provider: row.Provider}
			grouped[row.Provider] = entry
			order = append(order, row.Provider)
		}
		entry.Types = append(entry.Types, gin.H{
			"proxy_type": row.ProxyType,
			"protocol":   row.Protocol,
			"total":      row.Total,
			"healthy":    row.Healthy,
			"avg_score":  row.AvgScore,
			"countries":  row.Countries,
		})
	}

	providers := make([]*providerEntry, 0, len(order))
	for _, name := range order {
		providers = append(providers, grouped[name])
	}

	c.JSON(http.StatusOK, gin.H{"providers": providers})
}

// handleRandomProxy serves GET /v1/proxies/random: any healthy row's raw
// connection string, optionally restricted to a provider.
func (s *Server) handleRandomProxy(c *gin.Context) {
	proxy, err := s.registry.RandomProxy(c.Request.Context(), strings.ToLower(c.Query("provider")))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No proxies available"})
			return
		}
		s.logger.Error("Random proxy error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"proxy_url": proxy.ProxyString,
		"id":        proxy.ID,
	})
}
