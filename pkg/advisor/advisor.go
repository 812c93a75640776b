// Package advisor asks an OpenAI-compatible completion endpoint which
// provider/type suits a target, based on live pool performance. The
// recommendation is advisory only: any failure degrades to a static
// fallback, never to a blocked selection.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"proxy-gateway/pkg/cache"
	"proxy-gateway/pkg/database"
)

const (
	decisionKeyPrefix = "decision:"
	decisionCacheTTL  = 5 * time.Minute
	requestTimeout    = 10 * time.Second
)

// Decision is the advisory recommendation for one target.
type Decision struct {
	RecommendedProvider string `json:"recommended_provider"`
	RecommendedType     string `json:"recommended_type"`
	Reason              string `json:"reason"`
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Advisor struct {
	db     *database.DB
	cache  *cache.Cache
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func New(db *database.DB, c *cache.Cache, cfg Config, logger *slog.Logger) *Advisor {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.groq.com/openai/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3-8b-8192"
	}
	return &Advisor{
		db:     db,
		cache:  c,
		cfg:    cfg,
		client: &http.Client{Timeout: requestTimeout},
		logger: logger,
	}
}

// Recommend returns a decision for the target. It never fails: model errors,
// cache errors and malformed responses all resolve to the fallback decision.
func (a *Advisor) Recommend(ctx context.Context, targetURL, geo, script string) Decision {
	domain := targetURL
	if u, err := url.Parse(targetURL); err == nil && u.Hostname() != "" {
		domain = u.Hostname()
	}

	cacheKey := decisionKey(domain, geo, script)
	if a.cache != nil {
		if raw, err := a.cache.Get(cacheKey); err == nil {
			var d Decision
			if json.Unmarshal([]byte(raw), &d) == nil {
				return d
			}
		}
	}

	decision, err := a.ask(ctx, domain, targetURL, geo, script)
	if err != nil {
		a.logger.Warn("Advisory recommendation failed, using fallback", "domain", domain, "error", err)
		return fallbackDecision()
	}

	if a.cache != nil {
		if payload, err := json.Marshal(decision); err == nil {
			if err := a.cache.SetEX(cacheKey, decisionCacheTTL, string(payload)); err != nil {
				a.logger.Debug("Decision cache write failed", "error", err)
			}
		}
	}

	return decision
}

func (a *Advisor) ask(ctx context.Context, domain, targetURL, geo, script string) (Decision, error) {
	stats, err := a.statsSummary(ctx)
	if err != nil {
		return Decision{}, err
	}

	prompt := buildPrompt(stats, domain, targetURL, geo, script)

	body, err := json.Marshal(map[string]any{
		"model": a.cfg.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"response_format": map[string]string{"type": "json_object"},
		"temperature":     0.3,
	})
	if err != nil {
		return Decision{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Decision{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return Decision{}, fmt.Errorf("completion request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Decision{}, fmt.Errorf("completion endpoint returned %d", resp.StatusCode)
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return Decision{}, fmt.Errorf("failed to decode completion: %v", err)
	}
	if len(completion.Choices) == 0 {
		return Decision{}, fmt.Errorf("completion returned no choices")
	}

	var decision Decision
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &decision); err != nil {
		return Decision{}, fmt.Errorf("failed to parse decision JSON: %v", err)
	}
	return decision, nil
}

func (a *Advisor) statsSummary(ctx context.Context) (string, error) {
	rows, err := a.db.ProviderPerformanceSummary(ctx, 10, 20)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "No performance data yet. Prefer residential providers.", nil
	}

	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "- %s %s: %.1f%% success, %.0fms avg, %.1f%% blocks\n",
			r.Provider, r.ProxyType, r.SuccessRate*100, r.AvgLatencyMs, r.BlockRate*100)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func fallbackDecision() Decision {
	return Decision{
		RecommendedType: "residential",
		Reason:          "advisory unavailable, falling back to residential",
	}
}

func decisionKey(domain, geo, script string) string {
	if geo == "" {
		geo = "any"
	}
	if script == "" {
		script = "default"
	}
	return decisionKeyPrefix + domain + ":" + geo + ":" + script
}
