package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"proxy-gateway/pkg/database"
	"proxy-gateway/pkg/models"
)

const webshareListURL = "https://proxy.webshare.io/api/v2/proxy/list/?mode=direct&page_size=250"

type webshareProvider struct {
	config ProviderConfig
	logger *slog.Logger
}

func newWebshareProvider(config ProviderConfig, logger *slog.Logger) (*webshareProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("webshare API key is required")
	}
	return &webshareProvider{config: config, logger: logger}, nil
}

func (p *webshareProvider) Name() string { return "webshare" }

type webshareProxy struct {
	ID           string `json:"id"`
	ProxyAddress string `json:"proxy_address"`
	Port         int    `json:"port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	CountryCode  string `json:"country_code"`
}

// Sync fetches the Webshare direct-mode list and upserts every entry as a
// datacenter/http row.
func (p *webshareProvider) Sync(ctx context.Context, db *database.DB) error {
	p.logger.Info("Fetching proxy list from Webshare")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, webshareListURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+p.config.APIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch webshare list: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webshare API returned %d", resp.StatusCode)
	}

	var payload struct {
		Results []webshareProxy `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode webshare list: %v", err)
	}

	if len(payload.Results) == 0 {
		p.logger.Warn("Webshare returned 0 proxies")
		return nil
	}

	p.logger.Info("Syncing webshare proxies to registry", "count", len(payload.Results))

	var added int
	for _, wp := range payload.Results {
		proxy := &models.Proxy{
			ProxyString: BuildProxyString("http", wp.Username, wp.Password, wp.ProxyAddress, wp.Port),
			IP:          wp.ProxyAddress,
			Port:        wp.Port,
			Username:    wp.Username,
			Password:    wp.Password,
			Protocol:    "http",
			Provider:    "webshare",
			ProxyType:   models.DatacenterType,
			SessionType: models.RotatingSession,
			Country:     strings.ToUpper(wp.CountryCode),
			Score:       100,
			Healthy:     true,
		}
		if err := db.UpsertProxy(ctx, proxy); err != nil {
			p.logger.Warn("Webshare upsert failed", "address", wp.ProxyAddress, "error", err)
			continue
		}
		added++
	}

	p.logger.Info("Webshare sync complete", "processed", added)
	return nil
}
