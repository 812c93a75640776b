package importer

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"proxy-gateway/pkg/database"
	"proxy-gateway/pkg/models"
)

const dataImpulseListURL = "https://gw.dataimpulse.com:777/api/list"

type dataImpulseProvider struct {
	config ProviderConfig
	logger *slog.Logger
}

func newDataImpulseProvider(config ProviderConfig, logger *slog.Logger) (*dataImpulseProvider, error) {
	if config.Login == "" || config.Password == "" {
		return nil, fmt.Errorf("dataimpulse login and password are required")
	}
	if config.Quantity == 0 {
		config.Quantity = 1000
	}
	return &dataImpulseProvider{config: config, logger: logger}, nil
}

func (p *dataImpulseProvider) Name() string { return "dataimpulse" }

// Sync pulls a sticky gateway list from the DataImpulse API and ingests it
// line by line.
func (p *dataImpulseProvider) Sync(ctx context.Context, db *database.DB) error {
	params := url.Values{
		"quantity":    {strconv.Itoa(p.config.Quantity)},
		"type":        {"sticky"},
		"format":      {"login:password@hostname:port"},
		"protocol":    {"http"},
		"session_ttl": {"60"},
	}

	apiURL := dataImpulseListURL + "?" + params.Encode()
	p.logger.Info("Syncing DataImpulse proxies", "url", apiURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.config.Login, p.config.Password)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch dataimpulse list: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dataimpulse API returned %d", resp.StatusCode)
	}

	var added, skipped int
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		parsed := ParseProxyLine(scanner.Text(), "http")
		if parsed == nil {
			skipped++
			continue
		}

		proxy := &models.Proxy{
			ProxyString: parsed.ProxyString,
			IP:          parsed.IP,
			Port:        parsed.Port,
			Username:    parsed.Username,
			Password:    parsed.Password,
			Protocol:    parsed.Protocol,
			Provider:    "dataimpulse",
			ProxyType:   models.DatacenterType,
			SessionType: models.StickySession,
			Country:     "GLOBAL",
			Score:       100,
			Healthy:     true,
			Metadata:    map[string]any{"sessttl": 60},
		}
		if err := db.UpsertProxy(ctx, proxy); err != nil {
			p.logger.Warn("DataImpulse upsert failed", "proxyString", parsed.ProxyString, "error", err)
			continue
		}
		added++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading dataimpulse list: %v", err)
	}

	p.logger.Info("DataImpulse sync complete", "added", added, "skipped", skipped)
	return nil
}
