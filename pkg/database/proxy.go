package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"proxy-gateway/pkg/models"
)

const (
	StrategyRandom    = "random"
	StrategyLeastUsed = "least_used"
)

// Filter narrows proxy selection. SessionType is always applied so rotating
// and sticky rows never mix in one result; everything else is optional.
type Filter struct {
	SessionType models.SessionType
	Country     string
	ProxyType   string
	Protocol    string
	Anonymity   string
	Provider    string
}

// SelectProxy picks the single best healthy row for the filter. The random
// strategy orders by descending score with ties broken randomly, so the
// top-score tier always wins; least_used prefers the longest-idle row,
// treating never-used as idle forever.
func (db *DB) SelectProxy(ctx context.Context, filter Filter, strategy string) (*models.Proxy, error) {
	proxy := new(models.Proxy)

	q := db.NewSelect().
		Model(proxy).
		Where("healthy = TRUE").
		Where("session_type = ?", filter.SessionType)

	if filter.Country != "" {
		q = q.Where("country = ?", filter.Country)
	}
	if filter.ProxyType != "" {
		q = q.Where("proxy_type = ?", filter.ProxyType)
	}
	if filter.Protocol != "" {
		q = q.Where("protocol = ?", filter.Protocol)
	}
	if filter.Anonymity != "" {
		q = q.Where("anonymity = ?", filter.Anonymity)
	}
	if filter.Provider != "" {
		q = q.Where("provider = ?", filter.Provider)
	}

	if strategy == StrategyLeastUsed {
		q = q.OrderExpr("last_used ASC NULLS FIRST")
	} else {
		q = q.OrderExpr("score DESC, RANDOM()")
	}

	err := q.Limit(1).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("error selecting proxy: %v", err)
	}

	return proxy, nil
}

// ListProxies returns rows for health checking. With onlyUnhealthy set it
// returns just the rows the checker might revive, oldest failures first.
func (db *DB) ListProxies(ctx context.Context, onlyUnhealthy bool) ([]models.Proxy, error) {
	var proxies []models.Proxy
	q := db.NewSelect().Model(&proxies)
	if onlyUnhealthy {
		q = q.Where("healthy = FALSE").OrderExpr("last_fail ASC NULLS FIRST")
	} else {
		q = q.Order("id ASC")
	}
	err := q.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing proxies: %v", err)
	}
	return proxies, nil
}

func (db *DB) GetProxyByID(ctx context.Context, id int64) (*models.Proxy, error) {
	proxy := new(models.Proxy)
	err := db.NewSelect().
		Model(proxy).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("error getting proxy by id: %v", err)
	}
	return proxy, nil
}

// FindProxyByIP returns the first row matching the IP. Used as the fallback
// identifier in feedback reports.
func (db *DB) FindProxyByIP(ctx context.Context, ip string) (*models.Proxy, error) {
	proxy := new(models.Proxy)
	err := db.NewSelect().
		Model(proxy).
		Where("ip = ?", ip).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("error finding proxy by ip: %v", err)
	}
	return proxy, nil
}

// RandomProxy returns any healthy row, optionally restricted to a provider.
func (db *DB) RandomProxy(ctx context.Context, provider string) (*models.Proxy, error) {
	proxy := new(models.Proxy)
	q := db.NewSelect().
		Model(proxy).
		Where("healthy = TRUE")
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}
	err := q.OrderExpr("RANDOM()").Limit(1).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("error getting random proxy: %v", err)
	}
	return proxy, nil
}

// TouchLastUsed stamps last_used = NOW(). Selection fires this from a
// detached goroutine; failures are the caller's to log, never to propagate.
func (db *DB) TouchLastUsed(ctx context.Context, id int64) error {
	_, err := db.NewUpdate().
		Model((*models.Proxy)(nil)).
		Set("last_used = NOW()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("error updating last_used: %v", err)
	}
	return nil
}

// UpsertProxy inserts a row keyed on proxy_string, reviving and re-tagging
// an existing row on conflict. New rows start at score 100 and healthy.
func (db *DB) UpsertProxy(ctx context.Context, proxy *models.Proxy) error {
	_, err := db.NewInsert().
		Model(proxy).
		On("CONFLICT (proxy_string) DO UPDATE").
		Set("updated_at = NOW()").
		Set("healthy = TRUE").
		Set("provider = EXCLUDED.provider").
		Set("proxy_type = EXCLUDED.proxy_type").
		Set("session_type = EXCLUDED.session_type").
		Set("country = EXCLUDED.country").
		Set("protocol = EXCLUDED.protocol").
		Set("metadata = COALESCE(EXCLUDED.metadata, p.metadata)").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("error upserting proxy: %v", err)
	}

	slog.Debug("Proxy upserted", "proxyString", proxy.ProxyString)

	return nil
}
