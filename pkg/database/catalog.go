package database

import (
	"context"
	"fmt"

	"proxy-gateway/pkg/models"
)

// CatalogRow is one provider/type/protocol bucket with live pool stats.
type CatalogRow struct {
	Provider  string   `bun:"provider" json:"provider"`
	ProxyType string   `bun:"proxy_type" json:"proxy_type"`
	Protocol  string   `bun:"protocol" json:"protocol"`
	Total     int      `bun:"total" json:"total"`
	Healthy   int      `bun:"healthy" json:"healthy"`
	AvgScore  float64  `bun:"avg_score" json:"avg_score"`
	Countries []string `bun:"countries,array" json:"countries"`
}

func (db *DB) ProviderCatalog(ctx context.Context) ([]CatalogRow, error) {
	var rows []CatalogRow
	err := db.NewSelect().
		Model((*models.Proxy)(nil)).
		Column("provider", "proxy_type", "protocol").
		ColumnExpr("COUNT(*) AS total").
		ColumnExpr("COUNT(*) FILTER (WHERE healthy = TRUE) AS healthy").
		ColumnExpr("ROUND(AVG(score)::NUMERIC, 1) AS avg_score").
		ColumnExpr("ARRAY_AGG(DISTINCT country ORDER BY country) FILTER (WHERE country IS NOT NULL AND country != '') AS countries").
		Group("provider", "proxy_type", "protocol").
		Order("provider", "proxy_type", "protocol").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("error building provider catalog: %v", err)
	}
	return rows, nil
}

// ProviderPerformance summarizes each provider/type bucket's recent quality.
// Only the advisory prompt consumes this; SQL aggregates keep it one query.
type ProviderPerformance struct {
	Provider     string  `bun:"provider"`
	ProxyType    string  `bun:"proxy_type"`
	SuccessRate  float64 `bun:"success_rate"`
	AvgLatencyMs float64 `bun:"avg_latency_ms"`
	BlockRate    float64 `bun:"block_rate"`
}

func (db *DB) ProviderPerformanceSummary(ctx context.Context, minRequests int, limit int) ([]ProviderPerformance, error) {
	var rows []ProviderPerformance
	err := db.NewSelect().
		Model((*models.Proxy)(nil)).
		Column("provider", "proxy_type").
		ColumnExpr("AVG(success_count::FLOAT / GREATEST(success_count + fail_count, 1)) AS success_rate").
		ColumnExpr("AVG(avg_latency_ms) AS avg_latency_ms").
		ColumnExpr("AVG(fail_count::FLOAT / GREATEST(success_count + fail_count, 1)) AS block_rate").
		Group("provider", "proxy_type").
		Having("SUM(success_count + fail_count) > ?", minRequests).
		OrderExpr("success_rate DESC").
		Limit(limit).
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("error summarizing provider performance: %v", err)
	}
	return rows, nil
}
