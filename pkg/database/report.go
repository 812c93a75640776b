package database

import (
	"context"
	"database/sql"
	"fmt"

	"proxy-gateway/pkg/models"
	"proxy-gateway/pkg/scoring"
)

// ApplyReport folds one feedback report into a proxy row as a single UPDATE.
// Postgres evaluates every SET expression against the row as it stood before
// this statement, so two concurrent reports for the same row each derive
// their new state from a consistent base; the Go-side scoring.Apply
// transition and this statement must stay in lockstep.
func (db *DB) ApplyReport(ctx context.Context, id int64, rep scoring.Report, cfg scoring.Config) error {
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = scoring.DefaultFailThreshold
	}

	isSuccess := rep.Status == scoring.StatusSuccess

	q := db.NewUpdate().
		Model((*models.Proxy)(nil)).
		Set("score = GREATEST(?, LEAST(?, score + ?))",
			scoring.MinScore, scoring.MaxScore, scoring.ScoreDelta(rep.Status)).
		Set("success_count = success_count + ?", boolToInt(isSuccess)).
		Set("fail_count = fail_count + ?", boolToInt(!isSuccess)).
		Set("consecutive_fails = CASE WHEN ? THEN 0 ELSE consecutive_fails + 1 END", isSuccess).
		Set(`healthy = CASE
			WHEN ? THEN TRUE
			WHEN consecutive_fails + 1 >= ? THEN FALSE
			ELSE healthy
		END`, isSuccess, cfg.FailThreshold).
		Set("last_success = CASE WHEN ? THEN NOW() ELSE last_success END", isSuccess).
		Set("last_fail = CASE WHEN NOT ? THEN NOW() ELSE last_fail END", isSuccess).
		Set("updated_at = NOW()")

	if cfg.LatencyAveraging == scoring.LatencyCumulative {
		q = q.Set(`avg_latency_ms = CASE
			WHEN ? > 0 THEN (avg_latency_ms * (success_count + fail_count) + ?) / (success_count + fail_count + 1)
			ELSE avg_latency_ms
		END`, rep.LatencyMs, rep.LatencyMs)
	} else {
		q = q.Set(`avg_latency_ms = CASE
			WHEN ? > 0 THEN (avg_latency_ms * 9 + ?) / 10
			ELSE avg_latency_ms
		END`, rep.LatencyMs, rep.LatencyMs)
	}

	res, err := q.Where("id = ?", id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("error applying report: %v", err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (db *DB) InsertUsageLog(ctx context.Context, entry *models.UsageLog) error {
	if entry.TargetDomain == "" {
		entry.TargetDomain = "unknown"
	}
	_, err := db.NewInsert().
		Model(entry).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("error inserting usage log: %v", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
