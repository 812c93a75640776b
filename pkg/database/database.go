package database

import (
	"context"
	"database/sql"
	"fmt"

	"proxy-gateway/pkg/models"

	"github.com/spf13/viper"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type DB struct {
	*bun.DB
}

func NewDB() (*DB, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		viper.GetString("database.user"),
		viper.GetString("database.password"),
		viper.GetString("database.host"),
		viper.GetInt("database.port"),
		viper.GetString("database.dbname"),
		viper.GetString("database.sslmode"),
	)

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))

	db := bun.NewDB(sqldb, pgdialect.New())

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %v", err)
	}

	return &DB{db}, nil
}

// InitSchema creates the proxies and usage-log tables if they don't exist.
func (db *DB) InitSchema(ctx context.Context) error {
	_, err := db.NewCreateTable().
		Model((*models.Proxy)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create proxies table: %v", err)
	}

	_, err = db.NewCreateTable().
		Model((*models.UsageLog)(nil)).
		IfNotExists().
		ForeignKey(`("proxy_id") REFERENCES proxies ("id") ON DELETE CASCADE`).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create usage log table: %v", err)
	}

	// Indexes if they don't exist
	_, err = db.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (SELECT 1 FROM pg_indexes WHERE tablename = 'proxies' AND indexname = 'proxies_selection_idx') THEN
				CREATE INDEX proxies_selection_idx ON proxies (healthy, session_type, proxy_type, country);
			END IF;
			IF NOT EXISTS (SELECT 1 FROM pg_indexes WHERE tablename = 'proxies' AND indexname = 'proxies_ip_idx') THEN
				CREATE INDEX proxies_ip_idx ON proxies (ip);
			END IF;
			IF NOT EXISTS (SELECT 1 FROM pg_indexes WHERE tablename = 'proxy_usage_logs' AND indexname = 'proxy_usage_logs_proxy_id_idx') THEN
				CREATE INDEX proxy_usage_logs_proxy_id_idx ON proxy_usage_logs (proxy_id);
			END IF;
		END $$;
	`)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %v", err)
	}

	return nil
}
