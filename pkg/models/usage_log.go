package models

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// UsageLog is an append-only audit record of one reported proxy outcome.
// The core never reads these back; they feed offline analysis and
// feedback-model training.
type UsageLog struct {
	bun.BaseModel `bun:"table:proxy_usage_logs,alias:ul"`

	ID           int64     `bun:",pk,autoincrement"`
	ProxyID      int64     `bun:",notnull"`
	TargetDomain string    `bun:",notnull"`
	TargetURL    string
	Status       string `bun:",notnull"`
	LatencyMs    int64
	HTTPStatus   int
	Notes        string
	TrainingJSON json.RawMessage `bun:",type:jsonb"`
	CreatedAt    time.Time       `bun:",nullzero,notnull,default:current_timestamp"`
}
