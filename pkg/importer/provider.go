package importer

import (
	"context"
	"fmt"
	"log/slog"

	"proxy-gateway/pkg/database"
)

// System identifies a third-party proxy provider API.
type System string

const (
	SystemWebshare    System = "webshare"
	SystemDataImpulse System = "dataimpulse"
)

// ProviderConfig carries credentials for one provider sync.
type ProviderConfig struct {
	System   System
	APIKey   string // webshare
	Login    string // dataimpulse
	Password string // dataimpulse
	Quantity int    // dataimpulse list size
}

// Provider pulls the current proxy inventory from a provider API and
// upserts it into the registry.
type Provider interface {
	Name() string
	Sync(ctx context.Context, db *database.DB) error
}

// NewProvider creates a provider client from the config.
func NewProvider(config ProviderConfig, logger *slog.Logger) (Provider, error) {
	switch config.System {
	case SystemWebshare:
		return newWebshareProvider(config, logger)
	case SystemDataImpulse:
		return newDataImpulseProvider(config, logger)
	default:
		return nil, fmt.Errorf("unsupported proxy provider: %s", config.System)
	}
}
