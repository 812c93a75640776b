// Package selection picks one healthy proxy for a caller's request. It is
// the single entrypoint for both plain filtered selection and advisory-hinted
// selection: a hint only fills filter gaps, it never overrides an explicit
// filter value.
package selection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"proxy-gateway/pkg/database"
	"proxy-gateway/pkg/models"
)

const (
	// DefaultSessTTLMinutes applies when neither the request nor the proxy
	// row carries a sticky-session TTL.
	DefaultSessTTLMinutes = 60

	MinSessTTLMinutes = 1
	MaxSessTTLMinutes = 1440
)

// Store is the registry surface the engine needs.
type Store interface {
	SelectProxy(ctx context.Context, filter database.Filter, strategy string) (*models.Proxy, error)
	TouchLastUsed(ctx context.Context, id int64) error
}

// Hint is an advisory default for provider/type, consulted only where the
// caller's explicit filters leave a gap.
type Hint struct {
	Provider string
	Type     string
}

// Request describes one selection. Sticky is the session intent and is
// always applied; everything else is optional.
type Request struct {
	Country    string
	Type       string
	Protocol   string
	Anonymity  string
	Provider   string
	Strategy   string
	Sticky     bool
	TTLMinutes *int
	Hint       *Hint
}

// Criteria echoes the effective filter values in a NotFoundError.
type Criteria struct {
	Country   string `json:"country,omitempty"`
	Type      string `json:"type,omitempty"`
	Protocol  string `json:"protocol,omitempty"`
	Anonymity string `json:"anonymity,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Sticky    bool   `json:"sticky"`
}

// NotFoundError reports that no healthy proxy matched.
type NotFoundError struct {
	Criteria Criteria
}

func (e *NotFoundError) Error() string {
	return "no matching proxy found"
}

// ValidationError reports a bad filter or parameter value.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// Result is a selected proxy plus the effective credentials to hand out.
// For sticky sessions the username and proxy URL carry the injected TTL
// suffix; the stored record is never modified.
type Result struct {
	Proxy             *models.Proxy
	EffectiveUsername string
	ProxyURL          string
	SessTTLMinutes    int
	Sticky            bool
}

type Engine struct {
	store  Store
	logger *slog.Logger
}

func NewEngine(store Store, logger *slog.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// Select validates the request, applies the hint as a lower-priority
// default, queries the registry, and stamps last_used in the background.
func (e *Engine) Select(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	proxyType := req.Type
	provider := req.Provider
	if req.Hint != nil {
		if proxyType == "" && req.Hint.Type != "" && models.IsValidType(req.Hint.Type) {
			proxyType = req.Hint.Type
		}
		if provider == "" && req.Hint.Provider != "" {
			provider = strings.ToLower(req.Hint.Provider)
		}
	}

	sessionType := models.RotatingSession
	if req.Sticky {
		sessionType = models.StickySession
	}

	filter := database.Filter{
		SessionType: sessionType,
		Country:     strings.ToUpper(req.Country),
		ProxyType:   proxyType,
		Protocol:    strings.ToLower(req.Protocol),
		Anonymity:   strings.ToLower(req.Anonymity),
		Provider:    strings.ToLower(provider),
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = database.StrategyRandom
	}

	proxy, err := e.store.SelectProxy(ctx, filter, strategy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Criteria: Criteria{
				Country:   filter.Country,
				Type:      filter.ProxyType,
				Protocol:  filter.Protocol,
				Anonymity: filter.Anonymity,
				Provider:  filter.Provider,
				Sticky:    req.Sticky,
			}}
		}
		return nil, err
	}

	// Best-effort last_used stamp so least_used stays meaningful. The
	// selection already succeeded from the caller's point of view, so a
	// failed stamp is only logged.
	go func(id int64) {
		if err := e.store.TouchLastUsed(context.Background(), id); err != nil {
			e.logger.Error("last_used update failed", "proxyID", id, "error", err)
		}
	}(proxy.ID)

	result := &Result{
		Proxy:             proxy,
		EffectiveUsername: proxy.Username,
		ProxyURL:          proxy.ProxyString,
		Sticky:            req.Sticky,
	}

	if req.Sticky {
		result.SessTTLMinutes = EffectiveSessTTL(req.TTLMinutes, proxy)
		result.EffectiveUsername = InjectSessTTL(proxy.Username, result.SessTTLMinutes)
		result.ProxyURL = RewriteCredential(proxy.ProxyString, proxy.Username, result.EffectiveUsername)
	}

	return result, nil
}

func validate(req Request) error {
	if req.Type != "" && !models.IsValidType(req.Type) {
		return &ValidationError{Msg: fmt.Sprintf("Invalid type/proxy value. Allowed: %s", strings.Join(models.ValidTypes, ", "))}
	}
	if req.Protocol != "" && !models.IsValidProtocol(strings.ToLower(req.Protocol)) {
		return &ValidationError{Msg: fmt.Sprintf("Invalid protocol. Allowed: %s", strings.Join(models.ValidProtocols, ", "))}
	}
	if req.Anonymity != "" && !models.IsValidAnonymity(strings.ToLower(req.Anonymity)) {
		return &ValidationError{Msg: fmt.Sprintf("Invalid anonymity. Allowed: %s", strings.Join(models.ValidAnonymity, ", "))}
	}
	if req.Strategy != "" && !models.IsValidStrategy(req.Strategy) {
		return &ValidationError{Msg: fmt.Sprintf("Invalid strategy. Allowed: %s", strings.Join(models.ValidStrategies, ", "))}
	}
	if req.TTLMinutes != nil && (*req.TTLMinutes < MinSessTTLMinutes || *req.TTLMinutes > MaxSessTTLMinutes) {
		return &ValidationError{Msg: "Invalid ttl. Must be an integer between 1 and 1440 (minutes)."}
	}
	return nil
}
