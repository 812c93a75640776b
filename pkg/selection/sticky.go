package selection

import (
	"strconv"
	"strings"

	"proxy-gateway/pkg/models"
)

// SessTTLMarker is the username suffix gateway providers interpret as the
// sticky-session duration. Stored usernames never carry it; it is injected
// at selection time only.
const SessTTLMarker = ";sessttl."

// EffectiveSessTTL resolves the sticky TTL in minutes: an explicit request
// TTL wins, then the row's stored default, then the global default.
func EffectiveSessTTL(requestTTL *int, proxy *models.Proxy) int {
	if requestTTL != nil {
		return *requestTTL
	}
	if ttl := proxy.DefaultSessTTL(); ttl > 0 {
		return ttl
	}
	return DefaultSessTTLMinutes
}

// InjectSessTTL appends ";sessttl.<minutes>" to a base username. The
// injection is idempotent: a username that already carries a marker is
// returned unchanged, so applying it twice equals applying it once.
func InjectSessTTL(username string, minutes int) string {
	if username == "" || strings.Contains(username, SessTTLMarker) {
		return username
	}
	return username + SessTTLMarker + strconv.Itoa(minutes)
}

// RewriteCredential swaps the credential portion of a connection string for
// the effective username. Only the first "://user:" occurrence is touched.
func RewriteCredential(proxyString, storedUsername, effectiveUsername string) string {
	if storedUsername == "" || storedUsername == effectiveUsername {
		return proxyString
	}
	return strings.Replace(proxyString,
		"://"+storedUsername+":",
		"://"+effectiveUsername+":",
		1)
}
