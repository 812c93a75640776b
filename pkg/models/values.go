package models

// Allowed values for request validation. Kept in one place so the API layer
// can echo the full set back in error messages.
var (
	ValidTypes      = []string{"residential", "datacenter", "mobile", "isp"}
	ValidProtocols  = []string{"http", "https", "socks4", "socks5"}
	ValidAnonymity  = []string{"elite", "anonymous", "transparent"}
	ValidStrategies = []string{"random", "least_used"}
	ValidStatuses   = []string{"success", "blocked", "timeout", "captcha", "slow", "error"}
)

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func IsValidType(v string) bool      { return contains(ValidTypes, v) }
func IsValidProtocol(v string) bool  { return contains(ValidProtocols, v) }
func IsValidAnonymity(v string) bool { return contains(ValidAnonymity, v) }
func IsValidStrategy(v string) bool  { return contains(ValidStrategies, v) }
func IsValidStatus(v string) bool    { return contains(ValidStatuses, v) }
