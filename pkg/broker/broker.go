// Package broker issues short-lived relay tokens. A token is a capability:
// it grants exactly the ability to open tunnels to one upstream for a
// bounded lifetime, and nothing else. The real upstream credentials never
// leave the server.
package broker

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"proxy-gateway/pkg/cache"
	"proxy-gateway/pkg/models"
)

const (
	// tokenBytes gives 192 bits of entropy. Uniqueness rests on the random
	// source alone; there is no collision check against live sessions.
	tokenBytes = 24

	// RotatingSessionTTL bounds a rotating-session token's lifetime.
	RotatingSessionTTL = 24 * time.Hour

	// stickyGrace is added on top of the upstream sticky window so a
	// session outlives the window it fronts by a minute.
	stickyGrace = time.Minute
)

// Grant is the client-facing result of issuing a token: a connection
// descriptor pointing at the relay itself, with the token as username.
type Grant struct {
	Token     string     `json:"-"`
	ProxyURL  string     `json:"proxy_url"`
	ExpiresAt time.Time  `json:"expires_at"`
	Conn      Connection `json:"connection"`
}

type Connection struct {
	Scheme   string `json:"scheme"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type Broker struct {
	sessions cache.SessionStore
	host     string
	port     int
}

func New(sessions cache.SessionStore, host string, port int) *Broker {
	return &Broker{sessions: sessions, host: host, port: port}
}

// SessionTTL computes a token's lifetime from the session intent.
func SessionTTL(sticky bool, sessTTLMinutes int) time.Duration {
	if sticky {
		return time.Duration(sessTTLMinutes)*time.Minute + stickyGrace
	}
	return RotatingSessionTTL
}

// Issue mints a token for the selected proxy and stores the session in the
// cache. A failed cache write is returned as an error: handing out a token
// that will never resolve breaks the broker's one promise.
func (b *Broker) Issue(proxy *models.Proxy, effectiveURL string, sticky bool, sessTTLMinutes int) (*Grant, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	ttl := SessionTTL(sticky, sessTTLMinutes)

	sess := models.RelaySession{
		ProxyURL: effectiveURL,
		ProxyID:  proxy.ID,
		Sticky:   sticky,
	}
	if err := b.sessions.Put(token, sess, ttl); err != nil {
		return nil, fmt.Errorf("failed to store relay session: %v", err)
	}

	port := strconv.Itoa(b.port)
	return &Grant{
		Token:     token,
		ProxyURL:  fmt.Sprintf("http://%s:x@%s:%s", token, b.host, port),
		ExpiresAt: time.Now().Add(ttl),
		Conn: Connection{
			Scheme:   "http",
			Host:     b.host,
			Port:     port,
			Username: token,
			// The relay ignores the password; "x" is a placeholder so
			// proxy URL parsers keep the userinfo section.
			Password: "x",
		},
	}, nil
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate relay token: %v", err)
	}
	return hex.EncodeToString(buf), nil
}
