// Package relay implements the tunnel server: clients connect with a relay
// token as their proxy username and the server forwards their traffic to the
// real upstream proxy. The upstream's address and credentials never reach
// the client, and the client's token never reaches the upstream.
//
// Two modes are supported per inbound request:
//   - HTTP CONNECT: an opaque bidirectional byte pipe (TLS traffic).
//   - Plain HTTP: absolute-URI proxy requests forwarded upstream.
package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"proxy-gateway/pkg/cache"
)

// maxUpstreamHeader bounds how many upstream bytes are buffered while
// waiting for the CONNECT response header block.
const maxUpstreamHeader = 16 * 1024

type Server struct {
	sessions cache.SessionStore
	logger   *slog.Logger
	httpSrv  *http.Server
}

func NewServer(sessions cache.SessionStore, logger *slog.Logger) *Server {
	return &Server{sessions: sessions, logger: logger}
}

// ListenAndServe runs the relay listener. Each accepted connection is an
// independent goroutine (net/http's per-connection model); connections never
// block on each other and the only shared state is the session lookup.
func (s *Server) ListenAndServe(addr string) error {
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s,
	}
	s.logger.Info("Proxy relay listening", "addr", addr)
	err := s.httpSrv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay listener failed: %v", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		s.handleConnect(w, r)
		return
	}
	s.handleHTTP(w, r)
}

// handleConnect tunnels a CONNECT request through the real upstream proxy.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	clientConn, clientRW, err := hijacker.Hijack()
	if err != nil {
		s.logger.Error("Hijack failed", "error", err)
		return
	}

	token := extractToken(r)
	if token == "" {
		deny(clientConn, "HTTP/1.1 407 Proxy Authentication Required", `Proxy-Authenticate: Basic realm="relay"`)
		return
	}

	sess, err := s.sessions.Resolve(token)
	if err != nil {
		s.logger.Debug("Relay session resolution failed", "token", tokenPrefix(token), "error", err)
		deny(clientConn, "HTTP/1.1 403 Forbidden")
		return
	}

	up, err := parseUpstream(sess.ProxyURL)
	if err != nil {
		s.logger.Error("Corrupt upstream URL in relay session", "proxyID", sess.ProxyID, "error", err)
		deny(clientConn, "HTTP/1.1 502 Bad Gateway")
		return
	}

	upConn, err := net.Dial("tcp", up.addr())
	if err != nil {
		s.logger.Error("Relay upstream connect error", "error", err)
		deny(clientConn, "HTTP/1.1 502 Bad Gateway")
		return
	}

	// Forward the CONNECT to the real upstream with its own credentials.
	var req strings.Builder
	fmt.Fprintf(&req, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n", r.Host, r.Host)
	if up.authHeader != "" {
		fmt.Fprintf(&req, "Proxy-Authorization: %s\r\n", up.authHeader)
	}
	req.WriteString("\r\n")
	if _, err := upConn.Write([]byte(req.String())); err != nil {
		s.logger.Error("Relay upstream write error", "error", err)
		deny(clientConn, "HTTP/1.1 502 Bad Gateway")
		upConn.Close()
		return
	}

	statusLine, leftover, err := readUpstreamHeader(upConn)
	if err != nil {
		s.logger.Error("Relay upstream header read error", "error", err)
		deny(clientConn, "HTTP/1.1 502 Bad Gateway")
		upConn.Close()
		return
	}

	if !statusIs2xx(statusLine) {
		s.logger.Warn("Upstream rejected CONNECT",
			"token", tokenPrefix(token),
			"status", statusLine)
		deny(clientConn, "HTTP/1.1 502 Bad Gateway")
		upConn.Close()
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		clientConn.Close()
		upConn.Close()
		return
	}

	// Upstream bytes already read past the header block belong to the
	// client; client bytes already buffered by the server belong upstream.
	if len(leftover) > 0 {
		if _, err := clientConn.Write(leftover); err != nil {
			clientConn.Close()
			upConn.Close()
			return
		}
	}
	if n := clientRW.Reader.Buffered(); n > 0 {
		preamble, _ := clientRW.Reader.Peek(n)
		if _, err := upConn.Write(preamble); err != nil {
			clientConn.Close()
			upConn.Close()
			return
		}
		clientRW.Reader.Discard(n)
	}

	// From here on: pure byte forwarding, no parsing, no extra buffering.
	pipe(clientConn, upConn)
}

// handleHTTP forwards a plain absolute-URI HTTP request through the
// upstream proxy and streams the response back untouched.
func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	// A relative target means the client is talking to us as an origin
	// server, not a proxy.
	if !r.URL.IsAbs() {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	token := extractToken(r)
	if token == "" {
		w.Header().Set("Proxy-Authenticate", `Basic realm="relay"`)
		w.WriteHeader(http.StatusProxyAuthRequired)
		return
	}

	sess, err := s.sessions.Resolve(token)
	if err != nil {
		s.logger.Debug("Relay session resolution failed", "token", tokenPrefix(token), "error", err)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	up, err := parseUpstream(sess.ProxyURL)
	if err != nil {
		s.logger.Error("Corrupt upstream URL in relay session", "proxyID", sess.ProxyID, "error", err)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	upConn, err := net.Dial("tcp", up.addr())
	if err != nil {
		s.logger.Error("HTTP relay upstream connect error", "error", err)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	defer upConn.Close()

	// Rebuild the request for the upstream proxy: same absolute URI, the
	// client's headers minus its relay credentials, plus the upstream's own.
	var req strings.Builder
	fmt.Fprintf(&req, "%s %s HTTP/1.1\r\n", r.Method, r.URL.String())
	fmt.Fprintf(&req, "Host: %s\r\n", r.Host)
	for name, values := range r.Header {
		if isSkippedHeader(name) {
			continue
		}
		for _, v := range values {
			fmt.Fprintf(&req, "%s: %s\r\n", name, v)
		}
	}
	if up.authHeader != "" {
		fmt.Fprintf(&req, "Proxy-Authorization: %s\r\n", up.authHeader)
	}
	req.WriteString("Connection: close\r\n\r\n")

	if _, err := upConn.Write([]byte(req.String())); err != nil {
		s.logger.Error("HTTP relay upstream write error", "error", err)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	if r.Body != nil {
		if _, err := io.Copy(upConn, r.Body); err != nil {
			s.logger.Error("HTTP relay body forward error", "error", err)
			http.Error(w, "Bad Gateway", http.StatusBadGateway)
			return
		}
	}

	// Hijack so the upstream's status line, headers and body reach the
	// client byte-for-byte.
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		s.logger.Error("Hijack failed", "error", err)
		return
	}
	defer clientConn.Close()

	io.Copy(clientConn, upConn)
}

// pipe relays bytes both ways until either side closes, then tears down
// both connections.
func pipe(a, b net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		io.Copy(a, b)
		// Unblock the opposite copy once this direction dies.
		a.Close()
		b.Close()
	}()
	go func() {
		defer wg.Done()
		io.Copy(b, a)
		a.Close()
		b.Close()
	}()

	wg.Wait()
}

// extractToken pulls the relay token from Proxy-Authorization. Clients set
// the proxy as http://TOKEN:x@relay-host:port, so the token is the username
// field of Basic auth; the password is ignored.
func extractToken(r *http.Request) string {
	auth := r.Header.Get("Proxy-Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return ""
	}
	token, _, _ := strings.Cut(string(decoded), ":")
	return token
}

type upstream struct {
	host       string
	port       string
	authHeader string
}

func (u upstream) addr() string {
	return net.JoinHostPort(u.host, u.port)
}

func parseUpstream(proxyURL string) (upstream, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return upstream{}, fmt.Errorf("invalid upstream URL: %v", err)
	}
	if u.Hostname() == "" || u.Port() == "" {
		return upstream{}, fmt.Errorf("upstream URL missing host or port")
	}

	up := upstream{host: u.Hostname(), port: u.Port()}
	if u.User != nil && u.User.Username() != "" {
		password, _ := u.User.Password()
		creds := u.User.Username() + ":" + password
		up.authHeader = "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
	}
	return up, nil
}

// readUpstreamHeader buffers upstream bytes until the header-terminating
// blank line, returning the status line and any bytes past the delimiter.
func readUpstreamHeader(conn net.Conn) (string, []byte, error) {
	buf := make([]byte, 0, 512)
	chunk := make([]byte, 1024)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if idx := strings.Index(string(buf), "\r\n\r\n"); idx != -1 {
				statusLine, _, _ := strings.Cut(string(buf[:idx]), "\r\n")
				return statusLine, buf[idx+4:], nil
			}
			if len(buf) > maxUpstreamHeader {
				return "", nil, fmt.Errorf("upstream header block exceeds %d bytes", maxUpstreamHeader)
			}
		}
		if err != nil {
			return "", nil, fmt.Errorf("reading upstream response: %v", err)
		}
	}
}

func statusIs2xx(statusLine string) bool {
	fields := strings.Fields(statusLine)
	return len(fields) >= 2 && strings.HasPrefix(fields[1], "2")
}

func isSkippedHeader(name string) bool {
	return strings.EqualFold(name, "Proxy-Authorization") ||
		strings.EqualFold(name, "Proxy-Connection") ||
		strings.EqualFold(name, "Connection")
}

func deny(conn net.Conn, statusLine string, headers ...string) {
	var resp strings.Builder
	resp.WriteString(statusLine + "\r\n")
	for _, h := range headers {
		resp.WriteString(h + "\r\n")
	}
	resp.WriteString("Content-Length: 0\r\n\r\n")
	conn.Write([]byte(resp.String()))
	conn.Close()
}

// tokenPrefix redacts a token for logging: at most the first 8 characters.
func tokenPrefix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "…"
}
