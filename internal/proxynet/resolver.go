package proxynet

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/CloakHQ/cloakbrowser/internal/config"
	"github.com/CloakHQ/cloakbrowser/internal/logging"
)

// maxEchoBody caps how much of an echo response is read; addresses are
// short.
const maxEchoBody = 256

// ipLookuper is the slice of net.Resolver the gateway fallback uses.
type ipLookuper interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Resolver discovers proxy addresses two ways: the exit address as echo
// endpoints see it through the proxy, and the gateway address resolved
// from the proxy URL itself. Both paths degrade to an empty string
// rather than failing.
type Resolver struct {
	cfg      *config.Config
	log      *logging.Logger
	tunneler Tunneler
	lookup   ipLookuper

	// tlsConfig overrides the endpoint TLS setup; nil means system roots.
	tlsConfig *tls.Config
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithTunneler swaps the relay implementation.
func WithTunneler(t Tunneler) ResolverOption {
	return func(r *Resolver) {
		if t != nil {
			r.tunneler = t
		}
	}
}

// NewResolver creates a Resolver. A nil cfg or log falls back to
// defaults.
func NewResolver(cfg *config.Config, log *logging.Logger, opts ...ResolverOption) *Resolver {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.NewNop()
	}
	r := &Resolver{
		cfg:      cfg,
		log:      log,
		tunneler: &connectTunneler{},
		lookup:   net.DefaultResolver,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ExitIP returns the address echo endpoints observe when reached
// through the proxy, or "" when every endpoint fails. The exit address
// is advisory; this never returns an error.
func (r *Resolver) ExitIP(ctx context.Context, proxyURL string) string {
	p := Parse(proxyURL)
	for _, endpoint := range r.cfg.Proxy.EchoEndpoints {
		ip, err := r.echo(ctx, p, endpoint)
		if err != nil {
			r.log.Debug("echo endpoint failed",
				zap.String("endpoint", endpoint),
				zap.Error(err))
			continue
		}
		r.log.Debug("exit address resolved",
			zap.String("endpoint", endpoint),
			zap.String("ip", ip))
		return ip
	}
	r.log.Debug("no echo endpoint reachable through proxy",
		zap.String("server", p.Server))
	return ""
}

// ProxyIP resolves the proxy URL's own hostname: the gateway address,
// which for multi-hop proxies may differ from the exit. Literal
// addresses short-circuit without a DNS query. Returns "" on any
// failure.
func (r *Resolver) ProxyIP(ctx context.Context, proxyURL string) string {
	u, err := url.Parse(proxyURL)
	if err != nil {
		r.log.Debug("unparseable proxy url", zap.Error(err))
		return ""
	}
	host := u.Hostname()
	if host == "" {
		return ""
	}

	if net.ParseIP(host) != nil {
		return host
	}

	addrs, err := r.lookup.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		r.log.Debug("failed to resolve proxy hostname",
			zap.String("host", host),
			zap.Error(err))
		return ""
	}
	ip := addrs[0].IP.String()
	r.log.Debug("resolved proxy hostname",
		zap.String("host", host),
		zap.String("ip", ip))
	return ip
}

// echo tunnels to one endpoint and reads back the address it reports.
func (r *Resolver) echo(ctx context.Context, p Proxy, endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("bad endpoint %q: %w", endpoint, err)
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if u.Scheme == "http" {
			port = "80"
		} else {
			port = "443"
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.ProxyTimeout())
	defer cancel()

	conn, err := r.tunneler.Tunnel(attemptCtx, p, net.JoinHostPort(host, port))
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if deadline, ok := attemptCtx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	stream := conn
	if u.Scheme != "http" {
		tlsCfg := r.tlsConfig.Clone()
		if tlsCfg == nil {
			tlsCfg = &tls.Config{}
		}
		tlsCfg.ServerName = host
		tlsConn := tls.Client(conn, tlsCfg)
		if err := tlsConn.HandshakeContext(attemptCtx); err != nil {
			return "", fmt.Errorf("tls handshake with %s failed: %w", host, err)
		}
		stream = tlsConn
	}

	body, err := echoRequest(stream, u)
	if err != nil {
		return "", err
	}

	ip := strings.TrimSpace(body)
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("endpoint %s returned %q, not an address", endpoint, ip)
	}
	return ip, nil
}

// echoRequest issues a minimal GET over an established stream and
// returns the body.
func echoRequest(conn net.Conn, u *url.URL) (string, error) {
	path := u.RequestURI()
	if path == "" {
		path = "/"
	}
	req := fmt.Sprintf(
		"GET %s HTTP/1.1\r\nHost: %s\r\nUser-Agent: cloakbrowser\r\nAccept: text/plain\r\nConnection: close\r\n\r\n",
		path, u.Host)
	if _, err := io.WriteString(conn, req); err != nil {
		return "", fmt.Errorf("request write failed: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		return "", fmt.Errorf("response read failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEchoBody))
	if err != nil {
		return "", fmt.Errorf("body read failed: %w", err)
	}
	return string(body), nil
}
