// Package proxynet parses proxy URLs and discovers the externally
// visible address reachable through them. Discovery runs as a two-phase
// operation: an HTTP CONNECT handshake opens a raw relay through the
// proxy, then TLS and a minimal HTTPS request are layered on top to ask
// an echo endpoint which address it sees.
package proxynet

import (
	"fmt"
	"net"
	"net/url"
)

// Proxy is a proxy address with credentials split out of the URL, the
// shape browser launch options expect.
type Proxy struct {
	Server   string
	Username string
	Password string
}

// Parse splits credentials out of a proxy URL. Server keeps scheme,
// host, port and path; query and fragment are dropped; username and
// password come back percent-decoded, with an empty password omitted.
// A URL without a username, or a string that does not parse as a URL
// at all, passes through verbatim in Server. Parse never fails.
func Parse(raw string) Proxy {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil || u.User.Username() == "" {
		return Proxy{Server: raw}
	}

	host := u.Hostname()
	if port := u.Port(); port != "" {
		host = net.JoinHostPort(host, port)
	}
	server := url.URL{Scheme: u.Scheme, Host: host, Path: u.Path}

	p := Proxy{
		Server:   server.String(),
		Username: u.User.Username(),
	}
	if password, ok := u.User.Password(); ok && password != "" {
		p.Password = password
	}
	return p
}

// String rebuilds a dialable URL with the credentials embedded again.
func (p Proxy) String() string {
	if p.Username == "" {
		return p.Server
	}
	u, err := url.Parse(p.Server)
	if err != nil {
		return p.Server
	}
	if p.Password != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	} else {
		u.User = url.User(p.Username)
	}
	return u.String()
}

// dialAddress returns the proxy's scheme and host:port for dialing,
// defaulting the port from the scheme when the URL omits it.
func (p Proxy) dialAddress() (scheme, addr string, err error) {
	u, err := url.Parse(p.Server)
	if err != nil {
		return "", "", fmt.Errorf("invalid proxy address %q: %w", p.Server, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", "", fmt.Errorf("proxy address %q has no host", p.Server)
	}

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		case "socks5", "socks5h":
			port = "1080"
		default:
			port = "80"
		}
	}
	return u.Scheme, net.JoinHostPort(host, port), nil
}
