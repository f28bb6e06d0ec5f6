package proxynet

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Tunneler opens a byte stream to a target host:port by way of a proxy.
// The default implementation speaks HTTP CONNECT; alternative proxy
// stacks can swap in their own.
type Tunneler interface {
	Tunnel(ctx context.Context, proxy Proxy, target string) (net.Conn, error)
}

// connectTunneler establishes relays with an HTTP CONNECT handshake,
// attaching Basic proxy credentials when the proxy URL carries them.
type connectTunneler struct {
	dialer net.Dialer
}

func (t *connectTunneler) Tunnel(ctx context.Context, p Proxy, target string) (net.Conn, error) {
	scheme, addr, err := p.dialAddress()
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "", "http", "https":
	default:
		return nil, fmt.Errorf("proxy scheme %q cannot carry an HTTP tunnel", scheme)
	}

	raw, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial proxy: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		raw.SetDeadline(deadline)
	}

	conn := net.Conn(raw)
	if scheme == "https" {
		host, _, splitErr := net.SplitHostPort(addr)
		if splitErr != nil {
			raw.Close()
			return nil, splitErr
		}
		tlsConn := tls.Client(raw, &tls.Config{ServerName: host})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, fmt.Errorf("proxy TLS handshake failed: %w", err)
		}
		conn = tlsConn
	}

	var req bytes.Buffer
	fmt.Fprintf(&req, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n", target, target)
	if p.Username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(p.Username + ":" + p.Password))
		fmt.Fprintf(&req, "Proxy-Authorization: Basic %s\r\n", cred)
	}
	req.WriteString("\r\n")

	if _, err := conn.Write(req.Bytes()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send tunnel request: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("tunnel handshake failed: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy refused tunnel: %s", resp.Status)
	}

	// The handshake deadline is done; the caller owns timing from here.
	conn.SetDeadline(time.Time{})

	// Bytes the reader buffered past the response belong to the relay.
	if n := br.Buffered(); n > 0 {
		peeked, _ := br.Peek(n)
		return &bufferedConn{
			Conn:   conn,
			reader: io.MultiReader(bytes.NewReader(peeked), conn),
		}, nil
	}
	return conn, nil
}

// bufferedConn replays bytes the handshake reader consumed past the
// proxy response before handing reads back to the socket.
type bufferedConn struct {
	net.Conn
	reader io.Reader
}

func (c *bufferedConn) Read(b []byte) (int, error) { return c.reader.Read(b) }
