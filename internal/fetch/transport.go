package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrPrivateAddress is returned when a public-only client is pointed at a
// loopback, private or link-local address.
var ErrPrivateAddress = errors.New("access to private address denied")

// NewPublicTransport returns a transport that refuses connections to private,
// loopback and link-local IPs. The check runs on the connected address, so
// hostnames that resolve to internal ranges are refused too.
func NewPublicTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 5 * time.Second}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}

			host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
			ip := net.ParseIP(host)
			if ip == nil {
				conn.Close()
				return nil, fmt.Errorf("failed to parse remote IP for %q", addr)
			}

			if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
				conn.Close()
				return nil, fmt.Errorf("%w: %s", ErrPrivateAddress, ip)
			}

			return conn, nil
		},
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// WithPublicOnly refuses fixture URLs that point at internal hosts.
func WithPublicOnly() Option {
	return func(c *Client) {
		c.httpClient = &http.Client{
			Timeout:   c.httpClient.Timeout,
			Transport: NewPublicTransport(),
		}
	}
}
