// Package httpclient builds the HTTP clients used to talk to the target API
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ClientConfig configures the probe HTTP client
type ClientConfig struct {
	Timeout         time.Duration
	BlockPrivate    bool // If true, refuses to dial private, loopback and link-local addresses
	FollowRedirects bool
	MaxRedirects    int
}

// DefaultConfig returns the configuration used for account probes
func DefaultConfig() ClientConfig {
	return ClientConfig{
		Timeout:         10 * time.Second,
		BlockPrivate:    false,
		FollowRedirects: true,
		MaxRedirects:    10,
	}
}

// NewClient creates an HTTP client with
// - Timeout enforcement
// - Optional private address blocking
// - Configurable redirect following
func NewClient(config ClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if config.BlockPrivate {
				if err := validateAddress(ctx, addr); err != nil {
					return nil, fmt.Errorf("private address blocked: %w", err)
				}
			}

			var dialer net.Dialer
			return dialer.DialContext(ctx, network, addr)
		},

		// One sequential caller, one host
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client := &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
	}

	if !config.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else if config.MaxRedirects > 0 {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= config.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", config.MaxRedirects)
			}
			return nil
		}
	}

	return client
}

// IsTimeout reports whether err is a client, dial or context deadline timeout
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// validateAddress checks if an address resolves to a private IP
func validateAddress(ctx context.Context, addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", host, err)
	}

	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("blocked private IP: %s (%s)", ip, host)
		}
	}

	return nil
}

// isPrivateIP checks if an IP address is private, loopback, link-local or unspecified
func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() ||
		ip.IsUnspecified()
}
