// Package fetchguard rejects remote source URLs that could be used for
// server-side request forgery.
//
// IsSafe is a pre-DNS, string-based check of the URL. It cannot see what a
// hostname resolves to, so a name that later resolves (or re-binds) to a
// private address passes it. Clients built with NewClient also re-check the
// resolved IP when the connection is made.
package fetchguard

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ErrBlockedAddress is returned when a connection targets a disallowed address.
var ErrBlockedAddress = errors.New("fetchguard: address not allowed")

const maxRedirects = 3

var blockedHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"0.0.0.0":   true,
	"::1":       true,
	"::":        true,
}

// IsSafe reports whether rawURL may be fetched. Only http and https are
// allowed, and loopback or private (10/8, 172.16/12, 192.168/16) hosts are
// rejected.
func IsSafe(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return false
	}
	if blockedHosts[host] || strings.HasSuffix(host, ".localhost") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return !isBlockedIP(ip)
	}
	return true
}

func isBlockedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast()
}

// Control is a net.Dialer control hook that refuses to connect to blocked
// addresses. It runs after DNS resolution, so it also covers hostnames
// that resolve to private ranges.
func Control(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	ip := net.ParseIP(host)
	if ip == nil || isBlockedIP(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	return nil
}

// NewDialer returns a dialer that applies Control to every connection.
func NewDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
		Control:   Control,
	}
}

// NewClient returns an HTTP client for fetching untrusted URLs. Proxies
// are disabled, every redirect target must pass IsSafe, and the resolved
// address is re-checked at connect time.
func NewClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = NewDialer(timeout).DialContext

	return &http.Client{
		Timeout:       timeout,
		Transport:     transport,
		CheckRedirect: CheckRedirect,
	}
}

// CheckRedirect limits redirect chains and re-validates each hop.
func CheckRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("too many redirects")
	}
	if !IsSafe(req.URL.String()) {
		return fmt.Errorf("%w: redirect to %s", ErrBlockedAddress, req.URL.Redacted())
	}
	return nil
}
