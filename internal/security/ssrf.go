// Package security guards browser navigation. Every navigate target is
// validated against scheme, host allowlist, and private/reserved IP rules
// before it reaches a driver.
package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pagelens/internal/domain"
)

// privateRanges lists private/reserved CIDR blocks blocked by default.
// Loopback ranges are kept separate so they can be permitted on their own.
var privateRanges = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"fc00::/7",
	"fe80::/10",
}

var loopbackRanges = []string{
	"127.0.0.0/8",
	"::1/128",
}

var (
	parsedPrivate  []*net.IPNet
	parsedLoopback []*net.IPNet
)

func init() {
	parsedPrivate = mustParseCIDRs(privateRanges)
	parsedLoopback = mustParseCIDRs(loopbackRanges)
}

func mustParseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %q: %v", cidr, err))
		}
		nets = append(nets, ipnet)
	}
	return nets
}

// Config selects which navigation targets the guard admits.
type Config struct {
	// AllowPrivate permits RFC 1918 and link-local addresses.
	AllowPrivate bool
	// AllowLoopback permits 127.0.0.0/8 and ::1.
	AllowLoopback bool
	// AllowedHosts restricts navigation to the listed hosts and their
	// subdomains when non-empty.
	AllowedHosts []string
}

// Guard validates navigation targets before they reach a browser.
type Guard struct {
	allowPrivate  bool
	allowLoopback bool
	allowedHosts  []string
}

// NewGuard builds a navigation guard from config. Host entries are
// normalized to lowercase.
func NewGuard(cfg Config) *Guard {
	hosts := make([]string, 0, len(cfg.AllowedHosts))
	for _, h := range cfg.AllowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return &Guard{
		allowPrivate:  cfg.AllowPrivate,
		allowLoopback: cfg.AllowLoopback,
		allowedHosts:  hosts,
	}
}

// ValidateURL checks that a navigation target is an http/https URL whose
// host is allowed and does not resolve to a blocked IP. Names are resolved
// here, so a host with any blocked address is rejected before the browser
// ever connects.
func (g *Guard) ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return domain.NewDomainError("Guard.ValidateURL", domain.ErrSSRFBlocked,
			fmt.Sprintf("invalid URL: %v", err))
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "":
		return domain.NewDomainError("Guard.ValidateURL", domain.ErrSSRFBlocked,
			"missing URL scheme, only http/https allowed")
	default:
		return domain.NewDomainError("Guard.ValidateURL", domain.ErrSSRFBlocked,
			fmt.Sprintf("scheme %q not allowed, only http/https", u.Scheme))
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return domain.NewDomainError("Guard.ValidateURL", domain.ErrSSRFBlocked, "empty hostname")
	}

	if !g.hostAllowed(host) {
		return domain.NewDomainError("Guard.ValidateURL", domain.ErrSSRFBlocked,
			fmt.Sprintf("host %q is not in the allowed list", host))
	}

	// Direct IP literal needs no resolution.
	if ip := net.ParseIP(host); ip != nil {
		return g.checkIP(host, ip)
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return domain.NewDomainError("Guard.ValidateURL", domain.ErrSSRFBlocked,
			fmt.Sprintf("DNS lookup failed: %v", err))
	}
	for _, ip := range ips {
		if err := g.checkIP(host, ip); err != nil {
			return err
		}
	}
	return nil
}

func (g *Guard) hostAllowed(host string) bool {
	if len(g.allowedHosts) == 0 {
		return true
	}
	for _, allowed := range g.allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func (g *Guard) checkIP(host string, ip net.IP) error {
	if IsLoopbackIP(ip) {
		if g.allowLoopback {
			return nil
		}
		return domain.NewDomainError("Guard.ValidateURL", domain.ErrSSRFBlocked,
			fmt.Sprintf("host %s resolves to loopback IP %s", host, ip))
	}
	if IsPrivateIP(ip) {
		if g.allowPrivate {
			return nil
		}
		return domain.NewDomainError("Guard.ValidateURL", domain.ErrSSRFBlocked,
			fmt.Sprintf("host %s resolves to private/reserved IP %s", host, ip))
	}
	return nil
}

// IsPrivateIP checks if an IP falls within a private/reserved range other
// than loopback.
func IsPrivateIP(ip net.IP) bool {
	// Normalize IPv4-mapped IPv6 to IPv4
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, ipnet := range parsedPrivate {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

// IsLoopbackIP checks if an IP is a loopback address.
func IsLoopbackIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, ipnet := range parsedLoopback {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

// NewSafeTransport creates an HTTP transport that enforces the guard's IP
// rules at dial time and connects directly to the validated IP. This
// prevents DNS rebinding between validation and connection. Used by the
// static-fetch path, which talks HTTP itself instead of driving a browser.
func NewSafeTransport(g *Guard) *http.Transport {
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, fmt.Errorf("invalid address: %w", err)
			}

			// Resolve DNS once
			ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, domain.NewDomainError("SafeTransport.Dial", err,
					fmt.Sprintf("DNS lookup failed for %s", host))
			}
			if len(ips) == 0 {
				return nil, domain.NewDomainError("SafeTransport.Dial",
					fmt.Errorf("no IPs resolved"), host)
			}

			// Validate ALL resolved IPs
			for _, ip := range ips {
				if err := g.checkIP(host, ip.IP); err != nil {
					return nil, err
				}
			}

			// Connect directly to the first validated IP (no second DNS lookup)
			dialer := &net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}
			return dialer.DialContext(ctx, network,
				net.JoinHostPort(ips[0].IP.String(), port))
		},
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
