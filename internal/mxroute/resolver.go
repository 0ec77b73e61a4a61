package mxroute

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

var errNoResolver = errors.New("no resolver configured")

// NetResolver queries MX records through one nameserver, or the system resolver when Addr is empty.
type NetResolver struct {
	Addr     string
	resolver *net.Resolver
}

// NewNetResolver creates a resolver bound to addr ("1.1.1.1" or "1.1.1.1:53"); empty uses the system resolver.
func NewNetResolver(addr string, dialTimeout time.Duration) *NetResolver {
	if addr == "" {
		return &NetResolver{resolver: net.DefaultResolver}
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(strings.Trim(addr, "[]"), "53")
	}
	dialer := &net.Dialer{Timeout: dialTimeout}
	return &NetResolver{
		Addr: addr,
		resolver: &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, addr)
			},
		},
	}
}

// LookupMX returns the MX hostnames for domain, preference-ordered
func (r *NetResolver) LookupMX(ctx context.Context, domain string) ([]string, error) {
	records, err := r.resolver.LookupMX(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("mx lookup %s via %s: %w", domain, r.name(), err)
	}
	hosts := make([]string, 0, len(records))
	for _, mx := range records {
		hosts = append(hosts, mx.Host)
	}
	return hosts, nil
}

func (r *NetResolver) name() string {
	if r.Addr == "" {
		return "system resolver"
	}
	return r.Addr
}

// ResolversFromConfig returns the primary and alternate resolvers for a nameserver list.
// The first entry is primary, the second alternate; missing entries fall back to the system resolver.
func ResolversFromConfig(servers []string, timeout time.Duration) (Resolver, Resolver) {
	var primary, alternate string
	if len(servers) > 0 {
		primary = strings.TrimSpace(servers[0])
	}
	if len(servers) > 1 {
		alternate = strings.TrimSpace(servers[1])
	}
	return NewNetResolver(primary, timeout), NewNetResolver(alternate, timeout)
}
