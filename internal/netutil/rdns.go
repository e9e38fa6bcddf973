package netutil

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const defaultRDNSTimeout = 2500 * time.Millisecond

// ReverseResolver answers PTR lookups for endpoint IPs that have no DHCP
// hostname. Lookups are bounded by a per-IP timeout and fall back to the IP
// string on any failure.
type ReverseResolver struct {
	nameservers []string
	timeout     time.Duration
	client      *dns.Client

	// system resolver used when no nameservers are configured
	fallback *net.Resolver
}

// NewReverseResolver builds a resolver querying the given nameservers
// (host or host:port). With no nameservers the system resolver is used.
func NewReverseResolver(nameservers []string, timeout time.Duration) *ReverseResolver {
	if timeout <= 0 {
		timeout = defaultRDNSTimeout
	}
	normalized := make([]string, 0, len(nameservers))
	for _, ns := range nameservers {
		ns = strings.TrimSpace(ns)
		if ns == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(ns); err != nil {
			ns = net.JoinHostPort(ns, "53")
		}
		normalized = append(normalized, ns)
	}
	return &ReverseResolver{
		nameservers: normalized,
		timeout:     timeout,
		client:      &dns.Client{Timeout: timeout},
		fallback:    &net.Resolver{},
	}
}

// Lookup resolves ip to a hostname. The returned name never carries the
// trailing dot; on any failure the IP string itself is returned.
func (r *ReverseResolver) Lookup(ctx context.Context, ip string) string {
	if name := r.lookupName(ctx, ip); name != "" {
		return name
	}
	return ip
}

func (r *ReverseResolver) lookupName(ctx context.Context, ip string) string {
	if len(r.nameservers) == 0 {
		return r.lookupSystem(ctx, ip)
	}

	ptr, err := dns.ReverseAddr(ip)
	if err != nil {
		return ""
	}
	msg := new(dns.Msg)
	msg.SetQuestion(ptr, dns.TypePTR)

	for _, ns := range r.nameservers {
		resp, _, err := r.client.ExchangeContext(ctx, msg, ns)
		if err != nil || resp == nil {
			continue
		}
		for _, answer := range resp.Answer {
			if p, ok := answer.(*dns.PTR); ok {
				return strings.TrimSuffix(p.Ptr, ".")
			}
		}
	}
	return ""
}

func (r *ReverseResolver) lookupSystem(ctx context.Context, ip string) string {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	names, err := r.fallback.LookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}
