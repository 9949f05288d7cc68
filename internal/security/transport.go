// Package security guards outbound gateway calls.
//
// Gateway endpoints are read from the gateways table, so a bad row could
// point the dispatcher at internal infrastructure such as the instance
// metadata service. GuardedTransport resolves every dial target and refuses
// loopback, private, link-local and other non-routable ranges.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// dnsTimeout bounds resolution of a gateway host.
const dnsTimeout = 500 * time.Millisecond

var (
	// ErrBlockedEndpoint is returned when a gateway host resolves into a blocked range.
	ErrBlockedEndpoint = errors.New("gateway endpoint resolves to a blocked address")

	// ErrTooManyRedirects is returned when a provider redirects past the limit.
	ErrTooManyRedirects = errors.New("gateway redirected too many times")

	// ErrResolveFailed is returned when a gateway host cannot be resolved.
	ErrResolveFailed = errors.New("gateway host could not be resolved")
)

// BlockedCIDRs are the ranges no gateway call may reach.
var BlockedCIDRs = []string{
	"127.0.0.0/8",    // loopback
	"10.0.0.0/8",     // private
	"172.16.0.0/12",  // private
	"192.168.0.0/16", // private
	"169.254.0.0/16", // link-local, cloud metadata
	"0.0.0.0/8",
	"224.0.0.0/4", // multicast
	"240.0.0.0/4",
	"100.64.0.0/10", // carrier-grade NAT
	"198.18.0.0/15",
	"fc00::/7",
	"fe80::/10",
	"::1/128",
}

var blockedNets = mustParseCIDRs(BlockedCIDRs)

func mustParseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("security: bad CIDR %q: %v", c, err))
		}
		nets = append(nets, n)
	}
	return nets
}

// IsBlocked reports whether ip falls in any blocked range.
func IsBlocked(ip net.IP) bool {
	for _, n := range blockedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver abstracts DNS so tests can pin answers.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// GuardedTransport is an http.RoundTripper whose dialer checks every
// resolved address before connecting.
type GuardedTransport struct {
	Base     *http.Transport
	Resolver Resolver
}

// NewGuardedTransport installs the guarded dialer on base, or on a clone of
// http.DefaultTransport when base is nil.
func NewGuardedTransport(base *http.Transport) *GuardedTransport {
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}
	// Proxies would make the dial target the proxy, not the gateway.
	base.Proxy = nil
	gt := &GuardedTransport{Base: base}
	base.DialContext = gt.dialContext
	return gt
}

func (gt *GuardedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return gt.Base.RoundTrip(req)
}

func (gt *GuardedTransport) resolver() Resolver {
	if gt.Resolver != nil {
		return gt.Resolver
	}
	return net.DefaultResolver
}

// dialContext connects to the first resolved address only after all of them
// pass, so a mixed public/private answer is rejected as a whole.
func (gt *GuardedTransport) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid dial address %q: %w", addr, err)
	}

	ips, err := resolve(ctx, gt.resolver(), host)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
}

func resolve(ctx context.Context, r Resolver, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if IsBlocked(ip) {
			return nil, fmt.Errorf("%w: %s", ErrBlockedEndpoint, ip)
		}
		return []net.IP{ip}, nil
	}

	dnsCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	addrs, err := r.LookupIPAddr(dnsCtx, host)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrResolveFailed, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s has no addresses", ErrResolveFailed, host)
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		if IsBlocked(a.IP) {
			return nil, fmt.Errorf("%w: %s (%s)", ErrBlockedEndpoint, a.IP, host)
		}
		ips = append(ips, a.IP)
	}
	return ips, nil
}

// CheckRedirect limits redirects and applies the same address check to each
// redirect target.
func CheckRedirect(maxRedirects int, r Resolver) func(*http.Request, []*http.Request) error {
	if r == nil {
		r = net.DefaultResolver
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: limit is %d", ErrTooManyRedirects, maxRedirects)
		}
		host := req.URL.Hostname()
		if host == "" {
			return fmt.Errorf("%w: redirect has no host", ErrBlockedEndpoint)
		}
		_, err := resolve(req.Context(), r, host)
		return err
	}
}

// NewGatewayHTTPClient returns the client used for real provider calls.
func NewGatewayHTTPClient(timeout time.Duration, maxRedirects int) *http.Client {
	return &http.Client{
		Transport:     NewGuardedTransport(nil),
		Timeout:       timeout,
		CheckRedirect: CheckRedirect(maxRedirects, nil),
	}
}
