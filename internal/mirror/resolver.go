package mirror

import (
	"context"
	"log/slog"
	"math/rand"
	"net"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/miekg/dns"
)

const (
	// secondaryPoolHost is the fixed fallback pool that every run
	// consults in addition to the configured primary host.
	secondaryPoolHost = "database.clamav.net"

	resolvConf = "/etc/resolv.conf"
	dnsTimeout = 2 * time.Second
)

// Resolver discovers mirror addresses by querying the distribution
// domain's own authoritative name servers instead of trusting a
// possibly stale system resolver.
type Resolver struct {
	domain string

	// endpoints are resolver addresses ("ip:53") discovered from the
	// domain's NS records, cached for the lifetime of the run.
	endpoints []string

	// exchange and sleep are injectable for tests.
	exchange func(ctx context.Context, m *dns.Msg, server string) (*dns.Msg, error)
	sleep    func(time.Duration)

	// bootstrap overrides the system resolver configuration.
	bootstrap []string
}

// NewResolver creates a Resolver for the given distribution domain.
func NewResolver(domain string) *Resolver {
	client := &dns.Client{Timeout: dnsTimeout}
	r := &Resolver{
		domain: domain,
	}
	r.exchange = func(ctx context.Context, m *dns.Msg, server string) (*dns.Msg, error) {
		in, _, err := client.ExchangeContext(ctx, m, server)
		return in, err
	}
	return r
}

// Resolve returns the deduplicated address pool for hostname.
// It retries the whole discovery pass on empty answers and fails the
// run when the attempt budget is exhausted.
func (r *Resolver) Resolve(ctx context.Context, hostname string) ([]string, error) {
	policy := RetryPolicy{
		MaxAttempts: resolveAttempts,
		Delay:       retryPause,
		Sleep:       r.sleep,
	}

	var addrs []string
	err := policy.Do(ctx, func(ctx context.Context) error {
		found, err := r.lookupA(ctx, hostname)
		if err != nil {
			slog.Warn("address lookup failed", "host", hostname, "error", err)
			// force a fresh endpoint discovery on the next pass
			r.endpoints = nil
			return err
		}
		addrs = found
		return nil
	})
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "resolve "+hostname), ErrResolveExhausted)
	}

	slog.Debug("resolved mirror addresses", "host", hostname, "count", len(addrs))
	return addrs, nil
}

// ResolvePool resolves the primary host and the fixed secondary pool
// host and returns the union of their addresses.
func (r *Resolver) ResolvePool(ctx context.Context, primary string) ([]string, error) {
	pool, err := r.Resolve(ctx, primary)
	if err != nil {
		return nil, err
	}
	if primary != secondaryPoolHost {
		secondary, err := r.Resolve(ctx, secondaryPoolHost)
		if err != nil {
			return nil, err
		}
		pool = append(pool, secondary...)
	}
	return dedup(pool), nil
}

// discoverEndpoints builds the randomized resolver endpoint list from
// the domain's NS records.
func (r *Resolver) discoverEndpoints(ctx context.Context) ([]string, error) {
	if r.endpoints != nil {
		return r.endpoints, nil
	}

	bootstrap := r.bootstrap
	if bootstrap == nil {
		conf, err := dns.ClientConfigFromFile(resolvConf)
		if err != nil {
			return nil, errors.Wrap(err, "reading resolver configuration")
		}
		for _, s := range conf.Servers {
			bootstrap = append(bootstrap, net.JoinHostPort(s, conf.Port))
		}
	}
	if len(bootstrap) == 0 {
		return nil, errors.New("no bootstrap name servers")
	}

	nsNames, err := r.queryNS(ctx, bootstrap, r.domain)
	if err != nil {
		return nil, err
	}

	var endpoints []string
	for _, ns := range nsNames {
		addrs, err := r.queryA(ctx, bootstrap, ns)
		if err != nil {
			slog.Debug("name server did not resolve", "ns", ns, "error", err)
			continue
		}
		for _, a := range addrs {
			endpoints = append(endpoints, net.JoinHostPort(a, "53"))
		}
	}
	if len(endpoints) == 0 {
		return nil, errors.New("no usable name servers for " + r.domain)
	}

	endpoints = dedup(endpoints)
	rand.Shuffle(len(endpoints), func(i, j int) {
		endpoints[i], endpoints[j] = endpoints[j], endpoints[i]
	})
	r.endpoints = endpoints
	return endpoints, nil
}

func (r *Resolver) queryNS(ctx context.Context, servers []string, domain string) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeNS)

	in, err := r.exchangeAny(ctx, msg, servers)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, rr := range in.Answer {
		if ns, ok := rr.(*dns.NS); ok {
			names = append(names, ns.Ns)
		}
	}
	if len(names) == 0 {
		return nil, errors.New("no NS records for " + domain)
	}
	return names, nil
}

func (r *Resolver) queryA(ctx context.Context, servers []string, host string) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)

	in, err := r.exchangeAny(ctx, msg, servers)
	if err != nil {
		return nil, err
	}

	var addrs []string
	for _, rr := range in.Answer {
		if a, ok := rr.(*dns.A); ok {
			addrs = append(addrs, a.A.String())
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("no address records for " + host)
	}
	return addrs, nil
}

// lookupA resolves host through the discovered endpoint list.
func (r *Resolver) lookupA(ctx context.Context, host string) ([]string, error) {
	endpoints, err := r.discoverEndpoints(ctx)
	if err != nil {
		return nil, err
	}
	addrs, err := r.queryA(ctx, endpoints, host)
	if err != nil {
		return nil, err
	}
	return dedup(addrs), nil
}

// lookupTXT fetches the first TXT value for host through the
// discovered endpoint list.
func (r *Resolver) lookupTXT(ctx context.Context, host string) (string, error) {
	endpoints, err := r.discoverEndpoints(ctx)
	if err != nil {
		return "", err
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeTXT)

	in, err := r.exchangeAny(ctx, msg, endpoints)
	if err != nil {
		return "", err
	}
	for _, rr := range in.Answer {
		if txt, ok := rr.(*dns.TXT); ok && len(txt.Txt) > 0 {
			return txt.Txt[0], nil
		}
	}
	return "", errors.New("no TXT records for " + host)
}

// exchangeAny tries each server in order and returns the first answer
// that carries records.
func (r *Resolver) exchangeAny(ctx context.Context, msg *dns.Msg, servers []string) (*dns.Msg, error) {
	var lastErr error
	for _, server := range servers {
		in, err := r.exchange(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		if in.Rcode != dns.RcodeSuccess {
			lastErr = errors.Newf("query refused by %s: %s", server, dns.RcodeToString[in.Rcode])
			continue
		}
		if len(in.Answer) == 0 {
			lastErr = errors.New("empty answer from " + server)
			continue
		}
		return in, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no name servers available")
	}
	return nil, lastErr
}

func dedup(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
