// Package dns resolves SIP registrars of account domains.
package dns

//go:generate go tool errtrace -w .

import (
	"cmp"
	"context"
	"net"
	"slices"
	"strings"
	"time"

	"braces.dev/errtrace"
	"github.com/miekg/dns"

	"github.com/ghettovoice/multisip/internal/syncutil"
)

// Resolver queries SRV and NAPTR records of registrar domains.
// Answers are cached for the smallest TTL of the answer section.
// The zero value uses the first nameserver of /etc/resolv.conf.
type Resolver struct {
	// NameServer is the DNS server address, e.g. "8.8.8.8:53" or "8.8.8.8".
	NameServer string
	// Timeout of one query. If zero, 5 seconds.
	Timeout time.Duration

	cache syncutil.RWMap[question, answer]
}

type question struct {
	name  string
	qtype uint16
}

type answer struct {
	rrs     []dns.RR
	expires time.Time
}

// SRV is a SRV record.
type SRV = net.SRV

// LookupSRV queries SRV records of _service._proto.host, or of host itself
// when service and proto are empty. Records are sorted by priority, then by
// weight with heavier records first.
func (r *Resolver) LookupSRV(ctx context.Context, service, proto, host string) ([]*SRV, error) {
	name := host
	if service != "" || proto != "" {
		name = "_" + service + "._" + proto + "." + host
	}

	rrs, err := r.query(ctx, name, dns.TypeSRV)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	srvs := make([]*SRV, 0, len(rrs))
	for _, rr := range rrs {
		if rr, ok := rr.(*dns.SRV); ok {
			srvs = append(srvs, &SRV{
				Target:   rr.Target,
				Port:     rr.Port,
				Priority: rr.Priority,
				Weight:   rr.Weight,
			})
		}
	}
	slices.SortStableFunc(srvs, func(a, b *SRV) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(b.Weight, a.Weight)
	})
	return srvs, nil
}

// NAPTR is a NAPTR record (RFC 3403) reduced to the fields SIP needs.
type NAPTR struct {
	Order      uint16
	Preference uint16
	// Flags "s" means Replacement names an SRV record.
	Flags string
	// Service is e.g. "SIP+D2U" (UDP), "SIP+D2T" (TCP), "SIPS+D2T" (TLS).
	Service     string
	Replacement string
}

// LookupNAPTR queries the SIP NAPTR records of host sorted by order, then preference.
// Records of other services (e.g. "E2U+sip") are skipped.
func (r *Resolver) LookupNAPTR(ctx context.Context, host string) ([]*NAPTR, error) {
	rrs, err := r.query(ctx, host, dns.TypeNAPTR)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	recs := make([]*NAPTR, 0, len(rrs))
	for _, rr := range rrs {
		rr, ok := rr.(*dns.NAPTR)
		if !ok || !isSIPService(rr.Service) {
			continue
		}
		recs = append(recs, &NAPTR{
			Order:       rr.Order,
			Preference:  rr.Preference,
			Flags:       rr.Flags,
			Service:     rr.Service,
			Replacement: rr.Replacement,
		})
	}
	slices.SortStableFunc(recs, func(a, b *NAPTR) int {
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		return cmp.Compare(a.Preference, b.Preference)
	})
	return recs, nil
}

func isSIPService(s string) bool {
	s = strings.ToUpper(s)
	return strings.HasPrefix(s, "SIP+") || strings.HasPrefix(s, "SIPS+")
}

func (r *Resolver) query(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	q := question{name: dns.Fqdn(strings.ToLower(name)), qtype: qtype}
	if ans, ok := r.cache.Get(q); ok && time.Now().Before(ans.expires) {
		return ans.rrs, nil
	}

	nameserver, err := r.nameserver()
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	m := new(dns.Msg)
	m.SetQuestion(q.name, qtype)
	m.RecursionDesired = true

	client := &dns.Client{Timeout: r.timeout()}
	resp, _, err := client.ExchangeContext(ctx, m, nameserver)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, errtrace.Wrap(&net.DNSError{
			Err:        dns.RcodeToString[resp.Rcode],
			Name:       name,
			Server:     nameserver,
			IsNotFound: resp.Rcode == dns.RcodeNameError,
		})
	}

	if ttl, ok := minTTL(resp.Answer); ok && ttl > 0 {
		r.cache.Set(q, answer{
			rrs:     resp.Answer,
			expires: time.Now().Add(time.Duration(ttl) * time.Second),
		})
	}
	return resp.Answer, nil
}

func minTTL(rrs []dns.RR) (uint32, bool) {
	if len(rrs) == 0 {
		return 0, false
	}
	ttl := rrs[0].Header().Ttl
	for _, rr := range rrs[1:] {
		ttl = min(ttl, rr.Header().Ttl)
	}
	return ttl, true
}

func (r *Resolver) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return 5 * time.Second
}

func (r *Resolver) nameserver() (string, error) {
	if r.NameServer != "" {
		if _, _, err := net.SplitHostPort(r.NameServer); err != nil {
			return net.JoinHostPort(r.NameServer, "53"), nil //nolint:nilerr
		}
		return r.NameServer, nil
	}

	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return "", errtrace.Wrap(err)
	}
	if len(conf.Servers) == 0 {
		return "", errtrace.Wrap(&net.DNSError{
			Err:  "no DNS servers configured",
			Name: "resolv.conf",
		})
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port), nil
}

var defResolver = &Resolver{}

// DefaultResolver returns the resolver used when none is configured.
func DefaultResolver() *Resolver { return defResolver }
