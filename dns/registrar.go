package dns

import (
	"context"
	"net"
	"slices"
	"strconv"
	"strings"

	"braces.dev/errtrace"
)

// Lookuper is the subset of [Resolver] used to discover registrars.
type Lookuper interface {
	LookupSRV(ctx context.Context, service, proto, host string) ([]*SRV, error)
	LookupNAPTR(ctx context.Context, host string) ([]*NAPTR, error)
}

// Target is a resolved registrar address.
type Target struct {
	Host string
	Port uint16
}

func (t Target) String() string { return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port))) }

var naptrServices = map[string]string{
	"udp": "SIP+D2U",
	"tcp": "SIP+D2T",
	"tls": "SIPS+D2T",
	"ws":  "SIP+D2W",
	"wss": "SIPS+D2W",
}

var srvPrefixes = map[string]string{
	"udp": "_sip._udp.",
	"tcp": "_sip._tcp.",
	"tls": "_sips._tcp.",
	"ws":  "_sip._ws.",
	"wss": "_sips._ws.",
}

// DefaultPort returns the well-known SIP port for the transport.
func DefaultPort(transport string) uint16 {
	switch strings.ToLower(transport) {
	case "tls", "wss":
		return 5061
	default:
		return 5060
	}
}

// ResolveRegistrar returns registrar targets for a SIP domain in the spirit of RFC 3263:
// NAPTR records matching the transport, then the transport SRV record, then the
// domain itself on the default port. Lookup failures fall through to the next step,
// so the result is never empty. IP literals and "host:port" domains are returned as is.
func ResolveRegistrar(ctx context.Context, lk Lookuper, domain, transport string) []Target {
	transport = strings.ToLower(transport)
	if transport == "" {
		transport = "udp"
	}

	if host, port, err := net.SplitHostPort(domain); err == nil {
		if p, err := strconv.ParseUint(port, 10, 16); err == nil {
			return []Target{{Host: host, Port: uint16(p)}}
		}
	}
	fallback := []Target{{Host: domain, Port: DefaultPort(transport)}}
	if net.ParseIP(domain) != nil || lk == nil {
		return fallback
	}

	if recs, err := lk.LookupNAPTR(ctx, domain); err == nil {
		for _, rec := range recs {
			if !strings.EqualFold(rec.Flags, "s") || !strings.EqualFold(rec.Service, naptrServices[transport]) {
				continue
			}
			if tgts, err := lookupSRVName(ctx, lk, rec.Replacement); err == nil && len(tgts) > 0 {
				return tgts
			}
		}
	}

	if prefix, ok := srvPrefixes[transport]; ok {
		if tgts, err := lookupSRVName(ctx, lk, prefix+domain); err == nil && len(tgts) > 0 {
			return tgts
		}
	}
	return fallback
}

// lookupSRVName resolves a full SRV owner name like "_sip._udp.example.com".
func lookupSRVName(ctx context.Context, lk Lookuper, name string) ([]Target, error) {
	srvs, err := lk.LookupSRV(ctx, "", "", strings.TrimSuffix(name, "."))
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	srvs = slices.Clone(srvs)
	slices.SortStableFunc(srvs, func(a, b *SRV) int {
		if a.Priority != b.Priority {
			return int(a.Priority) - int(b.Priority)
		}
		return int(b.Weight) - int(a.Weight)
	})

	tgts := make([]Target, 0, len(srvs))
	for _, srv := range srvs {
		if srv.Target == "." || srv.Target == "" {
			continue
		}
		tgts = append(tgts, Target{Host: strings.TrimSuffix(srv.Target, "."), Port: srv.Port})
	}
	return tgts, nil
}
