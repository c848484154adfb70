package dns_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ghettovoice/multisip/dns"
)

type stubLookuper struct {
	naptr map[string][]*dns.NAPTR
	srv   map[string][]*dns.SRV
	seen  []string
}

func (l *stubLookuper) LookupSRV(_ context.Context, _, _, name string) ([]*dns.SRV, error) {
	l.seen = append(l.seen, "srv:"+name)
	if recs, ok := l.srv[name]; ok {
		return recs, nil
	}
	return nil, errors.New("no such host")
}

func (l *stubLookuper) LookupNAPTR(_ context.Context, host string) ([]*dns.NAPTR, error) {
	l.seen = append(l.seen, "naptr:"+host)
	if recs, ok := l.naptr[host]; ok {
		return recs, nil
	}
	return nil, errors.New("no such host")
}

func TestResolveRegistrar(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		lk        *stubLookuper
		domain    string
		transport string
		want      []dns.Target
	}{
		{
			name:   "naptr then srv",
			domain: "sip.linphone.org",
			lk: &stubLookuper{
				naptr: map[string][]*dns.NAPTR{
					"sip.linphone.org": {
						{Order: 10, Flags: "s", Service: "SIPS+D2T", Replacement: "_sips._tcp.sip.linphone.org."},
						{Order: 20, Flags: "s", Service: "SIP+D2U", Replacement: "_sip._udp.sip.linphone.org."},
					},
				},
				srv: map[string][]*dns.SRV{
					"_sip._udp.sip.linphone.org": {
						{Target: "b.sip.linphone.org.", Port: 5070, Priority: 20},
						{Target: "a.sip.linphone.org.", Port: 5060, Priority: 10},
					},
				},
			},
			want: []dns.Target{
				{Host: "a.sip.linphone.org", Port: 5060},
				{Host: "b.sip.linphone.org", Port: 5070},
			},
		},
		{
			name:      "srv without naptr",
			domain:    "example.com",
			transport: "tcp",
			lk: &stubLookuper{
				srv: map[string][]*dns.SRV{
					"_sip._tcp.example.com": {{Target: "pbx.example.com.", Port: 5080}},
				},
			},
			want: []dns.Target{{Host: "pbx.example.com", Port: 5080}},
		},
		{
			name:      "fallback to domain",
			domain:    "example.org",
			transport: "tls",
			lk:        &stubLookuper{},
			want:      []dns.Target{{Host: "example.org", Port: 5061}},
		},
		{
			name:   "ip literal",
			domain: "10.0.0.1",
			lk:     &stubLookuper{},
			want:   []dns.Target{{Host: "10.0.0.1", Port: 5060}},
		},
		{
			name:   "explicit port",
			domain: "127.0.0.1:5090",
			lk:     &stubLookuper{},
			want:   []dns.Target{{Host: "127.0.0.1", Port: 5090}},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			got := dns.ResolveRegistrar(t.Context(), c.lk, c.domain, c.transport)
			if diff := cmp.Diff(got, c.want); diff != "" {
				t.Fatalf("dns.ResolveRegistrar(ctx, lk, %q, %q) diff (-got +want):\n%v\nlookups: %v",
					c.domain, c.transport, diff, c.lk.seen,
				)
			}
		})
	}
}

func TestTarget_String(t *testing.T) {
	t.Parallel()

	if got, want := (dns.Target{Host: "sip.linphone.org", Port: 5060}).String(), "sip.linphone.org:5060"; got != want {
		t.Fatalf("Target.String() = %q, want %q", got, want)
	}
	if got, want := dns.DefaultPort("WSS"), uint16(5061); got != want {
		t.Fatalf("dns.DefaultPort(\"WSS\") = %d, want %d", got, want)
	}
}
