package dns_test

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	mdns "github.com/miekg/dns"

	"github.com/ghettovoice/multisip/dns"
)

// serveZone starts a UDP DNS server answering from zone and returns its address
// and a counter of received queries.
func serveZone(t *testing.T, zone map[string][]string) (string, *atomic.Int32) {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.ListenPacket() error = %v, want nil", err)
	}

	var queries atomic.Int32
	started := make(chan struct{})
	srv := &mdns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: mdns.HandlerFunc(func(w mdns.ResponseWriter, req *mdns.Msg) {
			queries.Add(1)

			res := new(mdns.Msg)
			res.SetReply(req)
			q := req.Question[0]
			recs, ok := zone[q.Name]
			if !ok {
				res.Rcode = mdns.RcodeNameError
			}
			for _, s := range recs {
				rr, err := mdns.NewRR(s)
				if err != nil {
					t.Errorf("mdns.NewRR(%q) error = %v, want nil", s, err)
					continue
				}
				if rr.Header().Rrtype == q.Qtype {
					res.Answer = append(res.Answer, rr)
				}
			}
			_ = w.WriteMsg(res)
		}),
	}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String(), &queries
}

func TestResolver_LookupSRV(t *testing.T) {
	t.Parallel()

	addr, queries := serveZone(t, map[string][]string{
		"_sip._udp.example.com.": {
			"_sip._udp.example.com. 60 IN SRV 20 0 5060 backup.example.com.",
			"_sip._udp.example.com. 60 IN SRV 10 10 5060 light.example.com.",
			"_sip._udp.example.com. 60 IN SRV 10 50 5062 heavy.example.com.",
		},
	})
	r := &dns.Resolver{NameServer: addr}

	got, err := r.LookupSRV(context.Background(), "sip", "udp", "example.com")
	if err != nil {
		t.Fatalf("r.LookupSRV() error = %v, want nil", err)
	}
	want := []*dns.SRV{
		{Target: "heavy.example.com.", Port: 5062, Priority: 10, Weight: 50},
		{Target: "light.example.com.", Port: 5060, Priority: 10, Weight: 10},
		{Target: "backup.example.com.", Port: 5060, Priority: 20, Weight: 0},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Fatalf("r.LookupSRV() = %v, want %v\ndiff (-got +want):\n%v", got, want, diff)
	}

	if _, err := r.LookupSRV(context.Background(), "", "", "_sip._udp.example.com"); err != nil {
		t.Fatalf("r.LookupSRV(full name) error = %v, want nil", err)
	}
	if got, want := queries.Load(), int32(1); got != want {
		t.Errorf("queries = %d, want %d (second lookup served from cache)", got, want)
	}
}

func TestResolver_LookupNAPTR(t *testing.T) {
	t.Parallel()

	addr, _ := serveZone(t, map[string][]string{
		"example.com.": {
			`example.com. 0 IN NAPTR 20 10 "s" "SIP+D2T" "" _sip._tcp.example.com.`,
			`example.com. 0 IN NAPTR 10 10 "u" "E2U+sip" "!^.*$!sip:info@example.com!" .`,
			`example.com. 0 IN NAPTR 10 20 "s" "SIP+D2U" "" _sip._udp.example.com.`,
			`example.com. 0 IN NAPTR 10 10 "s" "SIPS+D2T" "" _sips._tcp.example.com.`,
		},
	})
	r := &dns.Resolver{NameServer: addr}

	got, err := r.LookupNAPTR(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("r.LookupNAPTR() error = %v, want nil", err)
	}
	want := []*dns.NAPTR{
		{Order: 10, Preference: 10, Flags: "s", Service: "SIPS+D2T", Replacement: "_sips._tcp.example.com."},
		{Order: 10, Preference: 20, Flags: "s", Service: "SIP+D2U", Replacement: "_sip._udp.example.com."},
		{Order: 20, Preference: 10, Flags: "s", Service: "SIP+D2T", Replacement: "_sip._tcp.example.com."},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Fatalf("r.LookupNAPTR() = %v, want %v\ndiff (-got +want):\n%v", got, want, diff)
	}
}

func TestResolver_NotFound(t *testing.T) {
	t.Parallel()

	addr, _ := serveZone(t, nil)
	r := &dns.Resolver{NameServer: addr}

	_, err := r.LookupNAPTR(context.Background(), "missing.example.com")
	var dnsErr *net.DNSError
	if !errors.As(err, &dnsErr) {
		t.Fatalf("r.LookupNAPTR() error = %v, want *net.DNSError", err)
	}
	if !dnsErr.IsNotFound {
		t.Errorf("dnsErr.IsNotFound = false, want true")
	}
}

func TestResolveRegistrar_Resolver(t *testing.T) {
	t.Parallel()

	addr, _ := serveZone(t, map[string][]string{
		"_sip._udp.example.com.": {
			"_sip._udp.example.com. 60 IN SRV 10 0 5070 sip.example.com.",
		},
	})
	r := &dns.Resolver{NameServer: addr}

	got := dns.ResolveRegistrar(context.Background(), r, "example.com", "udp")
	want := []dns.Target{{Host: "sip.example.com", Port: 5070}}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("dns.ResolveRegistrar() = %v, want %v\ndiff (-got +want):\n%v", got, want, diff)
	}
}
