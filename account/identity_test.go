package account_test

import (
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ghettovoice/multisip/account"
)

func TestNew(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name             string
		username, domain string
		wantAddr         string
		wantErr          error
	}{
		{"first account", "suyogya", "sip.linphone.org", "sip:suyogya@sip.linphone.org", nil},
		{"second account", "srt2", "sip.linphone.org", "sip:srt2@sip.linphone.org", nil},
		{"empty username", "", "sip.linphone.org", "", account.ErrAddressParseFailed},
		{"empty domain", "srt2", "", "", account.ErrAddressParseFailed},
		{"at in username", "bad@user", "example.com", "", account.ErrAddressParseFailed},
		{"colon in username", "a:b", "example.com", "", account.ErrAddressParseFailed},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			id, err := account.New(c.username, "password", c.domain)
			if diff := cmp.Diff(err, c.wantErr, cmpopts.EquateErrors()); diff != "" {
				t.Fatalf("account.New(%q, _, %q) error = %v, want %v\ndiff (-got +want):\n%v",
					c.username, c.domain, err, c.wantErr, diff,
				)
			}
			if c.wantErr != nil {
				if id.IsValid() {
					t.Fatalf("id.IsValid() = true on error, want false")
				}
				return
			}

			if got := id.Address(); got != c.wantAddr {
				t.Fatalf("id.Address() = %q, want %q", got, c.wantAddr)
			}
			if got := id.Username(); got != c.username {
				t.Fatalf("id.Username() = %q, want %q", got, c.username)
			}
			if got := id.Domain(); got != c.domain {
				t.Fatalf("id.Domain() = %q, want %q", got, c.domain)
			}
			if got := id.Password(); got != "password" {
				t.Fatalf("id.Password() = %q, want %q", got, "password")
			}
			if u := id.URI(); u.Host != c.domain || u.User != c.username {
				t.Fatalf("id.URI() = %v, want user %q host %q", u, c.username, c.domain)
			}
		})
	}
}

func TestIdentity_LogValue(t *testing.T) {
	t.Parallel()

	id := account.MustNew("srt2", "s3cr3t", "sip.linphone.org")
	for _, attr := range id.LogValue().Group() {
		if attr.Value.String() == "s3cr3t" {
			t.Fatalf("id.LogValue() contains the password in %q", attr.Key)
		}
	}

	var zero account.Identity
	if got, want := zero.LogValue().Kind(), slog.KindString; got != want {
		t.Fatalf("zero.LogValue().Kind() = %v, want %v", got, want)
	}
}

func TestParseAddress(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    string
		wantErr error
	}{
		{"sip:srt@sip.linphone.org", "sip:srt@sip.linphone.org", nil},
		{"srt@sip.linphone.org", "sip:srt@sip.linphone.org", nil},
		{"sips:alice@example.com", "sips:alice@example.com", nil},
		{"", "", account.ErrAddressParseFailed},
		{"   ", "", account.ErrAddressParseFailed},
	}
	for _, c := range cases {
		got, err := account.ParseAddress(c.in)
		if diff := cmp.Diff(err, c.wantErr, cmpopts.EquateErrors()); diff != "" {
			t.Fatalf("account.ParseAddress(%q) error = %v, want %v\ndiff (-got +want):\n%v", c.in, err, c.wantErr, diff)
		}
		if got != c.want {
			t.Fatalf("account.ParseAddress(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
