// Package account defines SIP account identities.
package account

//go:generate go tool errtrace -w .

import (
	"log/slog"
	"strings"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/multisip/internal/errorutil"
)

// ErrAddressParseFailed is returned when an identity or peer address is not a valid SIP URI.
const ErrAddressParseFailed errorutil.Error = "address parse failed"

// Identity holds the credentials and address of one SIP account.
// Identity is immutable; the zero value is invalid.
type Identity struct {
	username,
	password,
	domain,
	addr string
}

// New builds an identity and derives its address "sip:<username>@<domain>".
// It fails with [ErrAddressParseFailed] when the derived address is not a valid SIP URI.
func New(username, password, domain string) (Identity, error) {
	if username == "" {
		return Identity{}, errtrace.Wrap(errorutil.NewWrapperError(ErrAddressParseFailed, "empty username"))
	}
	if domain == "" {
		return Identity{}, errtrace.Wrap(errorutil.NewWrapperError(ErrAddressParseFailed, "empty domain"))
	}

	addr := "sip:" + username + "@" + domain
	var u sip.Uri
	if err := sip.ParseUri(addr, &u); err != nil {
		return Identity{}, errtrace.Wrap(errorutil.NewWrapperError(ErrAddressParseFailed, "%q: %v", addr, err))
	}
	if u.User != username || u.Host == "" {
		return Identity{}, errtrace.Wrap(errorutil.NewWrapperError(ErrAddressParseFailed, "%q: malformed user or host", addr))
	}

	return Identity{
		username: username,
		password: password,
		domain:   domain,
		addr:     addr,
	}, nil
}

// MustNew is like [New] but panics on error.
func MustNew(username, password, domain string) Identity {
	id, err := New(username, password, domain)
	if err != nil {
		panic(err)
	}
	return id
}

func (id Identity) Username() string { return id.username }

func (id Identity) Password() string { return id.password }

func (id Identity) Domain() string { return id.domain }

// Address returns the account address "sip:<username>@<domain>".
// It is the unique key of the account.
func (id Identity) Address() string { return id.addr }

// URI returns the parsed account address.
func (id Identity) URI() sip.Uri {
	var u sip.Uri
	_ = sip.ParseUri(id.addr, &u)
	return u
}

// IsValid reports whether the identity was built with [New].
func (id Identity) IsValid() bool { return id.addr != "" }

func (id Identity) String() string { return id.addr }

// LogValue implements [slog.LogValuer]. The password is never logged.
func (id Identity) LogValue() slog.Value {
	if !id.IsValid() {
		return slog.StringValue("<invalid>")
	}
	return slog.GroupValue(
		slog.String("address", id.addr),
		slog.String("username", id.username),
		slog.String("domain", id.domain),
	)
}

// ParseAddress validates a SIP or SIPS address, for example a call peer.
// Bare "user@host" values are accepted and returned with the "sip:" scheme.
func ParseAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errtrace.Wrap(errorutil.NewWrapperError(ErrAddressParseFailed, "empty address"))
	}
	if !strings.HasPrefix(s, "sip:") && !strings.HasPrefix(s, "sips:") {
		s = "sip:" + s
	}

	var u sip.Uri
	if err := sip.ParseUri(s, &u); err != nil {
		return "", errtrace.Wrap(errorutil.NewWrapperError(ErrAddressParseFailed, "%q: %v", s, err))
	}
	if u.Host == "" {
		return "", errtrace.Wrap(errorutil.NewWrapperError(ErrAddressParseFailed, "%q: missing host", s))
	}
	return s, nil
}
