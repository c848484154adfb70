package phone

import (
	"github.com/ghettovoice/multisip/account"
	"github.com/ghettovoice/multisip/internal/errorutil"
)

// Common errors.
const (
	ErrInvalidArgument = errorutil.ErrInvalidArgument
	// ErrAddressParseFailed is returned for malformed identities and peer addresses.
	// No engine command is issued.
	ErrAddressParseFailed Error = account.ErrAddressParseFailed
	ErrNotImplemented     Error = "not implemented"
	ErrManagerClosed      Error = "manager closed"
	ErrInvalidState       Error = "invalid session state"
)

// Registration errors.
const (
	// ErrAlreadyExists is returned when an active session for the address is already registered.
	ErrAlreadyExists Error = "registration already exists"
	// ErrNotFound is returned when no session is registered for the address.
	ErrNotFound Error = "registration not found"
	// ErrRegistrationFailed is returned when the engine refuses to create or enable a proxy config.
	ErrRegistrationFailed Error = "registration failed"
)

// Call errors.
const (
	// ErrNoActiveRegistration is returned when a call is placed from an identity without a live session.
	ErrNoActiveRegistration Error = "no active registration"
	// ErrInviteFailed is returned when the engine rejects the invite command.
	ErrInviteFailed Error = "invite failed"
	// ErrCallInProgress is returned when a call is placed while another one is active.
	ErrCallInProgress Error = "call in progress"
	// ErrAudioUnavailable is returned by audio operations when no route provider is configured.
	ErrAudioUnavailable Error = "audio route unavailable"
)

// Error is a phone error.
// See [errorutil.Error].
type Error = errorutil.Error

func newInvalidArgumentError(args ...any) error {
	return errorutil.NewInvalidArgumentError(args...) //errtrace:skip
}

func wrapError(sentinel error, args ...any) error {
	return errorutil.NewWrapperError(sentinel, args...) //errtrace:skip
}
