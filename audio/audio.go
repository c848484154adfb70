// Package audio implements speaker and microphone routing policy
// on top of a platform audio route provider.
package audio

//go:generate go tool errtrace -w .

import (
	"context"
	"log/slog"
	"sync"

	"braces.dev/errtrace"

	"github.com/ghettovoice/multisip/internal/errorutil"
	"github.com/ghettovoice/multisip/log"
)

// ErrNoBuiltinInput is returned when the provider has no built-in microphone.
const ErrNoBuiltinInput errorutil.Error = "no built-in input device"

// PortType is a kind of audio port.
type PortType string

const (
	PortBuiltInMic      PortType = "builtin_mic"
	PortBuiltInReceiver PortType = "builtin_receiver"
	PortBuiltInSpeaker  PortType = "builtin_speaker"
	PortHeadphones      PortType = "headphones"
	PortHeadsetMic      PortType = "headset_mic"
	PortLineIn          PortType = "line_in"
	PortLineOut         PortType = "line_out"
	PortBluetooth       PortType = "bluetooth"
)

// Device is an audio input device.
type Device struct {
	Name string
	Port PortType
}

// RouteProvider gives access to the platform audio session.
type RouteProvider interface {
	InputDevices() ([]Device, error)
	CurrentOutputPort() PortType
	SetPreferredInput(dev Device) error
	OverrideOutputToSpeaker() error
	SetProximityMonitoring(enabled bool)
}

// Router applies the speaker policy to a [RouteProvider].
type Router struct {
	rp  RouteProvider
	log *slog.Logger

	mu      sync.Mutex
	speaker bool
}

// NewRouter creates a router. If logger is nil, the [log.Default] is used.
func NewRouter(rp RouteProvider, logger *slog.Logger) *Router {
	if logger == nil {
		logger = log.Default()
	}
	return &Router{rp: rp, log: logger}
}

// SpeakerAllowed reports whether output may be moved to the speaker.
// It is not while line-out or headphones are connected.
func (r *Router) SpeakerAllowed() bool {
	switch r.rp.CurrentOutputPort() {
	case PortLineOut, PortHeadphones:
		return false
	default:
		return true
	}
}

// Speaker reports whether the speaker was last enabled through the router.
func (r *Router) Speaker() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speaker
}

// BuiltinInput returns the first built-in microphone.
func (r *Router) BuiltinInput() (Device, error) {
	devs, err := r.rp.InputDevices()
	if err != nil {
		return Device{}, errtrace.Wrap(err)
	}
	for _, dev := range devs {
		if dev.Port == PortBuiltInMic {
			return dev, nil
		}
	}
	return Device{}, errtrace.Wrap(ErrNoBuiltinInput)
}

// SetSpeakerEnabled routes the output to the speaker when enabled and allowed.
// Otherwise it selects the built-in microphone and turns proximity monitoring
// on while calls are active.
func (r *Router) SetSpeakerEnabled(ctx context.Context, enabled bool, activeCalls int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if enabled && r.SpeakerAllowed() {
		if err := r.rp.OverrideOutputToSpeaker(); err != nil {
			return errtrace.Wrap(err)
		}
		r.rp.SetProximityMonitoring(false)
		r.speaker = true

		r.log.LogAttrs(ctx, slog.LevelDebug, "audio routed to speaker")
		return nil
	}

	dev, err := r.BuiltinInput()
	if err != nil {
		return errtrace.Wrap(err)
	}
	if err := r.rp.SetPreferredInput(dev); err != nil {
		return errtrace.Wrap(err)
	}
	r.rp.SetProximityMonitoring(activeCalls > 0)
	r.speaker = false

	r.log.LogAttrs(ctx, slog.LevelDebug, "audio routed to built-in input",
		slog.String("device", dev.Name),
		slog.Int("active_calls", activeCalls),
	)
	return nil
}
