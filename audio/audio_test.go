package audio_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ghettovoice/multisip/audio"
	"github.com/ghettovoice/multisip/log"
)

type stubProvider struct {
	devs      []audio.Device
	devsErr   error
	output    audio.PortType
	preferred *audio.Device
	speaker   bool
	proximity bool
}

func (p *stubProvider) InputDevices() ([]audio.Device, error) { return p.devs, p.devsErr }

func (p *stubProvider) CurrentOutputPort() audio.PortType { return p.output }

func (p *stubProvider) SetPreferredInput(dev audio.Device) error {
	p.preferred = &dev
	return nil
}

func (p *stubProvider) OverrideOutputToSpeaker() error {
	p.speaker = true
	return nil
}

func (p *stubProvider) SetProximityMonitoring(enabled bool) { p.proximity = enabled }

var devices = []audio.Device{
	{Name: "Headset", Port: audio.PortHeadsetMic},
	{Name: "iPhone Microphone", Port: audio.PortBuiltInMic},
	{Name: "Bottom Microphone", Port: audio.PortBuiltInMic},
}

func TestRouter_SpeakerAllowed(t *testing.T) {
	t.Parallel()

	cases := map[audio.PortType]bool{
		audio.PortBuiltInReceiver: true,
		audio.PortBuiltInSpeaker:  true,
		audio.PortBluetooth:       true,
		audio.PortLineOut:         false,
		audio.PortHeadphones:      false,
	}
	for port, want := range cases {
		r := audio.NewRouter(&stubProvider{output: port}, log.Noop)
		if got := r.SpeakerAllowed(); got != want {
			t.Errorf("SpeakerAllowed() with output %q = %v, want %v", port, got, want)
		}
	}
}

func TestRouter_BuiltinInput(t *testing.T) {
	t.Parallel()

	r := audio.NewRouter(&stubProvider{devs: devices}, log.Noop)
	got, err := r.BuiltinInput()
	if err != nil {
		t.Fatalf("r.BuiltinInput() error = %v, want nil", err)
	}
	if diff := cmp.Diff(got, devices[1]); diff != "" {
		t.Errorf("r.BuiltinInput() = %+v, want %+v\ndiff (-got +want):\n%v", got, devices[1], diff)
	}

	r = audio.NewRouter(&stubProvider{devs: devices[:1]}, log.Noop)
	if _, err := r.BuiltinInput(); !errors.Is(err, audio.ErrNoBuiltinInput) {
		t.Errorf("r.BuiltinInput() error = %v, want %v", err, audio.ErrNoBuiltinInput)
	}

	errDevs := errors.New("session inactive")
	r = audio.NewRouter(&stubProvider{devsErr: errDevs}, log.Noop)
	_, err = r.BuiltinInput()
	if diff := cmp.Diff(err, errDevs, cmpopts.EquateErrors()); diff != "" {
		t.Errorf("r.BuiltinInput() error = %v, want %v\ndiff (-got +want):\n%v", err, errDevs, diff)
	}
}

func TestRouter_SetSpeakerEnabled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("speaker", func(t *testing.T) {
		t.Parallel()

		rp := &stubProvider{devs: devices, output: audio.PortBuiltInReceiver, proximity: true}
		r := audio.NewRouter(rp, log.Noop)
		if err := r.SetSpeakerEnabled(ctx, true, 1); err != nil {
			t.Fatalf("r.SetSpeakerEnabled(ctx, true, 1) error = %v, want nil", err)
		}
		if !rp.speaker || rp.proximity || !r.Speaker() {
			t.Errorf("speaker = %v, proximity = %v, router speaker = %v, want true, false, true", rp.speaker, rp.proximity, r.Speaker())
		}
	})

	t.Run("headphones", func(t *testing.T) {
		t.Parallel()

		rp := &stubProvider{devs: devices, output: audio.PortHeadphones}
		r := audio.NewRouter(rp, log.Noop)
		if err := r.SetSpeakerEnabled(ctx, true, 1); err != nil {
			t.Fatalf("r.SetSpeakerEnabled(ctx, true, 1) error = %v, want nil", err)
		}
		if rp.speaker {
			t.Error("speaker override applied with headphones connected")
		}
		if rp.preferred == nil || *rp.preferred != devices[1] {
			t.Errorf("preferred input = %v, want %+v", rp.preferred, devices[1])
		}
		if !rp.proximity {
			t.Error("proximity monitoring = false, want true")
		}
	})

	t.Run("off without calls", func(t *testing.T) {
		t.Parallel()

		rp := &stubProvider{devs: devices, output: audio.PortBuiltInSpeaker, proximity: true}
		r := audio.NewRouter(rp, log.Noop)
		if err := r.SetSpeakerEnabled(ctx, false, 0); err != nil {
			t.Fatalf("r.SetSpeakerEnabled(ctx, false, 0) error = %v, want nil", err)
		}
		if rp.proximity {
			t.Error("proximity monitoring = true, want false")
		}
		if r.Speaker() {
			t.Error("r.Speaker() = true, want false")
		}
	})

	t.Run("no builtin input", func(t *testing.T) {
		t.Parallel()

		r := audio.NewRouter(&stubProvider{output: audio.PortLineOut}, log.Noop)
		if err := r.SetSpeakerEnabled(ctx, true, 0); !errors.Is(err, audio.ErrNoBuiltinInput) {
			t.Errorf("r.SetSpeakerEnabled(ctx, true, 0) error = %v, want %v", err, audio.ErrNoBuiltinInput)
		}
	})
}
