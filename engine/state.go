package engine

import "fmt"

// RegistrationState is the registration state reported by the engine for a proxy config.
type RegistrationState uint8

const (
	RegistrationNone RegistrationState = iota
	RegistrationProgress
	RegistrationOk
	RegistrationCleared
	RegistrationFailed
)

var regStateNames = [...]string{
	RegistrationNone:     "none",
	RegistrationProgress: "progress",
	RegistrationOk:       "ok",
	RegistrationCleared:  "cleared",
	RegistrationFailed:   "failed",
}

func (s RegistrationState) String() string {
	if int(s) < len(regStateNames) {
		return regStateNames[s]
	}
	return fmt.Sprintf("RegistrationState(%d)", s)
}

// CallState is the call state reported by the engine for a call.
type CallState uint8

const (
	CallIdle CallState = iota
	CallIncomingReceived
	CallOutgoingInit
	CallOutgoingProgress
	CallOutgoingRinging
	CallConnected
	CallStreamsRunning
	CallError
	CallEnd
	CallReleased
)

var callStateNames = [...]string{
	CallIdle:             "idle",
	CallIncomingReceived: "incoming_received",
	CallOutgoingInit:     "outgoing_init",
	CallOutgoingProgress: "outgoing_progress",
	CallOutgoingRinging:  "outgoing_ringing",
	CallConnected:        "connected",
	CallStreamsRunning:   "streams_running",
	CallError:            "error",
	CallEnd:              "end",
	CallReleased:         "released",
}

func (s CallState) String() string {
	if int(s) < len(callStateNames) {
		return callStateNames[s]
	}
	return fmt.Sprintf("CallState(%d)", s)
}
