// Package telephony places one outbound call per job through an external
// SIP user agent process, falling back to a simulated call when the process
// cannot be started.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voicecall-platform/internal/calls"
)

// Dialer drives exactly one outbound call and plays the prepared audio.
type Dialer interface {
	Name() string
	// HealthCheck reports whether real dialing is possible. A failing check means calls will be simulated.
	HealthCheck(ctx context.Context) error
	Dial(ctx context.Context, req Request) (Outcome, error)
}

type Request struct {
	CallID    string
	To        string
	From      string
	AudioPath string
}

// Outcome describes a finished call. Mode tells a real completion from a simulated one.
type Outcome struct {
	Mode     calls.DialMode
	Answered bool
	SIPCode  int
	Reason   string
	Duration time.Duration
	// TimedOut is set when the hard dial timeout ended an answered call.
	TimedOut bool
	// Output is the tail of the dial process output, for diagnostics.
	Output string
}

var (
	ErrNotAnswered        = errors.New("telephony: call not answered")
	ErrRegistrationFailed = errors.New("telephony: registration failed")
	ErrDialFailed         = errors.New("telephony: dial process failed")
)

// DialError carries the SIP and process details of a failed call.
type DialError struct {
	Err      error
	SIPCode  int
	Reason   string
	ExitCode int
}

func (e *DialError) Error() string {
	msg := e.Err.Error()
	if e.SIPCode != 0 {
		msg += fmt.Sprintf(" (sip %d %s)", e.SIPCode, e.Reason)
	} else if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(" exit status %d", e.ExitCode)
	}
	return msg
}

func (e *DialError) Unwrap() error { return e.Err }
