package telephony

import (
	"regexp"
	"strconv"
	"strings"
)

type EventKind string

const (
	EventRegistered         EventKind = "registered"
	EventRegistrationFailed EventKind = "registration_failed"
	EventCalling            EventKind = "calling"
	EventEarly              EventKind = "early"
	EventConnecting         EventKind = "connecting"
	EventAnswered           EventKind = "answered"
	EventEnded              EventKind = "ended"
)

// Event is one call-progress signal read from the user agent's output.
type Event struct {
	Kind   EventKind
	Code   int
	Reason string
}

var (
	regOKRe     = regexp.MustCompile(`(?i)registration success`)
	regFailRe   = regexp.MustCompile(`(?i)registration failed(?:, status=(\d+) \(([^)]*)\))?`)
	callStateRe = regexp.MustCompile(`Call \d+ state changed to (\w+)(?: \[reason=(\d+) \(([^)]*)\)\])?`)
)

// ParseEvent maps one output line to an event. ok is false for lines that carry none.
func ParseEvent(line string) (Event, bool) {
	if m := callStateRe.FindStringSubmatch(line); m != nil {
		var ev Event
		switch strings.ToUpper(m[1]) {
		case "CALLING":
			ev.Kind = EventCalling
		case "EARLY":
			ev.Kind = EventEarly
		case "CONNECTING":
			ev.Kind = EventConnecting
		case "CONFIRMED":
			ev.Kind = EventAnswered
		case "DISCONNCTD", "DISCONNECTED":
			ev.Kind = EventEnded
		default:
			return Event{}, false
		}
		if m[2] != "" {
			ev.Code, _ = strconv.Atoi(m[2])
			ev.Reason = m[3]
		}
		return ev, true
	}
	if m := regFailRe.FindStringSubmatch(line); m != nil {
		ev := Event{Kind: EventRegistrationFailed}
		if m[1] != "" {
			ev.Code, _ = strconv.Atoi(m[1])
			ev.Reason = m[2]
		}
		return ev, true
	}
	if regOKRe.MatchString(line) {
		return Event{Kind: EventRegistered}, true
	}
	return Event{}, false
}
