package telephony

import (
	"context"
	"fmt"
	"io"
	"time"
)

// directive is one step of the control script written to the user agent's stdin.
type directive struct {
	// send is written verbatim. Empty for pure waits.
	send string
	// always sends even after an earlier step aborted the script.
	always bool
	// waitFor blocks until an event of this kind (or ended) arrives, up to max.
	waitFor EventKind
	max     time.Duration
}

func callScript(target string, registerWait, maxCall time.Duration) []directive {
	return []directive{
		{waitFor: EventRegistered, max: registerWait},
		{send: "m\n" + target + "\n"},
		{waitFor: EventEnded, max: maxCall},
		{send: "h\n", always: true},
		{send: "q\n", always: true},
	}
}

// progress accumulates what the script observed.
type progress struct {
	registered bool
	regFailed  bool
	regWaitHit bool
	answered   bool
	ended      bool
	answeredAt time.Time
	endedAt    time.Time
	code       int
	reason     string
	streamDone bool
}

func (p *progress) observe(ev Event, now time.Time) {
	switch ev.Kind {
	case EventRegistered:
		p.registered = true
	case EventRegistrationFailed:
		p.regFailed = true
		p.code, p.reason = ev.Code, ev.Reason
	case EventAnswered:
		if !p.answered {
			p.answered = true
			p.answeredAt = now
		}
	case EventEnded:
		p.ended = true
		p.endedAt = now
		if ev.Code != 0 {
			p.code, p.reason = ev.Code, ev.Reason
		}
	}
}

// runScript plays the directives against the event stream. After a failed wait
// only the always directives run, so the process is still told to hang up and quit.
func runScript(ctx context.Context, w io.Writer, events <-chan Event, script []directive, clock func() time.Time, debugf func(string, ...any)) *progress {
	p := &progress{}
	abort := false
	for _, d := range script {
		if d.send != "" {
			if abort && !d.always {
				continue
			}
			if _, err := io.WriteString(w, d.send); err != nil {
				debugf("dial control write failed", "error", err.Error())
			}
			continue
		}
		if abort {
			continue
		}
		if !waitFor(ctx, events, d.waitFor, d.max, p, clock) {
			if d.waitFor == EventRegistered {
				p.regWaitHit = !p.regFailed
			}
			abort = true
			continue
		}
		if d.waitFor == EventRegistered && !p.registered {
			abort = true
		}
	}
	return p
}

// waitFor returns true when the wanted event arrived.
func waitFor(ctx context.Context, events <-chan Event, want EventKind, max time.Duration, p *progress, clock func() time.Time) bool {
	t := time.NewTimer(max)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return false
		case ev, ok := <-events:
			if !ok {
				p.streamDone = true
				return false
			}
			p.observe(ev, clock())
			switch {
			case ev.Kind == want:
				return true
			case want == EventRegistered && ev.Kind == EventRegistrationFailed:
				return false
			case ev.Kind == EventEnded:
				// the call is over whatever we were waiting for
				return want == EventEnded
			}
		}
	}
}

func (p *progress) String() string {
	return fmt.Sprintf("registered=%v answered=%v ended=%v code=%d", p.registered, p.answered, p.ended, p.code)
}
