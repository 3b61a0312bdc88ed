package telephony

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"voicecall-platform/internal/calls"
	"voicecall-platform/internal/config"
	"voicecall-platform/pkg/logger"
)

const outputTailBytes = 4096

// UserAgent runs a pjsua-compatible SIP user agent for each call.
//
// The call is judged from the agent's own event stream and exit status:
// not answered is a failure, answered and exited cleanly (or cut by our
// hard timeout) is a real completion. Only a missing binary or a failed
// spawn leads to a simulated call.
type UserAgent struct {
	cfg       config.SIPConfig
	waitDelay time.Duration
	clock     func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

var _ Dialer = (*UserAgent)(nil)

func NewUserAgent(cfg config.SIPConfig) *UserAgent {
	return &UserAgent{
		cfg:       cfg,
		waitDelay: 5 * time.Second,
		clock:     time.Now,
		sleep:     sleepCtx,
	}
}

func (u *UserAgent) Name() string { return "pjsua" }

func (u *UserAgent) HealthCheck(_ context.Context) error {
	if u.cfg.TrunkHost == "" {
		return errors.New("telephony: no SIP trunk host configured")
	}
	if _, err := exec.LookPath(u.cfg.DialBinary); err != nil {
		return fmt.Errorf("telephony: dial binary %q: %w", u.cfg.DialBinary, err)
	}
	return nil
}

func (u *UserAgent) Dial(ctx context.Context, req Request) (Outcome, error) {
	log := logger.From(ctx)

	if u.cfg.TrunkHost == "" {
		return u.simulate(ctx, req, "no SIP trunk host configured")
	}
	bin, err := exec.LookPath(u.cfg.DialBinary)
	if err != nil {
		return u.simulate(ctx, req, err.Error())
	}

	from := req.From
	if from == "" {
		from = u.cfg.Username
	}
	cfgPath, err := writeConfigFile(uaOptions{
		Host:            u.cfg.TrunkHost,
		Port:            u.cfg.TrunkPort,
		Realm:           u.cfg.Realm,
		Username:        u.cfg.Username,
		Password:        u.cfg.Password,
		FromID:          from,
		AudioPath:       req.AudioPath,
		MaxCallDuration: u.cfg.MaxCallDuration,
		RegisterTimeout: u.cfg.RegisterWait,
	})
	if err != nil {
		return Outcome{}, &DialError{Err: ErrDialFailed, Reason: "write agent config: " + err.Error()}
	}
	defer os.Remove(cfgPath)

	dialCtx, cancel := context.WithTimeout(ctx, u.cfg.DialTimeout)
	defer cancel()

	cmd := exec.CommandContext(dialCtx, bin, "--config-file", cfgPath)
	cmd.Env = agentEnv()
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = u.waitDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return u.simulate(ctx, req, err.Error())
	}
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	start := u.clock()
	if err := cmd.Start(); err != nil {
		pw.Close()
		return u.simulate(ctx, req, err.Error())
	}
	log.Info("dial started", slog.String("to", req.To), slog.Int("pid", cmd.Process.Pid))

	waitCh := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		waitCh <- err
	}()

	tail := &tailBuffer{max: outputTailBytes}
	events := make(chan Event, 64)
	go readEvents(pr, events, tail)

	script := callScript(targetURI(req.To, u.cfg.TrunkHost, u.cfg.TrunkPort), u.cfg.RegisterWait, u.cfg.MaxCallDuration)
	prog := runScript(dialCtx, stdin, events, script, u.clock, log.Debug)
	_ = stdin.Close()

	// keep reading until the agent's output closes so late events are seen
	for ev := range events {
		prog.observe(ev, u.clock())
	}
	waitErr := <-waitCh

	out := Outcome{
		Mode:     calls.DialModeReal,
		Answered: prog.answered,
		SIPCode:  prog.code,
		Reason:   prog.reason,
		Output:   tail.String(),
	}
	timedOut := errors.Is(dialCtx.Err(), context.DeadlineExceeded)
	if prog.answered {
		end := prog.endedAt
		if !prog.ended {
			end = u.clock()
		}
		out.Duration = end.Sub(prog.answeredAt)
	}
	log.Debug("dial process finished",
		slog.String("progress", prog.String()),
		slog.Bool("timed_out", timedOut),
		slog.Duration("elapsed", u.clock().Sub(start)),
		slog.String("output", out.Output),
	)

	if ctx.Err() != nil && !timedOut {
		return out, fmt.Errorf("telephony: dial interrupted: %w", ctx.Err())
	}
	return u.judge(out, prog, waitErr, timedOut)
}

func (u *UserAgent) judge(out Outcome, prog *progress, waitErr error, timedOut bool) (Outcome, error) {
	switch {
	case !prog.registered:
		reason := prog.reason
		if reason == "" && (prog.regWaitHit || timedOut) {
			reason = "not registered within " + u.cfg.RegisterWait.String()
		}
		return out, &DialError{Err: ErrRegistrationFailed, SIPCode: prog.code, Reason: reason, ExitCode: exitCode(waitErr)}
	case !prog.answered:
		return out, &DialError{Err: ErrNotAnswered, SIPCode: prog.code, Reason: prog.reason}
	case waitErr == nil:
		return out, nil
	case timedOut:
		out.TimedOut = true
		return out, nil
	default:
		return out, &DialError{Err: ErrDialFailed, SIPCode: prog.code, Reason: prog.reason, ExitCode: exitCode(waitErr)}
	}
}

func (u *UserAgent) simulate(ctx context.Context, req Request, why string) (Outcome, error) {
	log := logger.From(ctx)
	attrs := []any{
		slog.String("to", req.To),
		slog.String("from", req.From),
		slog.String("reason", why),
		slog.Duration("duration", u.cfg.SimulatedCallDuration),
	}
	if fi, err := os.Stat(req.AudioPath); err == nil {
		attrs = append(attrs, slog.Int64("audio_bytes", fi.Size()))
	}
	log.Warn("dial unavailable, simulating call", attrs...)

	if err := u.sleep(ctx, u.cfg.SimulatedCallDuration); err != nil {
		return Outcome{}, fmt.Errorf("telephony: simulated call interrupted: %w", err)
	}
	return Outcome{
		Mode:     calls.DialModeSimulated,
		Answered: true,
		Duration: u.cfg.SimulatedCallDuration,
	}, nil
}

func readEvents(r io.Reader, events chan<- Event, tail *tailBuffer) {
	defer close(events)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		tail.WriteLine(line)
		if ev, ok := ParseEvent(line); ok {
			events <- ev
		}
	}
	// drain anything left so the writer side never blocks
	_, _ = io.Copy(io.Discard, r)
}

// agentEnv is a minimal environment with audio hardware disabled.
func agentEnv() []string {
	env := []string{
		"ALSA_CARD=null",
		"PULSE_RUNTIME_PATH=/tmp/pulse",
	}
	for _, k := range []string{"PATH", "HOME", "LD_LIBRARY_PATH"} {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	return env
}

func exitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// tailBuffer keeps the last max bytes of line output.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) WriteLine(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, line...)
	b.buf = append(b.buf, '\n')
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
