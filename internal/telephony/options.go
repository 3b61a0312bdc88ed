package telephony

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"
)

// uaOptions is the user agent's startup configuration, one flag per line.
type uaOptions struct {
	Host            string
	Port            int
	Realm           string
	Username        string
	Password        string
	FromID          string
	AudioPath       string
	MaxCallDuration time.Duration
	RegisterTimeout time.Duration
}

func (o uaOptions) lines() []string {
	host := o.Host
	if o.Port != 0 && o.Port != 5060 {
		host = fmt.Sprintf("%s:%d", o.Host, o.Port)
	}
	out := []string{
		"--null-audio",
		"--max-calls=1",
		fmt.Sprintf("--id=sip:%s@%s", o.FromID, o.Host),
		fmt.Sprintf("--registrar=sip:%s", host),
		fmt.Sprintf("--realm=%s", o.Realm),
		fmt.Sprintf("--username=%s", o.Username),
		fmt.Sprintf("--password=%s", o.Password),
		fmt.Sprintf("--reg-timeout=%d", seconds(o.RegisterTimeout)),
		fmt.Sprintf("--duration=%d", seconds(o.MaxCallDuration)),
		"--add-codec=PCMU",
		"--add-codec=PCMA",
		"--log-level=3",
		"--app-log-level=3",
	}
	if o.AudioPath != "" {
		out = append(out,
			fmt.Sprintf("--play-file=%s", o.AudioPath),
			"--auto-play",
			"--auto-play-hangup",
		)
	}
	return out
}

// writeConfigFile stores the options with owner-only permissions so the
// password never shows up in the process list. The caller removes the file.
func writeConfigFile(o uaOptions) (string, error) {
	f, err := os.CreateTemp("", "dial-*.cfg")
	if err != nil {
		return "", err
	}
	name := f.Name()
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if _, err := f.WriteString(strings.Join(o.lines(), "\n") + "\n"); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

func seconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

func targetURI(to, host string, port int) string {
	if port != 0 && port != 5060 {
		return fmt.Sprintf("sip:%s@%s:%d", to, host, port)
	}
	return fmt.Sprintf("sip:%s@%s", to, host)
}
