package scheduler

import (
	"github.com/goatkit/chimesgate/internal/invoker"
)

// Kind distinguishes the two job shapes allows.
type Kind int

const (
	// KindURIInvocation builds a context with a simulated identity and
	// dispatches URI through the standard invocation path.
	KindURIInvocation Kind = iota
	// KindShellCommand runs a sequence of shell lines, joined with "&&",
	// through the host shell.
	KindShellCommand
)

// Job is one scheduled entry. Jobs are keyed by "ns://plugin/name#method"
//; registering a job under a key that is already scheduled
// replaces the prior definition rather than running both.
type Job struct {
	Key      string
	Schedule string
	Kind     Kind

	// URI invocation fields.
	URI       string
	Identity  *invoker.JWTClaims

	// Shell command fields.
	Commands []string
	CodePage string
}

// shellLine joins Commands the way a cron-triggered shell job is invoked:
// one line per command, chained so a failure aborts the remainder.
func (j Job) shellLine() string {
	line := ""
	for i, c := range j.Commands {
		if i > 0 {
			line += " && "
		}
		line += c
	}
	return line
}
