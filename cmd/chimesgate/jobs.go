package main

import (
	"fmt"

	"github.com/goatkit/chimesgate/internal/appconfig"
	"github.com/goatkit/chimesgate/internal/invoker"
	"github.com/goatkit/chimesgate/internal/scheduler"
)

// loadScheduledJobs registers every job declared in the server config
// against sched, translating appconfig's wire shape into scheduler.Job.
func loadScheduledJobs(sched *scheduler.Scheduler, cfg *appconfig.Config) error {
	for _, jc := range cfg.Jobs {
		job := scheduler.Job{
			Key:      jc.Key,
			Schedule: jc.Schedule,
			Commands: jc.Commands,
			CodePage: jc.CodePage,
			URI:      jc.URI,
		}
		switch jc.Kind {
		case "shell":
			job.Kind = scheduler.KindShellCommand
		case "uri", "":
			job.Kind = scheduler.KindURIInvocation
			if jc.IdentityUserID != "" || jc.IdentityUsername != "" || len(jc.IdentityRoles) > 0 {
				job.Identity = &invoker.JWTClaims{
					UserID:   jc.IdentityUserID,
					Username: jc.IdentityUsername,
					Roles:    jc.IdentityRoles,
				}
			}
		default:
			return fmt.Errorf("job %q: unknown kind %q, want \"uri\" or \"shell\"", jc.Key, jc.Kind)
		}
		if err := sched.AddJob(job); err != nil {
			return fmt.Errorf("job %q: %w", jc.Key, err)
		}
	}
	return nil
}
