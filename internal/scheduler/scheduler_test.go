package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goatkit/chimesgate/internal/condition"
	"github.com/goatkit/chimesgate/internal/invoker"
	"github.com/goatkit/chimesgate/internal/invokeuri"
)

type fakeRegistry struct {
	mu    sync.Mutex
	calls []string
	claim *invoker.JWTClaims
}

func (f *fakeRegistry) InvokeReturnOption(ctx context.Context, ic *invoker.Context, u *invokeuri.InvokeURI, data map[string]interface{}, cond *condition.QueryCondition) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, u.String())
	f.claim = ic.Claims()
	return map[string]interface{}{"ok": true}, nil
}

func (f *fakeRegistry) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestAddJob_URIInvocation_RunsOnSchedule(t *testing.T) {
	reg := &fakeRegistry{}
	s := New(reg)
	s.Start()
	defer s.Stop()

	job := Job{
		Key:      "object://helpdesk/tickets#paged_query",
		Schedule: "@every 50ms",
		Kind:     KindURIInvocation,
		URI:      "object://helpdesk/tickets#select",
		Identity: &invoker.JWTClaims{Username: "scheduler", Roles: []string{"admin"}},
	}
	if err := s.AddJob(job); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for reg.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if reg.callCount() == 0 {
		t.Fatal("expected at least one scheduled invocation")
	}
	if reg.claim == nil || reg.claim.Username != "scheduler" {
		t.Errorf("claims = %+v, want simulated identity", reg.claim)
	}
}

func TestAddJob_ReplacesPriorDefinitionUnderSameKey(t *testing.T) {
	reg := &fakeRegistry{}
	s := New(reg)

	job := Job{Key: "k1", Schedule: "@every 1h", Kind: KindURIInvocation, URI: "object://helpdesk/tickets#select"}
	if err := s.AddJob(job); err != nil {
		t.Fatal(err)
	}
	firstID := s.entries["k1"]

	if err := s.AddJob(job); err != nil {
		t.Fatal(err)
	}
	secondID := s.entries["k1"]
	if firstID == secondID {
		t.Error("expected replacing the job to register a new cron entry")
	}
	if len(s.entries) != 1 {
		t.Errorf("entries = %d, want 1 (no duplicate registration)", len(s.entries))
	}
}

func TestAddJob_RejectsURIInvocationWithNoRegistry(t *testing.T) {
	s := New(nil)
	job := Job{Key: "k1", Schedule: "@every 1h", Kind: KindURIInvocation, URI: "object://helpdesk/tickets#select"}
	if err := s.AddJob(job); err == nil {
		t.Fatal("expected error for uri-invocation job with no registry bound")
	}
}

func TestAddJob_RejectsShellCommandWithNoCommands(t *testing.T) {
	s := New(nil)
	job := Job{Key: "k1", Schedule: "@every 1h", Kind: KindShellCommand}
	if err := s.AddJob(job); err == nil {
		t.Fatal("expected error for shell-command job with no commands")
	}
}

func TestRunShellCommand_JoinsLinesWithAnd(t *testing.T) {
	s := New(nil)
	job := Job{
		Key:      "shell-1",
		Schedule: "@every 1h",
		Kind:     KindShellCommand,
		Commands: []string{"true", "true"},
	}
	if err := s.runShellCommand(job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunShellCommand_FailureIsReported(t *testing.T) {
	s := New(nil)
	job := Job{
		Key:      "shell-2",
		Schedule: "@every 1h",
		Kind:     KindShellCommand,
		Commands: []string{"false"},
	}
	if err := s.runShellCommand(job); err == nil {
		t.Fatal("expected error for a failing shell command")
	}
}

func TestRemoveJob_DeregistersEntry(t *testing.T) {
	reg := &fakeRegistry{}
	s := New(reg)
	job := Job{Key: "k1", Schedule: "@every 1h", Kind: KindURIInvocation, URI: "object://helpdesk/tickets#select"}
	if err := s.AddJob(job); err != nil {
		t.Fatal(err)
	}
	s.RemoveJob("k1")
	if _, ok := s.Jobs()["k1"]; ok {
		t.Error("expected job to be removed")
	}
}
