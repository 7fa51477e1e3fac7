package compose

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/goatkit/chimesgate/internal/condition"
	"github.com/goatkit/chimesgate/internal/invoker"
	"github.com/goatkit/chimesgate/internal/invokeuri"
)

type fakeRegistry struct {
	calls []string
}

func (f *fakeRegistry) InvokeReturnOption(ctx context.Context, ic *invoker.Context, u *invokeuri.InvokeURI, args map[string]interface{}, cond *condition.QueryCondition) (map[string]interface{}, error) {
	f.calls = append(f.calls, u.String())
	out := map[string]interface{}{"step": u.Object}
	for k, v := range args {
		out[k] = v
	}
	return out, nil
}

func TestCompose_ChainsStepsAndFeedsResultForward(t *testing.T) {
	cfg := Config{Steps: []Step{
		{URI: "object://helpdesk/tickets", Method: "find_one"},
		{URI: "restapi://helpdesk/notify", Method: "invoke"},
	}}
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	p := New()
	if err := p.ParseConfig(raw); err != nil {
		t.Fatal(err)
	}
	reg := &fakeRegistry{}
	p.SetRegistry(reg)

	result, err := p.InvokeReturnOption(context.Background(), invoker.NewContext(nil), "helpdesk", "chain", "run", map[string]interface{}{"id": 1})
	if err != nil {
		t.Fatal(err)
	}
	if result["step"] != "notify" {
		t.Errorf("result = %v", result)
	}
	if len(reg.calls) != 2 {
		t.Fatalf("calls = %v", reg.calls)
	}
	if reg.calls[0] != "object://helpdesk/tickets#find_one" {
		t.Errorf("first call = %q", reg.calls[0])
	}
}

func TestCompose_NoStepsRejectedAtParse(t *testing.T) {
	p := New()
	raw, _ := json.Marshal(Config{})
	if err := p.ParseConfig(raw); err == nil {
		t.Fatal("expected error for empty steps")
	}
}

func TestCompose_UnboundRegistryErrors(t *testing.T) {
	p := New()
	raw, _ := json.Marshal(Config{Steps: []Step{{URI: "object://helpdesk/tickets", Method: "select"}}})
	if err := p.ParseConfig(raw); err != nil {
		t.Fatal(err)
	}
	if _, err := p.InvokeReturnOption(context.Background(), invoker.NewContext(nil), "helpdesk", "chain", "run", nil); err == nil {
		t.Fatal("expected error when no registry is bound")
	}
}
