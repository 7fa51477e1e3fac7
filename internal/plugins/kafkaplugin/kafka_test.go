package kafkaplugin

import (
	"encoding/json"
	"testing"
)

func TestParseConfig_RejectsMissingBrokersOrTopic(t *testing.T) {
	p := New()
	raw, _ := json.Marshal(Config{Topic: "events"})
	if err := p.ParseConfig(raw); err == nil {
		t.Fatal("expected error for missing brokers")
	}
	raw, _ = json.Marshal(Config{Brokers: []string{"localhost:9092"}})
	if err := p.ParseConfig(raw); err == nil {
		t.Fatal("expected error for missing topic")
	}
}

func TestParseConfig_BuildsWriter(t *testing.T) {
	p := New()
	raw, _ := json.Marshal(Config{Brokers: []string{"localhost:9092"}, Topic: "events"})
	if err := p.ParseConfig(raw); err != nil {
		t.Fatal(err)
	}
	if p.writer == nil {
		t.Fatal("expected writer to be constructed")
	}
	if p.writer.Topic != "events" {
		t.Errorf("writer topic = %q", p.writer.Topic)
	}
}

func TestHasPermission_RestrictsToConfiguredRoles(t *testing.T) {
	p := New()
	raw, _ := json.Marshal(Config{Brokers: []string{"localhost:9092"}, Topic: "events", WritePermRoles: []string{"admin"}})
	if err := p.ParseConfig(raw); err != nil {
		t.Fatal(err)
	}
	if p.HasPermission("kafka://events#produce", []string{"agent"}, false) {
		t.Error("expected agent role to be denied")
	}
	if !p.HasPermission("kafka://events#produce", nil, true) {
		t.Error("expected bypass to always allow")
	}
}
