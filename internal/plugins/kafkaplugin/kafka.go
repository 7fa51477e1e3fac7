// Package kafkaplugin is the "kafka://" plugin protocol adapter: every
// invocation produces one message onto a configured topic.
package kafkaplugin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	kafka "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/goatkit/chimesgate/internal/invoker"
	"github.com/goatkit/chimesgate/internal/plugin"
)

// Config is the on-disk shape of a kafka:// plugin's config file, grounded
// on the brokers/topic/SASL fields the pack's Hermod kafka sink accepts.
type Config struct {
	Brokers        []string `json:"brokers"`
	Topic          string   `json:"topic"`
	Username       string   `json:"username,omitempty"`
	Password       string   `json:"password,omitempty"`
	ReadPermRoles  []string `json:"read_perm_roles,omitempty"`
	WritePermRoles []string `json:"write_perm_roles,omitempty"`
}

// Plugin produces invocation arguments onto a Kafka topic via
// segmentio/kafka-go, mirroring the pack's Hermod KafkaSink writer setup.
type Plugin struct {
	cfg    Config
	writer *kafka.Writer
}

// New constructs an uninitialised adapter; ParseConfig populates it.
func New() *Plugin {
	return &Plugin{}
}

// Install is the plugin.InstallerFunc registered for the "kafka" protocol.
func Install(raw []byte) (plugin.Plugin, error) {
	p := New()
	if err := p.ParseConfig(raw); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Plugin) Protocol() string { return "kafka" }

func (p *Plugin) ParseConfig(raw []byte) error {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("kafkaplugin: parsing plugin config: %w", err)
	}
	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("%w: kafkaplugin requires at least one broker", invoker.ErrMalformed)
	}
	if cfg.Topic == "" {
		return fmt.Errorf("%w: kafkaplugin requires topic", invoker.ErrMalformed)
	}
	p.cfg = cfg

	var transport *kafka.Transport
	if cfg.Username != "" {
		transport = &kafka.Transport{SASL: plain.Mechanism{Username: cfg.Username, Password: cfg.Password}}
	}
	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		Transport:              transport,
	}
	return nil
}

func (p *Plugin) GetConfig() map[string]interface{} {
	raw, _ := json.Marshal(p.cfg)
	var m map[string]interface{}
	_ = json.Unmarshal(raw, &m)
	return m
}

func (p *Plugin) SaveConfig(path string) error {
	raw, err := json.MarshalIndent(p.cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("kafkaplugin: serialising plugin config: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

func (p *Plugin) GetMetadata() []plugin.Metadata {
	return []plugin.Metadata{{URI: "kafka://" + p.cfg.Topic, Name: "produce"}}
}

func (p *Plugin) HasPermission(uri string, roles []string, bypass bool) bool {
	if bypass || len(p.cfg.WritePermRoles) == 0 {
		return true
	}
	for _, required := range p.cfg.WritePermRoles {
		for _, held := range roles {
			if required == held {
				return true
			}
		}
	}
	return false
}

func (p *Plugin) produce(ctx context.Context, method string, args map[string]interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{"method": method, "args": args})
	if err != nil {
		return fmt.Errorf("%w: marshaling kafka payload: %v", invoker.ErrMalformed, err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(method), Value: payload}); err != nil {
		return fmt.Errorf("%w: writing kafka message: %v", invoker.ErrBackend, err)
	}
	return nil
}

func (p *Plugin) InvokeReturnOption(ctx context.Context, ic *invoker.Context, namespace, name, method string, args map[string]interface{}) (map[string]interface{}, error) {
	if err := p.produce(ctx, method, args); err != nil {
		return nil, err
	}
	return map[string]interface{}{"produced": true, "topic": p.cfg.Topic}, nil
}

func (p *Plugin) InvokeReturnVec(ctx context.Context, ic *invoker.Context, namespace, name, method string, args map[string]interface{}) ([]map[string]interface{}, error) {
	row, err := p.InvokeReturnOption(ctx, ic, namespace, name, method, args)
	if err != nil {
		return nil, err
	}
	return []map[string]interface{}{row}, nil
}

func (p *Plugin) InvokeReturnPage(ctx context.Context, ic *invoker.Context, namespace, name, method string, args map[string]interface{}) (*invoker.Page, error) {
	rows, err := p.InvokeReturnVec(ctx, ic, namespace, name, method, args)
	if err != nil {
		return nil, err
	}
	return &invoker.Page{Rows: rows, TotalCount: int64(len(rows)), PageNo: 1, PageSize: len(rows)}, nil
}
