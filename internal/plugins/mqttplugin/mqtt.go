// Package mqttplugin is the "mqtt://" plugin protocol adapter: every
// invocation publishes its argument payload onto a configured topic.
package mqttplugin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/goatkit/chimesgate/internal/invoker"
	"github.com/goatkit/chimesgate/internal/plugin"
)

// Config is the on-disk shape of an mqtt:// plugin's config file, grounded
// on the same broker/topic/qos/retain keys the pack's Hermod MQTT sink
// accepts.
type Config struct {
	BrokerURL      string   `json:"broker_url"`
	Topic          string   `json:"topic"`
	ClientID       string   `json:"client_id,omitempty"`
	Username       string   `json:"username,omitempty"`
	Password       string   `json:"password,omitempty"`
	QoS            byte     `json:"qos,omitempty"`
	Retain         bool     `json:"retain,omitempty"`
	ConnectTimeout int      `json:"connect_timeout_seconds,omitempty"`
	ReadPermRoles  []string `json:"read_perm_roles,omitempty"`
	WritePermRoles []string `json:"write_perm_roles,omitempty"`
}

// Plugin publishes invocation arguments to an MQTT broker via
// eclipse/paho.mqtt.golang, lazily connecting on first use exactly as the
// pack's Hermod MQTT sink does.
type Plugin struct {
	cfg    Config
	client paho.Client
}

// New constructs an uninitialised adapter; ParseConfig populates it.
func New() *Plugin {
	return &Plugin{}
}

// Install is the plugin.InstallerFunc registered for the "mqtt" protocol.
func Install(raw []byte) (plugin.Plugin, error) {
	p := New()
	if err := p.ParseConfig(raw); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Plugin) Protocol() string { return "mqtt" }

func (p *Plugin) ParseConfig(raw []byte) error {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("mqttplugin: parsing plugin config: %w", err)
	}
	if cfg.BrokerURL == "" {
		return fmt.Errorf("%w: mqttplugin requires broker_url", invoker.ErrMalformed)
	}
	if cfg.Topic == "" {
		return fmt.Errorf("%w: mqttplugin requires topic", invoker.ErrMalformed)
	}
	if cfg.QoS > 2 {
		cfg.QoS = 1
	}
	p.cfg = cfg
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
		return fmt.Errorf("mqttplugin: serialising plugin config: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

func (p *Plugin) GetMetadata() []plugin.Metadata {
	return []plugin.Metadata{{URI: "mqtt://" + p.cfg.Topic, Name: "publish"}}
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

func (p *Plugin) ensureClient() error {
	if p.client != nil && p.client.IsConnectionOpen() {
		return nil
	}
	opts := paho.NewClientOptions().AddBroker(p.cfg.BrokerURL).SetClientID(p.cfg.ClientID)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	timeout := 15 * time.Second
	if p.cfg.ConnectTimeout > 0 {
		timeout = time.Duration(p.cfg.ConnectTimeout) * time.Second
	}
	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: mqttplugin connect timeout", invoker.ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: mqttplugin connect failed: %v", invoker.ErrBackend, err)
	}
	p.client = client
	return nil
}

func (p *Plugin) publish(ctx context.Context, method string, args map[string]interface{}) error {
	if err := p.ensureClient(); err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]interface{}{"method": method, "args": args})
	if err != nil {
		return fmt.Errorf("%w: marshaling mqtt payload: %v", invoker.ErrMalformed, err)
	}
	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, p.cfg.Retain, payload)
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: mqtt publish failed: %v", invoker.ErrBackend, err)
		}
	}
	return nil
}

func (p *Plugin) InvokeReturnOption(ctx context.Context, ic *invoker.Context, namespace, name, method string, args map[string]interface{}) (map[string]interface{}, error) {
	if err := p.publish(ctx, method, args); err != nil {
		return nil, err
	}
	return map[string]interface{}{"published": true, "topic": p.cfg.Topic}, nil
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
