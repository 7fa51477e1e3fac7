package config

import (
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// LoadNamespaceFile parses one namespace model file from disk.
func LoadNamespaceFile(path string) (*Namespace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var ns Namespace
	if err := toml.Unmarshal(data, &ns); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	ns.Filename = filepath.Base(path)
	if ns.Name == "" {
		return nil, fmt.Errorf("config: %s declares no namespace name", path)
	}
	return &ns, nil
}

// SaveNamespaceFile serialises ns back to its TOML model file.
func SaveNamespaceFile(dir string, ns *Namespace) error {
	data, err := toml.Marshal(ns)
	if err != nil {
		return fmt.Errorf("config: marshalling namespace %q: %w", ns.Name, err)
	}
	filename := ns.Filename
	if filename == "" {
		filename = ns.Name + ".toml"
		ns.Filename = filename
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// LoadAllNamespaces walks dir for *.toml model files and parses each.
func LoadAllNamespaces(dir string) ([]*Namespace, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("config: reading model dir %s: %w", dir, err)
	}
	var out []*Namespace
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".toml" {
			continue
		}
		ns, err := LoadNamespaceFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, nil
}
