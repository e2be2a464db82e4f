package registry

import (
	"bytes"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

// File is the on-disk registry layout:
// pillars: [{address, name, pubkey}]
type File struct {
	Pillars []Entry `yaml:"pillars" toml:"pillars"`
}

// LoadFile parses a registry file. The format is chosen by extension:
// .toml is read as TOML, anything else as YAML.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}

	var file File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.NewDecoder(bytes.NewReader(data)).Decode(&file); err != nil {
			return nil, fmt.Errorf("parse registry file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse registry file: %w", err)
		}
	}

	if err := validateEntries(file.Pillars); err != nil {
		return nil, err
	}
	return New(file.Pillars), nil
}

func validateEntries(entries []Entry) error {
	if len(entries) == 0 {
		return fmt.Errorf("registry file contains no pillars")
	}

	seen := make(map[string]bool, len(entries))
	for i, entry := range entries {
		address := strings.TrimSpace(entry.Address)
		if address == "" {
			return fmt.Errorf("pillar %d: address is required", i)
		}
		if _, err := netip.ParseAddr(address); err != nil {
			return fmt.Errorf("pillar %q: invalid address %q", entry.Name, address)
		}
		if strings.TrimSpace(entry.Name) == "" {
			return fmt.Errorf("pillar %q: name is required", address)
		}
		if seen[address] {
			return fmt.Errorf("pillar %q: duplicate address", address)
		}
		seen[address] = true
	}
	return nil
}
