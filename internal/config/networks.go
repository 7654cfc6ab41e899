package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// NetworkConfig defines one chain the engine can attach to.
type NetworkConfig struct {
	Key         string `yaml:"-" json:"key"`
	Name        string `yaml:"name" json:"name"`
	RPCURL      string `yaml:"rpc_url" json:"rpcUrl"`
	WSURL       string `yaml:"ws_url,omitempty" json:"wsUrl,omitempty"` // empty selects polling
	ChainID     uint64 `yaml:"chain_id" json:"chainId"`
	Symbol      string `yaml:"symbol" json:"symbol"`
	ExplorerURL string `yaml:"explorer_url" json:"explorerUrl"`
}

// Validate checks the fields the engine cannot work without.
func (n NetworkConfig) Validate() error {
	if n.Name == "" {
		return fmt.Errorf("network %q: name is required", n.Key)
	}
	if n.RPCURL == "" {
		return fmt.Errorf("network %q: rpc_url is required", n.Key)
	}
	return nil
}

// NetworkRegistry manages all supported networks keyed by short name.
type NetworkRegistry struct {
	Networks map[string]NetworkConfig `yaml:"networks" json:"networks"`
}

// GetDefaultNetworkRegistry returns the built-in Somnia networks.
func GetDefaultNetworkRegistry() *NetworkRegistry {
	return &NetworkRegistry{
		Networks: map[string]NetworkConfig{
			"testnet": {
				Key:         "testnet",
				Name:        "Somnia Dream Testnet",
				RPCURL:      "https://dream-rpc.somnia.network",
				ChainID:     50312,
				Symbol:      "STT",
				ExplorerURL: "https://shannon-explorer.somnia.network",
			},
			"mainnet": {
				Key:         "mainnet",
				Name:        "Somnia Mainnet",
				RPCURL:      "https://api.infra.mainnet.somnia.network/",
				ChainID:     50311,
				Symbol:      "SOMI",
				ExplorerURL: "https://explorer.somnia.network",
			},
		},
	}
}

// LoadNetworkRegistry returns the default registry overlaid with the
// networks in path. Entries in the file replace defaults with the same key.
// An empty path returns the defaults.
func LoadNetworkRegistry(path string) (*NetworkRegistry, error) {
	reg := GetDefaultNetworkRegistry()
	if path == "" {
		return reg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read networks file: %w", err)
	}
	if err := reg.Merge(data); err != nil {
		return nil, fmt.Errorf("networks file %s: %w", path, err)
	}
	return reg, nil
}

// Merge overlays the YAML document data onto the registry.
func (r *NetworkRegistry) Merge(data []byte) error {
	var file NetworkRegistry
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse yaml: %w", err)
	}
	for key, n := range file.Networks {
		key = strings.ToLower(strings.TrimSpace(key))
		n.Key = key
		if err := n.Validate(); err != nil {
			return err
		}
		r.Networks[key] = n
	}
	return nil
}

// Get looks up a network by key, case-insensitively.
func (r *NetworkRegistry) Get(key string) (NetworkConfig, bool) {
	n, ok := r.Networks[strings.ToLower(strings.TrimSpace(key))]
	return n, ok
}

// List returns all networks sorted by key.
func (r *NetworkRegistry) List() []NetworkConfig {
	out := make([]NetworkConfig, 0, len(r.Networks))
	for _, n := range r.Networks {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
