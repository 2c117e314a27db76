package config

import (
	"fmt"
	"strings"

	"github.com/jinzhu/configor"
)

// Chain client drivers understood by the registry.
const (
	DriverSimulated = "simulated"
	DriverRemote    = "remote"
)

// NetworkConfig describes one chain the engine can pay out on.
type NetworkConfig struct {
	Name          string            `yaml:"name" json:"name" required:"true"`
	Driver        string            `yaml:"driver" json:"driver" default:"simulated"`
	SignerURL     string            `yaml:"signer_url" json:"signer_url"`
	SenderAddress string            `yaml:"sender_address" json:"sender_address"`
	// NativeSymbol is the gas asset ticker (ETH, MATIC, BNB). It defaults per known network.
	NativeSymbol string            `yaml:"native_symbol" json:"native_symbol"`
	Tokens       map[string]string `yaml:"tokens" json:"tokens"`
	// SeedBalances preloads simulated balances, keyed by asset symbol.
	SeedBalances   map[string]string `yaml:"seed_balances" json:"seed_balances"`
	TimeoutSeconds int               `yaml:"timeout_seconds" json:"timeout_seconds" default:"30"`
	// Breaker trips after this many consecutive failures and stays open for BreakerOpenSeconds.
	BreakerFailures    uint32 `yaml:"breaker_failures" json:"breaker_failures" default:"5"`
	BreakerOpenSeconds int    `yaml:"breaker_open_seconds" json:"breaker_open_seconds" default:"30"`
}

var nativeSymbols = map[string]string{
	"ETHEREUM": "ETH",
	"POLYGON":  "MATIC",
	"BSC":      "BNB",
}

// DefaultNativeSymbol returns the gas asset ticker of a well-known network,
// or "" when the network is not known.
func DefaultNativeSymbol(network string) string {
	return nativeSymbols[strings.ToUpper(strings.TrimSpace(network))]
}

type networksFile struct {
	Networks []NetworkConfig `yaml:"networks" json:"networks"`
}

// LoadNetworks reads a YAML/JSON/TOML network registry file.
func LoadNetworks(path string) ([]NetworkConfig, error) {
	var file networksFile
	loader := configor.New(&configor.Config{ENVPrefix: "PAYROLL", Silent: true})
	if err := loader.Load(&file, path); err != nil {
		return nil, fmt.Errorf("load networks config %s: %w", path, err)
	}
	if len(file.Networks) == 0 {
		return nil, fmt.Errorf("networks config %s declares no networks", path)
	}

	seen := make(map[string]struct{}, len(file.Networks))
	for i := range file.Networks {
		n := &file.Networks[i]
		n.Name = strings.ToUpper(strings.TrimSpace(n.Name))
		n.Driver = strings.ToLower(n.Driver)
		n.NativeSymbol = strings.ToUpper(strings.TrimSpace(n.NativeSymbol))
		if n.NativeSymbol == "" {
			n.NativeSymbol = DefaultNativeSymbol(n.Name)
		}
		if _, dup := seen[n.Name]; dup {
			return nil, fmt.Errorf("network %s declared twice", n.Name)
		}
		seen[n.Name] = struct{}{}
		switch n.Driver {
		case DriverSimulated:
		case DriverRemote:
			if n.SignerURL == "" {
				return nil, fmt.Errorf("network %s: signer_url is required for the remote driver", n.Name)
			}
		default:
			return nil, fmt.Errorf("network %s: unknown driver %q", n.Name, n.Driver)
		}
	}
	return file.Networks, nil
}

// DevelopmentNetworks returns simulated networks carrying the public token
// contract addresses, used when no registry file is configured.
func DevelopmentNetworks() []NetworkConfig {
	seed := map[string]string{"NATIVE": "10", "USDT": "100000", "USDC": "100000", "DAI": "100000"}
	return []NetworkConfig{
		{
			Name:          "ETHEREUM",
			Driver:        DriverSimulated,
			NativeSymbol:  "ETH",
			SenderAddress: "0x000000000000000000000000000000000000E7A1",
			Tokens: map[string]string{
				"USDT": "0x2Cf09c9DdF37F09eA9AD9897894fe59114f6E43e",
				"USDC": "0x94a9D9AC8a22534E3FaCa9F4e7F2E2cf85d5E4C8",
				"DAI":  "0x3e622317f8C93f7328350cF0b56E9b2d5C0C1b2E",
			},
			SeedBalances:       seed,
			TimeoutSeconds:     30,
			BreakerFailures:    5,
			BreakerOpenSeconds: 30,
		},
		{
			Name:          "POLYGON",
			Driver:        DriverSimulated,
			NativeSymbol:  "MATIC",
			SenderAddress: "0x000000000000000000000000000000000000B01A",
			Tokens: map[string]string{
				"USDT": "0xc2132D05D31c914a87C6611C10748AEb04B58e8F",
				"USDC": "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
				"DAI":  "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063",
			},
			SeedBalances:       seed,
			TimeoutSeconds:     30,
			BreakerFailures:    5,
			BreakerOpenSeconds: 30,
		},
		{
			Name:          "BSC",
			Driver:        DriverSimulated,
			NativeSymbol:  "BNB",
			SenderAddress: "0x000000000000000000000000000000000000B5C0",
			Tokens: map[string]string{
				"USDT": "0x55d398326f99059fF775485246999027B3197955",
				"USDC": "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d",
				"DAI":  "0x1AF3F329e8BE154074D8769D1FFa4eE058B1DBc3",
			},
			SeedBalances:       seed,
			TimeoutSeconds:     30,
			BreakerFailures:    5,
			BreakerOpenSeconds: 30,
		},
	}
}
