package chain

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/payroll/internal/config"
)

// Registry holds one client per network. It is built once at start and
// shared by reference.
type Registry struct {
	clients map[string]Client
}

// NewRegistry indexes clients by their network name.
func NewRegistry(clients ...Client) (*Registry, error) {
	r := &Registry{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		name := strings.ToUpper(c.Network())
		if _, dup := r.clients[name]; dup {
			return nil, fmt.Errorf("network %s registered twice", name)
		}
		r.clients[name] = c
	}
	return r, nil
}

// Build creates clients from configuration. Remote clients are wrapped in a
// circuit breaker.
func Build(networks []config.NetworkConfig, logger *slog.Logger) (*Registry, error) {
	clients := make([]Client, 0, len(networks))
	for _, n := range networks {
		switch n.Driver {
		case config.DriverSimulated:
			sim := NewSimulated(n.Name, n.SenderAddress, n.Tokens).WithNativeSymbol(n.NativeSymbol)
			for asset, amount := range n.SeedBalances {
				value, err := decimal.NewFromString(amount)
				if err != nil {
					return nil, fmt.Errorf("network %s: seed balance %s: %w", n.Name, asset, err)
				}
				if err := sim.SetBalance(asset, value); err != nil {
					return nil, fmt.Errorf("network %s: seed balance %s: %w", n.Name, asset, err)
				}
			}
			clients = append(clients, sim)
		case config.DriverRemote:
			remote := NewRemote(RemoteConfig{
				Network:       n.Name,
				NativeSymbol:  n.NativeSymbol,
				SenderAddress: n.SenderAddress,
				BaseURL:       n.SignerURL,
				Tokens:        n.Tokens,
				Timeout:       time.Duration(n.TimeoutSeconds) * time.Second,
			})
			clients = append(clients, NewBreaker(remote, n.BreakerFailures, time.Duration(n.BreakerOpenSeconds)*time.Second, logger))
		default:
			return nil, fmt.Errorf("network %s: unknown driver %q", n.Name, n.Driver)
		}
		logger.Info("chain client registered", "network", n.Name, "driver", n.Driver)
	}
	return NewRegistry(clients...)
}

// Normalize returns the canonical network name if it is registered.
func (r *Registry) Normalize(network string) (string, bool) {
	name := strings.ToUpper(strings.TrimSpace(network))
	_, ok := r.clients[name]
	return name, ok
}

// Client returns the client for a network.
func (r *Registry) Client(network string) (Client, error) {
	name, ok := r.Normalize(network)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, network)
	}
	return r.clients[name], nil
}

// Networks lists registered networks in sorted order.
func (r *Registry) Networks() []string {
	out := make([]string, 0, len(r.clients))
	for name := range r.clients {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
