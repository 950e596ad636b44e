package chain

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
)

// Provider holds the known networks and which one is current. Signing and
// nonce allocation only ever need the current chain identifier.
type Provider struct {
	chains  map[string]*ChainConfig
	current string
	mu      sync.RWMutex
}

// NewProvider creates a provider over the default chains with current
// selected. It fails if current is not a known network.
func NewProvider(current string) (*Provider, error) {
	p := &Provider{chains: DefaultChains()}
	if err := p.SetCurrent(current); err != nil {
		return nil, err
	}
	return p, nil
}

// AddChain adds or overrides a chain configuration
func (p *Provider) AddChain(name string, config *ChainConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chains[name] = config
}

// GetChainConfig returns the configuration for a chain
func (p *Provider) GetChainConfig(chainName string) (*ChainConfig, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	config, ok := p.chains[chainName]
	if !ok {
		return nil, fmt.Errorf("unknown chain: %s", chainName)
	}
	return config, nil
}

// ListChains returns all configured chain names, sorted
func (p *Provider) ListChains() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	chains := make([]string, 0, len(p.chains))
	for name := range p.chains {
		chains = append(chains, name)
	}
	sort.Strings(chains)
	return chains
}

// SetCurrent switches the current network.
func (p *Provider) SetCurrent(chainName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.chains[chainName]; !ok {
		return fmt.Errorf("unknown chain: %s", chainName)
	}
	p.current = chainName
	return nil
}

// Current returns the current network configuration.
func (p *Provider) Current() *ChainConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.chains[p.current]
}

// ChainID returns the identifier of the current network.
func (p *Provider) ChainID() *big.Int {
	return new(big.Int).Set(p.Current().ChainID)
}

// FindByID returns the network with the given chain id, if known.
func (p *Provider) FindByID(id uint64) (*ChainConfig, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, c := range p.chains {
		if c.ChainID.IsUint64() && c.ChainID.Uint64() == id {
			return c, true
		}
	}
	return nil, false
}
