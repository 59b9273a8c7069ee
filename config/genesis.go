package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"rsavings/native/rtoken"
)

// GenesisAccount seeds one holder of the underlying asset. Approve grants the
// pool a pull allowance so the account can mint without a separate call.
type GenesisAccount struct {
	Address rtoken.Address `yaml:"address"`
	Balance string         `yaml:"balance"`
	Approve string         `yaml:"approve"`
}

// GenesisHat pre-registers a distribution policy.
type GenesisHat struct {
	Recipients  []rtoken.Address `yaml:"recipients"`
	Proportions []uint32         `yaml:"proportions"`
}

// Genesis is the one-time initial allocation applied on first start.
type Genesis struct {
	Accounts []GenesisAccount `yaml:"accounts"`
	Hats     []GenesisHat     `yaml:"hats"`
}

// LoadGenesis reads and validates a YAML genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	gen := &Genesis{}
	if err := yaml.Unmarshal(raw, gen); err != nil {
		return nil, fmt.Errorf("genesis: parse %s: %w", path, err)
	}
	if err := gen.Validate(); err != nil {
		return nil, fmt.Errorf("genesis: %s: %w", path, err)
	}
	return gen, nil
}

// Validate checks addresses and amounts before anything is written.
func (g *Genesis) Validate() error {
	seen := make(map[rtoken.Address]struct{}, len(g.Accounts))
	for i, acc := range g.Accounts {
		if acc.Address.IsZero() {
			return fmt.Errorf("account %d: zero address", i)
		}
		if _, ok := seen[acc.Address]; ok {
			return fmt.Errorf("account %d: duplicate address %s", i, acc.Address)
		}
		seen[acc.Address] = struct{}{}
		if _, err := parseGenesisAmount(acc.Balance); err != nil {
			return fmt.Errorf("account %d balance: %w", i, err)
		}
		if _, err := parseGenesisAmount(acc.Approve); err != nil {
			return fmt.Errorf("account %d approve: %w", i, err)
		}
	}
	return nil
}

// ParsedBalance returns the account's starting balance.
func (a GenesisAccount) ParsedBalance() *big.Int {
	v, _ := parseGenesisAmount(a.Balance)
	return v
}

// ParsedApprove returns the account's starting pool allowance.
func (a GenesisAccount) ParsedApprove() *big.Int {
	v, _ := parseGenesisAmount(a.Approve)
	return v
}

func parseGenesisAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return v, nil
}
