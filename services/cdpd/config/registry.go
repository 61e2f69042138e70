package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"stablecdp/native/cdp"
)

// Registry is the governance controlled risk configuration: the engine wide
// policy plus the limits of every supported collateral type.
type Registry struct {
	Policy     cdp.Policy            `toml:"policy"`
	Collateral map[string]Collateral `toml:"collateral"`
}

// Collateral configures a single collateral type.
type Collateral struct {
	// PriceDecimals is the scale oracle prices are quoted at.
	PriceDecimals uint8              `toml:"PriceDecimals"`
	Limits        cdp.CreationConfig `toml:"limits"`
}

// LoadRegistry decodes a TOML registry file. Unknown keys are rejected so a
// mistyped limit cannot silently fall back to zero.
func LoadRegistry(path string) (Registry, error) {
	var reg Registry
	meta, err := toml.DecodeFile(path, &reg)
	if err != nil {
		return Registry{}, fmt.Errorf("decode registry: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Registry{}, fmt.Errorf("registry: unknown fields %v", undecoded)
	}
	if err := reg.normalise(); err != nil {
		return Registry{}, err
	}
	return reg, nil
}

// ParseRegistry decodes registry TOML held in memory.
func ParseRegistry(data string) (Registry, error) {
	var reg Registry
	meta, err := toml.Decode(data, &reg)
	if err != nil {
		return Registry{}, fmt.Errorf("decode registry: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Registry{}, fmt.Errorf("registry: unknown fields %v", undecoded)
	}
	if err := reg.normalise(); err != nil {
		return Registry{}, err
	}
	return reg, nil
}

func (r *Registry) normalise() error {
	r.Policy.EnsureDefaults()
	if err := r.Policy.Validate(); err != nil {
		return fmt.Errorf("registry policy: %w", err)
	}
	if len(r.Collateral) == 0 {
		return errors.New("registry: at least one collateral type must be configured")
	}
	normalised := make(map[string]Collateral, len(r.Collateral))
	for symbol, entry := range r.Collateral {
		key := NormaliseSymbol(symbol)
		if key == "" {
			return errors.New("registry: empty collateral symbol")
		}
		if _, dup := normalised[key]; dup {
			return fmt.Errorf("registry: collateral %s configured twice", key)
		}
		if err := entry.Limits.Validate(); err != nil {
			return fmt.Errorf("registry: collateral %s: %w", key, err)
		}
		normalised[key] = entry
	}
	r.Collateral = normalised
	return nil
}

// Lookup returns the configuration of a collateral type.
func (r Registry) Lookup(symbol string) (Collateral, bool) {
	entry, ok := r.Collateral[NormaliseSymbol(symbol)]
	return entry, ok
}

// Symbols lists the configured collateral types in sorted order.
func (r Registry) Symbols() []string {
	out := make([]string, 0, len(r.Collateral))
	for symbol := range r.Collateral {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// NormaliseSymbol canonicalises a collateral symbol.
func NormaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
