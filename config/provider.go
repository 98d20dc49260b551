package config

import (
	"context"

	"github.com/pkg/errors"
)

// Provider is satisfied by every pluggable backend (sequence store,
// audit log) so they can all be selected and configured the same way.
type Provider interface {
	Name() string
	Configure(ctx context.Context, config map[string]interface{}) error
}

// ProviderInfo names which provider to use and its settings, as read
// from a config file.
type ProviderInfo struct {
	Provider string                 `yaml:"provider" toml:"provider"`
	Config   map[string]interface{} `yaml:"config,omitempty" toml:"config,omitempty"`
}

// LoadProvider finds the candidate whose Name() matches info.Provider
// and configures it. It returns the matching Provider so callers can
// type-assert it to the narrower interface they actually need.
func LoadProvider(ctx context.Context, info *ProviderInfo, providers ...Provider) (Provider, error) {
	if info == nil {
		return nil, errors.New("config: no provider info given")
	}
	var provider Provider
	for _, p := range providers {
		if p.Name() == info.Provider {
			provider = p
			break
		}
	}
	if provider == nil {
		return nil, errors.Errorf("config: provider %q not found", info.Provider)
	}
	if err := provider.Configure(ctx, info.Config); err != nil {
		return nil, err
	}
	return provider, nil
}
