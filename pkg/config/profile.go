package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is an optional deployment profile loaded from YAML. It carries the
// knobs that vary per environment but are awkward as flat env vars.
type Profile struct {
	Service     string          `yaml:"service" json:"service"`
	Environment string          `yaml:"environment" json:"environment"`
	RateLimit   RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig bounds decision submissions per user.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	Burst             int `yaml:"burst" json:"burst"`
}

// DefaultProfile is used when no profile file is configured.
func DefaultProfile() *Profile {
	return &Profile{
		Service:     "verdict",
		Environment: "development",
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			Burst:             10,
		},
	}
}

// LoadProfile reads a YAML profile from path. Missing fields keep their
// default values.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}

	profile := DefaultProfile()
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", path, err)
	}

	if profile.RateLimit.RequestsPerMinute <= 0 {
		return nil, fmt.Errorf("profile %q: requests_per_minute must be positive", path)
	}
	if profile.RateLimit.Burst <= 0 {
		return nil, fmt.Errorf("profile %q: burst must be positive", path)
	}
	return profile, nil
}
