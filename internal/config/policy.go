package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/bloodlift/bloodlift/internal/abuse"
	"github.com/bloodlift/bloodlift/internal/facility"
	"github.com/bloodlift/bloodlift/internal/geo"
	"github.com/bloodlift/bloodlift/internal/mission"
	"github.com/bloodlift/bloodlift/internal/safety"
)

// EnvPrefix prefixes policy overrides, e.g. BLOODLIFT_ABUSE__MIN_DELIVERIES.
const EnvPrefix = "BLOODLIFT_"

// FacilitySeed is a facility declared in the policy file, used with
// in-memory stores.
type FacilitySeed struct {
	ID   string  `koanf:"id"`
	Name string  `koanf:"name"`
	Kind string  `koanf:"kind"`
	Lat  float64 `koanf:"lat"`
	Lon  float64 `koanf:"lon"`
}

// Policy is the dispatch policy.
type Policy struct {
	Thresholds     safety.Thresholds `koanf:"thresholds"`
	Abuse          abuse.Config      `koanf:"abuse"`
	Fleet          []string          `koanf:"fleet"`
	CruiseAltitude float64           `koanf:"cruise_altitude"`
	Facilities     []FacilitySeed    `koanf:"facilities"`
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	return Policy{
		Thresholds:     safety.DefaultThresholds(),
		Abuse:          abuse.Config{UrgentPercentThreshold: abuse.DefaultUrgentPercentThreshold, MinDeliveries: abuse.DefaultMinDeliveries},
		CruiseAltitude: mission.DefaultCruiseAltitude,
	}
}

// LoadPolicy reads the YAML policy at path, then applies BLOODLIFT_
// environment overrides. Nested keys are separated by a double underscore.
// An empty path yields the default policy plus overrides.
func LoadPolicy(path string) (*Policy, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load policy %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load policy overrides: %w", err)
	}

	policy := DefaultPolicy()
	if err := k.Unmarshal("", &policy); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &policy, nil
}

// Validate checks the policy for values that cannot work.
func (p *Policy) Validate() error {
	if p.CruiseAltitude < 0 {
		return errors.New("policy: cruise_altitude must not be negative")
	}
	if p.Abuse.UrgentPercentThreshold < 0 || p.Abuse.UrgentPercentThreshold > 100 {
		return errors.New("policy: abuse.urgent_percent_threshold must be within [0, 100]")
	}
	if p.Abuse.MinDeliveries < 0 {
		return errors.New("policy: abuse.min_deliveries must not be negative")
	}

	seen := make(map[string]bool, len(p.Fleet))
	for _, id := range p.Fleet {
		if id == "" {
			return errors.New("policy: fleet contains an empty carrier id")
		}
		if seen[id] {
			return fmt.Errorf("policy: carrier %s listed twice", id)
		}
		seen[id] = true
	}

	for _, f := range p.Facilities {
		if f.ID == "" {
			return errors.New("policy: facility without id")
		}
		if err := (geo.Coordinate{Lat: f.Lat, Lon: f.Lon}).Validate(); err != nil {
			return fmt.Errorf("policy: facility %s: %w", f.ID, err)
		}
	}
	return nil
}

// SeedFacilities converts the declared facilities.
func (p *Policy) SeedFacilities() []facility.Facility {
	out := make([]facility.Facility, 0, len(p.Facilities))
	for _, f := range p.Facilities {
		kind := facility.Kind(f.Kind)
		if kind == "" {
			kind = facility.KindHospital
		}
		out = append(out, facility.Facility{
			ID:       f.ID,
			Name:     f.Name,
			Kind:     kind,
			Location: geo.Coordinate{Lat: f.Lat, Lon: f.Lon},
		})
	}
	return out
}
