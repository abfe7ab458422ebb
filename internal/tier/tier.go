package tier

import "strings"

// Tier is a named usage-policy class mapping to quota parameters.
type Tier string

// Known tiers.
const (
	Free       Tier = "FREE"
	Trial      Tier = "TRIAL"
	Student    Tier = "STUDENT"
	Enterprise Tier = "ENTERPRISE"
)

// Parse normalizes a tier name, falling back to Enterprise for unknown
// values.
func Parse(s string) Tier {
	switch Tier(strings.ToUpper(strings.TrimSpace(s))) {
	case Free:
		return Free
	case Trial:
		return Trial
	case Student:
		return Student
	case Enterprise:
		return Enterprise
	default:
		return Enterprise
	}
}

// Limits holds the quota parameters for one tier.
type Limits struct {
	WindowLimit int // Max distinct resources inside the rolling window.
	WindowDays  int // Rolling window length in days.
	TotalLimit  int // Lifetime distinct-resource cap.
}

// Resolver maps group names to tiers. A user's tier is taken from the
// first group whose name appears in the mapping; users with no mapped
// group get the Default tier. The no-match case is an explicit branch,
// never an accident of iteration order.
type Resolver struct {
	Mapping map[string]Tier // Group name to tier.
	Default Tier            // Tier when no group matches.
}

// NewResolver constructs a Resolver, applying defaults for empty inputs.
func NewResolver(mapping map[string]Tier, fallback Tier) *Resolver {
	if len(mapping) == 0 {
		mapping = DefaultMapping()
	}
	if fallback == "" {
		fallback = Enterprise
	}
	return &Resolver{Mapping: mapping, Default: fallback}
}

// Resolve returns the tier for the given group names.
func (r *Resolver) Resolve(groupNames []string) Tier {
	if r == nil {
		return Enterprise
	}
	for _, name := range groupNames {
		if t, ok := r.Mapping[name]; ok {
			return t
		}
	}
	return r.Default
}

// DefaultMapping returns the stock group-name mapping used by the
// upstream identity system.
func DefaultMapping() map[string]Tier {
	return map[string]Tier{
		"user_type:enterprise_trial": Trial,
		"user_type:student":          Student,
		"user_type:free":             Free,
		"user_type:enterprise":       Enterprise,
	}
}

// DefaultLimits returns the stock per-tier quota tables.
func DefaultLimits() map[Tier]Limits {
	return map[Tier]Limits{
		Free:       {WindowLimit: 30, WindowDays: 7, TotalLimit: 100},
		Trial:      {WindowLimit: 30, WindowDays: 7, TotalLimit: 100},
		Student:    {WindowLimit: 30, WindowDays: 7, TotalLimit: 100},
		Enterprise: {WindowLimit: 30, WindowDays: 7, TotalLimit: 100},
	}
}
