package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// JobOverrides is the optional TOML file that toggles individual jobs:
//
//	[jobs.billing-cycles]
//	enabled = false
type JobOverrides struct {
	Jobs map[string]JobOverride `toml:"jobs"`
}

type JobOverride struct {
	Enabled *bool `toml:"enabled"`
}

// LoadJobOverrides loads overrides from a TOML file. Keys other than enabled
// are rejected so the file cannot silently diverge from the registry.
func LoadJobOverrides(filename string) (*JobOverrides, error) {
	overrides := &JobOverrides{}
	md, err := toml.DecodeFile(filename, overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to load job overrides: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unsupported job override keys: %v", undecoded)
	}
	return overrides, nil
}

// Enabled returns the enabled flag per job name, skipping entries that do not set it.
func (o *JobOverrides) Enabled() map[string]bool {
	out := make(map[string]bool, len(o.Jobs))
	for name, j := range o.Jobs {
		if j.Enabled != nil {
			out[name] = *j.Enabled
		}
	}
	return out
}
