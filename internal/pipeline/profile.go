package pipeline

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Profile is a reusable run configuration loaded from a YAML file, so
// recurring datasets can be processed without repeating flags.
type Profile struct {
	ZIPColumn   string   `yaml:"zip_column"`
	GroupColumn string   `yaml:"group_column"`
	Retain      []string `yaml:"retain"`
	SampleK     int      `yaml:"sample_k"`
	Seed        uint64   `yaml:"seed"`
	Parallelism int      `yaml:"parallelism"`
}

// LoadProfile reads a run profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read profile %s", path)
	}

	// The YAML has a top-level "run" key
	var wrapper struct {
		Run Profile `yaml:"run"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "pipeline: parse profile")
	}

	return &wrapper.Run, nil
}

// Apply copies profile values onto options, filling only fields the caller
// left unset. Flags therefore override the profile.
func (p *Profile) Apply(opts *Options) {
	if opts.ZIPColumn == "" {
		opts.ZIPColumn = p.ZIPColumn
	}
	if opts.GroupColumn == "" {
		opts.GroupColumn = p.GroupColumn
	}
	if len(opts.Retain) == 0 {
		opts.Retain = p.Retain
	}
	if opts.SampleK == 0 {
		opts.SampleK = p.SampleK
	}
	if opts.Seed == 0 {
		opts.Seed = p.Seed
	}
	if opts.Parallelism == 0 {
		opts.Parallelism = p.Parallelism
	}
}
