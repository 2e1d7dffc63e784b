package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/spachava753/deskbench/internal/util"
)

// Profile describes one desktop image the providers can materialize.
type Profile struct {
	// Image is a container image reference for the docker backend.
	Image string `toml:"image,omitempty"`

	// VMPath points at a .vmx file for the vmware backend.
	VMPath string `toml:"vm_path,omitempty"`

	// Snapshot is the clean snapshot a reset reverts to, for backends that
	// support snapshots.
	Snapshot string `toml:"snapshot,omitempty"`

	OS string `toml:"os"` // "ubuntu" or "windows"

	ControlPort int `toml:"control_port"` // in-guest control server port
	VNCPort     int `toml:"vnc_port"`     // in-guest display port

	CPUs     int    `toml:"cpus"`
	Memory   string `toml:"memory,omitempty"` // e.g. "4G"
	Headless bool   `toml:"headless"`

	Env map[string]string `toml:"env,omitempty"`
}

// MemoryMB returns the memory limit in MiB, 0 when unset.
func (p Profile) MemoryMB() (int, error) {
	return util.ParseMemory(p.Memory)
}

// Profiles maps profile name to definition, parsed from profiles.toml.
type Profiles struct {
	Default  string             `toml:"default"`
	Profiles map[string]Profile `toml:"profiles"`
}

// DefaultProfile returns a baseline Ubuntu desktop profile.
func DefaultProfile() Profile {
	return Profile{
		Image:       "happysixd/osworld-docker",
		OS:          "ubuntu",
		ControlPort: 5000,
		VNCPort:     8006,
		CPUs:        4,
		Memory:      "4G",
		Headless:    true,
	}
}

// LoadProfiles loads and parses a profiles.toml file. Missing per-profile
// fields inherit from the baseline profile.
func LoadProfiles(path string) (*Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profiles: %w", err)
	}

	var out Profiles
	if _, err := toml.Decode(string(data), &out); err != nil {
		return nil, fmt.Errorf("parsing profiles: %w", err)
	}

	if len(out.Profiles) == 0 {
		return nil, fmt.Errorf("no profiles defined in %s", path)
	}

	base := DefaultProfile()
	for name, p := range out.Profiles {
		if p.OS == "" {
			p.OS = base.OS
		}
		if p.ControlPort == 0 {
			p.ControlPort = base.ControlPort
		}
		if p.VNCPort == 0 {
			p.VNCPort = base.VNCPort
		}
		if p.CPUs == 0 {
			p.CPUs = base.CPUs
		}
		if p.Memory == "" {
			p.Memory = base.Memory
		}
		if _, err := p.MemoryMB(); err != nil {
			return nil, fmt.Errorf("profile %s: %w", name, err)
		}
		out.Profiles[name] = p
	}

	if out.Default == "" {
		for name := range out.Profiles {
			out.Default = name
			break
		}
	}
	if _, ok := out.Profiles[out.Default]; !ok {
		return nil, fmt.Errorf("default profile %q not defined", out.Default)
	}

	return &out, nil
}

// Get returns the named profile, or the default when name is empty.
func (ps *Profiles) Get(name string) (Profile, error) {
	if name == "" {
		name = ps.Default
	}
	p, ok := ps.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("profile %q not defined", name)
	}
	return p, nil
}
