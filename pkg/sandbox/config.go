// Package sandbox builds the per-process Linux jail the guest daemon
// wraps every network-disabled spawn in: namespaces, a pivoted root
// filesystem with read-only/tmpfs overlays, credential drop, and a
// seccomp-BPF syscall filter selected by profile.
package sandbox

import (
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/dnakov/vmcage/internal/errx"
)

// BindMount is one source/destination pair bound into the jailed root.
type BindMount struct {
	Src string `cbor:"src"`
	Dst string `cbor:"dst"`
}

// Config mirrors the sandbox-helper CLI's resolved flags: the jail shape
// for one spawned child.
type Config struct {
	UID            *int        `cbor:"uid,omitempty"`
	GID            *int        `cbor:"gid,omitempty"`
	Hostname       string      `cbor:"hostname"`
	Network        bool        `cbor:"network"`
	NewSession     bool        `cbor:"new_session"`
	DieWithParent  bool        `cbor:"die_with_parent"`
	ROBinds        []BindMount `cbor:"ro_binds"`
	RWBinds        []BindMount `cbor:"rw_binds"`
	Tmpfs          []string    `cbor:"tmpfs"`
	EnvUnset       []string    `cbor:"env_unset"`
	EnvSet         map[string]string `cbor:"env_set"`
	Cwd            string      `cbor:"cwd,omitempty"`
	SeccompProfile string      `cbor:"seccomp_profile"`
}

// defaultROSystemPaths is the default read-only overlay of host system
// paths the helper binds into every jail, over and above caller-supplied
// binds, per spec.md §4.7 step 4.
func defaultROSystemPaths() []string {
	return []string{
		"/usr", "/lib", "/lib64", "/bin", "/sbin",
		"/etc/resolv.conf", "/etc/hosts", "/etc/passwd", "/etc/group",
		"/etc/ssl", "/etc/ca-certificates",
	}
}

// defaultTmpfsPaths is the default tmpfs overlay, per spec.md §4.7 step 5.
func defaultTmpfsPaths() []string {
	return []string{"/tmp", "/run", "/var/tmp"}
}

// New fills in a Config's default hostname, RO system paths, and tmpfs
// paths. Caller-supplied binds, tmpfs paths and env are not taken here;
// the caller appends them to the returned Config.
func New(uid, gid *int, seccompProfile string, network bool) *Config {
	cfg := &Config{
		UID:            uid,
		GID:            gid,
		Hostname:       "sandbox",
		Network:        network,
		NewSession:     true,
		DieWithParent:  true,
		SeccompProfile: seccompProfile,
		EnvSet:         map[string]string{},
	}
	for _, p := range defaultROSystemPaths() {
		if _, err := os.Stat(p); err == nil {
			cfg.ROBinds = append(cfg.ROBinds, BindMount{Src: p, Dst: p})
		}
	}
	cfg.Tmpfs = append(cfg.Tmpfs, defaultTmpfsPaths()...)
	return cfg
}

// WriteSnapshot CBOR-encodes cfg to path, for postmortem inspection of a
// spawned process's resolved jail shape (ReadSnapshot decodes it). Written
// once per spawn by the daemon before the sandbox helper is invoked.
func WriteSnapshot(path string, cfg *Config) error {
	buf, err := cbor.Marshal(cfg)
	if err != nil {
		return errx.Wrap(ErrSnapshotWrite, err)
	}
	if err := os.WriteFile(path, buf, 0600); err != nil {
		return errx.Wrap(ErrSnapshotWrite, err)
	}
	return nil
}

// ReadSnapshot decodes a previously written Config snapshot.
func ReadSnapshot(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errx.Wrap(ErrSnapshotWrite, err)
	}
	var cfg Config
	if err := cbor.Unmarshal(buf, &cfg); err != nil {
		return nil, errx.Wrap(ErrSnapshotWrite, err)
	}
	return &cfg, nil
}
