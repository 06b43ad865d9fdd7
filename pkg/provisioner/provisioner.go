// Package provisioner manages the system accounts backing sandboxed
// sessions: creating per-uid users/groups and deleting them on teardown.
package provisioner

import (
	"os"
	"os/exec"
	"strconv"

	"github.com/dnakov/vmcage/internal/errx"
)

// Provisioner is the pluggable system-account backend. The default
// implementation shells out to groupadd/useradd/userdel/chown; tests may
// substitute an in-memory fake.
type Provisioner interface {
	EnsureGroup(gid int, name string) error
	EnsureUser(uid, gid int, name, home, shell string) error
	DeleteUser(name string) error
	RecursiveChown(path string, uid, gid int) error
}

// Shell shells out to the standard Linux user-management binaries.
type Shell struct{}

var _ Provisioner = Shell{}

func (Shell) EnsureGroup(gid int, name string) error {
	cmd := exec.Command("groupadd", "--gid", strconv.Itoa(gid), "--force", name)
	if out, err := cmd.CombinedOutput(); err != nil {
		return errx.With(ErrEnsureGroupFailed, ": %s: %w", string(out), err)
	}
	return nil
}

func (Shell) EnsureUser(uid, gid int, name, home, shell string) error {
	cmd := exec.Command("useradd",
		"--uid", strconv.Itoa(uid),
		"--gid", strconv.Itoa(gid),
		"--home-dir", home,
		"--create-home",
		"--shell", shell,
		name,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 9 {
			// useradd exits 9 when the account already exists.
			return nil
		}
		return errx.With(ErrEnsureUserFailed, ": %s: %w", string(out), err)
	}
	return nil
}

func (Shell) DeleteUser(name string) error {
	cmd := exec.Command("userdel", name)
	if out, err := cmd.CombinedOutput(); err != nil {
		return errx.With(ErrDeleteUserFailed, ": %s: %w", string(out), err)
	}
	return nil
}

func (Shell) RecursiveChown(path string, uid, gid int) error {
	cmd := exec.Command("chown", "-R", strconv.Itoa(uid)+":"+strconv.Itoa(gid), path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return errx.With(ErrChownFailed, ": %s: %w", string(out), err)
	}
	return nil
}

// EnsureHomeDirs creates home, home/mnt, home/tmp idempotently.
func EnsureHomeDirs(home string) error {
	for _, dir := range []string{home, home + "/mnt", home + "/tmp"} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errx.Wrap(ErrCreateHomeFailed, err)
		}
	}
	return nil
}
