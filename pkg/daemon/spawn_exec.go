//go:build linux

package daemon

import (
	"os/exec"
	"strconv"
	"syscall"

	"github.com/dnakov/vmcage/internal/errx"
)

const sandboxHelperPath = "/usr/local/bin/sandbox-helper"

// buildArgv assembles the child's argv0+args. When network is disabled the
// command runs under the sandbox helper; otherwise it execs directly and
// credentials are dropped in-process via applyCredentialDrop.
func buildArgv(req SpawnRequest) ([]string, error) {
	if req.Command == "" {
		return nil, errx.With(ErrSpawnFailed, ": command is required")
	}

	if req.Network {
		return append([]string{req.Command}, req.Args...), nil
	}

	argv := []string{sandboxHelperPath}
	if req.UID != nil {
		argv = append(argv, "--uid="+strconv.Itoa(*req.UID))
	}
	if req.GID != nil {
		argv = append(argv, "--gid="+strconv.Itoa(*req.GID))
	}
	argv = append(argv, "--no-network")
	profile := req.SeccompProfile
	if profile == "" {
		profile = "default"
	}
	argv = append(argv, "--seccomp="+profile, "--")
	argv = append(argv, req.Command)
	argv = append(argv, req.Args...)
	return argv, nil
}

// buildEnv constructs the child's environment per the fixed policy: PATH,
// HOME, IS_SANDBOX, and TERM when a PTY is requested.
func buildEnv(req SpawnRequest) []string {
	env := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=/tmp",
		"IS_SANDBOX=yes",
	}
	if req.PTY {
		env = append(env, "TERM=xterm-256color")
	}
	return env
}

// applyCredentialDrop drops to the target uid/gid before exec via the
// kernel's credential-change-before-exec facility, used only for
// network-enabled spawns that bypass the sandbox helper.
func applyCredentialDrop(cmd *exec.Cmd, uid, gid *int) {
	if uid == nil && gid == nil {
		return
	}
	cred := &syscall.Credential{}
	if gid != nil {
		cred.Gid = uint32(*gid)
	}
	if uid != nil {
		cred.Uid = uint32(*uid)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Credential: cred}
}
