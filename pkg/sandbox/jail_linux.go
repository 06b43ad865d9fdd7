//go:build linux

package sandbox

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/dnakov/vmcage/internal/errx"
	"github.com/dnakov/vmcage/pkg/netpolicy"
	"github.com/dnakov/vmcage/pkg/seccomp"
)

// netReadyFD is the file descriptor the child inherits (via
// exec.Cmd.ExtraFiles) to learn the outer-namespace pid the parent used
// to name its half of the veth pair, once that pair is wired up.
const netReadyFD = 3

// stage2EnvKey marks a re-execed process as the stage-2 jail body: the
// process that has just become PID 1 of its own namespaces and is
// responsible for mounts, credential drop, seccomp, and exec. Mirrors the
// teacher's sandboxLauncherEnvKey re-exec marker.
const stage2EnvKey = "__VMCAGE_SANDBOX_STAGE2"

// Launch is the sandbox-helper's entrypoint once flags have resolved a
// Config and target argv. rawArgs is the original os.Args[1:] (flags plus
// "--" plus the target command), re-passed unchanged to the re-execed
// child so its main() reparses the identical Config and argv. It re-execs
// /proc/self/exe with the namespace clone flags set so the kernel hands
// the child a clean PID 1 in its own PID/user/IPC/UTS/cgroup/net/mount
// namespaces, then waits for it and mirrors its exit status. Namespace
// setup cannot be done in-process: unshare(2) of CLONE_NEWPID only takes
// effect for children created afterwards.
func Launch(cfg *Config, rawArgs []string) error {
	self, err := os.Executable()
	if err != nil {
		self = "/proc/self/exe"
	}

	// Every spawn gets its own network namespace, network-enabled or
	// not: the difference is whether the daemon wires a veth pair back
	// to it afterward, never whether the namespace exists at all.
	cloneFlags := uintptr(unix.CLONE_NEWUSER | unix.CLONE_NEWPID | unix.CLONE_NEWIPC |
		unix.CLONE_NEWUTS | unix.CLONE_NEWCGROUP | unix.CLONE_NEWNS | unix.CLONE_NEWNET)

	uid, gid := 0, 0
	if cfg.UID != nil {
		uid = *cfg.UID
	}
	if cfg.GID != nil {
		gid = *cfg.GID
	}

	cmd := exec.Command(self)
	cmd.Args = append([]string{self}, rawArgs...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	cmd.Env = append(os.Environ(), stage2EnvKey+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: cloneFlags,
		UidMappings: []syscall.SysProcIDMap{
			{ContainerID: uid, HostID: os.Getuid(), Size: 1},
		},
		GidMappings: []syscall.SysProcIDMap{
			{ContainerID: gid, HostID: os.Getgid(), Size: 1},
		},
	}
	if cfg.DieWithParent {
		cmd.SysProcAttr.Pdeathsig = syscall.SIGKILL
	}

	var netReadyR, netReadyW *os.File
	if cfg.Network {
		netReadyR, netReadyW, err = os.Pipe()
		if err != nil {
			return errx.Wrap(ErrNetSetup, err)
		}
		cmd.ExtraFiles = []*os.File{netReadyR}
	}

	if err := cmd.Start(); err != nil {
		if netReadyR != nil {
			netReadyR.Close()
			netReadyW.Close()
		}
		return errx.Wrap(ErrStage2Failed, err)
	}
	if netReadyR != nil {
		netReadyR.Close()
	}

	var vethTeardown func()
	if cfg.Network {
		vethTeardown, err = setupHostVeth(cmd.Process.Pid)
		if err != nil {
			netReadyW.Close()
			_ = cmd.Process.Kill()
			_, _ = cmd.Process.Wait()
			return err
		}
		if _, err := fmt.Fprintf(netReadyW, "%d\n", cmd.Process.Pid); err != nil {
			netReadyW.Close()
			vethTeardown()
			_ = cmd.Process.Kill()
			_, _ = cmd.Process.Wait()
			return errx.Wrap(ErrNetSetup, err)
		}
		netReadyW.Close()
	}

	runErr := cmd.Wait()
	if vethTeardown != nil {
		vethTeardown()
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		return errx.Wrap(ErrStage2Failed, runErr)
	}
	return nil
}

// IsStage2 reports whether this process is the re-execed jail body; when
// true, main() should call Stage2 directly instead of Launch.
func IsStage2() bool {
	return os.Getenv(stage2EnvKey) == "1"
}

// Stage2 runs inside the new namespaces as PID 1: mounts, pivots root,
// drops credentials, installs seccomp, then execve's the target. It never
// returns on success.
func Stage2(cfg *Config, argv []string) error {
	os.Unsetenv(stage2EnvKey)

	if err := unix.Sethostname([]byte(cfg.Hostname)); err != nil {
		return errx.Wrap(ErrSetHostname, err)
	}

	// A network-enabled spawn still runs in its own (just-unshared) net
	// namespace; the only thing it shares with the host is the veth pair
	// and NAT rule the daemon installs on the far side. The namespace is
	// always private, so installing a policy here can never reach the
	// daemon's or any other guest process's namespace.
	var netPolicy *netpolicy.Policy
	if cfg.Network {
		if err := waitForGuestNetwork(); err != nil {
			return err
		}
		p, err := netpolicy.ApplyDefault()
		if err != nil {
			return errx.Wrap(ErrNetSetup, err)
		}
		netPolicy = p
	}

	root, err := buildRoot(cfg)
	if err != nil {
		teardownNetPolicy(netPolicy)
		return err
	}

	if err := pivotInto(root); err != nil {
		teardownNetPolicy(netPolicy)
		return err
	}

	if err := mountProcAndDev(); err != nil {
		teardownNetPolicy(netPolicy)
		return err
	}

	env := buildJailEnv(cfg)

	if cfg.UID != nil || cfg.GID != nil {
		if err := dropCredentials(cfg.UID, cfg.GID); err != nil {
			teardownNetPolicy(netPolicy)
			return err
		}
	}

	if cfg.NewSession {
		unix.Setsid()
	}

	if err := seccomp.Install(cfg.SeccompProfile); err != nil {
		teardownNetPolicy(netPolicy)
		return errx.Wrap(ErrSeccompInstall, err)
	}

	if cfg.Cwd != "" {
		_ = os.Chdir(cfg.Cwd)
	}

	binary, err := exec.LookPath(argv[0])
	if err != nil {
		teardownNetPolicy(netPolicy)
		os.Exit(127)
	}
	if err := unix.Exec(binary, argv, env); err != nil {
		teardownNetPolicy(netPolicy)
		os.Exit(127)
	}
	return nil // unreachable
}

func buildJailEnv(cfg *Config) []string {
	unset := make(map[string]bool, len(cfg.EnvUnset))
	for _, k := range cfg.EnvUnset {
		unset[k] = true
	}
	var env []string
	for _, kv := range os.Environ() {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		if unset[kv[:eq]] {
			continue
		}
		env = append(env, kv)
	}
	for k, v := range cfg.EnvSet {
		env = append(env, k+"="+v)
	}
	env = append(env,
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=/tmp",
		"TERM=xterm-256color",
		"IS_SANDBOX=yes",
	)
	return env
}

func dropCredentials(uid, gid *int) error {
	if gid != nil {
		if err := unix.Setresgid(*gid, *gid, *gid); err != nil {
			return errx.Wrap(ErrCredentialDrop, err)
		}
	}
	if uid != nil {
		if err := unix.Setresuid(*uid, *uid, *uid); err != nil {
			return errx.Wrap(ErrCredentialDrop, err)
		}
	}
	return nil
}

// waitForGuestNetwork blocks until the parent has finished wiring the host
// side of the veth pair and has written this process's outer-namespace pid
// down the pipe it inherited as fd netReadyFD, then configures the guest
// side: address, loopback, default route. The outer pid is what the parent
// used to name its half of the pair (see vethNames), so the guest reads it
// back instead of trying to derive it — under CLONE_NEWPID this process
// sees itself as pid 1 and has no other way to learn it.
func waitForGuestNetwork() error {
	f := os.NewFile(uintptr(netReadyFD), "net-ready")
	defer f.Close()

	line, err := io.ReadAll(f)
	if err != nil {
		return errx.Wrap(ErrNetSetup, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(line)))
	if err != nil {
		return errx.With(ErrNetSetup, ": malformed net-ready pid %q: %w", string(line), err)
	}
	return configureGuestVeth(pid)
}

func teardownNetPolicy(p *netpolicy.Policy) {
	if p == nil {
		return
	}
	_ = p.Teardown()
}
