// Command sandbox-helper is the re-exec target that builds the per-process
// Linux jail a guest daemon wraps around every network-disabled spawn:
// usage is `sandbox-helper [OPTIONS] -- COMMAND [ARGS...]`.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dnakov/vmcage/pkg/sandbox"
)

const usage = `usage: sandbox-helper [OPTIONS] -- COMMAND [ARGS...]

Options:
  --uid=U                   run COMMAND as uid U
  --gid=G                   run COMMAND as gid G
  --no-network               unshare a fresh network namespace (default)
  --network                  reach the network through a private network
                             namespace (veth pair + NAT to the host); the
                             host network namespace is not shared
  --seccomp=PROFILE          default|nodejs|python|minimal
  --ro-bind=SRC[:DEST]       bind SRC read-only at DEST (default: SRC)
  --bind=SRC[:DEST]          bind SRC read-write at DEST (default: SRC)
  --tmpfs=PATH               mount a tmpfs at PATH
  --cwd=PATH                 chdir to PATH before exec
  --help                     print this message
`

func main() {
	if sandbox.IsStage2() {
		cfg, argv, err := parseArgs(os.Args[1:])
		if err != nil {
			fmt.Fprintln(os.Stderr, "sandbox-helper:", err)
			os.Exit(1)
		}
		if err := sandbox.Stage2(cfg, argv); err != nil {
			fmt.Fprintln(os.Stderr, "sandbox-helper:", err)
			os.Exit(127)
		}
		return
	}

	cfg, argv, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "sandbox-helper:", err)
		os.Exit(1)
	}
	if len(argv) == 0 {
		fmt.Fprintln(os.Stderr, "sandbox-helper: missing COMMAND after --")
		os.Exit(1)
	}

	if err := sandbox.Launch(cfg, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "sandbox-helper:", err)
		os.Exit(127)
	}
}

// parseArgs resolves the sandbox-helper CLI surface into a Config and the
// target argv. It is re-run identically by the re-execed stage-2 process
// (the same os.Args[1:] is passed across the re-exec boundary), so parsing
// must be a pure function of argv with no environment lookups beyond what
// sandbox.New itself performs.
func parseArgs(args []string) (*sandbox.Config, []string, error) {
	var (
		uid, gid       *int
		network        bool
		seccompProfile = "default"
		roBinds        []sandbox.BindMount
		rwBinds        []sandbox.BindMount
		tmpfs          []string
		cwd            string
	)

	i := 0
	for ; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			i++
			break
		}
		switch {
		case a == "--help":
			fmt.Print(usage)
			os.Exit(0)
		case a == "--no-network":
			network = false
		case a == "--network":
			network = true
		case strings.HasPrefix(a, "--uid="):
			v, err := strconv.Atoi(strings.TrimPrefix(a, "--uid="))
			if err != nil {
				return nil, nil, fmt.Errorf("invalid --uid: %w", err)
			}
			uid = &v
		case strings.HasPrefix(a, "--gid="):
			v, err := strconv.Atoi(strings.TrimPrefix(a, "--gid="))
			if err != nil {
				return nil, nil, fmt.Errorf("invalid --gid: %w", err)
			}
			gid = &v
		case strings.HasPrefix(a, "--seccomp="):
			seccompProfile = strings.TrimPrefix(a, "--seccomp=")
		case strings.HasPrefix(a, "--ro-bind="):
			roBinds = append(roBinds, parseBind(strings.TrimPrefix(a, "--ro-bind=")))
		case strings.HasPrefix(a, "--bind="):
			rwBinds = append(rwBinds, parseBind(strings.TrimPrefix(a, "--bind=")))
		case strings.HasPrefix(a, "--tmpfs="):
			tmpfs = append(tmpfs, strings.TrimPrefix(a, "--tmpfs="))
		case strings.HasPrefix(a, "--cwd="):
			cwd = strings.TrimPrefix(a, "--cwd=")
		default:
			return nil, nil, fmt.Errorf("unrecognized option: %s", a)
		}
	}

	cfg := sandbox.New(uid, gid, seccompProfile, network)
	cfg.ROBinds = append(cfg.ROBinds, roBinds...)
	cfg.RWBinds = append(cfg.RWBinds, rwBinds...)
	cfg.Tmpfs = append(cfg.Tmpfs, tmpfs...)
	cfg.Cwd = cwd

	return cfg, args[i:], nil
}

func parseBind(spec string) sandbox.BindMount {
	if idx := strings.IndexByte(spec, ':'); idx >= 0 {
		return sandbox.BindMount{Src: spec[:idx], Dst: spec[idx+1:]}
	}
	return sandbox.BindMount{Src: spec, Dst: spec}
}
