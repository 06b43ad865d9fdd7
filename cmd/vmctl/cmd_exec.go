package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dnakov/vmcage/internal/errx"
	"github.com/dnakov/vmcage/pkg/client"
	"github.com/dnakov/vmcage/pkg/hoststate"
)

var execCmd = &cobra.Command{
	Use:   "exec <port> [flags] -- <cmd> [args...]",
	Short: "Execute a command in the guest, sandboxed by default",
	Long: `Execute a command inside the guest daemon's process supervisor.

By default the command runs under the sandbox helper (no network,
seccomp filter applied). Pass --raw to run with network enabled and no
sandbox wrapping, dropping credentials in-process instead.`,
	Example: `  vmctl exec 8080 -- echo hello
  vmctl exec 8080 -it -- sh
  vmctl exec 8080 --raw -- curl https://example.com`,
	Args: cobra.MinimumNArgs(2),
	RunE: runExec,
}

func init() {
	execCmd.Flags().Bool("raw", false, "Run with network enabled, bypassing the sandbox helper")
	execCmd.Flags().BoolP("tty", "t", false, "Allocate a PTY in the guest")
	execCmd.Flags().BoolP("interactive", "i", false, "Forward local stdin to the process")
	execCmd.Flags().String("cwd", "", "Working directory inside the guest")
	execCmd.Flags().Int("uid", -1, "Target uid")
	execCmd.Flags().Int("gid", -1, "Target gid")
	execCmd.Flags().String("seccomp", "default", "Seccomp profile: default, nodejs, python, minimal")

	rootCmd.AddCommand(execCmd)
}

func runExec(cmd *cobra.Command, args []string) error {
	port := args[0]
	cmdArgs := args[1:]
	if len(cmdArgs) == 0 {
		return ErrCommandRequired
	}

	raw, _ := cmd.Flags().GetBool("raw")
	tty, _ := cmd.Flags().GetBool("tty")
	interactive, _ := cmd.Flags().GetBool("interactive")
	cwd, _ := cmd.Flags().GetString("cwd")
	uid, _ := cmd.Flags().GetInt("uid")
	gid, _ := cmd.Flags().GetInt("gid")
	seccompProfile, _ := cmd.Flags().GetString("seccomp")

	portNum, err := resolvePort(port)
	if err != nil {
		return err
	}

	c, err := client.Dial("127.0.0.1", portNum)
	if err != nil {
		return errx.Wrap(ErrExecFailed, err)
	}
	defer c.Close()

	req := client.SpawnRequest{
		Command:        cmdArgs[0],
		Args:           cmdArgs[1:],
		Cwd:            cwd,
		Network:        raw,
		PTY:            tty,
		SeccompProfile: seccompProfile,
	}
	if uid >= 0 {
		req.UID = &uid
	}
	if gid >= 0 {
		req.GID = &gid
	}

	sp, events, err := c.Spawn(req)
	if err != nil {
		return errx.Wrap(ErrExecFailed, err)
	}

	if tty && interactive {
		return runExecInteractive(c, sp.Handle, events)
	}
	return runExecBatch(c, sp.Handle, events, interactive)
}

func runExecBatch(c *client.Client, handle string, events <-chan client.Event, interactive bool) error {
	if interactive {
		go forwardStdin(c, handle)
	}

	for ev := range events {
		switch ev.Kind {
		case client.EventStdout:
			os.Stdout.WriteString(ev.Stdout)
		case client.EventStderr:
			os.Stderr.WriteString(ev.Stderr)
		case client.EventExit:
			return commandExit(ev.Exit.Code)
		case client.EventError:
			return fmt.Errorf("%s", ev.Err.Message)
		}
	}
	return nil
}

func runExecInteractive(c *client.Client, handle string, events <-chan client.Event) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("-it requires a TTY")
	}

	cols, rows, err := term.GetSize(fd)
	if err != nil {
		cols, rows = 80, 24
	}
	_ = c.Resize(handle, rows, cols)

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return errx.Wrap(ErrSetRawMode, err)
	}
	defer term.Restore(fd, oldState)

	go forwardStdin(c, handle)

	for ev := range events {
		switch ev.Kind {
		case client.EventStdout:
			os.Stdout.WriteString(ev.Stdout)
		case client.EventStderr:
			os.Stderr.WriteString(ev.Stderr)
		case client.EventExit:
			term.Restore(fd, oldState)
			return commandExit(ev.Exit.Code)
		case client.EventError:
			term.Restore(fd, oldState)
			return fmt.Errorf("%s", ev.Err.Message)
		}
	}
	return nil
}

func forwardStdin(c *client.Client, handle string) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			_ = c.SendStdin(handle, string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

// resolvePort accepts either a bare port number or a registered VM id,
// looking the latter up in the host registry.
func resolvePort(portOrID string) (int, error) {
	if n, err := parsePositiveInt(portOrID); err == nil {
		return n, nil
	}
	reg := hoststate.Open(hoststate.DefaultBaseDir())
	defer reg.Close()
	vm, err := reg.Get(portOrID)
	if err != nil {
		return 0, errx.Wrap(ErrVMNotFound, err)
	}
	if vm.Status != hoststate.StatusRunning {
		return 0, ErrVMNotRunning
	}
	return vm.Port, nil
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("not numeric")
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
